package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestUserIDMarshalsAsUUIDString(t *testing.T) {
	id, err := ParseUserID("65e686d1-41fa-4b32-9a1d-2f8c3d4e5f60")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	p := Participant{
		SocketID: "sock-a",
		UserID:   id,
		Role:     RoleCandidate,
		Name:     "Dana",
	}
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"userId":"65e686d1-41fa-4b32-9a1d-2f8c3d4e5f60"`) {
		t.Fatalf("userId not encoded as a UUID string: %s", raw)
	}

	var back Participant
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.UserID != id {
		t.Fatalf("round trip changed the id: %s", back.UserID)
	}
}

func TestUserIDRejectsMalformedText(t *testing.T) {
	var p Participant
	if err := json.Unmarshal([]byte(`{"userId":"not-a-uuid"}`), &p); err == nil {
		t.Fatalf("malformed user id accepted")
	}
}
