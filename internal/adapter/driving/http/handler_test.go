package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mempersist "github.com/skillgate/roomkit/internal/adapter/driven/persistence/memory"
	"github.com/skillgate/roomkit/internal/core/domain"
)

func newTestServer(t *testing.T) (*httptest.Server, *mempersist.RoomStore) {
	t.Helper()
	store := mempersist.NewRoomStore()
	h := NewHandler(nil, store, mempersist.NewTranscriptRepository(), "test-secret", 50, 100)
	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(srv.Close)
	return srv, store
}

func loginAs(t *testing.T, srv *httptest.Server, username string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": "pw"})
	resp, err := http.Post(srv.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if out["token"] == "" {
		t.Fatalf("empty token")
	}
	return out["token"]
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func TestGenerateRoomCodeFormat(t *testing.T) {
	seen := map[domain.RoomCode]bool{}
	for i := 0; i < 50; i++ {
		code := generateRoomCode()
		if len(code) != roomCodeLength {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, c := range code.String() {
			if !strings.ContainsRune(codeChars, c) {
				t.Fatalf("code %q contains %q outside the alphabet", code, c)
			}
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Fatalf("codes look non-random: %d distinct of 50", len(seen))
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := issueToken("secret-a", "user-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := parseToken("secret-a", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("user id %q", claims.UserID)
	}

	if _, err := parseToken("secret-b", token); err == nil {
		t.Fatalf("token verified under the wrong secret")
	}
	if _, err := parseToken("secret-a", ""); err == nil {
		t.Fatalf("empty token accepted")
	}

	expired, err := issueToken("secret-a", "user-1", -time.Minute)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	if _, err := parseToken("secret-a", expired); err == nil {
		t.Fatalf("expired token accepted")
	}
}

func TestBearerTokenParsing(t *testing.T) {
	if got := bearerToken("Bearer abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := bearerToken("abc"); got != "" {
		t.Fatalf("missing scheme accepted: %q", got)
	}
	if got := bearerToken("Basic abc"); got != "" {
		t.Fatalf("wrong scheme accepted: %q", got)
	}
}

func TestCreateRoomRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/rooms", "", createRoomRequest{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRoomLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := loginAs(t, srv, "alice")
	bob := loginAs(t, srv, "bob")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/rooms", alice, createRoomRequest{MaxParticipants: 4})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	var room domain.RoomMetadata
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	resp.Body.Close()
	if len(room.Code) != roomCodeLength || room.Status != domain.RoomScheduled {
		t.Fatalf("unexpected room: %+v", room)
	}
	if room.CreatorID != "alice" || room.MaxParticipants != 4 {
		t.Fatalf("unexpected room: %+v", room)
	}

	// Lookup is public: join flows need it before authenticating media.
	getResp, err := http.Get(srv.URL + "/api/rooms/" + room.Code.String())
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", getResp.StatusCode)
	}

	// Only the creator may delete.
	delResp := doJSON(t, http.MethodDelete, srv.URL+"/api/rooms/"+room.Code.String(), bob, nil)
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-creator delete status %d", delResp.StatusCode)
	}

	delResp = doJSON(t, http.MethodDelete, srv.URL+"/api/rooms/"+room.Code.String(), alice, nil)
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("creator delete status %d", delResp.StatusCode)
	}

	getResp, err = http.Get(srv.URL + "/api/rooms/" + room.Code.String())
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted room still found: %d", getResp.StatusCode)
	}
}

func TestUnknownRoomNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/rooms/ZZZZZZ")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
