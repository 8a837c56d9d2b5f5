package domain

import (
	"github.com/google/uuid"
)

// UserID is the stable identity of a platform user across reconnects.
type UserID uuid.UUID

// SocketID is the ephemeral per-connection identity assigned by the relay.
// Reassigned on every reconnect; UserID is the stable one.
type SocketID string

// RoomCode correlates all participants and signaling for one session.
type RoomCode string

func NewUserID() UserID {
	return UserID(uuid.New())
}

func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, err
	}
	return UserID(id), nil
}

func NewSocketID() SocketID {
	return SocketID(uuid.New().String())
}

func (id UserID) String() string {
	return uuid.UUID(id).String()
}

// MarshalText keeps the wire form of a user ID the canonical UUID
// string, so non-Go clients correlate it with the join payload.
func (id UserID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *UserID) UnmarshalText(data []byte) error {
	parsed, err := uuid.ParseBytes(data)
	if err != nil {
		return err
	}
	*id = UserID(parsed)
	return nil
}

func (id SocketID) String() string {
	return string(id)
}

func (c RoomCode) String() string {
	return string(c)
}
