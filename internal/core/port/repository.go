package port

import (
	"context"

	"github.com/skillgate/roomkit/internal/core/domain"
)

// TranscriptRepository accumulates chat messages per room for the
// lifetime of the session. Durable persistence is the backend's job.
type TranscriptRepository interface {
	Append(ctx context.Context, msg domain.ChatMessage) error
	ForRoom(ctx context.Context, code domain.RoomCode) ([]domain.ChatMessage, error)
}

// PresenceStore tracks room membership for the relay.
type PresenceStore interface {
	AddPeer(ctx context.Context, code domain.RoomCode, socketID domain.SocketID) error
	RemovePeer(ctx context.Context, code domain.RoomCode, socketID domain.SocketID) error
	PeerCount(ctx context.Context, code domain.RoomCode) (int, error)
}

// RoomStore is the relay's directory of room metadata.
type RoomStore interface {
	SaveRoom(ctx context.Context, room domain.RoomMetadata) error
	GetRoom(ctx context.Context, code domain.RoomCode) (domain.RoomMetadata, error)
	DeleteRoom(ctx context.Context, code domain.RoomCode) error
	SetStatus(ctx context.Context, code domain.RoomCode, status domain.RoomStatus) error
}
