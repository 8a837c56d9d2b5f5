package port

import (
	"context"

	"github.com/skillgate/roomkit/internal/core/domain"
)

// Client is one connected relay participant as seen by the hub. The
// participant record itself lives in the relay; the client only moves
// envelopes.
type Client interface {
	SocketID() domain.SocketID
	Send(env domain.Envelope) error
	Close() error
}

// RelayConn is the client side of the relay channel: an open socket bound
// to one room. Implementations deliver inbound envelopes to the handler
// registered at dial time.
type RelayConn interface {
	// Announce publishes the local identity to the room. Must not be
	// called before local media is ready.
	Announce(ctx context.Context, join domain.JoinRoomPayload) error
	Send(env domain.Envelope) error
	Close() error
}

// RelayDialer opens a relay channel for one room.
type RelayDialer interface {
	Dial(ctx context.Context, code domain.RoomCode, handler RelayHandler) (RelayConn, error)
}

// RelayHandler receives inbound relay traffic for the local peer.
type RelayHandler interface {
	HandleEnvelope(env domain.Envelope)
	HandleDisconnect(err error)
}
