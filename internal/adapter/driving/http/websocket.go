package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/skillgate/roomkit/internal/core/domain"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin filtering happens in front of the relay.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient implements port.Client for one relay socket.
type wsClient struct {
	socketID domain.SocketID
	conn     *websocket.Conn
	send     chan domain.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsClient) SocketID() domain.SocketID { return c.socketID }

func (c *wsClient) Send(env domain.Envelope) error {
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		log.Warn().Str("socket_id", c.socketID.String()).Msg("Send buffer full, dropping message")
		return nil
	}
}

func (c *wsClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}

// ServeWS upgrades the connection and runs the relay session for one
// participant. The first frame must be join-room with a valid access
// token; everything after is routed through the hub under a per-client
// rate limit.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &wsClient{
		socketID: domain.NewSocketID(),
		conn:     conn,
		send:     make(chan domain.Envelope, sendBuffer),
		done:     make(chan struct{}),
	}
	go client.writePump()

	l := log.With().Str("socket_id", client.socketID.String()).Logger()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Join handshake.
	var first domain.Envelope
	if err := conn.ReadJSON(&first); err != nil {
		client.Close()
		return
	}
	if first.Kind != domain.SignalJoinRoom {
		l.Warn().Str("kind", string(first.Kind)).Msg("Expected join-room as first frame")
		client.Close()
		return
	}

	var join domain.JoinRoomPayload
	if err := first.Decode(&join); err != nil {
		client.Close()
		return
	}
	if _, err := parseToken(h.JWTSecret, join.AccessToken); err != nil {
		l.Warn().Err(err).Msg("Join rejected: bad access token")
		client.sendAndClose(domain.SignalJoinRoom, map[string]string{"error": "invalid access token"})
		return
	}

	snapshot, err := h.Relay.JoinRoom(r.Context(), client, join)
	if err != nil {
		l.Warn().Err(err).Str("room", join.RoomCode.String()).Msg("Join rejected")
		client.sendAndClose(domain.SignalJoinRoom, map[string]string{"error": err.Error()})
		return
	}

	if env, err := domain.NewEnvelope(domain.SignalRoomParticipants, snapshot); err == nil {
		env.RoomCode = join.RoomCode
		client.Send(env)
	}

	limiter := rate.NewLimiter(rate.Limit(h.MessageRate), h.MessageBurst)

	defer func() {
		h.Relay.LeaveRoom(r.Context(), join.RoomCode, client.socketID)
		client.Close()
		l.Info().Msg("Client disconnected")
	}()

	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close")
			}
			return
		}

		if !limiter.Allow() {
			l.Warn().Str("kind", string(env.Kind)).Msg("Rate limit exceeded, dropping message")
			continue
		}

		if err := h.Relay.Route(r.Context(), join.RoomCode, client.socketID, env); err != nil {
			l.Warn().Err(err).Str("kind", string(env.Kind)).Msg("Message rejected")
		}
	}
}

func (c *wsClient) sendAndClose(kind domain.SignalKind, payload any) {
	if env, err := domain.NewEnvelope(kind, payload); err == nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteJSON(env)
	}
	c.Close()
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				log.Debug().Err(err).Str("socket_id", c.socketID.String()).Msg("Write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
