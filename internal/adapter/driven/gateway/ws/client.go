package ws

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/skillgate/roomkit/internal/core/domain"
	"github.com/skillgate/roomkit/internal/core/port"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Dialer opens websocket relay channels. Implements port.RelayDialer.
type Dialer struct {
	BaseURL string
}

func NewDialer(baseURL string) *Dialer {
	return &Dialer{BaseURL: baseURL}
}

func (d *Dialer) Dial(ctx context.Context, code domain.RoomCode, handler port.RelayHandler) (port.RelayConn, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("room", code.String())
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("relay dial: %w", err)
	}

	c := &Conn{
		conn:    conn,
		handler: handler,
		send:    make(chan domain.Envelope, 256),
		done:    make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

// Conn is one open relay channel. Writes are serialized through the
// send channel; reads dispatch to the handler until the socket dies.
type Conn struct {
	conn    *websocket.Conn
	handler port.RelayHandler
	send    chan domain.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func (c *Conn) Announce(ctx context.Context, join domain.JoinRoomPayload) error {
	env, err := domain.NewEnvelope(domain.SignalJoinRoom, join)
	if err != nil {
		return err
	}
	env.RoomCode = join.RoomCode
	return c.Send(env)
}

func (c *Conn) Send(env domain.Envelope) error {
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return fmt.Errorf("relay connection closed")
	default:
		return fmt.Errorf("relay send buffer full")
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}

func (c *Conn) readPump() {
	defer c.Close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("Unexpected relay close")
			}
			c.handler.HandleDisconnect(err)
			return
		}
		c.handler.HandleEnvelope(env)
	}
}

func (c *Conn) writePump() {
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
				log.Error().Err(err).Msg("Relay write failed")
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
