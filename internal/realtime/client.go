// README: Per-connection read and write pumps over gorilla/websocket.
package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"fretlink/internal/logging"
	"fretlink/internal/types"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	sendBuffer = 256
)

// Handler consumes the lifecycle and inbound frames of a connection.
type Handler interface {
	Connected(ctx context.Context, p Peer)
	Handle(ctx context.Context, p Peer, frame []byte)
	Disconnected(ctx context.Context, p Peer)
}

type Client struct {
	Peer
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Attach registers an upgraded connection for an authenticated user.
func (h *Hub) Attach(conn *websocket.Conn, userID types.ID, role types.Role) *Client {
	c := &Client{
		Peer: Peer{ID: types.NewConnID(), UserID: userID, Role: role},
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.register(c)
	return c
}

// Serve runs the connection until the peer goes away. Frames are handled in
// arrival order on the calling goroutine.
func (c *Client) Serve(ctx context.Context, handler Handler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump()
	handler.Connected(ctx, c.Peer)
	c.readPump(ctx, handler)

	c.hub.unregister(c)
	// the disconnect path must finish even though the connection ctx is gone
	handler.Disconnected(context.WithoutCancel(ctx), c.Peer)
}

func (c *Client) readPump(ctx context.Context, handler Handler) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("ws unexpected close", "conn_id", c.ID, "user_id", c.UserID, logging.Err(err))
			}
			return
		}
		handler.Handle(ctx, c.Peer, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
