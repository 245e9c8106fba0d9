package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/chat-sync/internal/config"
	"github.com/weiawesome/chat-sync/pkg/log"
)

// Client is one authenticated realtime connection. It exists only between a
// successful handshake and disconnect and is never persisted.
type Client struct {
	ID             string
	UserID         string
	TokenExpiresAt time.Time
	Hub            *Hub
	Conn           *websocket.Conn
	Send           chan []byte

	// OnPong fires on every pong from the peer; the gateway uses it to
	// re-arm the presence TTL.
	OnPong func()

	cfg config.WebSocketConfig
}

func NewClient(id, userID string, tokenExpiresAt time.Time, h *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		ID:             id,
		UserID:         userID,
		TokenExpiresAt: tokenExpiresAt,
		Hub:            h,
		Conn:           conn,
		Send:           make(chan []byte, 256),
		cfg:            cfg,
	}
}

// ReadPump reads frames and hands them to handler in arrival order, so events
// from a single connection are processed strictly sequentially. It returns
// when the connection drops.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		if c.OnPong != nil {
			c.OnPong()
		}
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.L().Warn().Err(err).
					Str(log.FieldConnectionID, c.ID).
					Msg("websocket read error")
			}
			break
		}

		handler(c, message)
	}
}

// WritePump drains the send channel to the connection and keeps the peer
// alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendEvent marshals and queues an event for this connection only.
func (c *Client) SendEvent(event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
	default:
		// Slow consumer; drop rather than block the caller.
	}
	return nil
}
