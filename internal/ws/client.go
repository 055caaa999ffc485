package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 25 * time.Second
	maxMessage = 4096
)

// Client is one connected websocket session. It never touches engine or
// room state directly — every inbound message is handed to the dispatcher,
// which owns the per-room lock.
type Client struct {
	UserID   int64
	RoomID   string
	Conn     *websocket.Conn
	Send     chan []byte
	Done     chan struct{}
	log      *slog.Logger
}

func NewClient(userID int64, roomID string, conn *websocket.Conn, log *slog.Logger) *Client {
	return &Client{
		UserID: userID,
		RoomID: roomID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Done:   make(chan struct{}),
		log:    log,
	}
}

// Run starts both pumps and blocks until the connection closes. onMessage
// is invoked once per inbound frame; onDisconnect once when the read pump
// exits for any reason.
func (c *Client) Run(onMessage func(*Client, []byte), onDisconnect func(*Client)) {
	go c.writePump()
	c.sendType(MsgReady, nil)
	c.readPump(onMessage, onDisconnect)
}

func (c *Client) readPump(onMessage func(*Client, []byte), onDisconnect func(*Client)) {
	defer func() {
		onDisconnect(c)
		close(c.Done)
	}()

	c.Conn.SetReadLimit(maxMessage)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			c.log.Debug("ws: read error, closing", "user", c.UserID, "err", err)
			return
		}
		onMessage(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendType(msgType string, payload map[string]any) {
	data, err := json.Marshal(Message{Type: msgType, Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
		c.log.Warn("ws: send buffer full, dropping message", "user", c.UserID, "type", msgType)
	}
}
