// Package realtime is the Session Registry (§4.3): it binds authenticated
// connections to users, tracks logical match rooms, and fans out events.
// Grounded on the gorilla/websocket hub/client split used by the
// kihw-herald backend, generalized from its match/user/room subscription
// maps to this service's bind/unbind/room vocabulary.
package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 64
)

// Client wraps one physical connection. A user may hold several Clients
// concurrently (multiple tabs/devices); the Hub fans events out to all of
// them.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	UserID   string
	Username string

	rooms map[string]bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID, username string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		UserID:   userID,
		Username: username,
		rooms:    make(map[string]bool),
	}
}

// ReadPump pumps raw inbound messages from the connection into handle. It
// blocks until the connection closes or errors, then unregisters itself.
func (c *Client) ReadPump(handle func(c *Client, raw []byte)) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "user_id", c.UserID, "error", err)
			}
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic handling inbound event", "user_id", c.UserID, "recover", r)
				}
			}()
			handle(c, raw)
		}()
	}
}

// WritePump drains c.send to the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// Emit encodes and queues a single event for this connection only.
// Ordering within one connection is preserved because send is a single
// channel drained by one WritePump goroutine (§5 ordering guarantee).
func (c *Client) Emit(eventType string, payload interface{}) {
	raw, err := json.Marshal(struct {
		Type    string      `json:"type"`
		Payload interface{} `json:"payload"`
	}{Type: eventType, Payload: payload})
	if err != nil {
		slog.Error("failed to marshal outbound event", "type", eventType, "error", err)
		return
	}

	select {
	case c.send <- raw:
	default:
		// buffer full: connection is not draining, drop rather than block
		// the hub; the client will eventually be unregistered by its pumps.
		slog.Warn("dropping outbound event, client send buffer full", "user_id", c.UserID, "type", eventType)
	}
}
