package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DisconnectEvent is delivered when a user's last live connection closes.
// The registry never calls back into the coordinator directly — per §9's
// "break cyclic observer patterns with one-way calls" — it only ever
// publishes to this channel; the coordinator (or nothing, in tests) reads it.
type DisconnectEvent struct {
	UserID string
}

// PresenceHint lets a multi-instance deployment answer IsOnline for users
// bound to a sibling process, backed by Redis SETEX/DEL (§3 domain stack).
// A nil PresenceHint makes the Hub single-instance-only, which is fine for
// local runs and tests.
type PresenceHint interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
	IsOnlineElsewhere(ctx context.Context, userID string) (bool, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin allow-listing happens in the CORS middleware in front of
		// the HTTP server; the upgrade handshake itself accepts any origin
		// that already passed it.
		return true
	},
}

// Hub is the Session Registry. One instance per process.
type Hub struct {
	mu       sync.RWMutex
	byUser   map[string]map[*Client]bool
	rooms    map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	Disconnects chan DisconnectEvent
	presence    PresenceHint
}

func NewHub(presence PresenceHint) *Hub {
	return &Hub{
		byUser:      make(map[string]map[*Client]bool),
		rooms:       make(map[string]map[*Client]bool),
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		Disconnects: make(chan DisconnectEvent, 64),
		presence:    presence,
	}
}

// Run owns registration and unregistration, so those mutations are
// serialized through one goroutine. It still takes the write lock for them,
// since JoinRoom/LeaveRoom also mutate the maps from other goroutines and
// reads (EmitToUser, IsOnline, EmitToRoom) take the read lock concurrently.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.byUser[c.UserID] == nil {
				h.byUser[c.UserID] = make(map[*Client]bool)
			}
			h.byUser[c.UserID][c] = true
			h.mu.Unlock()
			if h.presence != nil {
				if err := h.presence.MarkOnline(context.Background(), c.UserID); err != nil {
					slog.Warn("presence mark online failed", "user_id", c.UserID, "error", err)
				}
			}
		case c := <-h.unregister:
			h.mu.Lock()
			lastConn := false
			if conns, ok := h.byUser[c.UserID]; ok {
				delete(conns, c)
				if len(conns) == 0 {
					delete(h.byUser, c.UserID)
					lastConn = true
				}
			}
			for room := range c.rooms {
				if members, ok := h.rooms[room]; ok {
					delete(members, c)
					if len(members) == 0 {
						delete(h.rooms, room)
					}
				}
			}
			h.mu.Unlock()
			close(c.send)

			if lastConn {
				if h.presence != nil {
					if err := h.presence.MarkOffline(context.Background(), c.UserID); err != nil {
						slog.Warn("presence mark offline failed", "user_id", c.UserID, "error", err)
					}
				}
				select {
				case h.Disconnects <- DisconnectEvent{UserID: c.UserID}:
				default:
					slog.Warn("disconnect channel full, dropping event", "user_id", c.UserID)
				}
			}
		}
	}
}

// Upgrade completes the handshake for an already-authenticated request and
// starts the client's pumps. handle decodes and dispatches inbound frames.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, userID, username string, handle func(c *Client, raw []byte)) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := newClient(h, conn, userID, username)
	h.register <- c

	go c.WritePump()
	go c.ReadPump(handle)
	return nil
}

// JoinRoom adds a connection to a logical, opaque-id room (typically a
// matchId) used for match-scoped broadcasts.
func (h *Hub) JoinRoom(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][c] = true
	c.rooms[roomID] = true
}

// LeaveRoom removes a single connection from a room.
func (h *Hub) LeaveRoom(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(c.rooms, roomID)
}

// EmitToUser sends an event to every connection a user currently holds.
// No-op if the user has no live connection (§4.3: silently drop for
// offline players).
func (h *Hub) EmitToUser(userID, eventType string, payload interface{}) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.byUser[userID]))
	for c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Emit(eventType, payload)
	}
}

// EmitToRoom broadcasts an event to every connection joined to roomID.
func (h *Hub) EmitToRoom(roomID, eventType string, payload interface{}) {
	h.mu.RLock()
	members := h.rooms[roomID]
	conns := make([]*Client, 0, len(members))
	for c := range members {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Emit(eventType, payload)
	}
}

// EmitToRoomExcept broadcasts to a room except the given connection, used
// for "opponent only" fan-out when sender and recipient share a room.
func (h *Hub) EmitToRoomExcept(roomID string, except *Client, eventType string, payload interface{}) {
	h.mu.RLock()
	members := h.rooms[roomID]
	conns := make([]*Client, 0, len(members))
	for c := range members {
		if c != except {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Emit(eventType, payload)
	}
}

// IsOnline reports whether userID holds at least one live connection on
// this instance, falling back to the cross-instance presence hint.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	conns, ok := h.byUser[userID]
	online := ok && len(conns) > 0
	h.mu.RUnlock()
	if online {
		return true
	}
	if h.presence == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	elsewhere, err := h.presence.IsOnlineElsewhere(ctx, userID)
	if err != nil {
		slog.Warn("presence lookup failed", "user_id", userID, "error", err)
		return false
	}
	return elsewhere
}
