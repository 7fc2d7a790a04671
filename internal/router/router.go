// Package router is the Event Router (§4.6): it decodes the tagged
// envelope off each inbound frame and dispatches to the matchmaking queue
// or match coordinator, replying with a discrete error event on anything
// malformed, unauthenticated, or unrecognized (§9 "duck-typed event
// payloads -> tagged variants").
package router

import (
	"context"
	"encoding/json"

	"github.com/pvp-typing/arena/internal/coordinator"
	"github.com/pvp-typing/arena/internal/matchmaking"
	"github.com/pvp-typing/arena/internal/realtime"
	"github.com/pvp-typing/arena/internal/wire"
)

type Router struct {
	queue       *matchmaking.Queue
	coordinator *coordinator.Coordinator
}

func New(queue *matchmaking.Queue, coord *coordinator.Coordinator) *Router {
	return &Router{queue: queue, coordinator: coord}
}

// Handle is passed to realtime.Hub.Upgrade as the per-connection inbound
// callback. The connection's identity was already established at the
// handshake (§6.2), so every event reaching here is implicitly
// authenticated; an empty UserID would mean a bug upstream, not a client
// error, but we still fail closed rather than dispatch garbage.
func (r *Router) Handle(c *realtime.Client, raw []byte) {
	if c.UserID == "" {
		c.Emit(wire.OutError, wire.ErrorPayload{Message: "authentication required"})
		return
	}

	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.Emit(wire.OutError, wire.ErrorPayload{Message: "malformed event"})
		return
	}

	ctx := context.Background()

	switch env.Type {
	case wire.InJoinQueue:
		size := r.queue.Join(ctx, c.UserID, c.Username)
		c.Emit(wire.OutQueueJoined, wire.QueueJoinedPayload{QueueSize: size, Message: "joined queue"})

	case wire.InLeaveQueue:
		r.queue.Leave(ctx, c.UserID)
		c.Emit(wire.OutQueueLeft, wire.QueueLeftPayload{Message: "left queue"})

	case wire.InAcceptMatch:
		var p wire.AcceptMatchPayload
		if !decode(c, env.Payload, &p) {
			return
		}
		r.coordinator.AcceptMatch(c, p.MatchID)

	case wire.InMatchProgress:
		var p wire.MatchProgressPayload
		if !decode(c, env.Payload, &p) {
			return
		}
		r.coordinator.Progress(ctx, c.UserID, p.MatchID, p.Wpm, p.Accuracy)

	case wire.InMatchComplete:
		var p wire.MatchCompletePayload
		if !decode(c, env.Payload, &p) {
			return
		}
		r.coordinator.Complete(ctx, c.UserID, p.MatchID, p.Wpm, p.Accuracy)

	case wire.InForfeit:
		var p wire.ForfeitPayload
		if !decode(c, env.Payload, &p) {
			return
		}
		r.coordinator.Forfeit(ctx, c.UserID, p.MatchID)

	case wire.InReconnect:
		var p wire.ReconnectPayload
		if !decode(c, env.Payload, &p) {
			return
		}
		r.coordinator.Reconnect(c, p.MatchID)

	default:
		c.Emit(wire.OutError, wire.ErrorPayload{Message: "unknown event type"})
	}
}

func decode(c *realtime.Client, raw json.RawMessage, dst interface{}) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		c.Emit(wire.OutError, wire.ErrorPayload{Message: "malformed payload"})
		return false
	}
	return true
}
