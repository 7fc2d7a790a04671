// Package matchmaking implements the Matchmaking Queue (§4.4): FIFO
// admission, duplicate-join rejection, automatic pair-off, staleness
// eviction. Reified as a single-owner actor goroutine with a command
// mailbox, per the "actor or lock + record, do not mix" design note —
// entries/members live only inside Run's goroutine and are never touched
// from any other goroutine, which is the single-owner-task discipline the
// teacher's own ticker-driven loops use for the same shape of problem.
// Match creation's storage I/O is carved out of that loop entirely (§5:
// "the critical section must not perform I/O"): Run only ever pops a pair
// and fires it off with `go`, the same way sour's Matchmaker.Poll pops a
// match off its queue under its lock and immediately does `go m.Duel(...)`
// rather than dueling inline; the result comes back over pairOffCh for
// Run to fold into entries/members, so the mailbox never blocks on a
// database round-trip.
package matchmaking

import (
	"context"
	"log/slog"
	"time"

	"github.com/pvp-typing/arena/internal/realtime"
	"github.com/pvp-typing/arena/internal/wire"
)

// MatchCreator is the Match Coordinator's admission surface, seen from the
// queue's side. Keeping it as a narrow interface here (rather than
// importing the coordinator package) avoids a cycle: the coordinator also
// needs to know the queue exists (to notify it of nothing, currently) but
// the dependency is one-way in practice.
type MatchCreator interface {
	CreateMatch(ctx context.Context, p1UserID, p1Username string, p2UserID, p2Username string) error
}

type entry struct {
	userID   string
	username string
	joinedAt time.Time
}

type joinRequest struct {
	userID, username string
	reply            chan int
}

type leaveRequest struct {
	userID string
	reply  chan bool
}

type sizeRequest struct {
	reply chan int
}

type isInQueueRequest struct {
	userID string
	reply  chan bool
}

// pairOffResult is how a pair's CreateMatch outcome, computed on its own
// goroutine, finds its way back into Run's select loop.
type pairOffResult struct {
	p1, p2 entry
	err    error
}

// Queue is the actor handle. The queue state itself (entries/members) lives
// in Run's local variables; other goroutines reach it only through the
// channels below.
type Queue struct {
	hub     *realtime.Hub
	creator MatchCreator

	queueTimeout    time.Duration
	cleanupInterval time.Duration

	joinCh      chan joinRequest
	leaveCh     chan leaveRequest
	sizeCh      chan sizeRequest
	isInQueueCh chan isInQueueRequest
	pairOffCh   chan pairOffResult
}

func NewQueue(hub *realtime.Hub, creator MatchCreator, queueTimeout, cleanupInterval time.Duration) *Queue {
	return &Queue{
		hub:             hub,
		creator:         creator,
		queueTimeout:    queueTimeout,
		cleanupInterval: cleanupInterval,
		joinCh:          make(chan joinRequest),
		leaveCh:         make(chan leaveRequest),
		sizeCh:          make(chan sizeRequest),
		isInQueueCh:     make(chan isInQueueRequest),
		pairOffCh:       make(chan pairOffResult),
	}
}

// Run owns the queue state for the lifetime of ctx. Must be started once,
// typically from the Lifecycle Manager at boot.
func (q *Queue) Run(ctx context.Context) {
	var entries []entry
	members := make(map[string]bool)
	pairing := false

	ticker := time.NewTicker(q.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-q.joinCh:
			if members[req.userID] {
				req.reply <- len(entries)
				continue
			}
			entries = append(entries, entry{userID: req.userID, username: req.username, joinedAt: time.Now()})
			members[req.userID] = true
			req.reply <- len(entries)
			q.broadcastStatus(entries)
			if !pairing {
				entries, pairing = q.startPairOff(ctx, entries, members)
			}

		case req := <-q.leaveCh:
			idx := indexOf(entries, req.userID)
			if idx < 0 {
				req.reply <- false
				continue
			}
			entries = append(entries[:idx], entries[idx+1:]...)
			delete(members, req.userID)
			req.reply <- true
			q.broadcastStatus(entries)

		case req := <-q.sizeCh:
			req.reply <- len(entries)

		case req := <-q.isInQueueCh:
			req.reply <- members[req.userID]

		case res := <-q.pairOffCh:
			pairing = false
			if res.err != nil {
				slog.Error("match creation failed, returning pair to queue", "p1", res.p1.userID, "p2", res.p2.userID, "error", res.err)
				members[res.p1.userID] = true
				members[res.p2.userID] = true
				entries = append([]entry{res.p1, res.p2}, entries...)
				q.broadcastStatus(entries)
				continue // §4.4: pair-off stops for this round; next join/leave/tick retries
			}
			entries, pairing = q.startPairOff(ctx, entries, members)

		case <-ticker.C:
			entries = q.evictStale(entries, members)
		}
	}
}

func indexOf(entries []entry, userID string) int {
	for i, e := range entries {
		if e.userID == userID {
			return i
		}
	}
	return -1
}

// startPairOff pops the two oldest entries, if at least two are present,
// and launches CreateMatch for them on a separate goroutine that reports
// back over pairOffCh — the only I/O this package performs never runs on
// Run's own goroutine, so Join/Leave/Size/IsInQueue and the cleanup tick
// are never blocked on a database round-trip (§5). Only one pair is ever
// in flight at a time: Run only calls this again once the previous
// pairOffResult has landed, so a creation failure's rollback still lands
// the pair back at the head before any later pair is attempted, matching
// §4.4's "pair-off stops for this round" rule without blocking the actor
// to get it.
func (q *Queue) startPairOff(ctx context.Context, entries []entry, members map[string]bool) ([]entry, bool) {
	if len(entries) < 2 {
		return entries, false
	}
	p1, p2 := entries[0], entries[1]
	entries = entries[2:]

	delete(members, p1.userID)
	delete(members, p2.userID)

	go func() {
		err := q.creator.CreateMatch(ctx, p1.userID, p1.username, p2.userID, p2.username)
		select {
		case q.pairOffCh <- pairOffResult{p1: p1, p2: p2, err: err}:
		case <-ctx.Done():
		}
	}()

	return entries, true
}

// evictStale removes entries older than queueTimeout and notifies them.
func (q *Queue) evictStale(entries []entry, members map[string]bool) []entry {
	now := time.Now()
	kept := entries[:0:0]
	evicted := 0
	for _, e := range entries {
		if now.Sub(e.joinedAt) > q.queueTimeout {
			delete(members, e.userID)
			evicted++
			q.hub.EmitToUser(e.userID, wire.OutQueueTimeout, wire.QueueTimeoutPayload{
				Message: "removed from queue after waiting too long",
			})
			continue
		}
		kept = append(kept, e)
	}
	if evicted > 0 {
		q.broadcastStatus(kept)
	}
	return kept
}

func (q *Queue) broadcastStatus(entries []entry) {
	size := len(entries)
	for _, e := range entries {
		q.hub.EmitToUser(e.userID, wire.OutQueueStatus, wire.QueueStatusPayload{QueueSize: size})
	}
}

// Join adds userID to the queue, returning the post-join size. A user
// already queued is a no-op, per §4.4 ("not an error at this layer").
func (q *Queue) Join(ctx context.Context, userID, username string) int {
	reply := make(chan int, 1)
	select {
	case q.joinCh <- joinRequest{userID: userID, username: username, reply: reply}:
	case <-ctx.Done():
		return 0
	}
	return <-reply
}

// Leave removes userID from the queue; returns false if absent.
func (q *Queue) Leave(ctx context.Context, userID string) bool {
	reply := make(chan bool, 1)
	select {
	case q.leaveCh <- leaveRequest{userID: userID, reply: reply}:
	case <-ctx.Done():
		return false
	}
	return <-reply
}

// Size returns the current queue length.
func (q *Queue) Size(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case q.sizeCh <- sizeRequest{reply: reply}:
	case <-ctx.Done():
		return 0
	}
	return <-reply
}

// IsInQueue reports whether userID currently holds a queue entry.
func (q *Queue) IsInQueue(ctx context.Context, userID string) bool {
	reply := make(chan bool, 1)
	select {
	case q.isInQueueCh <- isInQueueRequest{userID: userID, reply: reply}:
	case <-ctx.Done():
		return false
	}
	return <-reply
}
