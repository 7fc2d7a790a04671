// Package coordinator is the Match Coordinator (§4.5): the per-match state
// machine from pair-off through finalization. Each match gets its own
// lock (matchRecord.mu) so unrelated matches make progress independently,
// while a coordinator-wide RWMutex only guards the registry maps
// themselves (records/userIndex/timers) — mirroring the teacher's
// ShutdownManager's "small map + mutex, do real work outside the lock"
// shape, generalized to per-match granularity.
package coordinator

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pvp-typing/arena/internal/apperr"
	"github.com/pvp-typing/arena/internal/elo"
	"github.com/pvp-typing/arena/internal/models"
	"github.com/pvp-typing/arena/internal/realtime"
	"github.com/pvp-typing/arena/internal/repositories"
	"github.com/pvp-typing/arena/internal/wire"
)

type phase string

const (
	phasePending   phase = "pending"
	phaseActive    phase = "active"
	phaseCompleted phase = "completed"
	phaseCancelled phase = "cancelled"
)

type playerRef struct {
	userID   string
	username string
}

type matchRecord struct {
	mu sync.Mutex

	matchID   string
	player1   playerRef
	player2   playerRef
	phase     phase
	createdAt time.Time
	startedAt time.Time

	p1Wpm, p1Acc float64
	p2Wpm, p2Acc float64
	p1Done, p2Done bool

	p1Connected, p2Connected bool
}

// Coordinator wires the realtime registry, the ranking/match repositories,
// and the Elo calculator together into the per-match state machine.
type Coordinator struct {
	hub          *realtime.Hub
	rankings     *repositories.RankingRepository
	matches      *repositories.MatchRepository
	calc         *elo.Calculator
	defaultElo   int
	matchTimeout time.Duration
	testDuration time.Duration

	registryMu sync.RWMutex
	records    map[string]*matchRecord
	userIndex  map[string]string // userID -> matchID, for pending/active matches only
	timers     map[string]*time.Timer
}

func New(hub *realtime.Hub, rankings *repositories.RankingRepository, matches *repositories.MatchRepository, calc *elo.Calculator, defaultElo int, matchTimeout, testDuration time.Duration) *Coordinator {
	return &Coordinator{
		hub:          hub,
		rankings:     rankings,
		matches:      matches,
		calc:         calc,
		defaultElo:   defaultElo,
		matchTimeout: matchTimeout,
		testDuration: testDuration,
		records:      make(map[string]*matchRecord),
		userIndex:    make(map[string]string),
		timers:       make(map[string]*time.Timer),
	}
}

// CreateMatch implements matchmaking.MatchCreator: persists the new match
// row, ensures both rankings exist, registers in-memory state, and emits
// match_found to both players.
func (c *Coordinator) CreateMatch(ctx context.Context, p1UserID, p1Username, p2UserID, p2Username string) error {
	r1, err := c.rankings.EnsureRanking(ctx, p1UserID, p1Username, c.defaultElo)
	if err != nil {
		return err
	}
	r2, err := c.rankings.EnsureRanking(ctx, p2UserID, p2Username, c.defaultElo)
	if err != nil {
		return err
	}

	matchID := uuid.NewString()
	m := &models.Match{
		MatchID:         matchID,
		Player1ID:       p1UserID,
		Player1Username: p1Username,
		Player2ID:       p2UserID,
		Player2Username: p2Username,
		Status:          models.MatchStatusActive,
	}
	if err := c.matches.Create(ctx, m); err != nil {
		return err
	}

	rec := &matchRecord{
		matchID:     matchID,
		player1:     playerRef{p1UserID, p1Username},
		player2:     playerRef{p2UserID, p2Username},
		phase:       phasePending,
		createdAt:   time.Now(),
		p1Connected: true,
		p2Connected: true,
	}

	c.registryMu.Lock()
	c.records[matchID] = rec
	c.userIndex[p1UserID] = matchID
	c.userIndex[p2UserID] = matchID
	c.registryMu.Unlock()

	c.hub.EmitToUser(p1UserID, wire.OutMatchFound, wire.MatchFoundPayload{
		MatchID:  matchID,
		Opponent: wire.OpponentInfo{ID: p2UserID, Username: p2Username, Elo: r2.Elo},
	})
	c.hub.EmitToUser(p2UserID, wire.OutMatchFound, wire.MatchFoundPayload{
		MatchID:  matchID,
		Opponent: wire.OpponentInfo{ID: p1UserID, Username: p1Username, Elo: r1.Elo},
	})

	return nil
}

func (c *Coordinator) lookup(matchID string) *matchRecord {
	c.registryMu.RLock()
	defer c.registryMu.RUnlock()
	return c.records[matchID]
}

func (c *Coordinator) forget(matchID string, p1, p2 string) {
	c.registryMu.Lock()
	defer c.registryMu.Unlock()
	delete(c.records, matchID)
	delete(c.userIndex, p1)
	delete(c.userIndex, p2)
	if t, ok := c.timers[matchID]; ok {
		t.Stop()
		delete(c.timers, matchID)
	}
}

// AcceptMatch handles ACCEPT_MATCH: joins the connection to the match room
// and, on the first acceptance from either player, transitions
// PENDING -> ACTIVE and arms the match timeout. game_start is sent via a
// targeted emit to both players rather than a room broadcast, since the
// player who has not yet sent their own ACCEPT_MATCH has not joined the
// room and would otherwise miss it.
func (c *Coordinator) AcceptMatch(conn *realtime.Client, matchID string) {
	rec := c.lookup(matchID)
	if rec == nil {
		conn.Emit(wire.OutError, wire.ErrorPayload{Message: "match not found"})
		return
	}

	c.hub.JoinRoom(conn, matchID)

	rec.mu.Lock()
	if rec.phase == phaseCompleted || rec.phase == phaseCancelled {
		rec.mu.Unlock()
		conn.Emit(wire.OutError, wire.ErrorPayload{Message: "match is no longer active"})
		return
	}
	if conn.UserID == rec.player1.userID {
		rec.p1Connected = true
	} else if conn.UserID == rec.player2.userID {
		rec.p2Connected = true
	}
	alreadyActive := rec.phase == phaseActive
	if !alreadyActive {
		rec.phase = phaseActive
		rec.startedAt = time.Now()
	}
	p1, p2 := rec.player1, rec.player2
	startTime := rec.startedAt
	rec.mu.Unlock()

	if alreadyActive {
		return
	}

	c.armTimeout(matchID)

	payload := wire.GameStartPayload{
		MatchID:      matchID,
		Player1:      wire.PlayerHandle{ID: p1.userID, Username: p1.username},
		Player2:      wire.PlayerHandle{ID: p2.userID, Username: p2.username},
		StartTime:    startTime.UnixMilli(),
		TestDuration: int(c.testDuration.Seconds()),
	}
	c.hub.EmitToUser(p1.userID, wire.OutGameStart, payload)
	c.hub.EmitToUser(p2.userID, wire.OutGameStart, payload)
}

func (c *Coordinator) armTimeout(matchID string) {
	timer := time.AfterFunc(c.matchTimeout, func() {
		c.onTimeout(matchID)
	})
	c.registryMu.Lock()
	c.timers[matchID] = timer
	c.registryMu.Unlock()
}

func (c *Coordinator) cancelTimer(matchID string) {
	c.registryMu.Lock()
	if t, ok := c.timers[matchID]; ok {
		t.Stop()
		delete(c.timers, matchID)
	}
	c.registryMu.Unlock()
}

// Progress handles MATCH_PROGRESS: persists the reporter's live stats and
// fans them out to the opponent only (never the sender, §8 property 5).
func (c *Coordinator) Progress(ctx context.Context, userID, matchID string, wpm, acc float64) {
	rec := c.lookup(matchID)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	if rec.phase != phaseActive {
		rec.mu.Unlock()
		slog.Warn("progress for non-active match discarded", "match_id", matchID, "user_id", userID)
		return
	}
	opponent, ok := c.applyProgress(rec, userID, wpm, acc)
	rec.mu.Unlock()
	if !ok {
		return
	}

	if err := c.matches.UpdateProgress(ctx, matchID, userID, wpm, acc); err != nil {
		slog.Error("failed to persist progress", "match_id", matchID, "error", err)
	}

	c.hub.EmitToUser(opponent, wire.OutOpponentProgress, wire.OpponentProgressPayload{
		MatchID:          matchID,
		OpponentWpm:      wpm,
		OpponentAccuracy: acc,
		Timestamp:        time.Now().UnixMilli(),
	})
}

// applyProgress mutates rec (caller holds rec.mu) and returns the opponent
// userId, or ok=false if userID isn't a participant.
func (c *Coordinator) applyProgress(rec *matchRecord, userID string, wpm, acc float64) (string, bool) {
	switch userID {
	case rec.player1.userID:
		rec.p1Wpm, rec.p1Acc = wpm, acc
		return rec.player2.userID, true
	case rec.player2.userID:
		rec.p2Wpm, rec.p2Acc = wpm, acc
		return rec.player1.userID, true
	default:
		return "", false
	}
}

// Complete handles MATCH_COMPLETE: records the player's final stats and
// finalizes the match once both sides have reported.
func (c *Coordinator) Complete(ctx context.Context, userID, matchID string, wpm, acc float64) {
	rec := c.lookup(matchID)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	if rec.phase != phaseActive {
		rec.mu.Unlock()
		slog.Warn("completion for non-active match discarded", "match_id", matchID, "user_id", userID)
		return
	}
	switch userID {
	case rec.player1.userID:
		rec.p1Wpm, rec.p1Acc, rec.p1Done = wpm, acc, true
	case rec.player2.userID:
		rec.p2Wpm, rec.p2Acc, rec.p2Done = wpm, acc, true
	default:
		rec.mu.Unlock()
		return
	}
	bothDone := rec.p1Done && rec.p2Done
	rec.mu.Unlock()

	c.hub.EmitToRoomExcept(matchID, nil, wire.OutOpponentFinished, wire.OpponentFinishedPayload{MatchID: matchID, Wpm: wpm, Acc: acc})

	if bothDone {
		c.finalize(ctx, rec)
	}
}

// Forfeit handles FORFEIT: the opponent is declared the winner immediately.
func (c *Coordinator) Forfeit(ctx context.Context, userID, matchID string) {
	rec := c.lookup(matchID)
	if rec == nil {
		c.hub.EmitToUser(userID, wire.OutError, wire.ErrorPayload{Message: "match not found"})
		return
	}

	rec.mu.Lock()
	if rec.phase != phaseActive && rec.phase != phasePending {
		rec.mu.Unlock()
		c.hub.EmitToUser(userID, wire.OutError, wire.ErrorPayload{Message: "match is no longer active"})
		return
	}
	var winner, loser playerRef
	if userID == rec.player1.userID {
		loser, winner = rec.player1, rec.player2
	} else if userID == rec.player2.userID {
		loser, winner = rec.player2, rec.player1
	} else {
		rec.mu.Unlock()
		c.hub.EmitToUser(userID, wire.OutError, wire.ErrorPayload{Message: "not a participant in this match"})
		return
	}
	rec.mu.Unlock()

	c.hub.EmitToRoomExcept(matchID, nil, wire.OutOpponentForfeited, wire.OpponentForfeitedPayload{MatchID: matchID})
	c.finalizeWithWinner(ctx, rec, winner, loser)
}

// finalize computes the winner from both players' reported scores and
// applies Elo, per §4.5.
func (c *Coordinator) finalize(ctx context.Context, rec *matchRecord) {
	rec.mu.Lock()
	p1, p2 := rec.player1, rec.player2
	p1Wpm, p1Acc := rec.p1Wpm, rec.p1Acc
	p2Wpm, p2Acc := rec.p2Wpm, rec.p2Acc
	createdAt := rec.createdAt
	rec.mu.Unlock()

	score1 := 0.8*p1Wpm + 0.2*p1Acc
	score2 := 0.8*p2Wpm + 0.2*p2Acc

	var winnerID, winnerName *string
	var result1, result2 float64
	switch {
	case score1 > score2:
		winnerID, winnerName = &p1.userID, &p1.username
		result1, result2 = elo.Win, elo.Loss
	case score2 > score1:
		winnerID, winnerName = &p2.userID, &p2.username
		result1, result2 = elo.Loss, elo.Win
	default:
		result1, result2 = elo.Draw, elo.Draw
	}

	c.applyResult(ctx, rec.matchID, p1, p2, p1Wpm, p1Acc, p2Wpm, p2Acc, winnerID, winnerName, result1, result2, createdAt)
}

// finalizeWithWinner is used by Forfeit, where the winner is already known
// and the loser may not have reported any finals (treated as 0/0).
func (c *Coordinator) finalizeWithWinner(ctx context.Context, rec *matchRecord, winner, loser playerRef) {
	rec.mu.Lock()
	p1, p2 := rec.player1, rec.player2
	p1Wpm, p1Acc := rec.p1Wpm, rec.p1Acc
	p2Wpm, p2Acc := rec.p2Wpm, rec.p2Acc
	createdAt := rec.createdAt
	rec.mu.Unlock()

	var result1, result2 float64
	if winner.userID == p1.userID {
		result1, result2 = elo.Win, elo.Loss
	} else {
		result1, result2 = elo.Loss, elo.Win
	}

	c.applyResult(ctx, rec.matchID, p1, p2, p1Wpm, p1Acc, p2Wpm, p2Acc, &winner.userID, &winner.username, result1, result2, createdAt)
	_ = loser
}

// applyResult snapshots current ratings, computes deltas, persists the
// finalized match and both rankings, and emits match_result to both
// players. On a storage failure it retries once; on repeat failure the
// match is left active so the barrier re-attempts on the next event.
func (c *Coordinator) applyResult(ctx context.Context, matchID string, p1, p2 playerRef, p1Wpm, p1Acc, p2Wpm, p2Acc float64, winnerID, winnerName *string, result1, result2 float64, createdAt time.Time) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if lastErr = c.tryApplyResult(ctx, matchID, p1, p2, p1Wpm, p1Acc, p2Wpm, p2Acc, winnerID, winnerName, result1, result2, createdAt); lastErr == nil {
			return
		}
		slog.Error("finalize attempt failed", "match_id", matchID, "attempt", attempt, "error", lastErr)
	}
	slog.Error("finalize failed twice, leaving match active for retry on next event", "match_id", matchID, "error", lastErr)
}

func (c *Coordinator) tryApplyResult(ctx context.Context, matchID string, p1, p2 playerRef, p1Wpm, p1Acc, p2Wpm, p2Acc float64, winnerID, winnerName *string, result1, result2 float64, createdAt time.Time) error {
	r1, err := c.rankings.GetByUserID(ctx, p1.userID)
	if err != nil {
		return err
	}
	r2, err := c.rankings.GetByUserID(ctx, p2.userID)
	if err != nil {
		return err
	}
	if r1 == nil || r2 == nil {
		return apperr.Storage("ranking missing at finalization", nil)
	}

	delta1 := c.calc.Delta(r1.Elo, r2.Elo, result1)
	delta2 := c.calc.Delta(r2.Elo, r1.Elo, result2)

	duration := int(math.Floor(time.Since(createdAt).Seconds()))

	if _, err := c.matches.Finalize(ctx, matchID, p1Wpm, p1Acc, p2Wpm, p2Acc, winnerID, winnerName, delta1, delta2, duration, "completed"); err != nil {
		return err
	}

	newElo1 := elo.Apply(r1.Elo, delta1)
	newElo2 := elo.Apply(r2.Elo, delta2)
	won1, lost1 := result1 == elo.Win, result1 == elo.Loss
	won2, lost2 := result2 == elo.Win, result2 == elo.Loss

	if _, err := c.rankings.ApplyMatchResult(ctx, p1.userID, newElo1, won1, lost1); err != nil {
		return err
	}
	if _, err := c.rankings.ApplyMatchResult(ctx, p2.userID, newElo2, won2, lost2); err != nil {
		return err
	}

	payload := wire.MatchResultPayload{
		MatchID:          matchID,
		WinnerID:         winnerID,
		WinnerName:       winnerName,
		Player1ID:        p1.userID,
		Player1Name:      p1.username,
		Player1Wpm:       p1Wpm,
		Player1Accuracy:  p1Acc,
		Player1EloChange: delta1,
		Player2ID:        p2.userID,
		Player2Name:      p2.username,
		Player2Wpm:       p2Wpm,
		Player2Accuracy:  p2Acc,
		Player2EloChange: delta2,
		MatchDuration:    duration,
	}
	c.hub.EmitToUser(p1.userID, wire.OutMatchResult, payload)
	c.hub.EmitToUser(p2.userID, wire.OutMatchResult, payload)

	c.cancelTimer(matchID)
	c.forget(matchID, p1.userID, p2.userID)
	return nil
}

// onTimeout fires MATCH_TIMEOUT away from any other event; a match already
// finalized by the time the timer fires is left untouched.
func (c *Coordinator) onTimeout(matchID string) {
	rec := c.lookup(matchID)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	if rec.phase != phaseActive {
		rec.mu.Unlock()
		return
	}
	rec.phase = phaseCompleted
	p1, p2 := rec.player1, rec.player2
	p1Wpm, p1Acc := rec.p1Wpm, rec.p1Acc
	p2Wpm, p2Acc := rec.p2Wpm, rec.p2Acc
	createdAt := rec.createdAt
	rec.mu.Unlock()

	ctx := context.Background()
	duration := int(math.Floor(time.Since(createdAt).Seconds()))
	if _, err := c.matches.Finalize(ctx, matchID, p1Wpm, p1Acc, p2Wpm, p2Acc, nil, nil, 0, 0, duration, "completed"); err != nil {
		slog.Error("failed to persist timeout completion", "match_id", matchID, "error", err)
	}

	msg := wire.MatchTimeoutPayload{MatchID: matchID, Message: "match timed out"}
	c.hub.EmitToUser(p1.userID, wire.OutMatchTimeout, msg)
	c.hub.EmitToUser(p2.userID, wire.OutMatchTimeout, msg)

	c.forget(matchID, p1.userID, p2.userID)
}

// Reconnect handles RECONNECT: rejoins the room and re-sends the
// game_start snapshot so a reloaded client can resynchronize, without
// restoring any grace period (the excluded reconnection-state-restoration
// feature). See SPEC_FULL.md §5.
func (c *Coordinator) Reconnect(conn *realtime.Client, matchID string) {
	rec := c.lookup(matchID)
	if rec == nil {
		conn.Emit(wire.OutError, wire.ErrorPayload{Message: "match not found"})
		return
	}

	rec.mu.Lock()
	if rec.phase != phaseActive {
		rec.mu.Unlock()
		conn.Emit(wire.OutError, wire.ErrorPayload{Message: "match is no longer active"})
		return
	}
	if conn.UserID == rec.player1.userID {
		rec.p1Connected = true
	} else if conn.UserID == rec.player2.userID {
		rec.p2Connected = true
	}
	p1, p2 := rec.player1, rec.player2
	startTime := rec.startedAt
	rec.mu.Unlock()

	c.hub.JoinRoom(conn, matchID)
	conn.Emit(wire.OutGameStart, wire.GameStartPayload{
		MatchID:      matchID,
		Player1:      wire.PlayerHandle{ID: p1.userID, Username: p1.username},
		Player2:      wire.PlayerHandle{ID: p2.userID, Username: p2.username},
		StartTime:    startTime.UnixMilli(),
		TestDuration: int(c.testDuration.Seconds()),
	})
	c.hub.EmitToRoomExcept(matchID, conn, wire.OutOpponentReconnected, wire.OpponentReconnectedPayload{MatchID: matchID})
}

// RunDisconnectWatcher drains the hub's disconnect feed and cancels a
// match when both participants have gone away without completing it. The
// registry never calls into the coordinator directly (§9); this goroutine
// is the one-way channel consumer that replaces that callback.
func (c *Coordinator) RunDisconnectWatcher(ctx context.Context, disconnects <-chan realtime.DisconnectEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-disconnects:
			c.handleDisconnect(ev.UserID)
		}
	}
}

func (c *Coordinator) handleDisconnect(userID string) {
	c.registryMu.RLock()
	matchID, ok := c.userIndex[userID]
	c.registryMu.RUnlock()
	if !ok {
		return
	}
	rec := c.lookup(matchID)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	if rec.phase == phaseCompleted || rec.phase == phaseCancelled {
		rec.mu.Unlock()
		return
	}
	if userID == rec.player1.userID {
		rec.p1Connected = false
	} else if userID == rec.player2.userID {
		rec.p2Connected = false
	}
	bothGone := !rec.p1Connected && !rec.p2Connected
	if bothGone {
		rec.phase = phaseCancelled
	}
	p1, p2 := rec.player1, rec.player2
	rec.mu.Unlock()

	if !bothGone {
		return
	}

	ctx := context.Background()
	if err := c.matches.Cancel(ctx, matchID); err != nil {
		slog.Error("failed to cancel abandoned match", "match_id", matchID, "error", err)
	}
	c.cancelTimer(matchID)
	c.forget(matchID, p1.userID, p2.userID)
}
