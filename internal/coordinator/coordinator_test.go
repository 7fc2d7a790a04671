package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvp-typing/arena/internal/elo"
	"github.com/pvp-typing/arena/internal/realtime"
	"github.com/pvp-typing/arena/internal/repositories"
)

func rankingCols() []string {
	return []string{"user_id", "username", "elo", "wins", "losses", "matches", "last_match_at", "created_at", "updated_at"}
}

func matchCols() []string {
	return []string{
		"match_id", "player1_id", "player1_username", "player2_id", "player2_username",
		"player1_wpm", "player1_accuracy", "player2_wpm", "player2_accuracy",
		"winner_id", "winner_name", "player1_elo_change", "player2_elo_change",
		"match_duration", "status", "created_at", "completed_at",
	}
}

type testRig struct {
	c          *Coordinator
	rankingsDB *sql.DB
	rankings   sqlmock.Sqlmock
	matchesDB  *sql.DB
	matches    sqlmock.Sqlmock
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	rankingsDB, rankingsMock, err := sqlmock.New()
	require.NoError(t, err)
	matchesDB, matchesMock, err := sqlmock.New()
	require.NoError(t, err)

	hub := realtime.NewHub(nil)
	c := New(hub,
		repositories.NewRankingRepository(rankingsDB),
		repositories.NewMatchRepository(matchesDB),
		elo.NewCalculator(32),
		1000, time.Minute, 60*time.Second,
	)

	t.Cleanup(func() {
		rankingsDB.Close()
		matchesDB.Close()
	})

	return &testRig{c: c, rankingsDB: rankingsDB, rankings: rankingsMock, matchesDB: matchesDB, matches: matchesMock}
}

func (rig *testRig) seed(matchID, p1ID, p1Name, p2ID, p2Name string, ph phase) *matchRecord {
	rec := &matchRecord{
		matchID:     matchID,
		player1:     playerRef{p1ID, p1Name},
		player2:     playerRef{p2ID, p2Name},
		phase:       ph,
		createdAt:   time.Now(),
		p1Connected: true,
		p2Connected: true,
	}
	rig.c.registryMu.Lock()
	rig.c.records[matchID] = rec
	rig.c.userIndex[p1ID] = matchID
	rig.c.userIndex[p2ID] = matchID
	rig.c.registryMu.Unlock()
	return rec
}

func TestCoordinator_CreateMatch_PersistsAndRegistersPendingMatch(t *testing.T) {
	rig := newRig(t)
	now := time.Now()

	rig.rankings.ExpectQuery(`FROM pvp_rankings WHERE user_id = \$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(rankingCols()))
	rig.rankings.ExpectQuery(`INSERT INTO pvp_rankings`).
		WithArgs("alice", "Alice", 1000).
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("alice", "Alice", 1000, 0, 0, 0, now, now, now))
	rig.rankings.ExpectQuery(`FROM pvp_rankings WHERE user_id = \$1`).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows(rankingCols()))
	rig.rankings.ExpectQuery(`INSERT INTO pvp_rankings`).
		WithArgs("bob", "Bob", 1000).
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("bob", "Bob", 1000, 0, 0, 0, now, now, now))

	rig.matches.ExpectExec(`INSERT INTO pvp_matches`).
		WithArgs(sqlmock.AnyArg(), "alice", "Alice", "bob", "Bob", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, rig.c.CreateMatch(context.Background(), "alice", "Alice", "bob", "Bob"))

	rig.c.registryMu.RLock()
	matchID, ok := rig.c.userIndex["alice"]
	rig.c.registryMu.RUnlock()
	require.True(t, ok)
	rec := rig.c.lookup(matchID)
	require.NotNil(t, rec)
	assert.Equal(t, phasePending, rec.phase)
	assert.Equal(t, "bob", rec.player2.userID)

	require.NoError(t, rig.rankings.ExpectationsWereMet())
	require.NoError(t, rig.matches.ExpectationsWereMet())
}

func TestCoordinator_Complete_S1HappyPath(t *testing.T) {
	rig := newRig(t)
	matchID := "m1"
	rig.seed(matchID, "alice", "Alice", "bob", "Bob", phaseActive)
	now := time.Now()

	rig.matches.ExpectExec(`SET player1_wpm = CASE`).
		WithArgs(matchID, "alice", 80.0, 100.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	rig.matches.ExpectExec(`SET player1_wpm = CASE`).
		WithArgs(matchID, "bob", 70.0, 90.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rig.rankings.ExpectQuery(`FROM pvp_rankings WHERE user_id = \$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("alice", "Alice", 1000, 0, 0, 0, nil, now, now))
	rig.rankings.ExpectQuery(`FROM pvp_rankings WHERE user_id = \$1`).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("bob", "Bob", 1000, 0, 0, 0, nil, now, now))

	winnerID, winnerName := "alice", "Alice"
	rig.matches.ExpectQuery(`SET player1_wpm = \$2`).
		WithArgs(matchID, 80.0, 100.0, 70.0, 90.0, &winnerID, &winnerName, 16, -16, sqlmock.AnyArg(), "completed").
		WillReturnRows(sqlmock.NewRows(matchCols()).
			AddRow(matchID, "alice", "Alice", "bob", "Bob", 80.0, 100.0, 70.0, 90.0,
				"alice", "Alice", 16, -16, 0, "completed", now, now))

	rig.rankings.ExpectQuery(`UPDATE pvp_rankings`).
		WithArgs("alice", 1016, true, false).
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("alice", "Alice", 1016, 1, 0, 1, now, now, now))
	rig.rankings.ExpectQuery(`UPDATE pvp_rankings`).
		WithArgs("bob", 984, false, true).
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("bob", "Bob", 984, 0, 1, 1, now, now, now))

	ctx := context.Background()
	rig.c.Progress(ctx, "alice", matchID, 80.0, 100.0)
	rig.c.Progress(ctx, "bob", matchID, 70.0, 90.0)
	rig.c.Complete(ctx, "alice", matchID, 80.0, 100.0)
	rig.c.Complete(ctx, "bob", matchID, 70.0, 90.0)

	require.Eventually(t, func() bool {
		return rig.c.lookup(matchID) == nil
	}, time.Second, time.Millisecond, "match should be forgotten once finalized")

	require.NoError(t, rig.rankings.ExpectationsWereMet())
	require.NoError(t, rig.matches.ExpectationsWereMet())
}

func TestCoordinator_Complete_S2DrawScenario(t *testing.T) {
	rig := newRig(t)
	matchID := "m2"
	rig.seed(matchID, "alice", "Alice", "bob", "Bob", phaseActive)
	now := time.Now()

	rig.rankings.ExpectQuery(`FROM pvp_rankings WHERE user_id = \$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("alice", "Alice", 1500, 2, 2, 4, nil, now, now))
	rig.rankings.ExpectQuery(`FROM pvp_rankings WHERE user_id = \$1`).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("bob", "Bob", 1500, 2, 2, 4, nil, now, now))

	rig.matches.ExpectQuery(`SET player1_wpm = \$2`).
		WithArgs(matchID, 75.0, 95.0, 75.0, 95.0, (*string)(nil), (*string)(nil), 0, 0, sqlmock.AnyArg(), "completed").
		WillReturnRows(sqlmock.NewRows(matchCols()).
			AddRow(matchID, "alice", "Alice", "bob", "Bob", 75.0, 95.0, 75.0, 95.0,
				nil, nil, 0, 0, 0, "completed", now, now))

	rig.rankings.ExpectQuery(`UPDATE pvp_rankings`).
		WithArgs("alice", 1500, false, false).
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("alice", "Alice", 1500, 2, 2, 5, now, now, now))
	rig.rankings.ExpectQuery(`UPDATE pvp_rankings`).
		WithArgs("bob", 1500, false, false).
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("bob", "Bob", 1500, 2, 2, 5, now, now, now))

	ctx := context.Background()
	rig.c.Complete(ctx, "alice", matchID, 75.0, 95.0)
	rig.c.Complete(ctx, "bob", matchID, 75.0, 95.0)

	require.Eventually(t, func() bool {
		return rig.c.lookup(matchID) == nil
	}, time.Second, time.Millisecond)

	require.NoError(t, rig.rankings.ExpectationsWereMet())
	require.NoError(t, rig.matches.ExpectationsWereMet())
}

func TestCoordinator_Forfeit_OpponentDeclaredWinner(t *testing.T) {
	rig := newRig(t)
	matchID := "m3"
	rig.seed(matchID, "alice", "Alice", "bob", "Bob", phaseActive)
	now := time.Now()

	rig.rankings.ExpectQuery(`FROM pvp_rankings WHERE user_id = \$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("alice", "Alice", 1000, 0, 0, 0, nil, now, now))
	rig.rankings.ExpectQuery(`FROM pvp_rankings WHERE user_id = \$1`).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("bob", "Bob", 1000, 0, 0, 0, nil, now, now))

	winnerID, winnerName := "bob", "Bob"
	rig.matches.ExpectQuery(`SET player1_wpm = \$2`).
		WithArgs(matchID, 0.0, 0.0, 0.0, 0.0, &winnerID, &winnerName, -16, 16, sqlmock.AnyArg(), "completed").
		WillReturnRows(sqlmock.NewRows(matchCols()).
			AddRow(matchID, "alice", "Alice", "bob", "Bob", 0.0, 0.0, 0.0, 0.0,
				"bob", "Bob", -16, 16, 0, "completed", now, now))

	rig.rankings.ExpectQuery(`UPDATE pvp_rankings`).
		WithArgs("alice", 984, false, true).
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("alice", "Alice", 984, 0, 1, 1, now, now, now))
	rig.rankings.ExpectQuery(`UPDATE pvp_rankings`).
		WithArgs("bob", 1016, true, false).
		WillReturnRows(sqlmock.NewRows(rankingCols()).AddRow("bob", "Bob", 1016, 1, 0, 1, now, now, now))

	rig.c.Forfeit(context.Background(), "alice", matchID)

	require.Eventually(t, func() bool {
		return rig.c.lookup(matchID) == nil
	}, time.Second, time.Millisecond)

	require.NoError(t, rig.rankings.ExpectationsWereMet())
	require.NoError(t, rig.matches.ExpectationsWereMet())
}

func TestCoordinator_OnTimeout_S3NoEloChange(t *testing.T) {
	rig := newRig(t)
	matchID := "m4"
	rig.seed(matchID, "alice", "Alice", "bob", "Bob", phaseActive)
	now := time.Now()

	rig.matches.ExpectQuery(`SET player1_wpm = \$2`).
		WithArgs(matchID, 0.0, 0.0, 0.0, 0.0, (*string)(nil), (*string)(nil), 0, 0, sqlmock.AnyArg(), "completed").
		WillReturnRows(sqlmock.NewRows(matchCols()).
			AddRow(matchID, "alice", "Alice", "bob", "Bob", 0.0, 0.0, 0.0, 0.0,
				nil, nil, 0, 0, 0, "completed", now, now))

	rig.c.onTimeout(matchID)

	assert.Nil(t, rig.c.lookup(matchID))
	// a timeout never touches rankings: no Elo change.
	require.NoError(t, rig.rankings.ExpectationsWereMet())
	require.NoError(t, rig.matches.ExpectationsWereMet())
}

func TestCoordinator_HandleDisconnect_CancelsOnlyWhenBothGone(t *testing.T) {
	rig := newRig(t)
	matchID := "m5"
	rig.seed(matchID, "alice", "Alice", "bob", "Bob", phaseActive)

	rig.c.handleDisconnect("alice")
	require.NotNil(t, rig.c.lookup(matchID), "match must survive a single player's disconnect")

	rig.matches.ExpectExec(`SET status = 'cancelled'`).
		WithArgs(matchID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rig.c.handleDisconnect("bob")

	require.Eventually(t, func() bool {
		return rig.c.lookup(matchID) == nil
	}, time.Second, time.Millisecond, "match should be cancelled once both players are gone")
	require.NoError(t, rig.matches.ExpectationsWereMet())
}

func TestCoordinator_ApplyResult_LeftActiveWhenStorageFailsTwice(t *testing.T) {
	// §8 scenario S5, at the coordinator level: a persistent storage
	// failure leaves the match active rather than silently dropping it.
	rig := newRig(t)
	matchID := "m6"
	rig.seed(matchID, "alice", "Alice", "bob", "Bob", phaseActive)

	rig.rankings.ExpectQuery(`FROM pvp_rankings WHERE user_id = \$1`).
		WithArgs("alice").
		WillReturnError(errors.New("storage unavailable"))
	rig.rankings.ExpectQuery(`FROM pvp_rankings WHERE user_id = \$1`).
		WithArgs("alice").
		WillReturnError(errors.New("storage unavailable"))

	rig.c.Complete(context.Background(), "alice", matchID, 80.0, 100.0)
	rig.c.Complete(context.Background(), "bob", matchID, 70.0, 90.0)

	require.NotNil(t, rig.c.lookup(matchID), "match must stay active so the next event can retry finalization")
	require.NoError(t, rig.rankings.ExpectationsWereMet())
}
