package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvp-typing/arena/internal/models"
)

func matchColumnNames() []string {
	return []string{
		"match_id", "player1_id", "player1_username", "player2_id", "player2_username",
		"player1_wpm", "player1_accuracy", "player2_wpm", "player2_accuracy",
		"winner_id", "winner_name", "player1_elo_change", "player2_elo_change",
		"match_duration", "status", "created_at", "completed_at",
	}
}

func TestMatchRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO pvp_matches`).
		WithArgs("m1", "alice", "Alice", "bob", "Bob", models.MatchStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewMatchRepository(db)
	m := &models.Match{
		MatchID: "m1", Player1ID: "alice", Player1Username: "Alice",
		Player2ID: "bob", Player2Username: "Bob", Status: models.MatchStatusActive,
	}
	require.NoError(t, repo.Create(context.Background(), m))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchRepository_GetByID_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`FROM pvp_matches WHERE match_id = \$1`).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows(matchColumnNames()).
			AddRow("m1", "alice", "Alice", "bob", "Bob", 80.0, 95.0, 70.0, 97.0,
				"alice", "Alice", 16, -16, 60, "completed", now, now))

	repo := NewMatchRepository(db)
	m, err := repo.GetByID(context.Background(), "m1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "completed", m.Status)
	require.NotNil(t, m.WinnerID)
	assert.Equal(t, "alice", *m.WinnerID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchRepository_GetByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM pvp_matches WHERE match_id = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(matchColumnNames()))

	repo := NewMatchRepository(db)
	m, err := repo.GetByID(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, m)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchRepository_UpdateProgress_RejectsNonActiveMatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE pvp_matches`).
		WithArgs("m1", "alice", 80.0, 95.0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewMatchRepository(db)
	err = repo.UpdateProgress(context.Background(), "m1", "alice", 80.0, 95.0)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchRepository_Finalize_SetsWinnerAndStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	winner := "alice"
	winnerName := "Alice"
	mock.ExpectQuery(`UPDATE pvp_matches`).
		WithArgs("m1", 80.0, 95.0, 70.0, 97.0, &winner, &winnerName, 16, -16, 60, "completed").
		WillReturnRows(sqlmock.NewRows(matchColumnNames()).
			AddRow("m1", "alice", "Alice", "bob", "Bob", 80.0, 95.0, 70.0, 97.0,
				"alice", "Alice", 16, -16, 60, "completed", now, now))

	repo := NewMatchRepository(db)
	m, err := repo.Finalize(context.Background(), "m1", 80.0, 95.0, 70.0, 97.0, &winner, &winnerName, 16, -16, 60, "completed")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "completed", m.Status)
	assert.Equal(t, 16, m.Player1EloChange)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchRepository_GetHistory_FiltersCompletedOrderedByCreatedAtDesc(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pvp_matches`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM pvp_matches WHERE \(player1_id = \$1 OR player2_id = \$1\) AND status = 'completed' ORDER BY created_at DESC`).
		WithArgs("alice", 20, 0).
		WillReturnRows(sqlmock.NewRows(matchColumnNames()).
			AddRow("m1", "alice", "Alice", "bob", "Bob", 80.0, 95.0, 70.0, 97.0,
				"alice", "Alice", 16, -16, 60, "completed", now, now))

	repo := NewMatchRepository(db)
	matches, total, err := repo.GetHistory(context.Background(), "alice", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, matches, 1)
	assert.Equal(t, models.MatchStatusCompleted, matches[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
