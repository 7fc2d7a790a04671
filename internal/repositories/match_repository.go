package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pvp-typing/arena/internal/apperr"
	"github.com/pvp-typing/arena/internal/models"
)

// MatchRepository is the Match half of the Ranking Store Facade (§4.2).
type MatchRepository struct {
	db *sql.DB
}

func NewMatchRepository(db *sql.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

func scanMatch(row interface{ Scan(...interface{}) error }) (*models.Match, error) {
	m := &models.Match{}
	err := row.Scan(
		&m.MatchID, &m.Player1ID, &m.Player1Username, &m.Player2ID, &m.Player2Username,
		&m.Player1Wpm, &m.Player1Accuracy, &m.Player2Wpm, &m.Player2Accuracy,
		&m.WinnerID, &m.WinnerName, &m.Player1EloChange, &m.Player2EloChange,
		&m.MatchDuration, &m.Status, &m.CreatedAt, &m.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

const matchColumns = `
	match_id, player1_id, player1_username, player2_id, player2_username,
	player1_wpm, player1_accuracy, player2_wpm, player2_accuracy,
	winner_id, winner_name, player1_elo_change, player2_elo_change,
	match_duration, status, created_at, completed_at
`

// Create inserts a new match in the active state, used at pair-off when the
// coordinator registers the pairing as PENDING.
func (r *MatchRepository) Create(ctx context.Context, m *models.Match) error {
	query := `
		INSERT INTO pvp_matches (
			match_id, player1_id, player1_username, player2_id, player2_username,
			player1_wpm, player1_accuracy, player2_wpm, player2_accuracy,
			winner_id, winner_name, player1_elo_change, player2_elo_change,
			match_duration, status, created_at
		) VALUES ($1, $2, $3, $4, $5, 0, 0, 0, 0, NULL, NULL, 0, 0, 0, $6, NOW())
	`
	_, err := r.db.ExecContext(ctx, query,
		m.MatchID, m.Player1ID, m.Player1Username, m.Player2ID, m.Player2Username, m.Status,
	)
	if err != nil {
		return apperr.Storage("failed to create match", err)
	}
	return nil
}

// GetByID loads a match by its opaque id.
func (r *MatchRepository) GetByID(ctx context.Context, matchID string) (*models.Match, error) {
	query := fmt.Sprintf(`SELECT %s FROM pvp_matches WHERE match_id = $1`, matchColumns)
	row := r.db.QueryRowContext(ctx, query, matchID)
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("failed to load match", err)
	}
	return m, nil
}

// UpdateProgress persists a single player's latest live wpm/accuracy
// snapshot without touching match status, used on every MATCH_PROGRESS event.
func (r *MatchRepository) UpdateProgress(ctx context.Context, matchID, playerID string, wpm, accuracy float64) error {
	query := `
		UPDATE pvp_matches
		SET player1_wpm = CASE WHEN player1_id = $2 THEN $3 ELSE player1_wpm END,
		    player1_accuracy = CASE WHEN player1_id = $2 THEN $4 ELSE player1_accuracy END,
		    player2_wpm = CASE WHEN player2_id = $2 THEN $3 ELSE player2_wpm END,
		    player2_accuracy = CASE WHEN player2_id = $2 THEN $4 ELSE player2_accuracy END
		WHERE match_id = $1 AND status = 'active'
	`
	res, err := r.db.ExecContext(ctx, query, matchID, playerID, wpm, accuracy)
	if err != nil {
		return apperr.Storage("failed to update match progress", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("failed to confirm progress update", err)
	}
	if affected == 0 {
		return apperr.MatchState("match is not active")
	}
	return nil
}

// Finalize records a completed match's final state: both players' last
// wpm/accuracy, the computed winner, elo deltas, and duration. Only applies
// if the match is currently active, so a race between a completion and a
// timeout can only ever land one writer.
func (r *MatchRepository) Finalize(ctx context.Context, matchID string, p1Wpm, p1Acc, p2Wpm, p2Acc float64, winnerID, winnerName *string, p1Delta, p2Delta, durationSeconds int, finalStatus string) (*models.Match, error) {
	query := fmt.Sprintf(`
		UPDATE pvp_matches
		SET player1_wpm = $2, player1_accuracy = $3, player2_wpm = $4, player2_accuracy = $5,
		    winner_id = $6, winner_name = $7, player1_elo_change = $8, player2_elo_change = $9,
		    match_duration = $10, status = $11, completed_at = NOW()
		WHERE match_id = $1 AND status = 'active'
		RETURNING %s
	`, matchColumns)
	row := r.db.QueryRowContext(ctx, query, matchID, p1Wpm, p1Acc, p2Wpm, p2Acc, winnerID, winnerName, p1Delta, p2Delta, durationSeconds, finalStatus)
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("failed to finalize match", err)
	}
	return m, nil
}

// Cancel marks a still-pending/active match as cancelled, used when both
// players disconnect before the match completes.
func (r *MatchRepository) Cancel(ctx context.Context, matchID string) error {
	query := `
		UPDATE pvp_matches SET status = 'cancelled', completed_at = NOW()
		WHERE match_id = $1 AND status != 'completed'
	`
	_, err := r.db.ExecContext(ctx, query, matchID)
	if err != nil {
		return apperr.Storage("failed to cancel match", err)
	}
	return nil
}

// GetHistory returns a player's completed matches, most recent first, plus
// the total completed-match count for pagination.
func (r *MatchRepository) GetHistory(ctx context.Context, userID string, limit, offset int) ([]models.Match, int, error) {
	var total int
	countQuery := `
		SELECT COUNT(*) FROM pvp_matches
		WHERE (player1_id = $1 OR player2_id = $1) AND status = 'completed'
	`
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, apperr.Storage("failed to count match history", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM pvp_matches
		WHERE (player1_id = $1 OR player2_id = $1) AND status = 'completed'
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, matchColumns)
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Storage("failed to load match history", err)
	}
	defer rows.Close()

	matches := make([]models.Match, 0, limit)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, 0, apperr.Storage("failed to scan match history row", err)
		}
		matches = append(matches, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Storage("failed reading match history rows", err)
	}

	return matches, total, nil
}
