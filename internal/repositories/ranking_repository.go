package repositories

import (
	"context"
	"database/sql"

	"github.com/pvp-typing/arena/internal/apperr"
	"github.com/pvp-typing/arena/internal/models"
)

// RankingRepository is the Ranking half of the Ranking Store Facade (§4.2).
type RankingRepository struct {
	db *sql.DB
}

func NewRankingRepository(db *sql.DB) *RankingRepository {
	return &RankingRepository{db: db}
}

// GetByUserID returns the ranking for userId, or (nil, nil) if absent.
func (r *RankingRepository) GetByUserID(ctx context.Context, userID string) (*models.Ranking, error) {
	query := `
		SELECT user_id, username, elo, wins, losses, matches, last_match_at, created_at, updated_at
		FROM pvp_rankings WHERE user_id = $1
	`
	rk := &models.Ranking{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&rk.UserID, &rk.Username, &rk.Elo, &rk.Wins, &rk.Losses, &rk.Matches,
		&rk.LastMatchAt, &rk.CreatedAt, &rk.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("failed to load ranking", err)
	}
	return rk, nil
}

// Create inserts a new ranking at defaultElo. On a uniqueness collision on
// userId it returns the existing row instead of failing — two concurrent
// first-match creations for the same player must not race each other into
// an error (§4.2).
func (r *RankingRepository) Create(ctx context.Context, userID, username string, defaultElo int) (*models.Ranking, error) {
	query := `
		INSERT INTO pvp_rankings (user_id, username, elo, wins, losses, matches, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, username, elo, wins, losses, matches, last_match_at, created_at, updated_at
	`
	rk := &models.Ranking{}
	err := r.db.QueryRowContext(ctx, query, userID, username, defaultElo).Scan(
		&rk.UserID, &rk.Username, &rk.Elo, &rk.Wins, &rk.Losses, &rk.Matches,
		&rk.LastMatchAt, &rk.CreatedAt, &rk.UpdatedAt,
	)
	if err != nil {
		return nil, apperr.Storage("failed to create ranking", err)
	}
	return rk, nil
}

// EnsureRanking returns the existing ranking for userID, creating one at
// defaultElo if this is the player's first appearance.
func (r *RankingRepository) EnsureRanking(ctx context.Context, userID, username string, defaultElo int) (*models.Ranking, error) {
	existing, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return r.Create(ctx, userID, username, defaultElo)
}

// ApplyMatchResult folds a completed match's outcome into a player's
// ranking in one UPDATE: elo is set to newElo (the caller's pre-match
// rating plus delta, already floored at 0), matches += 1, wins/losses incremented per the outcome, and
// updated_at/last_match_at bumped. Returns the post-image, or nil if the
// player's ranking vanished between finalization and this call.
func (r *RankingRepository) ApplyMatchResult(ctx context.Context, userID string, newElo int, won, lost bool) (*models.Ranking, error) {
	query := `
		UPDATE pvp_rankings
		SET elo = $2,
		    matches = matches + 1,
		    wins = wins + CASE WHEN $3 THEN 1 ELSE 0 END,
		    losses = losses + CASE WHEN $4 THEN 1 ELSE 0 END,
		    last_match_at = NOW(),
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING user_id, username, elo, wins, losses, matches, last_match_at, created_at, updated_at
	`
	rk := &models.Ranking{}
	err := r.db.QueryRowContext(ctx, query, userID, newElo, won, lost).Scan(
		&rk.UserID, &rk.Username, &rk.Elo, &rk.Wins, &rk.Losses, &rk.Matches,
		&rk.LastMatchAt, &rk.CreatedAt, &rk.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("failed to apply match result to ranking", err)
	}
	return rk, nil
}

// GetLeaderboard returns the top `limit` rankings starting at `offset`,
// ordered by elo descending (ties broken by updated_at ascending — the
// ranking updated least recently ranks higher), plus the total row count.
func (r *RankingRepository) GetLeaderboard(ctx context.Context, limit, offset int) ([]models.LeaderboardEntry, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pvp_rankings`).Scan(&total); err != nil {
		return nil, 0, apperr.Storage("failed to count rankings", err)
	}

	query := `
		SELECT user_id, username, elo, wins, losses, matches, last_match_at, created_at, updated_at
		FROM pvp_rankings
		ORDER BY elo DESC, updated_at ASC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, apperr.Storage("failed to load leaderboard", err)
	}
	defer rows.Close()

	entries := make([]models.LeaderboardEntry, 0, limit)
	rank := offset + 1
	for rows.Next() {
		rk := models.Ranking{}
		if err := rows.Scan(
			&rk.UserID, &rk.Username, &rk.Elo, &rk.Wins, &rk.Losses, &rk.Matches,
			&rk.LastMatchAt, &rk.CreatedAt, &rk.UpdatedAt,
		); err != nil {
			return nil, 0, apperr.Storage("failed to scan leaderboard row", err)
		}
		entries = append(entries, models.LeaderboardEntry{Rank: rank, Ranking: rk})
		rank++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Storage("failed reading leaderboard rows", err)
	}

	return entries, total, nil
}
