// Package models holds the persisted entities of the ranked-match core:
// Ranking (the Elo ladder) and Match (one completed or in-flight race).
// Transient, in-memory-only types (queue entries, live progress) live next
// to the component that owns their lifecycle instead of here.
package models

import "time"

// Match status values. A match never reverts once it leaves "active".
const (
	MatchStatusActive    = "active"
	MatchStatusCompleted = "completed"
	MatchStatusCancelled = "cancelled"
)

// Ranking is a player's position on the Elo ladder. Created lazily on a
// player's first match; mutated only by the match coordinator at
// finalization time.
type Ranking struct {
	UserID      string     `json:"userId"`
	Username    string     `json:"username"`
	Elo         int        `json:"elo"`
	Wins        int        `json:"wins"`
	Losses      int        `json:"losses"`
	Matches     int        `json:"matches"`
	LastMatchAt *time.Time `json:"lastMatchAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Match is one race between two players, created active at pair-off and
// mutated exclusively by the match coordinator.
type Match struct {
	MatchID          string     `json:"matchId"`
	Player1ID        string     `json:"player1Id"`
	Player1Username  string     `json:"player1Username"`
	Player2ID        string     `json:"player2Id"`
	Player2Username  string     `json:"player2Username"`
	Player1Wpm       float64    `json:"player1Wpm"`
	Player1Accuracy  float64    `json:"player1Accuracy"`
	Player2Wpm       float64    `json:"player2Wpm"`
	Player2Accuracy  float64    `json:"player2Accuracy"`
	WinnerID         *string    `json:"winnerId"`
	WinnerName       *string    `json:"winnerName"`
	Player1EloChange int        `json:"player1EloChange"`
	Player2EloChange int        `json:"player2EloChange"`
	MatchDuration    int        `json:"matchDuration"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// LeaderboardEntry decorates a Ranking with its 1-based rank, restoring a
// field the distilled spec dropped but the teacher's leaderboard response
// always carried.
type LeaderboardEntry struct {
	Rank int `json:"rank"`
	Ranking
}
