// Package httpapi is the REST surface of §6.1, adapted from the
// teacher's handlers/match_handler.go shape (Gin handler methods over an
// injected repository/service, errors routed through utils.RespondWithError).
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pvp-typing/arena/internal/cache"
	"github.com/pvp-typing/arena/internal/matchmaking"
	"github.com/pvp-typing/arena/internal/middleware"
	"github.com/pvp-typing/arena/internal/repositories"
	"github.com/pvp-typing/arena/internal/utils"
)

const (
	leaderboardDefaultLimit = 50
	historyDefaultLimit     = 20
	maxLimit                = 100
	leaderboardCacheTTL     = 10 * time.Second
)

// Handler groups the REST endpoints that sit in front of the realtime
// core's own storage: rankings, leaderboard, history, and queue
// join/leave for clients that prefer a request/response entry point over
// the pvp:join_queue event.
type Handler struct {
	rankings *repositories.RankingRepository
	matches  *repositories.MatchRepository
	queue    *matchmaking.Queue

	leaderboardCache *cache.Cache
}

func NewHandler(rankings *repositories.RankingRepository, matches *repositories.MatchRepository, queue *matchmaking.Queue) *Handler {
	return &Handler{
		rankings:         rankings,
		matches:          matches,
		queue:            queue,
		leaderboardCache: cache.NewCache(leaderboardCacheTTL, 30*time.Second),
	}
}

// GetRanking handles GET /pvp/ranking/:userId.
func (h *Handler) GetRanking(c *gin.Context) {
	userID := c.Param("userId")

	ranking, err := h.rankings.GetByUserID(c.Request.Context(), userID)
	if err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "failed to load ranking", err)
		return
	}
	if ranking == nil {
		utils.RespondWithError(c, http.StatusNotFound, "ranking not found", nil)
		return
	}

	utils.RespondWithData(c, "ranking retrieved", ranking)
}

type leaderboardResponse struct {
	Leaderboard interface{} `json:"leaderboard"`
	Total       int         `json:"total"`
}

// GetLeaderboard handles GET /pvp/leaderboard?limit=&offset=. Results are
// cached briefly since this is the highest-traffic read in the service
// and a top-50 query doesn't need to be read-your-writes fresh.
func (h *Handler) GetLeaderboard(c *gin.Context) {
	params := utils.ParsePaginationWithDefaults(c.Query("limit"), c.Query("offset"), leaderboardDefaultLimit, maxLimit)

	cacheKey := "leaderboard:" + strconv.Itoa(params.Limit) + ":" + strconv.Itoa(params.Offset)
	if cached, ok := h.leaderboardCache.Get(cacheKey); ok {
		utils.RespondWithData(c, "leaderboard retrieved", cached)
		return
	}

	entries, total, err := h.rankings.GetLeaderboard(c.Request.Context(), params.Limit, params.Offset)
	if err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "failed to load leaderboard", err)
		return
	}

	body := leaderboardResponse{Leaderboard: entries, Total: total}
	h.leaderboardCache.Set(cacheKey, body)
	utils.RespondWithData(c, "leaderboard retrieved", body)
}

type queueJoinResponse struct {
	QueueID   string `json:"queueId"`
	QueueSize int    `json:"queueSize"`
}

// JoinQueue handles POST /pvp/queue/join.
func (h *Handler) JoinQueue(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		utils.RespondWithError(c, http.StatusConflict, "authentication required", nil)
		return
	}
	username, _ := middleware.GetUsername(c)

	if h.queue.IsInQueue(c.Request.Context(), userID) {
		utils.RespondWithError(c, http.StatusConflict, "already in queue", nil)
		return
	}

	size := h.queue.Join(c.Request.Context(), userID, username)
	utils.RespondWithData(c, "joined queue", queueJoinResponse{QueueID: userID, QueueSize: size})
}

// LeaveQueue handles DELETE /pvp/queue/leave.
func (h *Handler) LeaveQueue(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		utils.RespondWithError(c, http.StatusConflict, "authentication required", nil)
		return
	}

	if !h.queue.Leave(c.Request.Context(), userID) {
		utils.RespondWithError(c, http.StatusNotFound, "not in queue", nil)
		return
	}

	utils.RespondWithData(c, "left queue", gin.H{})
}

type historyResponse struct {
	Matches interface{} `json:"matches"`
	Total   int         `json:"total"`
}

// GetHistory handles GET /pvp/history/:userId?limit=&offset=.
func (h *Handler) GetHistory(c *gin.Context) {
	userID := c.Param("userId")
	params := utils.ParsePaginationWithDefaults(c.Query("limit"), c.Query("offset"), historyDefaultLimit, maxLimit)

	matches, total, err := h.matches.GetHistory(c.Request.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "failed to load match history", err)
		return
	}

	utils.RespondWithData(c, "match history retrieved", historyResponse{Matches: matches, Total: total})
}
