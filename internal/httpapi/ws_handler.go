package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pvp-typing/arena/internal/authjwt"
	"github.com/pvp-typing/arena/internal/realtime"
	"github.com/pvp-typing/arena/internal/router"
)

// WebSocketHandler completes the bidirectional event protocol's handshake
// (§6.2): it validates the session JWT carried on the upgrade request
// (query parameter, since browsers cannot set arbitrary headers on a
// WebSocket handshake) and binds the resulting userId/username to the new
// connection before handing it to the Hub. A missing or invalid token
// fails the connection with "Authentication failed" instead of upgrading.
type WebSocketHandler struct {
	hub       *realtime.Hub
	router    *router.Router
	jwtSecret string
}

func NewWebSocketHandler(hub *realtime.Hub, rt *router.Router, jwtSecret string) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, router: rt, jwtSecret: jwtSecret}
}

// Handle upgrades GET /pvp/ws?token=... to a full-duplex connection.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader("Sec-WebSocket-Protocol")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed"})
		return
	}

	claims, err := authjwt.Validate(token, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed"})
		return
	}

	if err := h.hub.Upgrade(c.Writer, c.Request, claims.UserID, claims.Username, h.router.Handle); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upgrade connection"})
	}
}
