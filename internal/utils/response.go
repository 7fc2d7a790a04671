package utils

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondWithError sends a JSON error response and logs the error if provided
func RespondWithError(c *gin.Context, code int, message string, err error) {
	if err != nil {
		slog.Error("Request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", code,
			"error", err.Error(),
		)
	}
	c.JSON(code, ErrorResponse{Error: message})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(c *gin.Context, code int, payload interface{}) {
	c.JSON(code, payload)
}

// DataResponse is the `{message, data}` envelope every successful REST
// response uses (§6.1).
type DataResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// RespondWithData sends a 200 `{message, data}` envelope.
func RespondWithData(c *gin.Context, message string, data interface{}) {
	c.JSON(200, DataResponse{Message: message, Data: data})
}
