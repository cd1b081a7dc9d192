// Package response is the standard JSON envelope used by the engine's HTTP
// surface (readiness, health, and status endpoints).
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIResponse is the standard response envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error carries the error code/message/details for a failed response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Success writes a 200 envelope with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// CustomError writes an arbitrary status/code/message error envelope.
func CustomError(c *gin.Context, statusCode int, code string, message string, details string) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}
