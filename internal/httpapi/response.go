package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ckoons/katra-sub000/internal/katraerr"
)

// Response is the standard envelope for every handler in this package.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody mirrors katraerr.Error on the wire without exposing the Go
// error chain directly.
type ErrorBody struct {
	Code       int    `json:"code"`
	Name       string `json:"name"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, &Response{Success: true, Data: data})
}

// fail maps err onto an HTTP status using its katraerr.Kind category,
// falling back to 500 for errors the taxonomy doesn't recognize.
func fail(c *gin.Context, err error) {
	var kerr *katraerr.Error
	if !errors.As(err, &kerr) {
		c.JSON(http.StatusInternalServerError, &Response{
			Success: false,
			Error:   &ErrorBody{Code: -1, Name: "E_UNKNOWN", Message: err.Error()},
		})
		return
	}

	c.JSON(statusFor(kerr), &Response{
		Success: false,
		Error: &ErrorBody{
			Code:       int(kerr.Code),
			Name:       kerr.Name,
			Message:    kerr.Message,
			Suggestion: kerr.Suggestion,
		},
	})
}

func statusFor(err *katraerr.Error) int {
	switch err.Category() {
	case katraerr.CategoryInput:
		return http.StatusBadRequest
	case katraerr.CategoryConsent:
		if err.Kind == katraerr.KindAccessDenied {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case katraerr.CategoryMemoryTier:
		if err.Kind == katraerr.KindNotFound {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
