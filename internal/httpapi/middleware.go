package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyAuth returns middleware that requires a matching Authorization:
// Bearer <key> or X-API-Key header. No-op when apiKey is empty.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if c.Request.URL.Path == "/api/v1/health" {
			c.Next()
			return
		}

		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] == apiKey {
				c.Next()
				return
			}
		}
		if c.GetHeader("X-API-Key") == apiKey {
			c.Next()
			return
		}

		c.JSON(401, &Response{Success: false, Error: &ErrorBody{Name: "E_UNAUTHORIZED", Message: "invalid or missing API key"}})
		c.Abort()
	}
}

const maxBodyBytes = 1 * 1024 * 1024 // 1MB default body limit

// MaxBodySize returns middleware rejecting requests declaring a larger
// Content-Length than maxBytes, and hard-caps the body reader regardless.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.JSON(413, &Response{Success: false, Error: &ErrorBody{Name: "E_TOO_LARGE", Message: "request body too large"}})
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
