package http

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crowdlines/crowdlines/internal/store"
)

// SecurityHeadersMiddleware adds basic, sensible security headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		// JSON only, nothing to load
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Next()
	}
}

// ErrorHandler renders the last error a handler forwarded with c.Error.
// Handlers never write error responses themselves.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var validationErr *store.ValidationError
		switch {
		case last.IsType(gin.ErrorTypeBind):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + last.Err.Error()})
		case errors.As(last.Err, &validationErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
		case errors.Is(last.Err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		default:
			log.Printf("Error handling %s %s: %v", c.Request.Method, c.Request.URL.Path, last.Err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
	}
}

// forward hands err to ErrorHandler and stops the chain.
func forward(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func forwardBind(c *gin.Context, err error) {
	_ = c.Error(err).SetType(gin.ErrorTypeBind)
	c.Abort()
}
