package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pdu-bridge/internal/logging"
)

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func loggerMiddleware(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/api/health" {
			return
		}
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// authMiddleware gates every mutation verb (anything but GET/HEAD/
// OPTIONS) behind a valid session cookie when webPassword is set, except
// POST /api/auth/login, which is how a session is obtained. When
// no web_password is configured, authentication is disabled entirely
// and this middleware is a no-op.
func authMiddleware(webPassword string, sessions *sessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if webPassword == "" || c.Request.URL.Path == "/api/auth/login" {
			c.Next()
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		token, err := c.Cookie(sessionCookieName)
		if err != nil || !sessions.Valid(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "authentication required",
			})
			return
		}
		c.Next()
	}
}
