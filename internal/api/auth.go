package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// authHandler serves the session-cookie login/logout/status endpoints.
// Authentication is entirely optional: when no web_password is
// configured every request is already treated as authenticated by
// authMiddleware, and these endpoints just report that fact.
type authHandler struct {
	webPassword string
	sessions    *sessionStore
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (h *authHandler) Login(c *gin.Context) {
	if h.webPassword == "" {
		c.JSON(http.StatusOK, gin.H{"success": true, "authenticated": true})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.webPassword)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid password"})
		return
	}

	token, err := h.sessions.Issue()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to create session"})
		return
	}
	c.SetCookie(sessionCookieName, token, int(sessionTTL.Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"success": true, "authenticated": true})
}

func (h *authHandler) Logout(c *gin.Context) {
	if token, err := c.Cookie(sessionCookieName); err == nil {
		h.sessions.Revoke(token)
	}
	c.SetCookie(sessionCookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *authHandler) Status(c *gin.Context) {
	if h.webPassword == "" {
		c.JSON(http.StatusOK, gin.H{"auth_required": false, "authenticated": true})
		return
	}
	token, err := c.Cookie(sessionCookieName)
	authenticated := err == nil && h.sessions.Valid(token)
	c.JSON(http.StatusOK, gin.H{"auth_required": true, "authenticated": authenticated})
}
