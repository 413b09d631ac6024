package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"brokercrm/internal/auth"
)

const (
	ctxUserID = "user_id"
	ctxRoleID = "role_id"
)

// список публичных эндпоинтов, которые не требуют токена
func isPublicPath(path string) bool {
	switch path {
	case "/login", "/healthz", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/swagger")
}

// AuthMiddleware verifies the access token and puts user_id (int64) and
// role_id (int) into the gin context.
func AuthMiddleware(verifier *auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		// preflight и публичные пути пропускаем
		if c.Request.Method == http.MethodOptions || isPublicPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		claims, err := verifier.VerifyRequest(c.Request)
		if errors.Is(err, auth.ErrNoToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing access token", "kind": "unauthorized"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token", "kind": "unauthorized"})
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRoleID, claims.RoleID)
		c.Next()
	}
}

// UserID returns the authenticated user id, or 0.
func UserID(c *gin.Context) int64 {
	v, _ := c.Get(ctxUserID)
	id, _ := v.(int64)
	return id
}

// RoleID returns the authenticated role id, or 0.
func RoleID(c *gin.Context) int {
	v, _ := c.Get(ctxRoleID)
	id, _ := v.(int)
	return id
}
