package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// workerRole is the claim a worker's service token must carry to use the DAL.
const workerRole = "fleet-worker"

// authMiddleware validates the worker's bearer token. With no signing secret
// configured the check is disabled.
func (h *Handlers) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.authSecret == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if len(authHeader) < 8 || !strings.EqualFold(authHeader[:7], "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}
		raw := authHeader[7:]

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(h.authSecret), nil
		})
		if err != nil || !token.Valid {
			h.logger.Warn("rejected worker token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if !hasRole(claims, workerRole) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access token missing proper role"})
			return
		}

		c.Next()
	}
}

func hasRole(claims jwt.MapClaims, role string) bool {
	raw, ok := claims["roles"]
	if !ok {
		return false
	}
	roles, ok := raw.([]any)
	if !ok {
		return false
	}
	for _, r := range roles {
		if s, ok := r.(string); ok && s == role {
			return true
		}
	}
	return false
}
