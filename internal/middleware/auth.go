package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pancomido/auth/internal/security"
)

const claimsKey = "session_claims"

type SessionParser interface {
	ParseSession(token string) (*security.SessionClaims, error)
}

// Auth requires a valid bearer session token and stores its claims on the
// context. Sessions are stateless, so nothing is looked up.
func Auth(parser SessionParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token requerido", "code": "unauthenticated"})
			return
		}

		tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		claims, err := parser.ParseSession(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token inválido o expirado", "code": "unauthenticated"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// Claims returns the session claims stored by Auth.
func Claims(c *gin.Context) (*security.SessionClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*security.SessionClaims)
	return claims, ok && claims != nil
}
