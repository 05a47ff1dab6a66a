package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pancomido/auth/internal/models"
)

func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	roleSet := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No autenticado", "code": "unauthenticated"})
			return
		}

		if _, ok := roleSet[models.UserRole(claims.Role)]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Acceso denegado", "code": "forbidden"})
			return
		}

		c.Next()
	}
}
