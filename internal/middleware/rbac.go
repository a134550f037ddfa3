package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-api/internal/models"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/response"
)

// RBAC enforces role-based access control for routes. Roles come from the
// external identity service's token; "SELF" additionally allows a guardian
// portal token to reach routes whose :id parameter matches its own user ID.
func RBAC(allowed ...string) gin.HandlerFunc {
	allowSelf := false
	roles := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		if role == "SELF" {
			allowSelf = true
			continue
		}
		roles[role] = struct{}{}
	}

	return func(c *gin.Context) {
		value, ok := c.Get(ContextUserKey)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := value.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := roles[claims.Role]; ok {
			c.Next()
			return
		}
		if allowSelf && claims.UserID != "" && claims.UserID == c.Param("id") {
			c.Next()
			return
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
