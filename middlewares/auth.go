package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"ecommerce-backend/logging"
	"ecommerce-backend/models"
	"ecommerce-backend/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// UserLookup resolves the account behind a token so role changes apply
// without waiting for the token to expire.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

func AuthMiddleware(users UserLookup, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "Authorization header is required")
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			abortUnauthorized(c, "Use: Bearer <token>")
			return
		}

		claims, err := utils.ParseToken(secret, strings.TrimSpace(token))
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, utils.ErrExpiredToken) {
				msg = "Token has expired"
			}
			abortUnauthorized(c, msg)
			return
		}

		user, err := users.GetUser(c.Request.Context(), claims.UserID)
		if err != nil {
			logging.FromContext(c.Request.Context()).Info("auth_user_lookup_failed",
				zap.String("user_id", claims.UserID), zap.Error(err))
			abortUnauthorized(c, "Account no longer exists")
			return
		}

		c.Set(ContextUserID, user.ID)
		c.Set(ContextRole, user.Role)
		ctx := logging.ContextWithLogger(c.Request.Context(),
			logging.FromContext(c.Request.Context()).With(zap.String("user_id", user.ID)))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRoles must run after AuthMiddleware.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CurrentRole(c)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	}
}

func CurrentUserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func CurrentRole(c *gin.Context) models.Role {
	role, _ := c.Get(ContextRole)
	r, _ := role.(models.Role)
	return r
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}
