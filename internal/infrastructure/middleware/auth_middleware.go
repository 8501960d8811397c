package middleware

import (
	"strings"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/services"
	apperrors "quickdowntime/pkg/errors"
	"quickdowntime/pkg/logger"

	"github.com/gin-gonic/gin"
)

const userContextKey = "user"

// AuthMiddleware requires a valid bearer token and stores the caller in the context.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWith(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		user, err := authService.VerifyToken(token)
		if err != nil {
			abortWith(c, apperrors.From(err))
			return
		}

		c.Set(userContextKey, user)
		c.Set("user_id", user.ID)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), string(user.ID)))
		c.Next()
	}
}

// RequireRole lets the request through only for callers holding one of roles.
// It must run after AuthMiddleware.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			abortWith(c, apperrors.NewUnauthorizedError("authentication required"))
			return
		}
		for _, r := range roles {
			if user.Role == r {
				c.Next()
				return
			}
		}
		abortWith(c, apperrors.From(domain.ErrRoleMismatch))
	}
}

// CurrentUser returns the caller stored by AuthMiddleware.
func CurrentUser(c *gin.Context) (*domain.User, bool) {
	v, exists := c.Get(userContextKey)
	if !exists {
		return nil, false
	}
	user, ok := v.(*domain.User)
	return user, ok && user != nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortWith(c *gin.Context, err *apperrors.AppError) {
	_ = c.Error(err)
	c.Abort()
}
