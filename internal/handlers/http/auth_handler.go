package http

import (
	"net/http"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/services"
	"quickdowntime/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
)

// AuthHandler exposes the caller's identity and token renewal. Users and
// credentials live with the identity provider; this service only verifies.
type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// SetupRoutes registers the handlers on a group already guarded by AuthMiddleware.
func (h *AuthHandler) SetupRoutes(rg gin.IRouter) {
	rg.GET("/me", h.Me)
	rg.POST("/refresh", h.RefreshToken)
}

func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, domain.ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, user)
}

// RefreshToken issues a new access token for the still-valid caller.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, domain.ErrUnauthorized)
		return
	}

	accessToken, err := h.authService.GenerateToken(user)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": accessToken,
		"token_type":   "bearer",
		"user":         user,
	})
}
