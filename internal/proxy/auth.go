package proxy

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/highland/internal/session"
	"go.uber.org/zap"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// MountAuthRoutes registers /auth/login and /auth/logout. clearBackendSession, when set, runs on
// every logout whatever the logout outcome.
func MountAuthRoutes(router gin.IRouter, sessions Sessions, clearBackendSession func(ctx context.Context) error, logger *zap.Logger) {
	router.POST("/auth/login", func(contextGin *gin.Context) {
		var inbound loginRequest
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}

		described, loginErr := sessions.Login(contextGin.Request.Context(), inbound.Username, inbound.Password)
		if loginErr != nil {
			switch {
			case errors.Is(loginErr, session.ErrIdentityProviderFailed):
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
			case errors.Is(loginErr, session.ErrExchangeFailed):
				contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "exchange_failed"})
			default:
				logger.Error("login failed",
					zap.String("code", "proxy.login_failed"),
					zap.Error(loginErr))
				contextGin.AbortWithStatus(http.StatusInternalServerError)
			}
			return
		}

		resolved, initErr := sessions.Init(contextGin.Request.Context())
		storage := session.InitReady.String()
		if initErr != nil {
			if !errors.Is(initErr, session.ErrStorageUnavailable) {
				logger.Error("identity resolution failed after login",
					zap.String("code", "proxy.init_failed"),
					zap.Error(initErr))
				contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": errorSessionUnavailable})
				return
			}
			logger.Warn("uploads disabled for this session",
				zap.String("code", "proxy.storage_unavailable"),
				zap.Error(initErr))
			storage = session.InitStorageUnavailable.String()
		}

		contextGin.JSON(http.StatusOK, gin.H{
			"user_id":     described.UserID,
			"username":    firstNonEmpty(described.Username, resolved.Username),
			"user_email":  firstNonEmpty(described.Email, resolved.Email),
			"roles":       described.Roles,
			"identity_id": resolved.IdentityID,
			"storage":     storage,
		})
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		err := sessions.Logout(contextGin.Request.Context())
		if clearBackendSession != nil {
			err = errors.Join(err, clearBackendSession(contextGin.Request.Context()))
		}
		if err != nil {
			logger.Warn("logout incomplete",
				zap.String("code", "proxy.logout_incomplete"),
				zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "logout_incomplete"})
			return
		}
		contextGin.Status(http.StatusNoContent)
	})
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
