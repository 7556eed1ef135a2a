package proxy

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const contextKeyCredentials = "session_credentials"

// RequireSession establishes a session before the wrapped handlers run.
func RequireSession(sessions Sessions, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		bundle, err := sessions.EstablishSession(contextGin.Request.Context())
		if err != nil {
			logger.Debug("session unavailable",
				zap.String("code", "proxy.session_unavailable"),
				zap.String("path", contextGin.Request.URL.Path),
				zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorSessionUnavailable})
			return
		}
		contextGin.Set(contextKeyCredentials, bundle)
		contextGin.Next()
	}
}
