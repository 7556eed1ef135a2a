package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/highland/internal/session"
	"github.com/tyemirov/highland/pkg/tokencache"
	"go.uber.org/zap"
)

// HandleWhoAmI reports the resolved identity. It resolves the identity on first use when the
// proxy started with cached credentials.
func HandleWhoAmI(logger *zap.Logger, sessions Sessions) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessions == nil {
		panic("session manager is required")
	}

	return func(contextGin *gin.Context) {
		resolved, status, initErr := resolveIdentity(contextGin.Request.Context(), sessions)
		if initErr != nil {
			logger.Warn("identity resolution failed",
				zap.String("code", "proxy.me.init_failed"),
				zap.Error(initErr))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorSessionUnavailable})
			return
		}

		expiresAt := time.Time{}
		if value, found := contextGin.Get(contextKeyCredentials); found {
			if bundle, ok := value.(tokencache.CredentialBundle); ok {
				if expiry, expiryErr := tokencache.ExpiresAt(bundle.IDToken); expiryErr == nil {
					expiresAt = expiry
				}
			}
		}

		contextGin.JSON(http.StatusOK, gin.H{
			"username":    resolved.Username,
			"subject":     resolved.Subject,
			"user_email":  resolved.Email,
			"identity_id": resolved.IdentityID,
			"storage":     status.String(),
			"expires":     expiresAt,
		})
	}
}

// resolveIdentity runs Init when the identity is still pending or the last attempt lost the session.
// A storage-only failure is reported through the status, not the error.
func resolveIdentity(ctx context.Context, sessions Sessions) (session.Identity, session.InitStatus, error) {
	resolved, status := sessions.Identity()
	if status != session.InitPending && status != session.InitSessionFailed {
		return resolved, status, nil
	}
	initialized, initErr := sessions.Init(ctx)
	switch {
	case initErr == nil:
		return initialized, session.InitReady, nil
	case errors.Is(initErr, session.ErrStorageUnavailable):
		return initialized, session.InitStorageUnavailable, nil
	default:
		return session.Identity{}, session.InitSessionFailed, initErr
	}
}
