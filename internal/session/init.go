package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/tyemirov/highland/internal/identity"
	"github.com/tyemirov/highland/pkg/tokencache"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// InitStatus records how far Init got.
type InitStatus int

const (
	InitPending InitStatus = iota
	InitReady
	InitSessionFailed
	// InitStorageUnavailable means the session works but uploads are disabled.
	InitStorageUnavailable
)

func (status InitStatus) String() string {
	switch status {
	case InitReady:
		return "ready"
	case InitSessionFailed:
		return "session_failed"
	case InitStorageUnavailable:
		return "storage_unavailable"
	default:
		return "pending"
	}
}

// Identity is the resolved principal for the process lifetime.
type Identity struct {
	Username   string
	Subject    string
	Email      string
	IdentityID string
}

// Init establishes a session, resolves the user's storage identity, and installs storage credentials.
// When the session works but federation fails the returned Identity is still populated and the
// error wraps ErrStorageUnavailable.
func (manager *Manager) Init(ctx context.Context) (Identity, error) {
	bundle, establishErr := manager.EstablishSession(ctx)
	if establishErr != nil {
		manager.recordInit(Identity{}, InitSessionFailed, nil)
		return Identity{}, fmt.Errorf("session.init: %w", establishErr)
	}

	claims, decodeErr := tokencache.DecodeIDToken(bundle.IDToken)
	if decodeErr != nil {
		manager.recordInit(Identity{}, InitSessionFailed, nil)
		return Identity{}, fmt.Errorf("session.init: %w: %w: %w", ErrSessionUnavailable, ErrIdentityProviderFailed, decodeErr)
	}
	resolved := Identity{
		Username: manager.username(ctx, claims),
		Subject:  claims.Subject,
		Email:    claims.Email,
	}

	if manager.federation == nil {
		return manager.storageUnavailable(resolved, fmt.Errorf("session.init: %w: federation not configured", ErrStorageUnavailable))
	}
	identityID, federationErr := manager.federation.IdentityID(ctx, bundle.IDToken)
	if federationErr != nil {
		return manager.storageUnavailable(resolved, fmt.Errorf("session.init: %w: %w", ErrStorageUnavailable, federationErr))
	}
	resolved.IdentityID = identityID

	source := &federatedTokenSource{
		ctx:        context.WithoutCancel(ctx),
		manager:    manager,
		federation: manager.federation,
		identityID: identityID,
	}
	manager.recordInit(resolved, InitReady, oauth2.ReuseTokenSource(nil, source))
	manager.metrics.Increment(EventIdentityResolved)
	manager.logger.Debug("identity resolved",
		zap.String("username", resolved.Username),
		zap.String("identity_id", identityID))
	return resolved, nil
}

// Identity returns the identity resolved by Init and how far Init got.
func (manager *Manager) Identity() (Identity, InitStatus) {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	return manager.identity, manager.initStatus
}

// StorageTokenSource returns credentials for the object store once Init fully succeeded.
func (manager *Manager) StorageTokenSource() (oauth2.TokenSource, error) {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	if manager.initStatus != InitReady || manager.storageTokens == nil {
		return nil, fmt.Errorf("session.storage_token_source: %w", ErrStorageUnavailable)
	}
	return manager.storageTokens, nil
}

func (manager *Manager) storageUnavailable(resolved Identity, err error) (Identity, error) {
	manager.recordInit(resolved, InitStorageUnavailable, nil)
	manager.metrics.Increment(EventStorageUnavailable)
	manager.logger.Warn("storage identity unavailable",
		zap.String("code", "identity.storage_unavailable"),
		zap.Error(err))
	return resolved, err
}

func (manager *Manager) username(ctx context.Context, claims *tokencache.IDClaims) string {
	if current, ok := manager.cache.CurrentUser(ctx); ok {
		return current
	}
	return claims.DisplayUsername()
}

func (manager *Manager) recordInit(resolved Identity, status InitStatus, source oauth2.TokenSource) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	manager.identity = resolved
	manager.initStatus = status
	manager.storageTokens = source
}

func (manager *Manager) resetIdentity() {
	manager.recordInit(Identity{}, InitPending, nil)
}

// federatedTokenSource trades a fresh identity token for storage credentials on every call.
type federatedTokenSource struct {
	ctx        context.Context
	manager    *Manager
	federation identity.Federation
	identityID string
}

func (source *federatedTokenSource) Token() (*oauth2.Token, error) {
	bundle, err := source.manager.EstablishSession(source.ctx)
	if err != nil {
		return nil, err
	}
	token, credentialsErr := source.federation.Credentials(source.ctx, source.identityID, bundle.IDToken)
	if credentialsErr != nil {
		return nil, credentialsErr
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, fmt.Errorf("session.storage_credentials: %w", ErrStorageUnavailable)
	}
	return token, nil
}
