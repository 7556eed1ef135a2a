package tokencache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock {
	return systemClock{}
}

// Sentinel errors exposed by the cache.
var (
	ErrMissingStore    = errors.New("token_cache.missing_store")
	ErrMissingClientID = errors.New("token_cache.missing_client_id")
	ErrMalformedToken  = errors.New("token_cache.malformed_token")
	ErrMissingExpiry   = errors.New("token_cache.missing_expiry")
)

// Config configures a Cache.
type Config struct {
	Store     Store
	Namespace string
	ClientID  string
	Clock     Clock
	Logger    *zap.Logger
	// Leeway treats tokens expiring within this window as already expired.
	Leeway time.Duration
}

// Cache reads credential bundles cached by the identity provider SDK.
// It never writes; read failures are reported as cache misses.
type Cache struct {
	store  Store
	keys   Keys
	clock  Clock
	logger *zap.Logger
	leeway time.Duration
}

// New constructs a Cache after validating the supplied configuration.
func New(configuration Config) (*Cache, error) {
	if configuration.Store == nil {
		return nil, fmt.Errorf("token_cache.new: %w", ErrMissingStore)
	}
	if strings.TrimSpace(configuration.ClientID) == "" {
		return nil, fmt.Errorf("token_cache.new: %w", ErrMissingClientID)
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:  configuration.Store,
		keys:   NewKeys(configuration.Namespace, configuration.ClientID),
		clock:  clock,
		logger: logger,
		leeway: configuration.Leeway,
	}, nil
}

// Keys returns the key layout used by this cache.
func (cache *Cache) Keys() Keys {
	return cache.keys
}

// Clock returns the clock used for expiry checks.
func (cache *Cache) Clock() Clock {
	return cache.clock
}

// CurrentUser returns the username of the most recently signed-in user.
func (cache *Cache) CurrentUser(ctx context.Context) (string, bool) {
	username, found := cache.read(ctx, cache.keys.LastAuthUserKey())
	if !found || strings.TrimSpace(username) == "" {
		return "", false
	}
	return username, true
}

// Load returns the cached bundle for username, or false if any entry is absent.
func (cache *Cache) Load(ctx context.Context, username string) (CredentialBundle, bool) {
	if strings.TrimSpace(username) == "" {
		return CredentialBundle{}, false
	}
	idToken, idFound := cache.read(ctx, cache.keys.IDTokenKey(username))
	if !idFound {
		return CredentialBundle{}, false
	}
	accessToken, accessFound := cache.read(ctx, cache.keys.AccessTokenKey(username))
	if !accessFound {
		return CredentialBundle{}, false
	}
	refreshToken, refreshFound := cache.read(ctx, cache.keys.RefreshTokenKey(username))
	if !refreshFound {
		return CredentialBundle{}, false
	}
	bundle := CredentialBundle{
		IDToken:      idToken,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	if !bundle.Complete() {
		return CredentialBundle{}, false
	}
	return bundle, true
}

// IsValid reports whether the bundle's identity token has not yet expired.
func (cache *Cache) IsValid(bundle CredentialBundle) bool {
	expiresAt, err := ExpiresAt(bundle.IDToken)
	if err != nil {
		cache.logger.Debug("cached identity token unusable",
			zap.String("code", "token_cache.invalid_token"),
			zap.Error(err))
		return false
	}
	return cache.clock.Now().Add(cache.leeway).Before(expiresAt)
}

func (cache *Cache) read(ctx context.Context, key string) (string, bool) {
	value, found, err := cache.store.Get(ctx, key)
	if err != nil {
		cache.logger.Warn("token cache read failed",
			zap.String("code", "token_cache.read_failed"),
			zap.String("key", key),
			zap.Error(err))
		return "", false
	}
	if !found || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}
