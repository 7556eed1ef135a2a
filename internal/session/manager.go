// Package session guarantees that a valid identity session and a matching Backend Session exist
// before any backend request is sent.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/tyemirov/highland/internal/identity"
	"github.com/tyemirov/highland/pkg/tokencache"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// State describes the manager's view of the session.
type State int

const (
	StateNoSession State = iota
	StateEstablishing
	StateEstablished
)

func (state State) String() string {
	switch state {
	case StateEstablishing:
		return "establishing"
	case StateEstablished:
		return "established"
	default:
		return "no_session"
	}
}

// Options wires a Manager.
type Options struct {
	Cache      *tokencache.Cache
	Provider   identity.Provider
	Federation identity.Federation
	// HTTPClient carries the Backend Session; give it a cookie jar shared with the dispatcher.
	HTTPClient *http.Client
	BaseURL    string
	Exchange   ExchangeMode
	LogoutPath string
	// Coalesce merges concurrent establishments into one provider call and one exchange.
	Coalesce bool
	Logger   *zap.Logger
	Metrics  MetricsRecorder
}

// Manager owns the session lifecycle.
type Manager struct {
	cache        *tokencache.Cache
	provider     identity.Provider
	federation   identity.Federation
	httpClient   *http.Client
	baseURL      string
	exchangeMode ExchangeMode
	logoutPath   string
	coalesce     bool
	group        singleflight.Group
	logger       *zap.Logger
	metrics      MetricsRecorder

	mutex         sync.RWMutex
	state         State
	identity      Identity
	initStatus    InitStatus
	storageTokens oauth2.TokenSource
}

// NewManager validates options and returns a manager in StateNoSession.
func NewManager(options Options) (*Manager, error) {
	if options.Cache == nil {
		return nil, fmt.Errorf("session.new: %w", ErrMissingCache)
	}
	if options.Provider == nil {
		return nil, fmt.Errorf("session.new: %w", ErrMissingProvider)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("session.new: %w", ErrMissingBaseURL)
	}
	exchangeMode, modeErr := ParseExchangeMode(string(options.Exchange))
	if modeErr != nil {
		return nil, fmt.Errorf("session.new: %w", modeErr)
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logoutPath := options.LogoutPath
	if strings.TrimSpace(logoutPath) == "" {
		logoutPath = "/logout"
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var metrics MetricsRecorder = noopMetrics{}
	if options.Metrics != nil {
		metrics = options.Metrics
	}
	return &Manager{
		cache:        options.Cache,
		provider:     options.Provider,
		federation:   options.Federation,
		httpClient:   httpClient,
		baseURL:      baseURL,
		exchangeMode: exchangeMode,
		logoutPath:   logoutPath,
		coalesce:     options.Coalesce,
		logger:       logger,
		metrics:      metrics,
		state:        StateNoSession,
		initStatus:   InitPending,
	}, nil
}

// State reports the current session state.
func (manager *Manager) State() State {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	return manager.state
}

// HTTPClient returns the client that carries the Backend Session.
func (manager *Manager) HTTPClient() *http.Client {
	return manager.httpClient
}

// EstablishSession returns a valid credential bundle. A valid cached bundle is returned without
// any network call; otherwise the identity provider renews the session and the fresh tokens are
// exchanged with the backend before returning.
func (manager *Manager) EstablishSession(ctx context.Context) (tokencache.CredentialBundle, error) {
	if bundle, ok := manager.cachedSession(ctx); ok {
		manager.metrics.Increment(EventCacheHit)
		manager.setState(StateEstablished)
		return bundle, nil
	}
	if !manager.coalesce {
		return manager.establish(ctx)
	}
	// The shared establishment outlives any single caller; each caller waits on its own context.
	shared := context.WithoutCancel(ctx)
	results := manager.group.DoChan("establish", func() (any, error) {
		return manager.establish(shared)
	})
	select {
	case <-ctx.Done():
		return tokencache.CredentialBundle{}, fmt.Errorf("session.establish: %w: %w", ErrSessionUnavailable, ctx.Err())
	case outcome := <-results:
		if outcome.Err != nil {
			return tokencache.CredentialBundle{}, outcome.Err
		}
		return outcome.Val.(tokencache.CredentialBundle), nil
	}
}

func (manager *Manager) cachedSession(ctx context.Context) (tokencache.CredentialBundle, bool) {
	username, ok := manager.cache.CurrentUser(ctx)
	if !ok {
		return tokencache.CredentialBundle{}, false
	}
	bundle, found := manager.cache.Load(ctx, username)
	if !found || !manager.cache.IsValid(bundle) {
		return tokencache.CredentialBundle{}, false
	}
	return bundle, true
}

func (manager *Manager) establish(ctx context.Context) (tokencache.CredentialBundle, error) {
	manager.setState(StateEstablishing)

	bundle, sessionErr := manager.provider.Session(ctx)
	if sessionErr != nil {
		manager.metrics.Increment(EventRefreshFailed)
		manager.setState(StateNoSession)
		manager.logger.Warn("identity provider could not supply a session",
			zap.String("code", "session.identity_provider_failed"),
			zap.Error(sessionErr))
		return tokencache.CredentialBundle{}, fmt.Errorf("session.establish: %w: %w: %w", ErrSessionUnavailable, ErrIdentityProviderFailed, sessionErr)
	}
	manager.metrics.Increment(EventRefresh)

	if _, exchangeErr := manager.exchange(ctx, bundle); exchangeErr != nil {
		manager.metrics.Increment(EventExchangeFailed)
		manager.setState(StateNoSession)
		manager.logger.Warn("token exchange rejected",
			zap.String("code", "session.exchange_failed"),
			zap.String("path", manager.exchangeMode.Path()),
			zap.Error(exchangeErr))
		return tokencache.CredentialBundle{}, fmt.Errorf("session.establish: %w: %w: %w", ErrSessionUnavailable, ErrExchangeFailed, exchangeErr)
	}
	manager.metrics.Increment(EventExchangeSuccess)
	manager.setState(StateEstablished)
	return bundle, nil
}

// Login signs username in with the identity provider and opens a Backend Session for the result.
func (manager *Manager) Login(ctx context.Context, username string, password string) (ExchangeResponse, error) {
	manager.setState(StateEstablishing)
	bundle, authErr := manager.provider.Authenticate(ctx, username, password)
	if authErr != nil {
		manager.setState(StateNoSession)
		manager.logger.Warn("sign in rejected",
			zap.String("code", "session.identity_provider_failed"),
			zap.String("username", username),
			zap.Error(authErr))
		return ExchangeResponse{}, fmt.Errorf("session.login: %w: %w: %w", ErrSessionUnavailable, ErrIdentityProviderFailed, authErr)
	}
	described, exchangeErr := manager.exchange(ctx, bundle)
	if exchangeErr != nil {
		manager.metrics.Increment(EventExchangeFailed)
		manager.setState(StateNoSession)
		manager.logger.Warn("token exchange rejected",
			zap.String("code", "session.exchange_failed"),
			zap.String("path", manager.exchangeMode.Path()),
			zap.Error(exchangeErr))
		return ExchangeResponse{}, fmt.Errorf("session.login: %w: %w: %w", ErrSessionUnavailable, ErrExchangeFailed, exchangeErr)
	}
	manager.metrics.Increment(EventExchangeSuccess)
	manager.setState(StateEstablished)
	manager.resetIdentity()
	return described, nil
}

// Logout signs out of the identity provider and ends the Backend Session. Both effects are always
// attempted; their failures are joined.
func (manager *Manager) Logout(ctx context.Context) error {
	var signOutErr error
	if err := manager.provider.SignOut(ctx); err != nil && !errors.Is(err, identity.ErrNoCurrentUser) {
		signOutErr = fmt.Errorf("session.logout.sign_out: %w", err)
	}
	var backendErr error
	if err := manager.postLogout(ctx); err != nil {
		backendErr = fmt.Errorf("session.logout.backend: %w", err)
	}

	manager.setState(StateNoSession)
	manager.resetIdentity()
	manager.metrics.Increment(EventLogout)

	if joined := errors.Join(signOutErr, backendErr); joined != nil {
		manager.logger.Warn("logout incomplete",
			zap.String("code", "session.logout_failed"),
			zap.Error(joined))
		return fmt.Errorf("%w: %w", ErrLogoutFailed, joined)
	}
	return nil
}

func (manager *Manager) setState(state State) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	manager.state = state
}
