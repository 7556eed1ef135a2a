package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/highland/internal/identity"
	"github.com/tyemirov/highland/pkg/tokencache"
	"github.com/tyemirov/highland/pkg/tokencache/tokencachetest"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"
)

var testNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

const testClientID = "client-1"

type stubProvider struct {
	sessionFunc      func(ctx context.Context) (tokencache.CredentialBundle, error)
	authenticateFunc func(ctx context.Context, username string, password string) (tokencache.CredentialBundle, error)
	signOutFunc      func(ctx context.Context) error
	sessionCalls     atomic.Int32
	signOutCalls     atomic.Int32
}

func (provider *stubProvider) CurrentUser(ctx context.Context) (string, error) {
	return "", identity.ErrNoCurrentUser
}

func (provider *stubProvider) Session(ctx context.Context) (tokencache.CredentialBundle, error) {
	provider.sessionCalls.Add(1)
	if provider.sessionFunc == nil {
		return tokencache.CredentialBundle{}, identity.ErrNoCurrentUser
	}
	return provider.sessionFunc(ctx)
}

func (provider *stubProvider) Authenticate(ctx context.Context, username string, password string) (tokencache.CredentialBundle, error) {
	if provider.authenticateFunc == nil {
		return tokencache.CredentialBundle{}, identity.ErrAuthenticationFailed
	}
	return provider.authenticateFunc(ctx, username, password)
}

func (provider *stubProvider) SignOut(ctx context.Context) error {
	provider.signOutCalls.Add(1)
	if provider.signOutFunc == nil {
		return nil
	}
	return provider.signOutFunc(ctx)
}

type stubFederation struct {
	identityIDFunc  func(ctx context.Context, idToken string) (string, error)
	credentialsFunc func(ctx context.Context, identityID string, idToken string) (*oauth2.Token, error)
}

func (federation stubFederation) IdentityID(ctx context.Context, idToken string) (string, error) {
	return federation.identityIDFunc(ctx, idToken)
}

func (federation stubFederation) Credentials(ctx context.Context, identityID string, idToken string) (*oauth2.Token, error) {
	return federation.credentialsFunc(ctx, identityID, idToken)
}

type recordedRequest struct {
	Method      string
	Path        string
	ContentType string
	Cookie      string
	Body        map[string]any
}

type backendBehavior struct {
	exchangeStatus int
	logoutStatus   int
	exchangeBody   gin.H
}

type fakeBackend struct {
	server   *httptest.Server
	mutex    sync.Mutex
	requests []recordedRequest
}

func newFakeBackend(t *testing.T, behavior backendBehavior) *fakeBackend {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if behavior.exchangeStatus == 0 {
		behavior.exchangeStatus = http.StatusOK
	}
	if behavior.logoutStatus == 0 {
		behavior.logoutStatus = http.StatusOK
	}
	backend := &fakeBackend{}
	router := gin.New()
	exchange := func(c *gin.Context) {
		backend.record(c)
		if behavior.exchangeStatus == http.StatusOK {
			http.SetCookie(c.Writer, &http.Cookie{Name: "backend_session", Value: "opaque-session", Path: "/"})
		}
		if behavior.exchangeBody != nil {
			c.JSON(behavior.exchangeStatus, behavior.exchangeBody)
			return
		}
		c.Status(behavior.exchangeStatus)
	}
	router.POST("/auth_tokens", exchange)
	router.POST("/access_token", exchange)
	router.POST("/logout", func(c *gin.Context) {
		backend.record(c)
		c.Status(behavior.logoutStatus)
	})
	router.GET("/ping", func(c *gin.Context) {
		backend.record(c)
		c.Status(http.StatusOK)
	})
	backend.server = httptest.NewServer(router)
	t.Cleanup(backend.server.Close)
	return backend
}

func (backend *fakeBackend) record(c *gin.Context) {
	recorded := recordedRequest{
		Method:      c.Request.Method,
		Path:        c.Request.URL.Path,
		ContentType: c.GetHeader("Content-Type"),
		Cookie:      c.GetHeader("Cookie"),
	}
	if raw, err := io.ReadAll(c.Request.Body); err == nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, &recorded.Body)
	}
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	backend.requests = append(backend.requests, recorded)
}

func (backend *fakeBackend) recorded() []recordedRequest {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return append([]recordedRequest(nil), backend.requests...)
}

type countingMetrics struct {
	mutex  sync.Mutex
	counts map[string]int
}

func (metrics *countingMetrics) Increment(event string) {
	metrics.mutex.Lock()
	defer metrics.mutex.Unlock()
	metrics.counts[event]++
}

func (metrics *countingMetrics) Count(event string) int {
	metrics.mutex.Lock()
	defer metrics.mutex.Unlock()
	return metrics.counts[event]
}

func (metrics *countingMetrics) Snapshot() map[string]int {
	metrics.mutex.Lock()
	defer metrics.mutex.Unlock()
	clone := make(map[string]int, len(metrics.counts))
	for event, count := range metrics.counts {
		clone[event] = count
	}
	return clone
}

type managerFixture struct {
	manager  *Manager
	store    *tokencache.MemoryStore
	keys     tokencache.Keys
	provider *stubProvider
	metrics  *countingMetrics
	backend  *fakeBackend
}

func newManagerFixture(t *testing.T, behavior backendBehavior, configure func(options *Options)) *managerFixture {
	t.Helper()
	store := tokencache.NewMemoryStore()
	cache, err := tokencache.New(tokencache.Config{
		Store:    store,
		ClientID: testClientID,
		Clock:    tokencachetest.FixedClock{Current: testNow},
		Logger:   zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	backend := newFakeBackend(t, behavior)
	provider := &stubProvider{}
	metrics := &countingMetrics{counts: make(map[string]int)}
	options := Options{
		Cache:      cache,
		Provider:   provider,
		HTTPClient: backend.server.Client(),
		BaseURL:    backend.server.URL,
		Logger:     zaptest.NewLogger(t),
		Metrics:    metrics,
	}
	if configure != nil {
		configure(&options)
	}
	manager, managerErr := NewManager(options)
	if managerErr != nil {
		t.Fatalf("new manager: %v", managerErr)
	}
	return &managerFixture{
		manager:  manager,
		store:    store,
		keys:     cache.Keys(),
		provider: provider,
		metrics:  metrics,
		backend:  backend,
	}
}
