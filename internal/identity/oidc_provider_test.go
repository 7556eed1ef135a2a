package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/highland/pkg/tokencache"
	"github.com/tyemirov/highland/pkg/tokencache/tokencachetest"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

type fakeIdentityBehavior struct {
	rejectRefresh bool
	omitIDToken   bool
	rotateRefresh bool
}

type fakeIdentityServer struct {
	fakeIdentityBehavior
	server         *httptest.Server
	tokenRequests  atomic.Int32
	lastGrantType  atomic.Value
	lastRefresh    atomic.Value
	validPasswords map[string]string
}

func newFakeIdentityServer(t *testing.T, behavior fakeIdentityBehavior) *fakeIdentityServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fake := &fakeIdentityServer{
		fakeIdentityBehavior: behavior,
		validPasswords:       map[string]string{"alice": "correct horse"},
	}
	router := gin.New()
	router.GET("/.well-known/openid-configuration", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"issuer":                 fake.server.URL,
			"authorization_endpoint": fake.server.URL + "/authorize",
			"token_endpoint":         fake.server.URL + "/oauth2/token",
			"jwks_uri":               fake.server.URL + "/jwks",
		})
	})
	router.POST("/oauth2/token", func(c *gin.Context) {
		fake.tokenRequests.Add(1)
		grantType := c.PostForm("grant_type")
		fake.lastGrantType.Store(grantType)
		switch grantType {
		case "password":
			username := c.PostForm("username")
			if expected, ok := fake.validPasswords[username]; !ok || expected != c.PostForm("password") {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant"})
				return
			}
			c.JSON(http.StatusOK, fake.tokenBody(t, username, "refresh-"+username))
		case "refresh_token":
			fake.lastRefresh.Store(c.PostForm("refresh_token"))
			if fake.rejectRefresh {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant"})
				return
			}
			refreshToken := ""
			if fake.rotateRefresh {
				refreshToken = "rotated-refresh"
			}
			c.JSON(http.StatusOK, fake.tokenBody(t, "alice", refreshToken))
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		}
	})
	fake.server = httptest.NewServer(router)
	t.Cleanup(fake.server.Close)
	return fake
}

func (fake *fakeIdentityServer) tokenBody(t *testing.T, username string, refreshToken string) gin.H {
	body := gin.H{
		"access_token": "issued-access-" + username,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if refreshToken != "" {
		body["refresh_token"] = refreshToken
	}
	if !fake.omitIDToken {
		body["id_token"] = tokencachetest.MintIDToken(t, username, testNow.Add(time.Hour))
	}
	return body
}

func newTestProvider(t *testing.T, fake *fakeIdentityServer, store *tokencache.MemoryStore) *OIDCProvider {
	t.Helper()
	provider, err := NewOIDCProvider(context.Background(), OIDCConfig{
		TokenURL:   fake.server.URL + "/oauth2/token",
		ClientID:   "client-1",
		Store:      store,
		HTTPClient: fake.server.Client(),
		Clock:      tokencachetest.FixedClock{Current: testNow},
		Logger:     zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestNewOIDCProviderValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewOIDCProvider(context.Background(), OIDCConfig{Store: tokencache.NewMemoryStore()}); !errors.Is(err, ErrMissingClientID) {
		t.Fatalf("expected missing client id, got %v", err)
	}
	if _, err := NewOIDCProvider(context.Background(), OIDCConfig{ClientID: "client"}); !errors.Is(err, ErrMissingStore) {
		t.Fatalf("expected missing store, got %v", err)
	}
	if _, err := NewOIDCProvider(context.Background(), OIDCConfig{ClientID: "client", Store: tokencache.NewMemoryStore()}); !errors.Is(err, ErrMissingEndpoint) {
		t.Fatalf("expected missing endpoint, got %v", err)
	}
}

func TestNewOIDCProviderDiscoversTokenEndpoint(t *testing.T) {
	t.Parallel()

	fake := newFakeIdentityServer(t, fakeIdentityBehavior{})
	provider, err := NewOIDCProvider(context.Background(), OIDCConfig{
		Issuer:     fake.server.URL,
		ClientID:   "client-1",
		Store:      tokencache.NewMemoryStore(),
		HTTPClient: fake.server.Client(),
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if provider.TokenURL() != fake.server.URL+"/oauth2/token" {
		t.Fatalf("unexpected token url %q", provider.TokenURL())
	}
}

func TestAuthenticateCachesBundleAndCurrentUser(t *testing.T) {
	t.Parallel()

	fake := newFakeIdentityServer(t, fakeIdentityBehavior{})
	store := tokencache.NewMemoryStore()
	provider := newTestProvider(t, fake, store)

	bundle, err := provider.Authenticate(context.Background(), "alice", "correct horse")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if bundle.AccessToken != "issued-access-alice" || bundle.RefreshToken != "refresh-alice" {
		t.Fatalf("unexpected bundle %+v", bundle)
	}
	if grant, _ := fake.lastGrantType.Load().(string); grant != "password" {
		t.Fatalf("expected password grant, got %q", grant)
	}
	username, currentErr := provider.CurrentUser(context.Background())
	if currentErr != nil || username != "alice" {
		t.Fatalf("expected alice as current user, got %q (%v)", username, currentErr)
	}
	keys := tokencache.NewKeys("", "client-1")
	if stored, _, _ := store.Get(context.Background(), keys.IDTokenKey("alice")); stored != bundle.IDToken {
		t.Fatalf("id token not cached")
	}
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	t.Parallel()

	fake := newFakeIdentityServer(t, fakeIdentityBehavior{})
	store := tokencache.NewMemoryStore()
	provider := newTestProvider(t, fake, store)

	_, err := provider.Authenticate(context.Background(), "alice", "wrong")
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected nothing cached, got %d entries", store.Len())
	}
}

func TestAuthenticateRequiresIDToken(t *testing.T) {
	t.Parallel()

	fake := newFakeIdentityServer(t, fakeIdentityBehavior{omitIDToken: true})
	provider := newTestProvider(t, fake, tokencache.NewMemoryStore())

	_, err := provider.Authenticate(context.Background(), "alice", "correct horse")
	if !errors.Is(err, ErrMissingIDToken) {
		t.Fatalf("expected missing id token, got %v", err)
	}
}

func TestSessionReturnsValidCacheWithoutNetwork(t *testing.T) {
	t.Parallel()

	fake := newFakeIdentityServer(t, fakeIdentityBehavior{})
	store := tokencache.NewMemoryStore()
	provider := newTestProvider(t, fake, store)
	cached := tokencachetest.ValidBundle(t, "alice", testNow)
	tokencachetest.Seed(t, store, tokencache.NewKeys("", "client-1"), "alice", cached)

	bundle, err := provider.Session(context.Background())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if bundle != cached {
		t.Fatalf("expected cached bundle, got %+v", bundle)
	}
	if fake.tokenRequests.Load() != 0 {
		t.Fatalf("expected no token requests, got %d", fake.tokenRequests.Load())
	}
}

func TestSessionRefreshesExpiredBundle(t *testing.T) {
	t.Parallel()

	fake := newFakeIdentityServer(t, fakeIdentityBehavior{})
	store := tokencache.NewMemoryStore()
	provider := newTestProvider(t, fake, store)
	keys := tokencache.NewKeys("", "client-1")
	tokencachetest.Seed(t, store, keys, "alice", tokencachetest.ExpiredBundle(t, "alice", testNow))

	bundle, err := provider.Session(context.Background())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if sent, _ := fake.lastRefresh.Load().(string); sent != "refresh-alice" {
		t.Fatalf("expected refresh-alice to be sent, got %q", sent)
	}
	if bundle.AccessToken != "issued-access-alice" {
		t.Fatalf("unexpected access token %q", bundle.AccessToken)
	}
	if bundle.RefreshToken != "refresh-alice" {
		t.Fatalf("expected refresh token to be retained, got %q", bundle.RefreshToken)
	}
	if stored, _, _ := store.Get(context.Background(), keys.AccessTokenKey("alice")); stored != "issued-access-alice" {
		t.Fatalf("refreshed access token not cached, got %q", stored)
	}
}

func TestSessionStoresRotatedRefreshToken(t *testing.T) {
	t.Parallel()

	fake := newFakeIdentityServer(t, fakeIdentityBehavior{rotateRefresh: true})
	store := tokencache.NewMemoryStore()
	provider := newTestProvider(t, fake, store)
	keys := tokencache.NewKeys("", "client-1")
	tokencachetest.Seed(t, store, keys, "alice", tokencachetest.ExpiredBundle(t, "alice", testNow))

	bundle, err := provider.Session(context.Background())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if bundle.RefreshToken != "rotated-refresh" {
		t.Fatalf("expected rotated refresh token, got %q", bundle.RefreshToken)
	}
}

func TestSessionReportsRejectedRefresh(t *testing.T) {
	t.Parallel()

	fake := newFakeIdentityServer(t, fakeIdentityBehavior{rejectRefresh: true})
	store := tokencache.NewMemoryStore()
	provider := newTestProvider(t, fake, store)
	tokencachetest.Seed(t, store, tokencache.NewKeys("", "client-1"), "alice", tokencachetest.ExpiredBundle(t, "alice", testNow))

	_, err := provider.Session(context.Background())
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected refresh failure, got %v", err)
	}
}

func TestSessionWithoutCurrentUser(t *testing.T) {
	t.Parallel()

	fake := newFakeIdentityServer(t, fakeIdentityBehavior{})
	provider := newTestProvider(t, fake, tokencache.NewMemoryStore())

	_, err := provider.Session(context.Background())
	if !errors.Is(err, ErrNoCurrentUser) {
		t.Fatalf("expected no current user, got %v", err)
	}
	if fake.tokenRequests.Load() != 0 {
		t.Fatalf("expected no token requests")
	}
}

func TestSignOutClearsCache(t *testing.T) {
	t.Parallel()

	fake := newFakeIdentityServer(t, fakeIdentityBehavior{})
	store := tokencache.NewMemoryStore()
	provider := newTestProvider(t, fake, store)
	tokencachetest.Seed(t, store, tokencache.NewKeys("", "client-1"), "alice", tokencachetest.ValidBundle(t, "alice", testNow))

	if err := provider.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d entries", store.Len())
	}
	if err := provider.SignOut(context.Background()); !errors.Is(err, ErrNoCurrentUser) {
		t.Fatalf("expected no current user on second sign out, got %v", err)
	}
}
