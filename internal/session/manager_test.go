package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/tyemirov/highland/internal/identity"
	"github.com/tyemirov/highland/pkg/tokencache"
	"github.com/tyemirov/highland/pkg/tokencache/tokencachetest"
)

func TestNewManagerValidatesOptions(t *testing.T) {
	t.Parallel()

	cache, err := tokencache.New(tokencache.Config{Store: tokencache.NewMemoryStore(), ClientID: testClientID})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	testCases := []struct {
		name     string
		options  Options
		expected error
	}{
		{name: "missing cache", options: Options{Provider: &stubProvider{}, BaseURL: "http://backend"}, expected: ErrMissingCache},
		{name: "missing provider", options: Options{Cache: cache, BaseURL: "http://backend"}, expected: ErrMissingProvider},
		{name: "missing base url", options: Options{Cache: cache, Provider: &stubProvider{}, BaseURL: "  "}, expected: ErrMissingBaseURL},
		{name: "invalid exchange", options: Options{Cache: cache, Provider: &stubProvider{}, BaseURL: "http://backend", Exchange: "cookies"}, expected: ErrInvalidExchangeMode},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if _, newErr := NewManager(testCase.options); !errors.Is(newErr, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, newErr)
			}
		})
	}
}

func TestEstablishSessionReturnsValidCacheWithoutNetwork(t *testing.T) {
	t.Parallel()

	fixture := newManagerFixture(t, backendBehavior{}, nil)
	cached := tokencachetest.ValidBundle(t, "alice", testNow)
	tokencachetest.Seed(t, fixture.store, fixture.keys, "alice", cached)

	bundle, err := fixture.manager.EstablishSession(context.Background())
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if bundle != cached {
		t.Fatalf("expected cached bundle")
	}
	if calls := fixture.provider.sessionCalls.Load(); calls != 0 {
		t.Fatalf("expected no provider calls, got %d", calls)
	}
	if requests := fixture.backend.recorded(); len(requests) != 0 {
		t.Fatalf("expected no backend requests, got %+v", requests)
	}
	if fixture.manager.State() != StateEstablished {
		t.Fatalf("expected established state, got %s", fixture.manager.State())
	}
	if fixture.metrics.Count(EventCacheHit) != 1 {
		t.Fatalf("expected one cache hit, got %v", fixture.metrics.Snapshot())
	}
}

func TestEstablishSessionRefreshesAndExchangesTokens(t *testing.T) {
	t.Parallel()

	fixture := newManagerFixture(t, backendBehavior{}, nil)
	fresh := tokencachetest.ValidBundle(t, "alice", testNow)
	fixture.provider.sessionFunc = func(ctx context.Context) (tokencache.CredentialBundle, error) {
		return fresh, nil
	}

	bundle, err := fixture.manager.EstablishSession(context.Background())
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if bundle != fresh {
		t.Fatalf("expected fresh bundle")
	}
	requests := fixture.backend.recorded()
	if len(requests) != 1 {
		t.Fatalf("expected one exchange request, got %d", len(requests))
	}
	expected := recordedRequest{
		Method:      http.MethodPost,
		Path:        "/auth_tokens",
		ContentType: JSONContentType,
		Body:        map[string]any{"access_token": fresh.AccessToken, "id_token": fresh.IDToken},
	}
	if diff := cmp.Diff(expected, requests[0]); diff != "" {
		t.Fatalf("unexpected exchange request (-want +got):\n%s", diff)
	}
	if fixture.manager.State() != StateEstablished {
		t.Fatalf("expected established state, got %s", fixture.manager.State())
	}
	if fixture.metrics.Count(EventExchangeSuccess) != 1 || fixture.metrics.Count(EventRefresh) != 1 {
		t.Fatalf("unexpected metrics %v", fixture.metrics.Snapshot())
	}
}

func TestEstablishSessionAccessTokenExchange(t *testing.T) {
	t.Parallel()

	fixture := newManagerFixture(t, backendBehavior{}, func(options *Options) {
		options.Exchange = ExchangeAccessToken
	})
	fresh := tokencachetest.ValidBundle(t, "alice", testNow)
	fixture.provider.sessionFunc = func(ctx context.Context) (tokencache.CredentialBundle, error) {
		return fresh, nil
	}

	if _, err := fixture.manager.EstablishSession(context.Background()); err != nil {
		t.Fatalf("establish: %v", err)
	}
	requests := fixture.backend.recorded()
	if len(requests) != 1 || requests[0].Path != "/access_token" {
		t.Fatalf("expected one /access_token request, got %+v", requests)
	}
	if diff := cmp.Diff(map[string]any{"access_token": fresh.AccessToken}, requests[0].Body); diff != "" {
		t.Fatalf("unexpected body (-want +got):\n%s", diff)
	}
}

func TestEstablishSessionExchangeFailure(t *testing.T) {
	t.Parallel()

	fixture := newManagerFixture(t, backendBehavior{exchangeStatus: http.StatusInternalServerError}, nil)
	fixture.provider.sessionFunc = func(ctx context.Context) (tokencache.CredentialBundle, error) {
		return tokencachetest.ValidBundle(t, "alice", testNow), nil
	}

	_, err := fixture.manager.EstablishSession(context.Background())
	if !errors.Is(err, ErrSessionUnavailable) || !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected exchange failure, got %v", err)
	}
	if fixture.manager.State() != StateNoSession {
		t.Fatalf("expected no session state, got %s", fixture.manager.State())
	}
	if fixture.metrics.Count(EventExchangeFailed) != 1 {
		t.Fatalf("unexpected metrics %v", fixture.metrics.Snapshot())
	}
}

func TestEstablishSessionProviderFailure(t *testing.T) {
	t.Parallel()

	fixture := newManagerFixture(t, backendBehavior{}, nil)
	fixture.provider.sessionFunc = func(ctx context.Context) (tokencache.CredentialBundle, error) {
		return tokencache.CredentialBundle{}, identity.ErrRefreshFailed
	}

	_, err := fixture.manager.EstablishSession(context.Background())
	if !errors.Is(err, ErrSessionUnavailable) || !errors.Is(err, ErrIdentityProviderFailed) {
		t.Fatalf("expected identity provider failure, got %v", err)
	}
	if !errors.Is(err, identity.ErrRefreshFailed) {
		t.Fatalf("expected cause to remain inspectable, got %v", err)
	}
	if requests := fixture.backend.recorded(); len(requests) != 0 {
		t.Fatalf("expected no exchange, got %+v", requests)
	}
	if fixture.manager.State() != StateNoSession {
		t.Fatalf("expected no session state, got %s", fixture.manager.State())
	}
}

func TestEstablishSessionRepeatsExchange(t *testing.T) {
	t.Parallel()

	fixture := newManagerFixture(t, backendBehavior{}, nil)
	fresh := tokencachetest.ValidBundle(t, "alice", testNow)
	fixture.provider.sessionFunc = func(ctx context.Context) (tokencache.CredentialBundle, error) {
		return fresh, nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		if _, err := fixture.manager.EstablishSession(context.Background()); err != nil {
			t.Fatalf("establish attempt %d: %v", attempt, err)
		}
	}
	requests := fixture.backend.recorded()
	if len(requests) != 2 {
		t.Fatalf("expected two exchanges, got %d", len(requests))
	}
	if diff := cmp.Diff(requests[0].Body, requests[1].Body); diff != "" {
		t.Fatalf("expected identical exchange bodies (-first +second):\n%s", diff)
	}
}

func TestEstablishSessionCoalescesConcurrentCallers(t *testing.T) {
	t.Parallel()

	fixture := newManagerFixture(t, backendBehavior{}, func(options *Options) {
		options.Coalesce = true
	})
	fresh := tokencachetest.ValidBundle(t, "alice", testNow)
	release := make(chan struct{})
	fixture.provider.sessionFunc = func(ctx context.Context) (tokencache.CredentialBundle, error) {
		<-release
		return fresh, nil
	}

	const callers = 5
	var waitGroup sync.WaitGroup
	errs := make(chan error, callers)
	for index := 0; index < callers; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := fixture.manager.EstablishSession(context.Background())
			errs <- err
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	waitGroup.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("establish: %v", err)
		}
	}
	if calls := fixture.provider.sessionCalls.Load(); calls != 1 {
		t.Fatalf("expected one provider call, got %d", calls)
	}
	if requests := fixture.backend.recorded(); len(requests) != 1 {
		t.Fatalf("expected one exchange, got %d", len(requests))
	}
}

func TestEstablishSessionCoalescedCallerSurvivesAnotherCallersCancellation(t *testing.T) {
	t.Parallel()

	fixture := newManagerFixture(t, backendBehavior{}, func(options *Options) {
		options.Coalesce = true
	})
	fresh := tokencachetest.ValidBundle(t, "alice", testNow)
	entered := make(chan struct{})
	release := make(chan struct{})
	providerErrs := make(chan error, 2)
	var enteredOnce sync.Once
	fixture.provider.sessionFunc = func(ctx context.Context) (tokencache.CredentialBundle, error) {
		enteredOnce.Do(func() { close(entered) })
		<-release
		providerErrs <- ctx.Err()
		return fresh, nil
	}

	cancellable, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := fixture.manager.EstablishSession(cancellable)
		firstErr <- err
	}()
	<-entered

	secondErr := make(chan error, 1)
	go func() {
		_, err := fixture.manager.EstablishSession(context.Background())
		secondErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrSessionUnavailable) {
			t.Fatalf("expected cancelled caller to see its own cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled caller did not return")
	}

	close(release)
	if err := <-secondErr; err != nil {
		t.Fatalf("expected remaining caller to establish a session, got %v", err)
	}
	if err := <-providerErrs; err != nil {
		t.Fatalf("expected shared establishment to ignore caller cancellation, got %v", err)
	}
	if calls := fixture.provider.sessionCalls.Load(); calls != 1 {
		t.Fatalf("expected one provider call, got %d", calls)
	}
	if state := fixture.manager.State(); state != StateEstablished {
		t.Fatalf("expected established state, got %s", state)
	}
}

func TestLoginAuthenticatesAndExchanges(t *testing.T) {
	t.Parallel()

	fixture := newManagerFixture(t, backendBehavior{exchangeBody: gin.H{"user_id": "u-1", "username": "alice", "roles": []string{"creator"}}}, nil)
	fresh := tokencachetest.ValidBundle(t, "alice", testNow)
	fixture.provider.authenticateFunc = func(ctx context.Context, username string, password string) (tokencache.CredentialBundle, error) {
		if username != "alice" || password != "secret" {
			return tokencache.CredentialBundle{}, identity.ErrAuthenticationFailed
		}
		return fresh, nil
	}

	described, err := fixture.manager.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	expected := ExchangeResponse{UserID: "u-1", Username: "alice", Roles: []string{"creator"}}
	if diff := cmp.Diff(expected, described); diff != "" {
		t.Fatalf("unexpected exchange response (-want +got):\n%s", diff)
	}
	if fixture.manager.State() != StateEstablished {
		t.Fatalf("expected established state, got %s", fixture.manager.State())
	}

	_, wrongErr := fixture.manager.Login(context.Background(), "alice", "wrong")
	if !errors.Is(wrongErr, ErrIdentityProviderFailed) || !errors.Is(wrongErr, identity.ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", wrongErr)
	}
}

func TestLogoutAttemptsBothEffects(t *testing.T) {
	t.Parallel()

	fixture := newManagerFixture(t, backendBehavior{logoutStatus: http.StatusInternalServerError}, nil)
	signOutErr := errors.New("provider offline")
	fixture.provider.signOutFunc = func(ctx context.Context) error {
		return signOutErr
	}

	err := fixture.manager.Logout(context.Background())
	if !errors.Is(err, ErrLogoutFailed) || !errors.Is(err, signOutErr) {
		t.Fatalf("expected joined logout failure, got %v", err)
	}
	if fixture.provider.signOutCalls.Load() != 1 {
		t.Fatalf("expected sign out to be attempted")
	}
	requests := fixture.backend.recorded()
	if len(requests) != 1 || requests[0].Path != "/logout" || requests[0].Method != http.MethodPost {
		t.Fatalf("expected backend logout to be attempted, got %+v", requests)
	}
	if fixture.manager.State() != StateNoSession {
		t.Fatalf("expected no session state, got %s", fixture.manager.State())
	}
}

func TestLogoutWithoutCurrentUserSucceeds(t *testing.T) {
	t.Parallel()

	fixture := newManagerFixture(t, backendBehavior{}, nil)
	fixture.provider.signOutFunc = func(ctx context.Context) error {
		return identity.ErrNoCurrentUser
	}

	if err := fixture.manager.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if fixture.metrics.Count(EventLogout) != 1 {
		t.Fatalf("unexpected metrics %v", fixture.metrics.Snapshot())
	}
}

func TestParseExchangeMode(t *testing.T) {
	t.Parallel()

	testCases := map[string]ExchangeMode{
		"":             ExchangeBothTokens,
		"auth_tokens":  ExchangeBothTokens,
		"ACCESS_TOKEN": ExchangeAccessToken,
	}
	for raw, expected := range testCases {
		mode, err := ParseExchangeMode(raw)
		if err != nil || mode != expected {
			t.Fatalf("parse %q: got %q (%v)", raw, mode, err)
		}
	}
	if _, err := ParseExchangeMode("cookie"); !errors.Is(err, ErrInvalidExchangeMode) {
		t.Fatalf("expected invalid mode error, got %v", err)
	}
}
