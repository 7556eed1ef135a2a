package session

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tyemirov/highland/pkg/tokencache"
	"github.com/tyemirov/highland/pkg/tokencache/tokencachetest"
	"go.uber.org/zap/zaptest"
)

func newTestJar(t *testing.T, store *tokencache.MemoryStore) *PersistentJar {
	t.Helper()
	jar, err := NewPersistentJar(context.Background(), JarConfig{
		Store:  store,
		Keys:   tokencache.NewKeys("", testClientID),
		Clock:  tokencachetest.FixedClock{Current: testNow},
		Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("new jar: %v", err)
	}
	return jar
}

func TestPersistentJarSurvivesRestart(t *testing.T) {
	t.Parallel()

	store := tokencache.NewMemoryStore()
	target, _ := url.Parse("http://backend.example.com/auth_tokens")
	first := newTestJar(t, store)
	first.SetCookies(target, []*http.Cookie{{Name: "backend_session", Value: "opaque", Path: "/"}})

	raw, found, _ := store.Get(context.Background(), tokencache.NewKeys("", testClientID).ClientKey("BackendCookies"))
	if !found || !strings.Contains(raw, "opaque") {
		t.Fatalf("expected cookies to be persisted, got %q", raw)
	}

	second := newTestJar(t, store)
	resource, _ := url.Parse("http://backend.example.com/episode")
	cookies := second.Cookies(resource)
	if len(cookies) != 1 || cookies[0].Name != "backend_session" || cookies[0].Value != "opaque" {
		t.Fatalf("expected restored backend cookie, got %+v", cookies)
	}
}

func TestPersistentJarForgetsExpiredCookies(t *testing.T) {
	t.Parallel()

	store := tokencache.NewMemoryStore()
	target, _ := url.Parse("http://backend.example.com/")
	jar := newTestJar(t, store)
	jar.SetCookies(target, []*http.Cookie{{Name: "backend_session", Value: "opaque", Path: "/"}})
	jar.SetCookies(target, []*http.Cookie{{Name: "backend_session", Value: "", Path: "/", MaxAge: -1}})

	if store.Len() != 0 {
		t.Fatalf("expected persisted cookies to be removed, got %d entries", store.Len())
	}
	restored := newTestJar(t, store)
	if cookies := restored.Cookies(target); len(cookies) != 0 {
		t.Fatalf("expected no cookies, got %+v", cookies)
	}
}

func TestPersistentJarSkipsStaleRecords(t *testing.T) {
	t.Parallel()

	store := tokencache.NewMemoryStore()
	target, _ := url.Parse("http://backend.example.com/")
	jar := newTestJar(t, store)
	jar.SetCookies(target, []*http.Cookie{{Name: "backend_session", Value: "opaque", Path: "/", Expires: testNow.Add(time.Minute)}})

	later, err := NewPersistentJar(context.Background(), JarConfig{
		Store: store,
		Keys:  tokencache.NewKeys("", testClientID),
		Clock: tokencachetest.FixedClock{Current: testNow.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("new jar: %v", err)
	}
	if len(later.records) != 0 {
		t.Fatalf("expected stale cookie to be skipped, got %+v", later.records)
	}
}

func TestPersistentJarClear(t *testing.T) {
	t.Parallel()

	store := tokencache.NewMemoryStore()
	target, _ := url.Parse("http://backend.example.com/")
	jar := newTestJar(t, store)
	jar.SetCookies(target, []*http.Cookie{{Name: "backend_session", Value: "opaque", Path: "/"}})

	if err := jar.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cookies := jar.Cookies(target); len(cookies) != 0 {
		t.Fatalf("expected no cookies after clear, got %+v", cookies)
	}
	if store.Len() != 0 {
		t.Fatalf("expected store to be empty, got %d entries", store.Len())
	}
}

func TestManagerSendsBackendCookieThroughJar(t *testing.T) {
	t.Parallel()

	store := tokencache.NewMemoryStore()
	fixture := newManagerFixture(t, backendBehavior{}, func(options *Options) {
		client := *options.HTTPClient
		client.Jar = newTestJar(t, store)
		options.HTTPClient = &client
	})
	fresh := tokencachetest.ValidBundle(t, "alice", testNow)
	fixture.provider.sessionFunc = func(ctx context.Context) (tokencache.CredentialBundle, error) {
		return fresh, nil
	}
	if _, err := fixture.manager.EstablishSession(context.Background()); err != nil {
		t.Fatalf("establish: %v", err)
	}

	request, _ := http.NewRequest(http.MethodGet, fixture.backend.server.URL+"/ping", nil)
	response, err := fixture.manager.HTTPClient().Do(request)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	response.Body.Close()

	requests := fixture.backend.recorded()
	if len(requests) != 2 || requests[1].Cookie != "backend_session=opaque-session" {
		t.Fatalf("expected backend cookie on follow-up request, got %+v", requests)
	}
}
