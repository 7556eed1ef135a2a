package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/tyemirov/highland/pkg/tokencache"
	"go.uber.org/zap"
)

const backendCookiesKey = "BackendCookies"

// JarConfig configures a PersistentJar.
type JarConfig struct {
	Store  tokencache.WritableStore
	Keys   tokencache.Keys
	Clock  tokencache.Clock
	Logger *zap.Logger
}

// PersistentJar is an http.CookieJar that mirrors backend cookies into the token store so the
// Backend Session outlives the process. Persistence failures are logged and never fail a request.
type PersistentJar struct {
	jar     *cookiejar.Jar
	store   tokencache.WritableStore
	key     string
	clock   tokencache.Clock
	logger  *zap.Logger
	mutex   sync.Mutex
	records map[string]map[string]storedCookie
}

type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

var _ http.CookieJar = (*PersistentJar)(nil)

// NewPersistentJar builds a jar and restores any cookies persisted by a previous process.
func NewPersistentJar(ctx context.Context, configuration JarConfig) (*PersistentJar, error) {
	if configuration.Store == nil {
		return nil, fmt.Errorf("session.jar.new: %w", tokencache.ErrMissingStore)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("session.jar.new: %w", err)
	}
	clock := configuration.Clock
	if clock == nil {
		clock = tokencache.SystemClock()
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	persistent := &PersistentJar{
		jar:     jar,
		store:   configuration.Store,
		key:     configuration.Keys.ClientKey(backendCookiesKey),
		clock:   clock,
		logger:  logger,
		records: make(map[string]map[string]storedCookie),
	}
	persistent.restore(ctx)
	return persistent, nil
}

// Cookies returns the cookies to send to target.
func (persistent *PersistentJar) Cookies(target *url.URL) []*http.Cookie {
	persistent.mutex.Lock()
	defer persistent.mutex.Unlock()
	return persistent.jar.Cookies(target)
}

// SetCookies stores cookies received from target and persists the result.
func (persistent *PersistentJar) SetCookies(target *url.URL, cookies []*http.Cookie) {
	persistent.mutex.Lock()
	defer persistent.mutex.Unlock()
	persistent.jar.SetCookies(target, cookies)
	if len(cookies) == 0 {
		return
	}

	origin := originOf(target)
	byName := persistent.records[origin]
	if byName == nil {
		byName = make(map[string]storedCookie)
		persistent.records[origin] = byName
	}
	now := persistent.clock.Now()
	for _, cookie := range cookies {
		if cookie.MaxAge < 0 || (!cookie.Expires.IsZero() && !cookie.Expires.After(now)) || cookie.Value == "" {
			delete(byName, cookie.Name)
			continue
		}
		expires := cookie.Expires
		if cookie.MaxAge > 0 {
			expires = now.Add(time.Duration(cookie.MaxAge) * time.Second)
		}
		byName[cookie.Name] = storedCookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Path:     cookie.Path,
			Domain:   cookie.Domain,
			Expires:  expires,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HttpOnly,
		}
	}
	if len(byName) == 0 {
		delete(persistent.records, origin)
	}
	persistent.persistLocked(context.Background())
}

// Clear forgets every cookie, in memory and in the store.
func (persistent *PersistentJar) Clear(ctx context.Context) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("session.jar.clear: %w", err)
	}
	persistent.mutex.Lock()
	defer persistent.mutex.Unlock()
	persistent.jar = jar
	persistent.records = make(map[string]map[string]storedCookie)
	if deleteErr := persistent.store.Delete(ctx, persistent.key); deleteErr != nil {
		return fmt.Errorf("session.jar.clear: %w", deleteErr)
	}
	return nil
}

func (persistent *PersistentJar) restore(ctx context.Context) {
	raw, found, err := persistent.store.Get(ctx, persistent.key)
	if err != nil {
		persistent.logger.Warn("backend cookies not restored",
			zap.String("code", "session.jar_load_failed"),
			zap.Error(err))
		return
	}
	if !found || raw == "" {
		return
	}
	var records map[string]map[string]storedCookie
	if decodeErr := json.Unmarshal([]byte(raw), &records); decodeErr != nil {
		persistent.logger.Warn("backend cookies unreadable",
			zap.String("code", "session.jar_load_failed"),
			zap.Error(decodeErr))
		return
	}
	now := persistent.clock.Now()
	for origin, byName := range records {
		target, parseErr := url.Parse(origin)
		if parseErr != nil {
			continue
		}
		cookies := make([]*http.Cookie, 0, len(byName))
		kept := make(map[string]storedCookie, len(byName))
		for name, stored := range byName {
			if !stored.Expires.IsZero() && !stored.Expires.After(now) {
				continue
			}
			kept[name] = stored
			cookies = append(cookies, &http.Cookie{
				Name:     stored.Name,
				Value:    stored.Value,
				Path:     stored.Path,
				Domain:   stored.Domain,
				Expires:  stored.Expires,
				Secure:   stored.Secure,
				HttpOnly: stored.HttpOnly,
			})
		}
		if len(kept) == 0 {
			continue
		}
		persistent.records[origin] = kept
		persistent.jar.SetCookies(target, cookies)
	}
}

func (persistent *PersistentJar) persistLocked(ctx context.Context) {
	if len(persistent.records) == 0 {
		if err := persistent.store.Delete(ctx, persistent.key); err != nil {
			persistent.logger.Warn("backend cookies not cleared",
				zap.String("code", "session.jar_save_failed"),
				zap.Error(err))
		}
		return
	}
	encoded, marshalErr := json.Marshal(persistent.records)
	if marshalErr != nil {
		persistent.logger.Warn("backend cookies not encoded",
			zap.String("code", "session.jar_save_failed"),
			zap.Error(marshalErr))
		return
	}
	if err := persistent.store.Set(ctx, persistent.key, string(encoded)); err != nil {
		persistent.logger.Warn("backend cookies not saved",
			zap.String("code", "session.jar_save_failed"),
			zap.Error(err))
	}
}

func originOf(target *url.URL) string {
	return (&url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/"}).String()
}
