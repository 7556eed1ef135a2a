// Package tokenstore provides the persistent backends behind the credential cache.
package tokenstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tyemirov/highland/pkg/tokencache"
	"go.uber.org/zap"
)

// Store is a writable credential store that can be closed.
type Store interface {
	tokencache.WritableStore
	Driver() string
	Close() error
}

// Open resolves a store from its URL. An empty URL selects the in-memory store.
func Open(ctx context.Context, rawURL string, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return tokencache.NewMemoryStore(), nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("token_store.parse_url: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "memory":
		return tokencache.NewMemoryStore(), nil
	case "badger":
		configuration, configErr := badgerConfigFromURL(parsed)
		if configErr != nil {
			return nil, configErr
		}
		configuration.Logger = logger
		return NewBadgerStore(configuration)
	case "sqlite", "sqlite3", "postgres", "postgresql":
		return NewDatabaseStore(ctx, trimmed)
	case "redis", "rediss":
		return NewRedisStore(trimmed)
	case "":
		return nil, fmt.Errorf("token_store.open: %w", ErrUnsupportedScheme)
	default:
		return nil, fmt.Errorf("token_store.open.%s: %w", scheme, ErrUnsupportedScheme)
	}
}

func badgerConfigFromURL(parsed *url.URL) (BadgerConfig, error) {
	inMemory, _ := strconv.ParseBool(parsed.Query().Get("in_memory"))
	if inMemory {
		return BadgerConfig{InMemory: true}, nil
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		builder.WriteString(parsed.Path)
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return BadgerConfig{}, fmt.Errorf("token_store.badger: %w", errBadgerEmptyPath)
	}
	return BadgerConfig{Path: builder.String()}, nil
}
