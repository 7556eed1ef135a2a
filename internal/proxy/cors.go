package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errWildcardOrigin      = errors.New("cors: wildcard origin not allowed when credentials are enabled")
	errEmptyAllowedOrigins = errors.New("cors: no explicit origins provided")
	errInvalidOrigin       = errors.New("cors: invalid origin format")
)

// ConfigureCORS lets views served from the supplied origins call the proxy with credentials.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sanitized, err := sanitizeOrigins(logger, allowedOrigins)
	if err != nil {
		return nil, err
	}
	return cors.New(cors.Config{
		AllowOrigins:     sanitized,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}), nil
}

func sanitizeOrigins(logger *zap.Logger, allowed []string) ([]string, error) {
	if len(allowed) == 0 {
		return nil, errEmptyAllowedOrigins
	}

	ordered := append([]string(nil), allowed...)
	sort.Strings(ordered)

	seen := make(map[string]struct{}, len(ordered))
	sanitized := make([]string, 0, len(ordered))
	for _, origin := range ordered {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			return nil, errWildcardOrigin
		}
		normalized, parseErr := normalizeOrigin(trimmed)
		if parseErr != nil {
			return nil, parseErr
		}
		if _, exists := seen[normalized.String()]; exists {
			continue
		}
		if normalized.Scheme == "http" && !isLoopbackHost(normalized.Hostname()) {
			logger.Warn("unsafe cors origin configured",
				zap.String("code", "proxy.cors.unsafe_origin"),
				zap.String("origin", normalized.String()))
		}
		seen[normalized.String()] = struct{}{}
		sanitized = append(sanitized, normalized.String())
	}

	if len(sanitized) == 0 {
		return nil, errEmptyAllowedOrigins
	}
	return sanitized, nil
}

func normalizeOrigin(origin string) (*url.URL, error) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %s", errInvalidOrigin, origin)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return nil, fmt.Errorf("%w: %s contains path segment", errInvalidOrigin, origin)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return nil, fmt.Errorf("%w: %s contains query or fragment", errInvalidOrigin, origin)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "https" && scheme != "http" {
		return nil, fmt.Errorf("%w: %s uses unsupported scheme", errInvalidOrigin, origin)
	}
	return &url.URL{Scheme: scheme, Host: parsed.Host}, nil
}

func isLoopbackHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
