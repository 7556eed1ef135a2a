package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tyemirov/highland/internal/session"
)

const (
	configCodeMissingBaseURL          = "config.missing_base_url"
	configCodeMissingClientID         = "config.missing_client_id"
	configCodeMissingTokenEndpoint    = "config.missing_token_endpoint"
	configCodeInvalidExchangeMode     = "config.invalid_exchange_mode"
	configCodeMissingIdentityPoolID   = "config.missing_identity_pool_id"
	configCodeMissingTokenStore       = "config.missing_token_store"
	configCodeInvalidHTTPTimeout      = "config.invalid_http_timeout"
	configCodeUninitializedClientConf = "config.uninitialized_client_config"
	configCodeReadConfigFile          = "config.read_config_file"
)

// ClientConfig holds everything the CLI and the proxy need to reach the backend.
type ClientConfig struct {
	BaseURL      string
	Issuer       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Namespace    string
	Exchange     session.ExchangeMode
	LogoutPath   string
	TokenStore   string

	FederationEndpoint string
	IdentityPoolID     string
	IdentityProvider   string

	MediaBucket        string
	MediaPublicBaseURL string
	StorageEndpoint    string

	HTTPTimeout time.Duration
	Verbose     bool
}

var defaultTokenStoreURL = func() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return "badger://" + filepath.ToSlash(filepath.Join(configDir, "highland", "credentials")), nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadClientConfig reads flags, environment, and the optional config file through viper.
func LoadClientConfig() (ClientConfig, error) {
	baseURL := strings.TrimSpace(viper.GetString("base_url"))
	if baseURL == "" {
		return ClientConfig{}, configError(configCodeMissingBaseURL, "base_url must be provided")
	}

	clientID := strings.TrimSpace(viper.GetString("client_id"))
	if clientID == "" {
		return ClientConfig{}, configError(configCodeMissingClientID, "client_id must be provided")
	}

	issuer := strings.TrimSpace(viper.GetString("issuer"))
	tokenURL := strings.TrimSpace(viper.GetString("token_url"))
	if issuer == "" && tokenURL == "" {
		return ClientConfig{}, configError(configCodeMissingTokenEndpoint, "issuer or token_url must be provided")
	}

	exchangeMode, modeErr := session.ParseExchangeMode(viper.GetString("exchange_mode"))
	if modeErr != nil {
		return ClientConfig{}, configError(configCodeInvalidExchangeMode, "exchange_mode must be auth_tokens or access_token")
	}

	federationEndpoint := strings.TrimSpace(viper.GetString("federation_endpoint"))
	identityPoolID := strings.TrimSpace(viper.GetString("identity_pool_id"))
	if federationEndpoint != "" && identityPoolID == "" {
		return ClientConfig{}, configError(configCodeMissingIdentityPoolID, "identity_pool_id must be provided with federation_endpoint")
	}
	identityProvider := strings.TrimSpace(viper.GetString("identity_provider_name"))
	if identityProvider == "" {
		identityProvider = providerNameFor(issuer, tokenURL)
	}

	tokenStore := strings.TrimSpace(viper.GetString("token_store"))
	if tokenStore == "" {
		resolved, resolveErr := defaultTokenStoreURL()
		if resolveErr != nil {
			return ClientConfig{}, configError(configCodeMissingTokenStore, "token_store must be provided when no user config directory exists")
		}
		tokenStore = resolved
	}

	httpTimeout := viper.GetDuration("http_timeout")
	if httpTimeout < 0 {
		return ClientConfig{}, configError(configCodeInvalidHTTPTimeout, "http_timeout must not be negative")
	}

	return ClientConfig{
		BaseURL:            strings.TrimRight(baseURL, "/"),
		Issuer:             issuer,
		TokenURL:           tokenURL,
		ClientID:           clientID,
		ClientSecret:       viper.GetString("client_secret"),
		Scopes:             viper.GetStringSlice("scopes"),
		Namespace:          viper.GetString("namespace"),
		Exchange:           exchangeMode,
		LogoutPath:         viper.GetString("logout_path"),
		TokenStore:         tokenStore,
		FederationEndpoint: federationEndpoint,
		IdentityPoolID:     identityPoolID,
		IdentityProvider:   identityProvider,
		MediaBucket:        strings.TrimSpace(viper.GetString("media_bucket")),
		MediaPublicBaseURL: viper.GetString("media_public_base_url"),
		StorageEndpoint:    strings.TrimSpace(viper.GetString("storage_endpoint")),
		HTTPTimeout:        httpTimeout,
		Verbose:            viper.GetBool("verbose"),
	}, nil
}

// providerNameFor derives the federation login key from the identity provider's address.
func providerNameFor(issuer string, tokenURL string) string {
	if issuer != "" {
		if parsed, err := url.Parse(issuer); err == nil && parsed.Host != "" {
			return parsed.Host + strings.TrimRight(parsed.Path, "/")
		}
		return issuer
	}
	if parsed, err := url.Parse(tokenURL); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return tokenURL
}
