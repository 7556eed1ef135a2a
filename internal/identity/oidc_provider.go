package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/tyemirov/highland/pkg/tokencache"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// OIDCConfig configures an OIDCProvider. Either Issuer (for discovery) or TokenURL must be set.
type OIDCConfig struct {
	Issuer       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Namespace    string
	Store        tokencache.WritableStore
	HTTPClient   *http.Client
	Clock        tokencache.Clock
	Logger       *zap.Logger
}

// OIDCProvider renews sessions with refresh tokens and signs users in with the password grant.
type OIDCProvider struct {
	oauthConfig oauth2.Config
	store       tokencache.WritableStore
	keys        tokencache.Keys
	cache       *tokencache.Cache
	httpClient  *http.Client
	logger      *zap.Logger
}

var _ Provider = (*OIDCProvider)(nil)

// NewOIDCProvider builds a provider, discovering the token endpoint from Issuer when TokenURL is empty.
func NewOIDCProvider(ctx context.Context, configuration OIDCConfig) (*OIDCProvider, error) {
	if strings.TrimSpace(configuration.ClientID) == "" {
		return nil, fmt.Errorf("identity.new: %w", ErrMissingClientID)
	}
	if configuration.Store == nil {
		return nil, fmt.Errorf("identity.new: %w", ErrMissingStore)
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	endpoint, endpointErr := resolveEndpoint(oidc.ClientContext(ctx, httpClient), configuration)
	if endpointErr != nil {
		return nil, endpointErr
	}
	if strings.TrimSpace(configuration.ClientSecret) == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	scopes := configuration.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	cache, cacheErr := tokencache.New(tokencache.Config{
		Store:     configuration.Store,
		Namespace: configuration.Namespace,
		ClientID:  configuration.ClientID,
		Clock:     configuration.Clock,
		Logger:    logger,
	})
	if cacheErr != nil {
		return nil, fmt.Errorf("identity.new: %w", cacheErr)
	}

	return &OIDCProvider{
		oauthConfig: oauth2.Config{
			ClientID:     configuration.ClientID,
			ClientSecret: configuration.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		store:      configuration.Store,
		keys:       cache.Keys(),
		cache:      cache,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func resolveEndpoint(ctx context.Context, configuration OIDCConfig) (oauth2.Endpoint, error) {
	if tokenURL := strings.TrimSpace(configuration.TokenURL); tokenURL != "" {
		return oauth2.Endpoint{TokenURL: tokenURL}, nil
	}
	issuer := strings.TrimSpace(configuration.Issuer)
	if issuer == "" {
		return oauth2.Endpoint{}, fmt.Errorf("identity.new: %w", ErrMissingEndpoint)
	}
	discovered, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return oauth2.Endpoint{}, fmt.Errorf("identity.discovery: %w", err)
	}
	return discovered.Endpoint(), nil
}

// TokenURL returns the resolved token endpoint.
func (provider *OIDCProvider) TokenURL() string {
	return provider.oauthConfig.Endpoint.TokenURL
}

// CurrentUser returns the most recently signed-in username.
func (provider *OIDCProvider) CurrentUser(ctx context.Context) (string, error) {
	username, ok := provider.cache.CurrentUser(ctx)
	if !ok {
		return "", ErrNoCurrentUser
	}
	return username, nil
}

// Session returns the cached bundle while valid and otherwise renews it with the refresh token.
func (provider *OIDCProvider) Session(ctx context.Context) (tokencache.CredentialBundle, error) {
	username, err := provider.CurrentUser(ctx)
	if err != nil {
		return tokencache.CredentialBundle{}, fmt.Errorf("identity.session: %w", err)
	}
	cached, found := provider.cache.Load(ctx, username)
	if found && provider.cache.IsValid(cached) {
		return cached, nil
	}
	if !found || strings.TrimSpace(cached.RefreshToken) == "" {
		return tokencache.CredentialBundle{}, fmt.Errorf("identity.session: %w", ErrNoRefreshToken)
	}

	source := provider.oauthConfig.TokenSource(provider.clientContext(ctx), &oauth2.Token{RefreshToken: cached.RefreshToken})
	token, refreshErr := source.Token()
	if refreshErr != nil {
		provider.logger.Warn("session refresh rejected",
			zap.String("code", "identity.refresh_failed"),
			zap.String("username", username),
			zap.Error(refreshErr))
		return tokencache.CredentialBundle{}, fmt.Errorf("identity.session: %w: %w", ErrRefreshFailed, refreshErr)
	}
	bundle, bundleErr := bundleFromToken(token, cached.RefreshToken)
	if bundleErr != nil {
		return tokencache.CredentialBundle{}, fmt.Errorf("identity.session: %w", bundleErr)
	}
	if saveErr := tokencache.Save(ctx, provider.store, provider.keys, username, bundle); saveErr != nil {
		return tokencache.CredentialBundle{}, fmt.Errorf("identity.session: %w", saveErr)
	}
	provider.logger.Debug("session refreshed", zap.String("username", username))
	return bundle, nil
}

// Authenticate signs username in with the resource-owner password grant and caches the result.
func (provider *OIDCProvider) Authenticate(ctx context.Context, username string, password string) (tokencache.CredentialBundle, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return tokencache.CredentialBundle{}, fmt.Errorf("identity.authenticate: %w", ErrAuthenticationFailed)
	}
	token, err := provider.oauthConfig.PasswordCredentialsToken(provider.clientContext(ctx), username, password)
	if err != nil {
		return tokencache.CredentialBundle{}, fmt.Errorf("identity.authenticate: %w: %w", ErrAuthenticationFailed, err)
	}
	bundle, bundleErr := bundleFromToken(token, "")
	if bundleErr != nil {
		return tokencache.CredentialBundle{}, fmt.Errorf("identity.authenticate: %w", bundleErr)
	}
	if saveErr := tokencache.Save(ctx, provider.store, provider.keys, username, bundle); saveErr != nil {
		return tokencache.CredentialBundle{}, fmt.Errorf("identity.authenticate: %w", saveErr)
	}
	if currentErr := tokencache.SetCurrentUser(ctx, provider.store, provider.keys, username); currentErr != nil {
		return tokencache.CredentialBundle{}, fmt.Errorf("identity.authenticate: %w", currentErr)
	}
	return bundle, nil
}

// SignOut removes the current user's cached bundle and current-user pointer.
func (provider *OIDCProvider) SignOut(ctx context.Context) error {
	username, err := provider.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("identity.sign_out: %w", err)
	}
	if removeErr := tokencache.Remove(ctx, provider.store, provider.keys, username); removeErr != nil {
		return fmt.Errorf("identity.sign_out: %w", removeErr)
	}
	if clearErr := tokencache.ClearCurrentUser(ctx, provider.store, provider.keys); clearErr != nil {
		return fmt.Errorf("identity.sign_out: %w", clearErr)
	}
	return nil
}

func (provider *OIDCProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, provider.httpClient)
}

func bundleFromToken(token *oauth2.Token, previousRefreshToken string) (tokencache.CredentialBundle, error) {
	idToken, _ := token.Extra("id_token").(string)
	if strings.TrimSpace(idToken) == "" {
		return tokencache.CredentialBundle{}, ErrMissingIDToken
	}
	refreshToken := token.RefreshToken
	if strings.TrimSpace(refreshToken) == "" {
		refreshToken = previousRefreshToken
	}
	if strings.TrimSpace(refreshToken) == "" {
		return tokencache.CredentialBundle{}, ErrNoRefreshToken
	}
	return tokencache.CredentialBundle{
		IDToken:      idToken,
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
	}, nil
}
