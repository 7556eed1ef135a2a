package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tyemirov/highland/internal/catalog"
	"github.com/tyemirov/highland/internal/dispatch"
	"github.com/tyemirov/highland/internal/identity"
	"github.com/tyemirov/highland/internal/mediastore"
	"github.com/tyemirov/highland/internal/session"
	"github.com/tyemirov/highland/internal/tokenstore"
	"github.com/tyemirov/highland/pkg/tokencache"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// clientRuntime is the wired object graph shared by every command.
type clientRuntime struct {
	store      tokenstore.Store
	jar        *session.PersistentJar
	sessions   *session.Manager
	dispatcher *dispatch.Dispatcher
	catalog    *catalog.Client
	uploader   *mediastore.GCSUploader
	registry   *prometheus.Registry
	logger     *zap.Logger
}

var buildRuntime = newClientRuntime

func newClientRuntime(ctx context.Context, configuration ClientConfig, logger *zap.Logger) (*clientRuntime, error) {
	store, storeErr := tokenstore.Open(ctx, configuration.TokenStore, logger)
	if storeErr != nil {
		return nil, fmt.Errorf("runtime.token_store: %w", storeErr)
	}
	runtime := &clientRuntime{store: store, registry: prometheus.NewRegistry(), logger: logger}
	if err := runtime.wire(ctx, configuration); err != nil {
		_ = runtime.Close()
		return nil, err
	}
	logger.Debug("client runtime ready",
		zap.String("token_store", store.Driver()),
		zap.Bool("media_enabled", runtime.uploader != nil))
	return runtime, nil
}

func (runtime *clientRuntime) wire(ctx context.Context, configuration ClientConfig) error {
	logger := runtime.logger
	keys := tokencache.NewKeys(configuration.Namespace, configuration.ClientID)

	jar, jarErr := session.NewPersistentJar(ctx, session.JarConfig{Store: runtime.store, Keys: keys, Logger: logger})
	if jarErr != nil {
		return fmt.Errorf("runtime.cookie_jar: %w", jarErr)
	}
	runtime.jar = jar
	backendClient := &http.Client{Jar: jar, Timeout: configuration.HTTPTimeout}
	identityClient := &http.Client{Timeout: configuration.HTTPTimeout}

	provider, providerErr := identity.NewOIDCProvider(ctx, identity.OIDCConfig{
		Issuer:       configuration.Issuer,
		TokenURL:     configuration.TokenURL,
		ClientID:     configuration.ClientID,
		ClientSecret: configuration.ClientSecret,
		Scopes:       configuration.Scopes,
		Namespace:    configuration.Namespace,
		Store:        runtime.store,
		HTTPClient:   identityClient,
		Logger:       logger,
	})
	if providerErr != nil {
		return fmt.Errorf("runtime.identity_provider: %w", providerErr)
	}

	var federation identity.Federation
	if configuration.FederationEndpoint != "" {
		httpFederation, federationErr := identity.NewHTTPFederation(identity.FederationConfig{
			Endpoint:       configuration.FederationEndpoint,
			IdentityPoolID: configuration.IdentityPoolID,
			ProviderName:   configuration.IdentityProvider,
			HTTPClient:     identityClient,
			Logger:         logger,
		})
		if federationErr != nil {
			return fmt.Errorf("runtime.federation: %w", federationErr)
		}
		federation = httpFederation
	}

	cache, cacheErr := tokencache.New(tokencache.Config{
		Store:     runtime.store,
		Namespace: configuration.Namespace,
		ClientID:  configuration.ClientID,
		Logger:    logger,
	})
	if cacheErr != nil {
		return fmt.Errorf("runtime.token_cache: %w", cacheErr)
	}

	manager, managerErr := session.NewManager(session.Options{
		Cache:      cache,
		Provider:   provider,
		Federation: federation,
		HTTPClient: backendClient,
		BaseURL:    configuration.BaseURL,
		Exchange:   configuration.Exchange,
		LogoutPath: configuration.LogoutPath,
		Coalesce:   true,
		Logger:     logger,
		Metrics:    session.NewPrometheusMetrics(runtime.registry),
	})
	if managerErr != nil {
		return fmt.Errorf("runtime.session: %w", managerErr)
	}
	runtime.sessions = manager

	var media dispatch.MediaUploader
	if configuration.MediaBucket != "" {
		var clientOptions []option.ClientOption
		if configuration.StorageEndpoint != "" {
			clientOptions = append(clientOptions, option.WithEndpoint(configuration.StorageEndpoint))
		}
		uploader, uploaderErr := mediastore.NewGCSUploader(mediastore.Config{
			Bucket:        configuration.MediaBucket,
			PublicBaseURL: configuration.MediaPublicBaseURL,
			Credentials:   manager,
			ClientOptions: clientOptions,
			Logger:        logger,
		})
		if uploaderErr != nil {
			return fmt.Errorf("runtime.media_store: %w", uploaderErr)
		}
		runtime.uploader = uploader
		media = uploader
	}

	dispatcher, dispatcherErr := dispatch.New(dispatch.Config{
		BaseURL:    configuration.BaseURL,
		HTTPClient: backendClient,
		Sessions:   manager,
		Media:      media,
		Identity:   manager,
		Logger:     logger,
	})
	if dispatcherErr != nil {
		return fmt.Errorf("runtime.dispatch: %w", dispatcherErr)
	}
	runtime.dispatcher = dispatcher
	runtime.catalog = catalog.NewClient(dispatcher, logger)
	return nil
}

// clearBackendSession forgets persisted backend cookies after a logout.
func (runtime *clientRuntime) clearBackendSession(ctx context.Context) error {
	if runtime.jar == nil {
		return nil
	}
	return runtime.jar.Clear(ctx)
}

// Close releases the media client and the token store.
func (runtime *clientRuntime) Close() error {
	var uploaderErr error
	if runtime.uploader != nil {
		uploaderErr = runtime.uploader.Close()
	}
	return errors.Join(uploaderErr, runtime.store.Close())
}
