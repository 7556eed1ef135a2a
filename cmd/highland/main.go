package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/highland/internal/session"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildLogger = func(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

var clientFlagNames = []string{
	"base_url",
	"issuer",
	"token_url",
	"client_id",
	"client_secret",
	"scopes",
	"namespace",
	"exchange_mode",
	"logout_path",
	"token_store",
	"federation_endpoint",
	"identity_pool_id",
	"identity_provider_name",
	"media_bucket",
	"media_public_base_url",
	"storage_endpoint",
	"http_timeout",
	"verbose",
	"config",
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "highland",
		Short:             "Session-aware client for the podcast hosting backend",
		SilenceUsage:      true,
		PersistentPreRunE: prepareClientConfig,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("base_url", "", "Backend base URL")
	flags.String("issuer", "", "OIDC issuer used to discover the token endpoint")
	flags.String("token_url", "", "Token endpoint; overrides discovery")
	flags.String("client_id", "", "Identity provider client ID")
	flags.String("client_secret", "", "Identity provider client secret; empty for public clients")
	flags.StringSlice("scopes", []string{}, "Scopes requested at sign-in (default openid, email, profile)")
	flags.String("namespace", "", "Credential key namespace (default HighlandIdentityProvider)")
	flags.String("exchange_mode", string(session.ExchangeBothTokens), "Token exchange: auth_tokens or access_token")
	flags.String("logout_path", "/logout", "Backend logout path")
	flags.String("token_store", "", "Credential store URL: badger://, sqlite://, postgres://, redis://, memory:// (default badger in the user config dir)")
	flags.String("federation_endpoint", "", "Identity federation service URL; empty disables uploads")
	flags.String("identity_pool_id", "", "Identity pool that issues storage credentials")
	flags.String("identity_provider_name", "", "Login key presented to the federation service (default derived from issuer)")
	flags.String("media_bucket", "", "Object storage bucket for media uploads")
	flags.String("media_public_base_url", "", "Public base URL of uploaded media (default https://storage.googleapis.com)")
	flags.String("storage_endpoint", "", "Object storage API endpoint override")
	flags.Duration("http_timeout", 30*time.Second, "Timeout for each HTTP request; 0 disables")
	flags.Bool("verbose", false, "Development logging")
	flags.String("config", "", "Optional YAML config file")

	for _, name := range clientFlagNames {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	viper.SetEnvPrefix("HIGHLAND")
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newWhoAmICommand(),
		newRequestCommand(http.MethodGet),
		newRequestCommand(http.MethodPost),
		newRequestCommand(http.MethodPut),
		newRequestCommand(http.MethodDelete),
		newListCommand(),
		newUploadCommand(),
		newProxyCommand(),
	)
	return rootCmd
}

type contextKey string

const clientConfigContextKey contextKey = "clientConfig"

func prepareClientConfig(command *cobra.Command, arguments []string) error {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if readErr := viper.ReadInConfig(); readErr != nil {
			return fmt.Errorf("%s: %w", configCodeReadConfigFile, readErr)
		}
	}
	clientConfig, loadErr := LoadClientConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, clientConfigContextKey, clientConfig))
	return nil
}

func clientConfigFrom(command *cobra.Command) (ClientConfig, error) {
	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(clientConfigContextKey)
	}
	clientConfig, ok := contextValue.(ClientConfig)
	if !ok {
		return ClientConfig{}, configError(configCodeUninitializedClientConf, "client configuration not prepared; PersistentPreRunE must execute before RunE")
	}
	return clientConfig, nil
}

// withRuntime wires the client for one command and releases it afterwards.
func withRuntime(command *cobra.Command, run func(ctx context.Context, runtime *clientRuntime) error) error {
	clientConfig, configErr := clientConfigFrom(command)
	if configErr != nil {
		return configErr
	}
	logger, loggerErr := buildLogger(clientConfig.Verbose)
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	ctx := command.Context()
	runtime, runtimeErr := buildRuntime(ctx, clientConfig, logger)
	if runtimeErr != nil {
		return runtimeErr
	}
	defer func() {
		if closeErr := runtime.Close(); closeErr != nil {
			logger.Warn("runtime close failed",
				zap.String("code", "cli.close_failed"),
				zap.Error(closeErr))
		}
	}()
	return run(ctx, runtime)
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}
