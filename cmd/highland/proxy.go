package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/highland/internal/proxy"
	"go.uber.org/zap"
)

func newProxyCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "proxy",
		Short: "Serve the local dashboard proxy for browser views",
		Args:  cobra.NoArgs,
		RunE:  runProxy,
	}
	command.Flags().String("listen_addr", "127.0.0.1:8787", "HTTP listen address")
	command.Flags().StringSlice("cors_allowed_origins", []string{}, "Origins allowed to call the proxy with credentials")
	_ = viper.BindPFlag("listen_addr", command.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("cors_allowed_origins", command.Flags().Lookup("cors_allowed_origins"))
	return command
}

func runProxy(command *cobra.Command, arguments []string) error {
	return withRuntime(command, func(ctx context.Context, runtime *clientRuntime) error {
		logger := runtime.logger
		listenAddr := viper.GetString("listen_addr")

		gin.SetMode(gin.ReleaseMode)
		configuration := proxy.Config{
			Sessions:            runtime.sessions,
			Backend:             runtime.dispatcher,
			Gatherer:            runtime.registry,
			AllowedOrigins:      viper.GetStringSlice("cors_allowed_origins"),
			ClearBackendSession: runtime.clearBackendSession,
			Logger:              logger,
		}
		if runtime.uploader != nil {
			configuration.Media = runtime.catalog
		}
		router, routerErr := proxy.NewRouter(configuration, gin.Recovery(), zapLoggerMiddleware(logger))
		if routerErr != nil {
			return routerErr
		}

		server := &http.Server{
			Addr:              listenAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
		defer shutdownCancel()

		go func() {
			stopSignals := make(chan os.Signal, 1)
			signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(stopSignals)
			select {
			case <-stopSignals:
			case <-shutdownCtx.Done():
				return
			}
			graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer graceCancel()
			if err := server.Shutdown(graceCtx); err != nil {
				logger.Error("proxy shutdown error", zap.Error(err))
			}
		}()

		logger.Info("listening", zap.String("addr", listenAddr))
		if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen error: %w", err)
		}
		return nil
	})
}
