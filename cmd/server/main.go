// Package main is the entry point for the query API server. It owns the
// coordinator, applies the sources manifest, and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"duckbridge/internal/api"
	"duckbridge/internal/config"
	"duckbridge/internal/coordinator"
	"duckbridge/internal/manifest"
	"duckbridge/internal/middleware"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	coord := coordinator.New(coordinatorOptions(cfg, logger))
	defer func() {
		if err := coord.Close(); err != nil {
			logger.Error("close coordinator", "error", err)
		}
	}()

	// Start the engine eagerly so the first request does not pay for it.
	if err := coord.EnsureInitialized(ctx); err != nil {
		return err
	}

	if cfg.SourcesFile != "" {
		refresher := manifest.NewRefresher(cfg.SourcesFile, coord, logger)
		if _, err := refresher.Apply(ctx); err != nil {
			return fmt.Errorf("apply sources manifest: %w", err)
		}
		if cfg.SourcesRefreshCron != "" {
			if err := refresher.Start(ctx, cfg.SourcesRefreshCron); err != nil {
				return err
			}
			defer refresher.Stop()
		}
	}

	opts := api.Options{
		Logger: logger,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}
	if cfg.APIJWTSecret != "" {
		v, err := middleware.NewHS256Validator(cfg.APIJWTSecret)
		if err != nil {
			return fmt.Errorf("jwt validator: %w", err)
		}
		opts.Auth = v
	}

	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewRouter(gctx, coord, opts),
		BaseContext: func(net.Listener) context.Context {
			return gctx
		},
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	g.Go(func() error {
		logger.Info("query API listening", "addr", cfg.ListenAddr,
			"health", "http://"+curlHostForListenAddr(cfg.ListenAddr)+"/healthz",
			"remote_engine", cfg.RemoteEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down query API")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func coordinatorOptions(cfg *config.Config, logger *slog.Logger) coordinator.Options {
	opts := coordinator.Options{
		Path:                 cfg.DuckDBPath,
		AssetRoot:            cfg.AssetRoot,
		RemoteURL:            cfg.RemoteEngineURL,
		RemoteToken:          cfg.RemoteEngineToken,
		ReadyTimeout:         cfg.ReadyTimeout,
		RemoteConnectTimeout: cfg.RemoteConnectTimeout,
		Debug:                cfg.Debug,
		Logger:               logger,
		WithoutSources:       cfg.SourcesFile == "",
	}
	if s3 := cfg.S3; s3 != nil {
		opts.S3 = &coordinator.S3Config{
			KeyID:    s3.KeyID,
			Secret:   s3.Secret,
			Endpoint: s3.Endpoint,
			Region:   s3.Region,
			URLStyle: s3.URLStyle,
		}
	}
	return opts
}

// curlHostForListenAddr turns a listen address into a host:port a local
// client can reach.
func curlHostForListenAddr(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
