// Package main is the entry point for the remote engine. It serves a DuckDB
// database over Arrow Flight SQL with bearer token auth and gRPC health.
// Results keep DuckDB's native Arrow types; clients normalize them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"duckbridge/internal/config"
	"duckbridge/internal/coordinator"
	"duckbridge/internal/flightsql"
	"duckbridge/internal/manifest"
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
	if cfg.FlightToken == "" {
		logger.Warn("FLIGHT_TOKEN not set: the remote engine server accepts unauthenticated clients")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// The engine serves its own views, so it never dials another remote.
	opts := coordinator.Options{
		Path:           cfg.DuckDBPath,
		AssetRoot:      cfg.AssetRoot,
		ReadyTimeout:   cfg.ReadyTimeout,
		Debug:          cfg.Debug,
		Logger:         logger,
		NativeTypes:    true,
		WithoutSources: cfg.SourcesFile == "",
	}
	if s3 := cfg.S3; s3 != nil {
		opts.S3 = &coordinator.S3Config{KeyID: s3.KeyID, Secret: s3.Secret, Endpoint: s3.Endpoint, Region: s3.Region, URLStyle: s3.URLStyle}
	}
	coord := coordinator.New(opts)
	defer func() {
		if err := coord.Close(); err != nil {
			logger.Error("close engine", "error", err)
		}
	}()

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

	srv := flightsql.NewServer(cfg.FlightListenAddr, logger, coord.QueryArrow,
		flightsql.WithToken(cfg.FlightToken),
		flightsql.WithServerName("duckbridge-remote-engine"),
	)
	if err := srv.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down remote engine")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
