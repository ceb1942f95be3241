package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"duckbridge/internal/config"
	"duckbridge/internal/coordinator"
)

func TestCurlHostForListenAddr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		listenAddr string
		want       string
	}{
		{name: "port only", listenAddr: ":8080", want: "localhost:8080"},
		{name: "ipv4 host and port", listenAddr: "127.0.0.1:8080", want: "127.0.0.1:8080"},
		{name: "wildcard ipv4", listenAddr: "0.0.0.0:8080", want: "localhost:8080"},
		{name: "wildcard ipv6", listenAddr: "[::]:8080", want: "localhost:8080"},
		{name: "ipv6 loopback", listenAddr: "[::1]:8080", want: "[::1]:8080"},
		{name: "trim host and port", listenAddr: " localhost:9090 ", want: "localhost:9090"},
		{name: "trim port only", listenAddr: "  :7070  ", want: "localhost:7070"},
		{name: "empty falls back", listenAddr: "", want: "localhost:8080"},
		{name: "whitespace falls back", listenAddr: "   ", want: "localhost:8080"},
		{name: "malformed passes through", listenAddr: "localhost", want: "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := curlHostForListenAddr(tt.listenAddr)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoordinatorOptions(t *testing.T) {
	t.Run("no_manifest_runs_without_sources", func(t *testing.T) {
		opts := coordinatorOptions(&config.Config{DuckDBPath: "/tmp/x.duckdb", ReadyTimeout: time.Second}, nil)
		assert.True(t, opts.WithoutSources)
		assert.Nil(t, opts.S3)
		assert.Equal(t, "/tmp/x.duckdb", opts.Path)
		assert.Equal(t, time.Second, opts.ReadyTimeout)
	})

	t.Run("manifest_and_s3", func(t *testing.T) {
		cfg := &config.Config{
			SourcesFile:     "sources.yaml",
			RemoteEngineURL: "grpc://engine:31337",
			S3:              &config.S3Config{KeyID: "k", Secret: "s", Region: "eu-west-1", URLStyle: "path"},
		}
		opts := coordinatorOptions(cfg, nil)
		assert.False(t, opts.WithoutSources)
		assert.Equal(t, "grpc://engine:31337", opts.RemoteURL)
		assert.Equal(t, &coordinator.S3Config{KeyID: "k", Secret: "s", Region: "eu-west-1", URLStyle: "path"}, opts.S3)
	})
}
