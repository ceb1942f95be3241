// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// S3Config holds credentials for s3:// source locations.
type S3Config struct {
	KeyID    string
	Secret   string
	Endpoint string
	Region   string
	URLStyle string // "vhost" or "path" (default "path")
}

// Config holds the configuration for the query service and the remote
// engine binary.
type Config struct {
	ListenAddr string // HTTP listen address (default ":8080")
	LogLevel   string // log level: debug, info, warn, error (default "info")
	Env        string // environment: "development" (default) or "production"
	Debug      bool   // verbose engine diagnostics; forces debug logging

	DuckDBPath  string // DuckDB file; empty for in-memory
	AssetRoot   string // directory or base URL that root-absolute locations resolve against
	SourcesFile string // YAML sources manifest registered at startup (optional)

	// SourcesRefreshCron re-registers SourcesFile on a cron schedule, e.g. "@every 5m".
	SourcesRefreshCron string

	// APIJWTSecret enables HS256 bearer auth on the /v1 routes.
	APIJWTSecret string

	// Remote engine client settings.
	RemoteEngineURL      string // grpc:// or grpcs:// address; empty disables the remote engine
	RemoteEngineToken    string
	ReadyTimeout         time.Duration // bound on readiness waits (default 10s)
	RemoteConnectTimeout time.Duration // bound on the remote handshake (default 5s)

	// Remote engine server settings (cmd/remote-engine).
	FlightListenAddr string // default ":31337"
	FlightToken      string

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// S3 is nil when not fully configured.
	S3 *S3Config

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level. Debug mode always
// logs at debug level.
func (c *Config) SlogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// RemoteEnabled returns true when a remote engine URL is configured.
func (c *Config) RemoteEnabled() bool {
	return c.RemoteEngineURL != ""
}

// LoadFromEnv loads configuration from environment variables.
// The remote engine and S3 settings are optional.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:         os.Getenv("LISTEN_ADDR"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		Env:                os.Getenv("ENV"),
		Debug:              parseBoolEnvDefault("DEBUG", false),
		DuckDBPath:         os.Getenv("DUCKDB_PATH"),
		AssetRoot:          os.Getenv("ASSET_ROOT"),
		SourcesFile:        os.Getenv("SOURCES_FILE"),
		SourcesRefreshCron: strings.TrimSpace(os.Getenv("SOURCES_REFRESH_CRON")),
		APIJWTSecret:       os.Getenv("API_JWT_SECRET"),
		RemoteEngineURL:    strings.TrimSpace(os.Getenv("REMOTE_ENGINE_URL")),
		RemoteEngineToken:  os.Getenv("REMOTE_ENGINE_TOKEN"),
		FlightListenAddr:   os.Getenv("FLIGHT_LISTEN_ADDR"),
		FlightToken:        os.Getenv("FLIGHT_TOKEN"),
	}

	var err error
	if cfg.ReadyTimeout, err = parseDurationEnv("READY_TIMEOUT"); err != nil {
		return nil, err
	}
	if cfg.RemoteConnectTimeout, err = parseDurationEnv("REMOTE_CONNECT_TIMEOUT"); err != nil {
		return nil, err
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// S3 is only enabled when the credentials are complete.
	s3 := S3Config{
		KeyID:    os.Getenv("S3_KEY_ID"),
		Secret:   os.Getenv("S3_SECRET"),
		Endpoint: os.Getenv("S3_ENDPOINT"),
		Region:   os.Getenv("S3_REGION"),
		URLStyle: os.Getenv("S3_URL_STYLE"),
	}
	switch {
	case s3.KeyID != "" && s3.Secret != "":
		if s3.URLStyle == "" {
			s3.URLStyle = "path"
		}
		cfg.S3 = &s3
	case s3.KeyID != "" || s3.Secret != "" || s3.Endpoint != "" || s3.Region != "":
		cfg.Warnings = append(cfg.Warnings, "incomplete S3 settings ignored: S3_KEY_ID and S3_SECRET are both required")
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.FlightListenAddr == "" {
		cfg.FlightListenAddr = ":31337"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 10 * time.Second
	}
	if cfg.RemoteConnectTimeout == 0 {
		cfg.RemoteConnectTimeout = 5 * time.Second
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if cfg.RemoteEnabled() && cfg.RemoteEngineToken == "" {
		cfg.Warnings = append(cfg.Warnings, "REMOTE_ENGINE_TOKEN not set: the remote engine is dialed without credentials")
	}
	if cfg.FlightToken == "" {
		cfg.Warnings = append(cfg.Warnings, "FLIGHT_TOKEN not set: the remote engine server accepts unauthenticated clients")
	}
	if cfg.APIJWTSecret == "" {
		cfg.Warnings = append(cfg.Warnings, "API_JWT_SECRET not set: the HTTP API accepts unauthenticated requests")
	}
	if cfg.SourcesRefreshCron != "" && cfg.SourcesFile == "" {
		return nil, fmt.Errorf("SOURCES_REFRESH_CRON requires SOURCES_FILE")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.RemoteEnabled() && cfg.RemoteEngineToken == "" {
			return nil, fmt.Errorf("REMOTE_ENGINE_TOKEN must be set in production when REMOTE_ENGINE_URL is set")
		}
		if cfg.FlightToken == "" {
			return nil, fmt.Errorf("FLIGHT_TOKEN must be set in production (ENV=production)")
		}
		if cfg.APIJWTSecret == "" {
			return nil, fmt.Errorf("API_JWT_SECRET must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func parseDurationEnv(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Environment variables take precedence over the file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
