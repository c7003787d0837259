// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// API paths relative to the base URL.
const (
	TokenPath     = "/api/1.0/oauth2/access_token"
	AuditLogsPath = "/api/1.0/logs/audit-logs"
)

// Defaults.
const (
	DefaultMaxConcurrentDownloads = 15
	DefaultTokenRefreshBuffer     = 5 * time.Minute
	DefaultMalformedTolerance     = 0.1
	DefaultDownloadRetries        = 3
	DefaultRequestsPerSecond      = 20
	DefaultHTTPTimeout            = 60 * time.Second
	DefaultDataDirName            = ".unqork-logs"
	CacheFileName                 = "cache.db"
)

// Config holds the settings for the audit-log cache and its API client.
type Config struct {
	BaseURL      string // tenant URL, https only, no trailing slash
	ClientID     string
	ClientSecret string
	DataDir      string // directory holding cache.db (default ~/.unqork-logs)
	VerifySSL    bool   // verify the server certificate (default true)

	MaxConcurrentDownloads int           // download pool size per window (default 15)
	TokenRefreshBuffer     time.Duration // refresh tokens this long before expiry (default 5m)
	MalformedTolerance     float64       // max fraction of bad records per file (default 0.1)
	DownloadRetries        int           // retries for transient failures (default 3)
	RequestsPerSecond      float64       // shared rate limit for API calls (default 20)
	HTTPTimeout            time.Duration // per-request timeout (default 60s)
	LogLevel               string        // log level: debug, info, warn, error (default "info")

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
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

// TokenURL returns the OAuth2 token endpoint.
func (c *Config) TokenURL() string { return c.BaseURL + TokenPath }

// AuditLogsURL returns the log-location endpoint.
func (c *Config) AuditLogsURL() string { return c.BaseURL + AuditLogsPath }

// CachePath returns the path of the SQLite cache file.
func (c *Config) CachePath() string { return filepath.Join(c.DataDir, CacheFileName) }

// HasCredentials returns true if everything needed to call the API is set.
func (c *Config) HasCredentials() bool {
	return c.BaseURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// ValidateCredentials reports which API settings are missing. Only commands
// that talk to the API need it; reading the cache works without credentials.
func (c *Config) ValidateCredentials() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "UNQORK_BASE_URL")
	}
	if c.ClientID == "" {
		missing = append(missing, "UNQORK_CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "UNQORK_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s (set them in the environment, a .env file or a profile)",
			strings.Join(missing, ", "))
	}
	return nil
}

// SetBaseURL normalises and validates u before storing it.
func (c *Config) SetBaseURL(u string) error {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	if u != "" && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("UNQORK_BASE_URL must start with https://, got %q", u)
	}
	c.BaseURL = u
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Credentials are optional here; see ValidateCredentials.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ClientID:     os.Getenv("UNQORK_CLIENT_ID"),
		ClientSecret: os.Getenv("UNQORK_CLIENT_SECRET"),
		DataDir:      os.Getenv("UNQORK_DATA_DIR"),
		VerifySSL:    parseBoolEnvDefault("UNQORK_VERIFY_SSL", true),
		LogLevel:     os.Getenv("LOG_LEVEL"),

		MaxConcurrentDownloads: DefaultMaxConcurrentDownloads,
		TokenRefreshBuffer:     DefaultTokenRefreshBuffer,
		MalformedTolerance:     DefaultMalformedTolerance,
		DownloadRetries:        DefaultDownloadRetries,
		RequestsPerSecond:      DefaultRequestsPerSecond,
		HTTPTimeout:            DefaultHTTPTimeout,
	}
	if err := cfg.SetBaseURL(os.Getenv("UNQORK_BASE_URL")); err != nil {
		return nil, err
	}

	if v := os.Getenv("UNQORK_MAX_CONCURRENT_DOWNLOADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentDownloads = n
		} else {
			cfg.warnInvalid("UNQORK_MAX_CONCURRENT_DOWNLOADS", v)
		}
	}
	if v := os.Getenv("UNQORK_TOKEN_REFRESH_BUFFER"); v != "" {
		if d, err := parseSecondsOrDuration(v); err == nil && d >= 0 {
			cfg.TokenRefreshBuffer = d
		} else {
			cfg.warnInvalid("UNQORK_TOKEN_REFRESH_BUFFER", v)
		}
	}
	if v := os.Getenv("UNQORK_MALFORMED_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.MalformedTolerance = f
		} else {
			cfg.warnInvalid("UNQORK_MALFORMED_TOLERANCE", v)
		}
	}
	if v := os.Getenv("UNQORK_DOWNLOAD_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.DownloadRetries = n
		} else {
			cfg.warnInvalid("UNQORK_DOWNLOAD_RETRIES", v)
		}
	}
	if v := os.Getenv("UNQORK_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RequestsPerSecond = f
		} else {
			cfg.warnInvalid("UNQORK_REQUESTS_PER_SECOND", v)
		}
	}
	if v := os.Getenv("UNQORK_HTTP_TIMEOUT"); v != "" {
		if d, err := parseSecondsOrDuration(v); err == nil && d > 0 {
			cfg.HTTPTimeout = d
		} else {
			cfg.warnInvalid("UNQORK_HTTP_TIMEOUT", v)
		}
	}

	// Defaults
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if !cfg.VerifySSL {
		cfg.Warnings = append(cfg.Warnings, "UNQORK_VERIFY_SSL is off: server certificates are not verified")
	}

	return cfg, nil
}

// DefaultDataDir returns ~/.unqork-logs, or .unqork-logs in the working
// directory when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDirName
	}
	return filepath.Join(home, DefaultDataDirName)
}

func (c *Config) warnInvalid(key, value string) {
	c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring invalid %s=%q, using the default", key, value))
}

// parseSecondsOrDuration accepts a bare number of seconds or a Go duration.
func parseSecondsOrDuration(v string) (time.Duration, error) {
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
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

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
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
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
