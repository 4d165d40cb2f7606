package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Cursor backends.
const (
	CursorBackendFile     = "file"
	CursorBackendPostgres = "postgres"
	CursorBackendPebble   = "pebble"
	CursorBackendNone     = "none"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Solana configuration. SolanaRPCURLs holds one or more endpoints; one is picked
	// at startup.
	SolanaRPCURLs []string
	SolanaWSURL   string
	Commitment    string
	RPCRateLimit  float64
	RPCRateBurst  int

	// Program configuration
	ProgramID  solana.PublicKey
	IDLPath    string
	EventKinds []string

	// Polling configuration
	PollInterval   time.Duration
	ScanBatchSize  int
	PollMaxPages   int
	PollStopWait   time.Duration
	DisablePolling bool

	// Retry configuration
	RetryMaxRetries  int
	RetryDelay       time.Duration
	RetryExponential bool

	// Cursor persistence
	CursorBackend string
	CursorDir     string
	DatabaseURL   string
	PebblePath    string

	// NATS configuration. Empty disables republishing.
	NATSURL string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Solana configuration
	cfg.SolanaRPCURLs = parseList("SOLANA_RPC_URL")
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	cfg.SolanaWSURL = os.Getenv("SOLANA_WS_URL")
	cfg.Commitment = getEnvOrDefault("COMMITMENT", "confirmed")

	rateLimit, err := parseFloat("RPC_RATE_LIMIT", 0)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRateLimit = rateLimit
	}
	burst, err := parseInt("RPC_RATE_BURST", 1)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRateBurst = burst
	}

	// Program configuration
	programID := os.Getenv("PROGRAM_ID")
	if programID == "" {
		errs = append(errs, fmt.Errorf("PROGRAM_ID is required"))
	} else if pk, err := solana.PublicKeyFromBase58(programID); err != nil {
		errs = append(errs, fmt.Errorf("PROGRAM_ID: invalid public key %q: %w", programID, err))
	} else {
		cfg.ProgramID = pk
	}

	cfg.IDLPath = os.Getenv("IDL_PATH")
	if cfg.IDLPath == "" {
		errs = append(errs, fmt.Errorf("IDL_PATH is required"))
	}
	cfg.EventKinds = parseList("EVENT_KINDS")

	// Polling configuration
	pollInterval, err := parseDuration("POLL_INTERVAL", "5s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollInterval = pollInterval
	}

	batchSize, err := parseInt("SCAN_BATCH_SIZE", 100)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ScanBatchSize = batchSize
	}

	maxPages, err := parseInt("POLL_MAX_PAGES", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollMaxPages = maxPages
	}

	stopWait, err := parseDuration("POLL_STOP_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PollStopWait = stopWait
	}

	disablePolling, err := parseBool("DISABLE_POLLING", false)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DisablePolling = disablePolling
	}

	// Retry configuration
	maxRetries, err := parseInt("RETRY_MAX_RETRIES", 5)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RetryMaxRetries = maxRetries
	}

	retryDelay, err := parseDuration("RETRY_DELAY", "500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RetryDelay = retryDelay
	}

	exponential, err := parseBool("RETRY_EXPONENTIAL", true)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RetryExponential = exponential
	}

	// Cursor persistence
	cfg.CursorBackend = strings.ToLower(getEnvOrDefault("CURSOR_BACKEND", CursorBackendFile))
	cfg.CursorDir = getEnvOrDefault("CURSOR_DIR", "data")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.PebblePath = getEnvOrDefault("PEBBLE_PATH", "data/cursors")

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}
	if c.ProgramID.IsZero() {
		errs = append(errs, fmt.Errorf("ProgramID is required"))
	}
	if c.IDLPath == "" {
		errs = append(errs, fmt.Errorf("IDLPath is required"))
	}

	switch c.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		errs = append(errs, fmt.Errorf("Commitment must be processed, confirmed or finalized, got %q", c.Commitment))
	}

	if c.PollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("PollInterval must be at least 100ms"))
	}
	if c.ScanBatchSize < 1 || c.ScanBatchSize > 500 {
		errs = append(errs, fmt.Errorf("ScanBatchSize must be between 1 and 500, got %d", c.ScanBatchSize))
	}
	if c.PollMaxPages < 1 {
		errs = append(errs, fmt.Errorf("PollMaxPages must be at least 1"))
	}
	if c.PollStopWait < 0 {
		errs = append(errs, fmt.Errorf("PollStopWait cannot be negative"))
	}
	if c.RetryMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("RetryMaxRetries must be at least 1"))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("RetryDelay cannot be negative"))
	}
	if c.RPCRateLimit < 0 {
		errs = append(errs, fmt.Errorf("RPCRateLimit cannot be negative"))
	}
	if c.RPCRateLimit > 0 && c.RPCRateBurst < 1 {
		errs = append(errs, fmt.Errorf("RPCRateBurst must be at least 1 when rate limiting"))
	}

	switch c.CursorBackend {
	case CursorBackendFile:
		if c.CursorDir == "" {
			errs = append(errs, fmt.Errorf("CursorDir is required for the file cursor backend"))
		}
	case CursorBackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for the postgres cursor backend"))
		}
	case CursorBackendPebble:
		if c.PebblePath == "" {
			errs = append(errs, fmt.Errorf("PebblePath is required for the pebble cursor backend"))
		}
	case CursorBackendNone:
	default:
		errs = append(errs, fmt.Errorf("CursorBackend must be file, postgres, pebble or none, got %q", c.CursorBackend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// WebsocketURL returns SolanaWSURL, or the websocket URL derived from rpcURL when it
// is not set.
func (c *Config) WebsocketURL(rpcURL string) string {
	if c.SolanaWSURL != "" {
		return c.SolanaWSURL
	}
	return DeriveWSURL(rpcURL)
}

// DeriveWSURL maps an http(s) RPC endpoint to its ws(s) counterpart.
func DeriveWSURL(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	default:
		return rpcURL
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseFloat parses a float from an environment variable or uses a default.
func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

// parseBool parses a boolean from an environment variable or uses a default.
func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma-separated environment variable, dropping empty items.
func parseList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
