package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	// HTTP Server
	Port               string
	LogLevel           string
	RequestTimeout     time.Duration
	RateLimitPerMinute int
	TrustedProxies     []string

	// Database
	DataBackend  string
	SQLiteDBPath string

	// Domain defaults
	Timezone           string
	CostPerMileDefault string
	DefaultUserID      string

	// Receipts
	ReceiptsDir     string
	MaxReceiptBytes int64

	// Response cache
	CacheSize int
	CacheTTL  time.Duration

	// AMQP; an empty URL disables sync events
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Spreadsheet mirror
	MirrorBackend            string
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Worker
	SyncBatchSize int
	SyncInterval  time.Duration

	// Suggestions; an empty URL keeps the rule based tips
	OllamaURL     string
	OllamaModel   string
	OllamaTimeout time.Duration

	// loadErr records a config file that exists but could not be parsed.
	loadErr error
}

var defaults = map[string]any{
	"port":                  "8081",
	"log_level":             "info",
	"request_timeout":       15 * time.Second,
	"rate_limit_per_minute": 120,
	"trusted_proxies":       "",

	"data_backend":   "sqlite",
	"sqlite_db_path": "./data/ninja.db",

	"timezone":              "America/New_York",
	"cost_per_mile_default": "0.67",
	"default_user_id":       "default-user",

	"receipts_dir":      "./data/receipts",
	"max_receipt_bytes": 5 << 20,

	"cache_size": 1000,
	"cache_ttl":  30 * time.Second,

	"amqp_url":      "",
	"amqp_exchange": "ninja",
	"amqp_queue":    "sync_entries",

	"mirror_backend":              "memory",
	"google_spreadsheet_id":       "",
	"google_sheet_name":           "Entries",
	"google_service_account_json": "",
	"google_service_account_file": "",

	"sync_batch_size": 10,
	"sync_interval":   30 * time.Second,

	"ollama_url":     "",
	"ollama_model":   "llama3.2",
	"ollama_timeout": 60 * time.Second,
}

// Load reads defaults, an optional TOML file named by NINJA_CONFIG and the
// environment, in increasing order of precedence. Environment variables use
// the upper-case key names (PORT, SQLITE_DB_PATH, ...).
func Load() *Config {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetConfigType("toml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var loadErr error
	if path := os.Getenv("NINJA_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			loadErr = fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	return &Config{
		Port:               v.GetString("port"),
		LogLevel:           v.GetString("log_level"),
		RequestTimeout:     v.GetDuration("request_timeout"),
		RateLimitPerMinute: v.GetInt("rate_limit_per_minute"),
		TrustedProxies:     splitList(v.GetString("trusted_proxies")),

		DataBackend:  v.GetString("data_backend"),
		SQLiteDBPath: v.GetString("sqlite_db_path"),

		Timezone:           v.GetString("timezone"),
		CostPerMileDefault: v.GetString("cost_per_mile_default"),
		DefaultUserID:      v.GetString("default_user_id"),

		ReceiptsDir:     v.GetString("receipts_dir"),
		MaxReceiptBytes: v.GetInt64("max_receipt_bytes"),

		CacheSize: v.GetInt("cache_size"),
		CacheTTL:  v.GetDuration("cache_ttl"),

		AMQPURL:      v.GetString("amqp_url"),
		AMQPExchange: v.GetString("amqp_exchange"),
		AMQPQueue:    v.GetString("amqp_queue"),

		MirrorBackend:            v.GetString("mirror_backend"),
		GoogleSpreadsheetID:      v.GetString("google_spreadsheet_id"),
		GoogleSheetName:          v.GetString("google_sheet_name"),
		GoogleServiceAccountJSON: v.GetString("google_service_account_json"),
		GoogleServiceAccountFile: v.GetString("google_service_account_file"),

		SyncBatchSize: v.GetInt("sync_batch_size"),
		SyncInterval:  v.GetDuration("sync_interval"),

		OllamaURL:     v.GetString("ollama_url"),
		OllamaModel:   v.GetString("ollama_model"),
		OllamaTimeout: v.GetDuration("ollama_timeout"),

		loadErr: loadErr,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.loadErr != nil {
		errors = append(errors, c.loadErr.Error())
	}

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if _, ok := parseLevel(c.LogLevel); !ok {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	// Validate data backend
	switch c.DataBackend {
	case "memory":
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if msg := ensureDir(filepath.Dir(c.SQLiteDBPath)); msg != "" {
			errors = append(errors, "cannot create SQLite database directory "+msg)
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [memory sqlite]", c.DataBackend))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if d, err := decimal.NewFromString(c.CostPerMileDefault); err != nil || d.IsNegative() {
		errors = append(errors, fmt.Sprintf("invalid cost per mile default '%s': must be a non-negative decimal", c.CostPerMileDefault))
	}

	if strings.TrimSpace(c.DefaultUserID) == "" {
		errors = append(errors, "default user ID cannot be empty")
	}

	if c.ReceiptsDir == "" {
		errors = append(errors, "receipts directory cannot be empty")
	}
	if c.MaxReceiptBytes < 1024 {
		errors = append(errors, fmt.Sprintf("invalid max receipt size %d: must be at least 1024 bytes", c.MaxReceiptBytes))
	}

	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}
	if c.CacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must not be negative", c.CacheTTL))
	}
	if c.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must not be negative", c.RateLimitPerMinute))
	}
	if c.RequestTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid request timeout %v: must be at least 1 second", c.RequestTimeout))
	}

	for _, p := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be an IP or CIDR", p))
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate mirror configuration
	switch c.MirrorBackend {
	case "memory":
	case "sheets":
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets mirror")
		}
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when using sheets mirror")
		}
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasFile && c.GoogleServiceAccountJSON == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for sheets mirror")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid mirror backend '%s': must be one of [memory sheets]", c.MirrorBackend))
	}

	// Validate worker configuration
	if c.SyncBatchSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at least 1", c.SyncBatchSize))
	} else if c.SyncBatchSize > 1000 {
		errors = append(errors, fmt.Sprintf("invalid sync batch size %d: must be at most 1000", c.SyncBatchSize))
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if c.OllamaURL != "" {
		if u, err := url.Parse(c.OllamaURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid Ollama URL '%s': must be an http(s) URL", c.OllamaURL))
		}
		if c.OllamaModel == "" {
			errors = append(errors, "Ollama model cannot be empty when Ollama URL is provided")
		}
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Location resolves Timezone, falling back to UTC. Call Validate first to
// surface a bad zone name.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CostPerMile parses CostPerMileDefault, falling back to zero.
func (c *Config) CostPerMile() decimal.Decimal {
	d, err := decimal.NewFromString(c.CostPerMileDefault)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SlogLevel maps LogLevel to a slog level, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// ensureDir creates dir when missing and returns a message on failure.
func ensureDir(dir string) string {
	if dir == "." || dir == "" {
		return ""
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Sprintf("'%s': %v", dir, err)
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
