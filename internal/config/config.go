// Package config defines the pairbot configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure. Fields are populated from a
// TOML or YAML file and then optionally overridden by PAIRBOT_* environment
// variables.
type Config struct {
	Vault    VaultConfig    `toml:"vault" yaml:"vault"`
	Store    StoreConfig    `toml:"store" yaml:"store"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite" yaml:"sqlite"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	S3       S3Config       `toml:"s3" yaml:"s3"`
	Executor ExecutorConfig `toml:"executor" yaml:"executor"`
	Venues   VenuesConfig   `toml:"venues" yaml:"venues"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
	LogLevel string         `toml:"log_level" yaml:"log_level"`
}

// VaultConfig locates the credential encryption key. Key takes precedence
// over KeyFile.
type VaultConfig struct {
	Key         string `toml:"key" yaml:"key"`
	KeyFile     string `toml:"key_file" yaml:"key_file"`
	KeyPassword string `toml:"key_password" yaml:"key_password"`
}

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `toml:"backend" yaml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters. DSN, when set,
// overrides the discrete fields.
type PostgresConfig struct {
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// SQLiteConfig holds the database file location.
type SQLiteConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks are
// process-local and the rate limiter and signal bus run in memory.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled" yaml:"enabled"`
	Addr         string `toml:"addr" yaml:"addr"`
	Password     string `toml:"password" yaml:"password"`
	DB           int    `toml:"db" yaml:"db"`
	PoolSize     int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries   int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled" yaml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix" yaml:"key_prefix"`
	StreamMaxLen int    `toml:"stream_max_len" yaml:"stream_max_len"`
}

// S3Config holds the outcome archive bucket. Endpoint is only needed for
// S3-compatible providers.
type S3Config struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
	Prefix         string `toml:"prefix" yaml:"prefix"`
}

// ExecutorConfig bounds pair-trade execution.
type ExecutorConfig struct {
	OpenDeadline        Duration `toml:"open_deadline" yaml:"open_deadline"`
	ConditionalDeadline Duration `toml:"conditional_deadline" yaml:"conditional_deadline"`
	DedupTTL            Duration `toml:"dedup_ttl" yaml:"dedup_ttl"`
	// TradeLimit caps trades per user per TradeWindow; 0 disables it.
	TradeLimit  int      `toml:"trade_limit" yaml:"trade_limit"`
	TradeWindow Duration `toml:"trade_window" yaml:"trade_window"`
}

// VenuesConfig configures the exchange adapters.
type VenuesConfig struct {
	Binance VenueConfig `toml:"binance" yaml:"binance"`
	Bybit   VenueConfig `toml:"bybit" yaml:"bybit"`
	Paper   PaperConfig `toml:"paper" yaml:"paper"`
}

// VenueConfig configures one live adapter. Empty URLs use the adapter's
// defaults. AccountType only applies to bybit.
type VenueConfig struct {
	Enabled     bool     `toml:"enabled" yaml:"enabled"`
	BaseURL     string   `toml:"base_url" yaml:"base_url"`
	TestnetURL  string   `toml:"testnet_url" yaml:"testnet_url"`
	RecvWindow  Duration `toml:"recv_window" yaml:"recv_window"`
	Timeout     Duration `toml:"timeout" yaml:"timeout"`
	AccountType string   `toml:"account_type" yaml:"account_type"`
}

// PaperConfig registers simulated venues. A name listed here replaces the
// live adapter of the same name, which turns the bot into a dry run.
type PaperConfig struct {
	Venues   []string           `toml:"venues" yaml:"venues"`
	Prices   map[string]float64 `toml:"prices" yaml:"prices"`
	Balances map[string]float64 `toml:"balances" yaml:"balances"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr        string   `toml:"addr" yaml:"addr"`
	APIKey      string   `toml:"api_key" yaml:"api_key"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit" yaml:"rate_limit"`
	RateWindow  Duration `toml:"rate_window" yaml:"rate_window"`
	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	TelegramAPIURL    string   `toml:"telegram_api_url" yaml:"telegram_api_url"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// Duration wraps time.Duration so the TOML and YAML decoders can parse
// strings like "15s" or "1m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Defaults returns a Config usable for a local dry run once a vault key is
// supplied.
func Defaults() Config {
	return Config{
		Store: StoreConfig{Backend: BackendSQLite},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pairbot",
			User:          "pairbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "pairbot.db"},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    "pairbot:",
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
			Prefix: "outcomes",
		},
		Executor: ExecutorConfig{
			OpenDeadline:        Duration{15 * time.Second},
			ConditionalDeadline: Duration{15 * time.Second},
			DedupTTL:            Duration{10 * time.Minute},
			TradeLimit:          5,
			TradeWindow:         Duration{time.Minute},
		},
		Venues: VenuesConfig{
			Binance: VenueConfig{
				Enabled:    true,
				RecvWindow: Duration{5 * time.Second},
				Timeout:    Duration{10 * time.Second},
			},
			Bybit: VenueConfig{
				Enabled:     true,
				RecvWindow:  Duration{5 * time.Second},
				Timeout:     Duration{10 * time.Second},
				AccountType: "UNIFIED",
			},
		},
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimit:       120,
			RateWindow:      Duration{time.Minute},
			ShutdownTimeout: Duration{20 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_completed", "trade_failed"},
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	BackendPostgres: true,
	BackendSQLite:   true,
	BackendMemory:   true,
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Vault
	if c.Vault.Key == "" && c.Vault.KeyFile == "" {
		errs = append(errs, "vault: key or key_file must be set (generate one with `pairbot keygen`)")
	}
	if c.Vault.Key == "" && c.Vault.KeyFile != "" && c.Vault.KeyPassword == "" {
		errs = append(errs, "vault: key_password is required when key_file is set")
	}

	// Store
	backend := strings.ToLower(c.Store.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: postgres, sqlite, memory)", c.Store.Backend))
	}
	switch backend {
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Executor
	if c.Executor.OpenDeadline.Duration <= 0 {
		errs = append(errs, "executor: open_deadline must be > 0")
	}
	if c.Executor.ConditionalDeadline.Duration <= 0 {
		errs = append(errs, "executor: conditional_deadline must be > 0")
	}
	if c.Executor.DedupTTL.Duration <= 0 {
		errs = append(errs, "executor: dedup_ttl must be > 0")
	}
	if c.Executor.TradeLimit < 0 {
		errs = append(errs, "executor: trade_limit must be >= 0")
	}
	if c.Executor.TradeLimit > 0 && c.Executor.TradeWindow.Duration <= 0 {
		errs = append(errs, "executor: trade_window must be > 0 when trade_limit is set")
	}

	// Venues
	if len(c.VenueNames()) < 2 {
		errs = append(errs, "venues: at least two venues must be enabled for pair trades")
	}
	for _, name := range c.Venues.Paper.Venues {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, "venues.paper: venue names must not be empty")
		}
	}
	for instrument, price := range c.Venues.Paper.Prices {
		if price <= 0 {
			errs = append(errs, fmt.Sprintf("venues.paper: price for %s must be > 0", instrument))
		}
	}

	// Server
	if c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// VenueNames returns the venues the bot registers, live and paper.
func (c *Config) VenueNames() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if c.Venues.Binance.Enabled {
		add("binance")
	}
	if c.Venues.Bybit.Enabled {
		add("bybit")
	}
	for _, name := range c.Venues.Paper.Venues {
		add(name)
	}
	return out
}
