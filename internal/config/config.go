// Package config defines the configuration of the sync engine and its
// validation rules.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and may be
// overridden by INFOFI_* environment variables.
type Config struct {
	Mode     string                   `toml:"mode"`
	LogLevel string                   `toml:"log_level"`
	Network  string                   `toml:"network"`
	Networks map[string]NetworkConfig `toml:"networks"`
	Wallet   WalletConfig             `toml:"wallet"`
	Supabase SupabaseConfig           `toml:"supabase"`
	Redis    RedisConfig              `toml:"redis"`
	S3       S3Config                 `toml:"s3"`
	Listener ListenerConfig           `toml:"listener"`
	Oracle   OracleConfig             `toml:"oracle"`
	Markets  MarketsConfig            `toml:"markets"`
	Odds     OddsConfig               `toml:"odds"`
	Server   ServerConfig             `toml:"server"`
	Notify   NotifyConfig             `toml:"notify"`
}

// NetworkConfig holds the RPC endpoint and contract addresses of one chain.
// Empty addresses are allowed; the listeners that need them fail to start.
type NetworkConfig struct {
	RPCURL        string `toml:"rpc_url"`
	ChainID       int64  `toml:"chain_id"`
	Raffle        string `toml:"raffle"`
	InfoFiFactory string `toml:"infofi_factory"`
	InfoFiOracle  string `toml:"infofi_oracle"`
	StartBlock    uint64 `toml:"start_block"`
}

// WalletConfig holds the relayer key source.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SupabaseConfig holds PostgreSQL connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for the odds archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ListenerConfig tunes the block pollers.
type ListenerConfig struct {
	PollInterval  duration `toml:"poll_interval"`
	MaxBlockRange uint64   `toml:"max_block_range"`
	// RPCRateLimit caps getLogs calls per second across all pollers; 0 disables.
	RPCRateLimit int `toml:"rpc_rate_limit"`
}

// OracleConfig tunes oracle writes and admin alerting.
type OracleConfig struct {
	MaxRetries    int      `toml:"max_retries"`
	RetryDelay    duration `toml:"retry_delay"`
	AlertCutoff   int      `toml:"alert_cutoff"`
	AlertCooldown duration `toml:"alert_cooldown"`
}

// MarketsConfig tunes threshold-crossing market creation.
type MarketsConfig struct {
	CreationMaxAttempts int      `toml:"creation_max_attempts"`
	RetryDelay          duration `toml:"retry_delay"`
	ReceiptTimeout      duration `toml:"receipt_timeout"`
}

// OddsConfig tunes odds history queries and retention.
type OddsConfig struct {
	MaxPoints            int      `toml:"max_points"`
	RetentionDays        int      `toml:"retention_days"`
	CleanupInterval      duration `toml:"cleanup_interval"`
	ArchiveBeforeCleanup bool     `toml:"archive_before_cleanup"`
}

// Retention returns RetentionDays as a duration.
func (o OddsConfig) Retention() time.Duration {
	return time.Duration(o.RetentionDays) * 24 * time.Hour
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds admin alert channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration lets the TOML decoder read strings such as "3s" or "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with the documented defaults and a local
// network entry.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Network:  "local",
		Networks: map[string]NetworkConfig{
			"local": {RPCURL: "http://127.0.0.1:8545", ChainID: 31337},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "infofi-archive",
			ForcePathStyle: true,
		},
		Listener: ListenerConfig{
			PollInterval:  duration{3 * time.Second},
			MaxBlockRange: 2000,
		},
		Oracle: OracleConfig{
			MaxRetries:    3,
			RetryDelay:    duration{2 * time.Second},
			AlertCutoff:   2,
			AlertCooldown: duration{5 * time.Minute},
		},
		Markets: MarketsConfig{
			CreationMaxAttempts: 3,
			RetryDelay:          duration{5 * time.Second},
			ReceiptTimeout:      duration{2 * time.Minute},
		},
		Odds: OddsConfig{
			MaxPoints:            500,
			RetentionDays:        90,
			CleanupInterval:      duration{24 * time.Hour},
			ArchiveBeforeCleanup: false,
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8080,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"oracle_alert", "oracle_recovered"},
		},
	}
}

var validModes = map[string]bool{
	"listen":    true,
	"reconcile": true,
	"server":    true,
	"full":      true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func normaliseMode(m string) string {
	return strings.ToLower(strings.TrimSpace(m))
}

// NeedsChain reports whether the mode talks to the chain.
func (c *Config) NeedsChain() bool {
	return normaliseMode(c.Mode) != "server"
}

// NeedsWallet reports whether the mode submits relayer transactions.
func (c *Config) NeedsWallet() bool {
	m := normaliseMode(c.Mode)
	return m == "listen" || m == "full"
}

// ActiveNetwork returns the network selected by Network.
func (c *Config) ActiveNetwork() (NetworkConfig, error) {
	n, ok := c.Networks[strings.ToLower(c.Network)]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("config: network %q is not configured", c.Network)
	}
	return n, nil
}

// Validate returns one error listing every problem found. Missing contract
// addresses are not reported here.
func (c *Config) Validate() error {
	var errs []string

	c.Mode = normaliseMode(c.Mode)
	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: listen, reconcile, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.NeedsChain() {
		n, err := c.ActiveNetwork()
		switch {
		case err != nil:
			errs = append(errs, strings.TrimPrefix(err.Error(), "config: "))
		case n.RPCURL == "":
			errs = append(errs, fmt.Sprintf("networks.%s: rpc_url must not be empty", c.Network))
		case n.ChainID <= 0:
			errs = append(errs, fmt.Sprintf("networks.%s: chain_id must be positive", c.Network))
		}
	}

	if c.NeedsWallet() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	if c.Listener.PollInterval.Duration <= 0 {
		errs = append(errs, "listener: poll_interval must be > 0")
	}
	if c.Listener.MaxBlockRange == 0 {
		errs = append(errs, "listener: max_block_range must be > 0")
	}
	if c.Listener.RPCRateLimit < 0 {
		errs = append(errs, "listener: rpc_rate_limit must be >= 0")
	}

	if c.Oracle.MaxRetries < 1 {
		errs = append(errs, "oracle: max_retries must be >= 1")
	}
	if c.Oracle.AlertCutoff < 1 {
		errs = append(errs, "oracle: alert_cutoff must be >= 1")
	}
	if c.Markets.CreationMaxAttempts < 1 {
		errs = append(errs, "markets: creation_max_attempts must be >= 1")
	}

	if c.Odds.MaxPoints < 2 {
		errs = append(errs, "odds: max_points must be >= 2")
	}
	if c.Odds.RetentionDays < 1 {
		errs = append(errs, "odds: retention_days must be >= 1")
	}
	if c.Odds.ArchiveBeforeCleanup && !c.S3.Enabled {
		errs = append(errs, "odds: archive_before_cleanup requires s3.enabled")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
