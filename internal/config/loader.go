package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "INFOFI_"

// Load decodes the TOML file at path over Defaults, loads .env when present
// and applies environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, envPrefix+"MODE")
	cfg.Mode = normaliseMode(cfg.Mode)
	setStr(&cfg.LogLevel, envPrefix+"LOG_LEVEL")
	setStr(&cfg.Network, envPrefix+"NETWORK")
	cfg.Network = strings.ToLower(cfg.Network)

	// Network overrides target the active network only.
	if cfg.Networks == nil {
		cfg.Networks = make(map[string]NetworkConfig)
	}
	n := cfg.Networks[cfg.Network]
	setStr(&n.RPCURL, envPrefix+"RPC_URL")
	setInt64(&n.ChainID, envPrefix+"CHAIN_ID")
	setStr(&n.Raffle, envPrefix+"RAFFLE_ADDRESS")
	setStr(&n.InfoFiFactory, envPrefix+"FACTORY_ADDRESS")
	setStr(&n.InfoFiOracle, envPrefix+"ORACLE_ADDRESS")
	setUint64(&n.StartBlock, envPrefix+"START_BLOCK")
	if n != (NetworkConfig{}) {
		cfg.Networks[cfg.Network] = n
	}

	setStr(&cfg.Wallet.PrivateKey, envPrefix+"WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, envPrefix+"WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, envPrefix+"WALLET_KEY_PASSWORD")

	setStr(&cfg.Supabase.DSN, envPrefix+"SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, envPrefix+"DATABASE_URL")
	setStr(&cfg.Supabase.Host, envPrefix+"SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, envPrefix+"SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, envPrefix+"SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, envPrefix+"SUPABASE_USER")
	setStr(&cfg.Supabase.Password, envPrefix+"SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, envPrefix+"SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, envPrefix+"SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, envPrefix+"SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, envPrefix+"SUPABASE_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, envPrefix+"REDIS_ADDR")
	setStr(&cfg.Redis.Password, envPrefix+"REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, envPrefix+"REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, envPrefix+"REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, envPrefix+"S3_ENABLED")
	setStr(&cfg.S3.Endpoint, envPrefix+"S3_ENDPOINT")
	setStr(&cfg.S3.Region, envPrefix+"S3_REGION")
	setStr(&cfg.S3.Bucket, envPrefix+"S3_BUCKET")
	setStr(&cfg.S3.AccessKey, envPrefix+"S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, envPrefix+"S3_SECRET_KEY")

	setDuration(&cfg.Listener.PollInterval, envPrefix+"LISTENER_POLL_INTERVAL")
	setUint64(&cfg.Listener.MaxBlockRange, envPrefix+"LISTENER_MAX_BLOCK_RANGE")
	setInt(&cfg.Listener.RPCRateLimit, envPrefix+"LISTENER_RPC_RATE_LIMIT")

	// Bare names are accepted for the oracle knobs; the prefixed form wins.
	setInt(&cfg.Oracle.MaxRetries, "ORACLE_MAX_RETRIES")
	setInt(&cfg.Oracle.MaxRetries, envPrefix+"ORACLE_MAX_RETRIES")
	setInt(&cfg.Oracle.AlertCutoff, "ORACLE_ALERT_CUTOFF")
	setInt(&cfg.Oracle.AlertCutoff, envPrefix+"ORACLE_ALERT_CUTOFF")
	setDuration(&cfg.Oracle.AlertCooldown, envPrefix+"ORACLE_ALERT_COOLDOWN")
	setDuration(&cfg.Oracle.RetryDelay, envPrefix+"ORACLE_RETRY_DELAY")

	setInt(&cfg.Markets.CreationMaxAttempts, envPrefix+"MARKETS_CREATION_MAX_ATTEMPTS")
	setDuration(&cfg.Markets.ReceiptTimeout, envPrefix+"MARKETS_RECEIPT_TIMEOUT")

	setInt(&cfg.Odds.MaxPoints, envPrefix+"ODDS_MAX_POINTS")
	setInt(&cfg.Odds.RetentionDays, envPrefix+"ODDS_RETENTION_DAYS")
	setBool(&cfg.Odds.ArchiveBeforeCleanup, envPrefix+"ODDS_ARCHIVE_BEFORE_CLEANUP")

	setBool(&cfg.Server.Enabled, envPrefix+"SERVER_ENABLED")
	setInt(&cfg.Server.Port, envPrefix+"SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, envPrefix+"SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, envPrefix+"SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, envPrefix+"SERVER_RATE_LIMIT_PER_MINUTE")

	setStr(&cfg.Notify.TelegramToken, envPrefix+"NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, envPrefix+"NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, envPrefix+"NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, envPrefix+"NOTIFY_EVENTS")
}

// Each setter only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
