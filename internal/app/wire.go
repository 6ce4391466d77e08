package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/infofisync/internal/blob/s3"
	"github.com/alanyoungcy/infofisync/internal/cache/redis"
	"github.com/alanyoungcy/infofisync/internal/chain"
	"github.com/alanyoungcy/infofisync/internal/config"
	"github.com/alanyoungcy/infofisync/internal/crypto"
	"github.com/alanyoungcy/infofisync/internal/domain"
	"github.com/alanyoungcy/infofisync/internal/notify"
	"github.com/alanyoungcy/infofisync/internal/server/handler"
	"github.com/alanyoungcy/infofisync/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. It is built by
// Wire and torn down by the cleanup function Wire returns.
type Dependencies struct {
	// Stores
	Cursors      *postgres.CursorStore
	Seasons      *postgres.SeasonStore
	Players      *postgres.PlayerStore
	Markets      *postgres.MarketStore
	Transactions *postgres.TransactionStore
	Failures     *postgres.FailedAttemptStore
	Odds         *postgres.OddsStore
	Audit        *postgres.AuditStore

	// Redis
	Bus     *redis.SignalBus
	Locks   domain.LockManager
	Limiter domain.RateLimiter

	// Archiver is nil unless s3 is enabled.
	Archiver domain.OddsArchiver

	// Chain and Relayer are nil in modes that do not need them.
	Network config.NetworkConfig
	Chain   *chain.Client
	Relayer *chain.Relayer

	Notifier *notify.Notifier

	// Checks back the health endpoint.
	Checks map[string]handler.Check
}

// Wire connects to every backing service the configured mode needs.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pg.Close)
	if cfg.Supabase.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}
	pool := pg.Pool()
	deps.Cursors = postgres.NewCursorStore(pool)
	deps.Seasons = postgres.NewSeasonStore(pool)
	deps.Players = postgres.NewPlayerStore(pool)
	deps.Markets = postgres.NewMarketStore(pool)
	deps.Transactions = postgres.NewTransactionStore(pool)
	deps.Failures = postgres.NewFailedAttemptStore(pool)
	deps.Odds = postgres.NewOddsStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Checks["postgres"] = pg.Ping

	// --- Redis ---
	rc, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = rc.Close() })
	deps.Bus = redis.NewSignalBus(rc)
	deps.Locks = redis.NewLockManager(rc)
	deps.Limiter = redis.NewRateLimiter(rc)
	deps.Checks["redis"] = rc.Ping

	// --- S3 odds archive ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Archiver = s3blob.NewOddsArchiver(s3blob.NewWriter(sc), deps.Odds, deps.Audit)
		deps.Checks["s3"] = sc.Health
	}

	// --- Chain ---
	if cfg.NeedsChain() {
		network, err := cfg.ActiveNetwork()
		if err != nil {
			return fail("chain", err)
		}
		deps.Network = network

		cc, ec, err := chain.Dial(ctx, network.RPCURL)
		if err != nil {
			return fail("chain", err)
		}
		closers = append(closers, cc.Close)
		deps.Chain = cc
		deps.Checks["rpc"] = func(ctx context.Context) error {
			_, err := cc.BlockNumber(ctx)
			return err
		}

		if cfg.NeedsWallet() {
			key, err := crypto.LoadRelayerKey(crypto.KeySource{
				PrivateKey:       cfg.Wallet.PrivateKey,
				EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
				Password:         cfg.Wallet.KeyPassword,
			})
			if err != nil {
				return fail("relayer key", err)
			}
			relayer, err := chain.NewRelayer(ec, key.Hex, network.ChainID)
			if err != nil {
				return fail("relayer", err)
			}
			deps.Relayer = relayer
			logger.InfoContext(ctx, "relayer ready",
				slog.String("address", key.Address),
				slog.Int64("chain_id", network.ChainID),
			)
		}
	}

	// --- Admin alerts ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
