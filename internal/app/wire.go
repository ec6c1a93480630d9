package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/pairbot/internal/blob/s3"
	"github.com/alanyoungcy/pairbot/internal/cache/local"
	"github.com/alanyoungcy/pairbot/internal/cache/redis"
	"github.com/alanyoungcy/pairbot/internal/config"
	"github.com/alanyoungcy/pairbot/internal/crypto"
	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/executor"
	"github.com/alanyoungcy/pairbot/internal/gateway"
	"github.com/alanyoungcy/pairbot/internal/gateway/binance"
	"github.com/alanyoungcy/pairbot/internal/gateway/bybit"
	"github.com/alanyoungcy/pairbot/internal/gateway/paper"
	"github.com/alanyoungcy/pairbot/internal/intent"
	"github.com/alanyoungcy/pairbot/internal/notify"
	"github.com/alanyoungcy/pairbot/internal/server/handler"
	"github.com/alanyoungcy/pairbot/internal/service"
	"github.com/alanyoungcy/pairbot/internal/store/memory"
	"github.com/alanyoungcy/pairbot/internal/store/postgres"
	"github.com/alanyoungcy/pairbot/internal/store/sqlite"
	"github.com/alanyoungcy/pairbot/internal/vault"
)

// Dependencies bundles everything the server and CLI commands need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Stores   domain.Stores
	Vault    *vault.Vault
	Registry *gateway.Registry

	// Redis-backed when enabled, in-process otherwise.
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	// LockManager is nil without Redis; the vault then locks per process.
	LockManager domain.LockManager

	// Archiver is nil unless S3 is enabled.
	Archiver domain.OutcomeArchiver
	Notifier *notify.Notifier
	Dedup    *executor.Dedup

	Validator   *intent.Validator
	Trades      *service.TradeService
	Credentials *service.CredentialService

	// Checks feed the health endpoint.
	Checks map[string]handler.Checker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Checker)}

	// --- Vault key (fail before touching any backend) ---
	key, err := crypto.LoadKey(crypto.KeyConfig{
		EncodedKey:  cfg.Vault.Key,
		KeyFile:     cfg.Vault.KeyFile,
		KeyPassword: cfg.Vault.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: vault key: %w", err))
	}

	// --- Stores ---
	stores, check, err := openStores(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, stores.Close)
	deps.Stores = stores
	if check != nil {
		deps.Checks["store"] = check
	}

	// --- Redis, or in-process fallbacks ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.RateLimiter = local.NewRateLimiter()
		deps.SignalBus = local.NewSignalBus(cfg.Redis.StreamMaxLen)
	}

	// --- S3 outcome archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewOutcomeArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Vault ---
	var vaultOpts []vault.Option
	if deps.LockManager != nil {
		vaultOpts = append(vaultOpts, vault.WithLockManager(deps.LockManager))
	}
	deps.Vault, err = vault.NewWithKey(key, stores.Credentials, logger, vaultOpts...)
	if err != nil {
		return fail(fmt.Errorf("wire: vault: %w", err))
	}

	// --- Venues ---
	deps.Registry = NewRegistry(cfg, logger)
	deps.Validator = intent.NewValidator(deps.Registry.Venues()...)

	// --- Notifications ---
	deps.Notifier = NewNotifier(cfg.Notify, logger)

	// --- Services ---
	deps.Dedup = executor.NewDedup(cfg.Executor.DedupTTL.Duration)
	pairExec := executor.NewPairExecutor(executor.Config{
		OpenDeadline:        cfg.Executor.OpenDeadline.Duration,
		ConditionalDeadline: cfg.Executor.ConditionalDeadline.Duration,
	}, logger)

	deps.Trades = service.NewTradeService(deps.Vault, deps.Registry, pairExec, deps.Dedup,
		stores.Outcomes, stores.Users, stores.Audit, logger).
		WithRateLimiter(deps.RateLimiter, service.TradeLimit{
			Limit:  cfg.Executor.TradeLimit,
			Window: cfg.Executor.TradeWindow.Duration,
		}).
		WithSignalBus(deps.SignalBus)
	if deps.Archiver != nil {
		deps.Trades.WithArchiver(deps.Archiver)
	}
	if deps.Notifier.Enabled() {
		deps.Trades.WithNotifier(deps.Notifier)
	}
	deps.Credentials = service.NewCredentialService(deps.Vault, deps.Registry, stores.Users, stores.Audit, logger)
	if deps.Notifier.Enabled() {
		deps.Credentials.WithNotifier(deps.Notifier)
	}

	logger.InfoContext(ctx, "wire: dependencies ready",
		slog.String("store", cfg.Store.Backend),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("s3", cfg.S3.Enabled),
		slog.Any("venues", deps.Registry.Venues()),
		slog.Bool("notify", deps.Notifier.Enabled()),
	)
	return deps, cleanup, nil
}

// openStores opens the configured backend. The returned checker is nil for
// the memory backend.
func openStores(ctx context.Context, cfg *config.Config) (domain.Stores, handler.Checker, error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case config.BackendPostgres:
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return domain.Stores{}, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				pg.Close()
				return domain.Stores{}, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		return pg.Stores(), pg.Ping, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return domain.Stores{}, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		return db.Stores(), db.Ping, nil

	case config.BackendMemory:
		return memory.NewStores(), nil, nil

	default:
		return domain.Stores{}, nil, fmt.Errorf("wire: unknown store backend %q", cfg.Store.Backend)
	}
}

// NewRegistry registers the enabled live adapters, then the paper venues.
// A paper venue replaces a live adapter of the same name.
func NewRegistry(cfg *config.Config, logger *slog.Logger) *gateway.Registry {
	reg := gateway.NewRegistry()

	if v := cfg.Venues.Binance; v.Enabled {
		reg.Register("binance", binance.NewFactory(binance.Config{
			BaseURL:    v.BaseURL,
			TestnetURL: v.TestnetURL,
			RecvWindow: v.RecvWindow.Duration,
			Timeout:    v.Timeout.Duration,
		}, logger))
	}
	if v := cfg.Venues.Bybit; v.Enabled {
		reg.Register("bybit", bybit.NewFactory(bybit.Config{
			BaseURL:     v.BaseURL,
			TestnetURL:  v.TestnetURL,
			RecvWindow:  v.RecvWindow.Duration,
			Timeout:     v.Timeout.Duration,
			AccountType: v.AccountType,
		}, logger))
	}

	p := cfg.Venues.Paper
	for _, name := range p.Venues {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		ex := paper.NewExchange(p.Prices, p.Balances, logger).WithVenue(name)
		reg.Register(name, ex.Factory())
		logger.Info("wire: paper venue registered", slog.String("venue", name))
	}
	return reg
}

// NewNotifier builds the configured senders. The result is never nil;
// Enabled reports whether any sender is configured.
func NewNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramAPIURL, cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}
