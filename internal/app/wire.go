package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/hedgebot/internal/blob/s3"
	"github.com/alanyoungcy/hedgebot/internal/cache/redis"
	"github.com/alanyoungcy/hedgebot/internal/config"
	"github.com/alanyoungcy/hedgebot/internal/crypto"
	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/notify"
	"github.com/alanyoungcy/hedgebot/internal/oracle"
	"github.com/alanyoungcy/hedgebot/internal/platform/binance"
	"github.com/alanyoungcy/hedgebot/internal/platform/hyperliquid"
	"github.com/alanyoungcy/hedgebot/internal/platform/subgraph"
	"github.com/alanyoungcy/hedgebot/internal/platform/uniswap"
	"github.com/alanyoungcy/hedgebot/internal/server/handler"
	"github.com/alanyoungcy/hedgebot/internal/store/postgres"
)

// Dependencies bundles the clients and stores the modes need. Optional
// backends are nil when disabled.
type Dependencies struct {
	// Stores
	AuditStore domain.AuditStore
	CycleStore domain.CycleStore

	// Caches
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter *redis.RateLimiter

	// Blob storage
	Archiver *s3blob.CycleArchiver

	// Venues. Uniswap and Subgraph are only built when a configured source
	// or position reader needs them.
	Binance     *binance.Client
	Subgraph    *subgraph.Client
	Uniswap     *uniswap.Client
	Hyperliquid *hyperliquid.Client
	// HedgeAccount is the Hyperliquid address whose position offsets the LP.
	HedgeAccount string

	Oracle   *oracle.Oracle
	Notifier *notify.Notifier

	// Checks are the backends probed by GET /api/health.
	Checks map[string]handler.Pinger
}

// pingFunc adapts a function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs every dependency the configured mode needs and returns them
// together with a cleanup function that releases them in reverse order.
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

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.CycleStore = postgres.NewCycleStore(pool)
		deps.Checks["postgres"] = pgClient
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient
	}

	// --- S3 cycle archive ---
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
		archiver := s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.AuditStore, cfg.S3.Prefix, s3blob.DefaultBatchSize)
		deps.Archiver = archiver
		deps.Checks["s3"] = pingFunc(s3Client.Health)
		// Registered after the stores so it runs before they close.
		closers = append(closers, func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := archiver.Flush(flushCtx); err != nil {
				logger.Warn("wire: final archive flush failed", slog.String("error", err.Error()))
			}
		})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Venues ---
	timeout := cfg.Oracle.SourceTimeout.Duration
	if cfg.UsesSource("binance") {
		deps.Binance = binance.New(binance.ClientConfig{
			BaseURL: cfg.Binance.BaseURL,
			APIKey:  cfg.Binance.APIKey,
			Symbol:  cfg.Binance.Symbol,
			Timeout: timeout,
		})
	}
	if cfg.UsesSource("subgraph") || (cfg.Live() && cfg.Subgraph.UseForPositions) {
		deps.Subgraph = subgraph.NewClient(subgraph.ClientConfig{
			URL:          cfg.Subgraph.URL,
			APIKey:       cfg.Subgraph.APIKey,
			PoolID:       cfg.Subgraph.PoolID,
			BaseIsToken0: cfg.Pair.BaseIsToken0,
			Timeout:      timeout,
		})
	}
	if cfg.UsesSource("uniswap") || (cfg.Live() && !cfg.Subgraph.UseForPositions) {
		uni, err := uniswap.New(uniswap.Config{
			RPCURLs:         cfg.Chain.RPCURLs(),
			Pool:            cfg.Chain.Pool,
			PositionManager: cfg.Chain.PositionManager,
			Quoter:          cfg.Chain.Quoter,
			TokenID:         cfg.Chain.TokenID,
			BaseIsToken0:    cfg.Pair.BaseIsToken0,
			Timeout:         cfg.Chain.Timeout.Duration,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: uniswap: %w", err))
		}
		closers = append(closers, uni.Close)
		deps.Uniswap = uni
	}
	if cfg.UsesSource("hyperliquid") || cfg.Live() {
		var limiter hyperliquid.Limiter
		if deps.RateLimiter != nil {
			limiter = deps.RateLimiter.Pacer("hyperliquid", cfg.Hyperliquid.RateLimit.Duration)
		}
		hl, account, err := wireHyperliquid(cfg, limiter, logger)
		if err != nil {
			return fail(err)
		}
		deps.Hyperliquid = hl
		deps.HedgeAccount = account
	}

	// --- Oracle ---
	deps.Oracle = oracle.New(priceSources(cfg.Oracle.Sources, deps), oracle.Config{
		SourceTimeout: timeout,
		Fallback:      decimal.NewFromFloat(cfg.Oracle.FallbackPrice),
	}, deps.PriceCache, logger)

	return deps, cleanup, nil
}

// wireHyperliquid loads the signing key when one is configured and builds the
// client. The hedge account defaults to the signer's address and then to the
// LP owner.
func wireHyperliquid(cfg *config.Config, limiter hyperliquid.Limiter, logger *slog.Logger) (*hyperliquid.Client, string, error) {
	var signer hyperliquid.Signer
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Hyperliquid.PrivateKey,
		EncryptedKeyPath: cfg.Hyperliquid.EncryptedKeyPath,
		KeyPassword:      cfg.Hyperliquid.KeyPassword,
	})
	switch {
	case errors.Is(err, crypto.ErrNoKey):
	case err != nil:
		return nil, "", fmt.Errorf("wire: hyperliquid key: %w", err)
	default:
		pk, err := hyperliquid.NewPrivateKeySigner(key)
		if err != nil {
			return nil, "", fmt.Errorf("wire: hyperliquid signer: %w", err)
		}
		signer = pk
	}

	account := cfg.Hyperliquid.Account
	if account == "" && signer != nil {
		account = signer.Address()
	}
	if account == "" {
		account = cfg.Owner
	}

	hl, err := hyperliquid.NewClient(hyperliquid.ClientConfig{
		InfoURL:     cfg.Hyperliquid.InfoURL,
		ExchangeURL: cfg.Hyperliquid.ExchangeURL,
		Testnet:     cfg.Hyperliquid.Testnet,
		Coin:        cfg.Hyperliquid.Coin,
		Account:     account,
		Signer:      signer,
		Slippage:    decimal.NewFromFloat(cfg.Hyperliquid.Slippage),
		DryRun:      cfg.Hyperliquid.DryRun,
		Timeout:     cfg.Oracle.SourceTimeout.Duration,
		RateLimit:   cfg.Hyperliquid.RateLimit.Duration,
		Limiter:     limiter,
	}, logger)
	if err != nil {
		return nil, "", fmt.Errorf("wire: hyperliquid: %w", err)
	}
	return hl, account, nil
}

// priceSources returns the built venue clients in the configured priority
// order.
func priceSources(names []string, deps *Dependencies) []domain.PriceSource {
	var out []domain.PriceSource
	for _, name := range names {
		switch name {
		case "binance":
			if deps.Binance != nil {
				out = append(out, deps.Binance)
			}
		case "subgraph":
			if deps.Subgraph != nil {
				out = append(out, deps.Subgraph)
			}
		case "uniswap":
			if deps.Uniswap != nil {
				out = append(out, deps.Uniswap)
			}
		case "hyperliquid":
			if deps.Hyperliquid != nil {
				out = append(out, deps.Hyperliquid)
			}
		}
	}
	return out
}
