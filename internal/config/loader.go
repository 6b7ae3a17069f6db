package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies HEDGEBOT_* environment variable overrides, and
// returns the final Config. A missing file is not an error; the defaults and
// environment still apply. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known HEDGEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file. Legacy variable names are applied first so that the
// HEDGEBOT_* names win when both are set.
func applyEnvOverrides(cfg *Config) {
	applyLegacyEnv(cfg)

	// ── Pair ──
	setStr(&cfg.Pair.Base, "HEDGEBOT_PAIR_BASE")
	setStr(&cfg.Pair.Quote, "HEDGEBOT_PAIR_QUOTE")
	setInt32(&cfg.Pair.BaseDecimals, "HEDGEBOT_PAIR_BASE_DECIMALS")
	setInt32(&cfg.Pair.QuoteDecimals, "HEDGEBOT_PAIR_QUOTE_DECIMALS")
	setBool(&cfg.Pair.BaseIsToken0, "HEDGEBOT_PAIR_BASE_IS_TOKEN0")

	// ── Engine ──
	setFloat64(&cfg.Engine.Width, "HEDGEBOT_ENGINE_WIDTH")
	setFloat64(&cfg.Engine.AllocationFraction, "HEDGEBOT_ENGINE_ALLOCATION_FRACTION")
	setFloat64(&cfg.Engine.Leverage, "HEDGEBOT_ENGINE_LEVERAGE")
	setFloat64(&cfg.Engine.HedgeTolerance, "HEDGEBOT_ENGINE_HEDGE_TOLERANCE")
	setFloat64(&cfg.Engine.FeeRate, "HEDGEBOT_ENGINE_FEE_RATE")
	setFloat64(&cfg.Engine.GasCostUSD, "HEDGEBOT_ENGINE_GAS_COST_USD")
	setFloat64(&cfg.Engine.BreachMargin, "HEDGEBOT_ENGINE_BREACH_MARGIN")
	setStr(&cfg.Engine.UpperStrategy, "HEDGEBOT_ENGINE_UPPER_STRATEGY")
	setStr(&cfg.Engine.LowerStrategy, "HEDGEBOT_ENGINE_LOWER_STRATEGY")

	// ── Oracle ──
	setStringSlice(&cfg.Oracle.Sources, "HEDGEBOT_ORACLE_SOURCES")
	setDuration(&cfg.Oracle.SourceTimeout, "HEDGEBOT_ORACLE_SOURCE_TIMEOUT")
	setFloat64(&cfg.Oracle.FallbackPrice, "HEDGEBOT_ORACLE_FALLBACK_PRICE")

	// ── Binance ──
	setStr(&cfg.Binance.BaseURL, "HEDGEBOT_BINANCE_BASE_URL")
	setStr(&cfg.Binance.APIKey, "HEDGEBOT_BINANCE_API_KEY")
	setStr(&cfg.Binance.Symbol, "HEDGEBOT_BINANCE_SYMBOL")

	// ── Subgraph ──
	setStr(&cfg.Subgraph.URL, "HEDGEBOT_SUBGRAPH_URL")
	setStr(&cfg.Subgraph.APIKey, "HEDGEBOT_SUBGRAPH_API_KEY")
	setStr(&cfg.Subgraph.PoolID, "HEDGEBOT_SUBGRAPH_POOL_ID")
	setBool(&cfg.Subgraph.UseForPositions, "HEDGEBOT_SUBGRAPH_USE_FOR_POSITIONS")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "HEDGEBOT_CHAIN_RPC_URL")
	setStringSlice(&cfg.Chain.RPCFallbacks, "HEDGEBOT_CHAIN_RPC_FALLBACKS")
	setStr(&cfg.Chain.Pool, "HEDGEBOT_CHAIN_POOL")
	setStr(&cfg.Chain.PositionManager, "HEDGEBOT_CHAIN_POSITION_MANAGER")
	setStr(&cfg.Chain.Quoter, "HEDGEBOT_CHAIN_QUOTER")
	setStr(&cfg.Chain.TokenID, "HEDGEBOT_CHAIN_TOKEN_ID")
	setDuration(&cfg.Chain.Timeout, "HEDGEBOT_CHAIN_TIMEOUT")

	// ── Hyperliquid ──
	setStr(&cfg.Hyperliquid.InfoURL, "HEDGEBOT_HYPERLIQUID_INFO_URL")
	setStr(&cfg.Hyperliquid.ExchangeURL, "HEDGEBOT_HYPERLIQUID_EXCHANGE_URL")
	setBool(&cfg.Hyperliquid.Testnet, "HEDGEBOT_HYPERLIQUID_TESTNET")
	setStr(&cfg.Hyperliquid.Coin, "HEDGEBOT_HYPERLIQUID_COIN")
	setStr(&cfg.Hyperliquid.Account, "HEDGEBOT_HYPERLIQUID_ACCOUNT")
	setStr(&cfg.Hyperliquid.PrivateKey, "HEDGEBOT_HYPERLIQUID_PRIVATE_KEY")
	setStr(&cfg.Hyperliquid.EncryptedKeyPath, "HEDGEBOT_HYPERLIQUID_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Hyperliquid.KeyPassword, "HEDGEBOT_HYPERLIQUID_KEY_PASSWORD")
	setFloat64(&cfg.Hyperliquid.Slippage, "HEDGEBOT_HYPERLIQUID_SLIPPAGE")
	setBool(&cfg.Hyperliquid.DryRun, "HEDGEBOT_HYPERLIQUID_DRY_RUN")
	setDuration(&cfg.Hyperliquid.RateLimit, "HEDGEBOT_HYPERLIQUID_RATE_LIMIT")

	// ── Wallet ──
	setFloat64(&cfg.Wallet.BaseBalance, "HEDGEBOT_WALLET_BASE_BALANCE")
	setFloat64(&cfg.Wallet.QuoteBalance, "HEDGEBOT_WALLET_QUOTE_BALANCE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "HEDGEBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "HEDGEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "HEDGEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "HEDGEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "HEDGEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "HEDGEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "HEDGEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "HEDGEBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "HEDGEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "HEDGEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "HEDGEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "HEDGEBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "HEDGEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HEDGEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HEDGEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "HEDGEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "HEDGEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "HEDGEBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "HEDGEBOT_REDIS_PRICE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "HEDGEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "HEDGEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "HEDGEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "HEDGEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "HEDGEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "HEDGEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "HEDGEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "HEDGEBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "HEDGEBOT_S3_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "HEDGEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "HEDGEBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "HEDGEBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "HEDGEBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "HEDGEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "HEDGEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "HEDGEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.DiscordUsername, "HEDGEBOT_NOTIFY_DISCORD_USERNAME")
	setStringSlice(&cfg.Notify.Events, "HEDGEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "HEDGEBOT_MODE")
	setStr(&cfg.LogLevel, "HEDGEBOT_LOG_LEVEL")
	setDuration(&cfg.Interval, "HEDGEBOT_INTERVAL")
	setStr(&cfg.Owner, "HEDGEBOT_OWNER")
}

// applyLegacyEnv honours the variable names used by earlier deployments.
func applyLegacyEnv(cfg *Config) {
	setStr(&cfg.Chain.RPCURL, "RPC_URL_ARBITRUM")
	setStringSlice(&cfg.Chain.RPCFallbacks, "RPC_FALLBACKS")
	setFloat64(&cfg.Oracle.FallbackPrice, "FALLBACK_ETH_PRICE")
	setStr(&cfg.Binance.APIKey, "BINANCE_API_KEY")
	setStr(&cfg.Subgraph.URL, "UNISWAP_SUBGRAPH")
	setStr(&cfg.Subgraph.PoolID, "UNISWAP_POOL_ID")
	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
	setStr(&cfg.Owner, "WALLET_ADDRESS")

	var simulated bool
	setBool(&simulated, "SIMULATED_WALLET_MODE")
	if simulated {
		cfg.Mode = "simulate"
	}
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
