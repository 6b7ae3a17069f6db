// Package config defines the top-level configuration for the hedge bot and
// provides validation helpers.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgebot/internal/engine"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by HEDGEBOT_* environment variables.
type Config struct {
	Pair        PairConfig        `toml:"pair"`
	Engine      EngineConfig      `toml:"engine"`
	Oracle      OracleConfig      `toml:"oracle"`
	Binance     BinanceConfig     `toml:"binance"`
	Subgraph    SubgraphConfig    `toml:"subgraph"`
	Chain       ChainConfig       `toml:"chain"`
	Hyperliquid HyperliquidConfig `toml:"hyperliquid"`
	Wallet      WalletConfig      `toml:"wallet"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
	Interval    duration          `toml:"interval"`
	// Owner is the wallet whose LP and hedge positions are managed.
	Owner string `toml:"owner"`
}

// PairConfig names the traded pair and how it maps onto the pool tokens.
type PairConfig struct {
	Base          string `toml:"base"`
	Quote         string `toml:"quote"`
	BaseDecimals  int32  `toml:"base_decimals"`
	QuoteDecimals int32  `toml:"quote_decimals"`
	BaseIsToken0  bool   `toml:"base_is_token0"`
}

// TokenPair returns the pool token layout used for tick conversion.
func (p PairConfig) TokenPair() engine.TokenPair {
	if p.BaseIsToken0 {
		return engine.TokenPair{Decimals0: p.BaseDecimals, Decimals1: p.QuoteDecimals, BaseIsToken0: true}
	}
	return engine.TokenPair{Decimals0: p.QuoteDecimals, Decimals1: p.BaseDecimals}
}

// EngineConfig holds the decision engine parameters.
type EngineConfig struct {
	Width              float64 `toml:"width"`
	AllocationFraction float64 `toml:"allocation_fraction"`
	Leverage           float64 `toml:"leverage"`
	HedgeTolerance     float64 `toml:"hedge_tolerance"`
	FeeRate            float64 `toml:"fee_rate"`
	GasCostUSD         float64 `toml:"gas_cost_usd"`
	BreachMargin       float64 `toml:"breach_margin"`
	UpperStrategy      string  `toml:"upper_strategy"`
	LowerStrategy      string  `toml:"lower_strategy"`
}

// Decide converts the TOML values into the engine's decimal configuration.
func (e EngineConfig) Decide() engine.Config {
	return engine.Config{
		Width:              decimal.NewFromFloat(e.Width),
		AllocationFraction: decimal.NewFromFloat(e.AllocationFraction),
		Leverage:           decimal.NewFromFloat(e.Leverage),
		HedgeTolerance:     decimal.NewFromFloat(e.HedgeTolerance),
		FeeRate:            decimal.NewFromFloat(e.FeeRate),
		GasCostUSD:         decimal.NewFromFloat(e.GasCostUSD),
		BreachMargin:       decimal.NewFromFloat(e.BreachMargin),
		UpperStrategy:      engine.Strategy(strings.ToLower(e.UpperStrategy)),
		LowerStrategy:      engine.Strategy(strings.ToLower(e.LowerStrategy)),
	}
}

// OracleConfig holds the price oracle parameters.
type OracleConfig struct {
	// Sources are tried in order; see knownSources.
	Sources       []string `toml:"sources"`
	SourceTimeout duration `toml:"source_timeout"`
	// FallbackPrice is returned when every source fails. Zero disables it.
	FallbackPrice float64 `toml:"fallback_price"`
}

// BinanceConfig holds Binance ticker parameters.
type BinanceConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Symbol  string `toml:"symbol"`
}

// SubgraphConfig holds Uniswap v3 subgraph parameters.
type SubgraphConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
	PoolID string `toml:"pool_id"`
	// UseForPositions reads LP positions from the subgraph instead of chain.
	UseForPositions bool `toml:"use_for_positions"`
}

// ChainConfig holds EVM JSON-RPC and Uniswap contract parameters.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	RPCFallbacks    []string `toml:"rpc_fallbacks"`
	Pool            string   `toml:"pool"`
	PositionManager string   `toml:"position_manager"`
	Quoter          string   `toml:"quoter"`
	TokenID         string   `toml:"token_id"`
	Timeout         duration `toml:"timeout"`
}

// RPCURLs returns the primary endpoint followed by the fallbacks.
func (c ChainConfig) RPCURLs() []string {
	var out []string
	if c.RPCURL != "" {
		out = append(out, c.RPCURL)
	}
	for _, u := range c.RPCFallbacks {
		if u != "" && u != c.RPCURL {
			out = append(out, u)
		}
	}
	return out
}

// HyperliquidConfig holds Hyperliquid API parameters and signing credentials.
type HyperliquidConfig struct {
	InfoURL          string  `toml:"info_url"`
	ExchangeURL      string  `toml:"exchange_url"`
	Testnet          bool    `toml:"testnet"`
	Coin             string  `toml:"coin"`
	Account          string  `toml:"account"`
	PrivateKey       string  `toml:"private_key"`
	EncryptedKeyPath string  `toml:"encrypted_key_path"`
	KeyPassword      string  `toml:"key_password"`
	Slippage         float64 `toml:"slippage"`
	DryRun           bool    `toml:"dry_run"`
	// RateLimit is the minimum spacing between API calls. With Redis enabled
	// it is enforced across every instance sharing the account.
	RateLimit duration `toml:"rate_limit"`
}

// WalletConfig holds the simulated wallet's starting balances.
type WalletConfig struct {
	BaseBalance  float64 `toml:"base_balance"`
	QuoteBalance float64 `toml:"quote_balance"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Pair: PairConfig{
			Base:          "ETH",
			Quote:         "USDC",
			BaseDecimals:  18,
			QuoteDecimals: 6,
			BaseIsToken0:  true,
		},
		Engine: EngineConfig{
			Width:              0.05,
			AllocationFraction: 0.5,
			Leverage:           5,
			HedgeTolerance:     0.01,
			FeeRate:            0.0005,
			GasCostUSD:         5,
			BreachMargin:       0.02,
			UpperStrategy:      "move",
			LowerStrategy:      "move",
		},
		Oracle: OracleConfig{
			Sources:       []string{"binance", "subgraph", "uniswap", "hyperliquid"},
			SourceTimeout: duration{10 * time.Second},
		},
		Binance: BinanceConfig{
			BaseURL: "https://api.binance.com",
			Symbol:  "ETHUSDT",
		},
		Subgraph: SubgraphConfig{
			URL:    "https://api.thegraph.com/subgraphs/name/ianlapham/uniswap-v3-arbitrum",
			PoolID: "0x88f38662f45c78302b556271cd0a4da9d1cb1a0d",
		},
		Chain: ChainConfig{
			RPCURL:          "https://arb1.arbitrum.io/rpc",
			Pool:            "0xC5aF84701f98Fa483eCe78aF83F11b6C38ACA71D",
			PositionManager: "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
			Quoter:          "0x61fFE014bA17989E743c5F6cB21bF9697530B21e",
			Timeout:         duration{15 * time.Second},
		},
		Hyperliquid: HyperliquidConfig{
			Coin:      "ETH",
			Slippage:  0.005,
			DryRun:    true,
			RateLimit: duration{time.Second},
		},
		Wallet: WalletConfig{
			BaseBalance:  0,
			QuoteBalance: 10000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "hedgebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			PriceTTL:   duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "hedgebot-data",
			ForcePathStyle: true,
			Prefix:         "cycles",
		},
		Server: ServerConfig{
			Enabled:     false,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			DiscordUsername: "hedgebot",
			Events:          []string{"startup", "decision", "applied", "cycle_error", "price_unavailable", "wallet"},
		},
		Mode:     "simulate",
		LogLevel: "info",
		Interval: duration{60 * time.Second},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"simulate": true,
	"live":     true,
	"monitor":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// knownSources enumerates the accepted oracle source names.
var knownSources = map[string]bool{
	"binance":     true,
	"subgraph":    true,
	"uniswap":     true,
	"hyperliquid": true,
}

// maxSourceTimeout caps the per-source oracle timeout.
const maxSourceTimeout = 10 * time.Second

// UsesSource reports whether the oracle is configured to query name.
func (c *Config) UsesSource(name string) bool {
	return slices.Contains(c.Oracle.Sources, name)
}

// Live reports whether positions are read from live venues.
func (c *Config) Live() bool {
	m := strings.ToLower(c.Mode)
	return m == "live" || m == "monitor"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: simulate, live, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Interval.Duration < time.Second {
		errs = append(errs, fmt.Sprintf("interval must be >= 1s, got %s", c.Interval.Duration))
	}
	if c.Live() && strings.TrimSpace(c.Owner) == "" {
		errs = append(errs, "owner is required for mode "+c.Mode)
	}

	// Pair
	if c.Pair.Base == "" || c.Pair.Quote == "" {
		errs = append(errs, "pair: base and quote must not be empty")
	}
	if c.Pair.BaseDecimals < 0 || c.Pair.QuoteDecimals < 0 {
		errs = append(errs, "pair: decimals must be >= 0")
	}

	// Engine
	if err := c.Engine.Decide().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	// Oracle
	if len(c.Oracle.Sources) == 0 {
		errs = append(errs, "oracle: at least one source is required")
	}
	for _, s := range c.Oracle.Sources {
		if !knownSources[s] {
			errs = append(errs, fmt.Sprintf("oracle: unknown source %q (valid: binance, subgraph, uniswap, hyperliquid)", s))
		}
	}
	if c.Oracle.SourceTimeout.Duration <= 0 || c.Oracle.SourceTimeout.Duration > maxSourceTimeout {
		errs = append(errs, fmt.Sprintf("oracle: source_timeout must be in (0, %s], got %s", maxSourceTimeout, c.Oracle.SourceTimeout.Duration))
	}
	if c.Oracle.FallbackPrice < 0 {
		errs = append(errs, "oracle: fallback_price must be >= 0")
	}

	// Chain
	needsChain := c.UsesSource("uniswap") || (c.Live() && !c.Subgraph.UseForPositions)
	if needsChain && len(c.Chain.RPCURLs()) == 0 {
		errs = append(errs, "chain: rpc_url must be set when the uniswap source or on-chain positions are used")
	}
	if needsChain && c.Chain.Pool == "" {
		errs = append(errs, "chain: pool must not be empty")
	}

	// Hyperliquid
	if c.Hyperliquid.Slippage <= 0 || c.Hyperliquid.Slippage >= 1 {
		errs = append(errs, "hyperliquid: slippage must be in (0, 1)")
	}
	if c.Hyperliquid.RateLimit.Duration < 0 {
		errs = append(errs, "hyperliquid: rate_limit must be >= 0")
	}
	if strings.ToLower(c.Mode) == "live" && !c.Hyperliquid.DryRun {
		if c.Hyperliquid.PrivateKey == "" && c.Hyperliquid.EncryptedKeyPath == "" {
			errs = append(errs, "hyperliquid: private_key or encrypted_key_path is required when dry_run is false")
		}
	}
	if c.Hyperliquid.EncryptedKeyPath != "" && c.Hyperliquid.KeyPassword == "" {
		errs = append(errs, "hyperliquid: key_password is required when encrypted_key_path is set")
	}

	// Wallet
	if c.Wallet.BaseBalance < 0 || c.Wallet.QuoteBalance < 0 {
		errs = append(errs, "wallet: balances must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
