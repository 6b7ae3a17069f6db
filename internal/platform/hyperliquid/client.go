// Package hyperliquid reads perp prices and positions from Hyperliquid and
// submits signed IOC orders for the hedge.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/platform/retry"
)

const (
	MainnetInfoURL     = "https://api.hyperliquid.xyz/info"
	MainnetExchangeURL = "https://api.hyperliquid.xyz/exchange"
	TestnetInfoURL     = "https://api.hyperliquid-testnet.xyz/info"
	TestnetExchangeURL = "https://api.hyperliquid-testnet.xyz/exchange"

	defaultHTTPTimeout = 30 * time.Second
	defaultAssetTTL    = 5 * time.Minute
)

// defaultSlippage is applied to the mid when pricing an IOC market order.
var defaultSlippage = decimal.RequireFromString("0.005")

// ClientConfig holds the parameters for NewClient.
type ClientConfig struct {
	InfoURL     string
	ExchangeURL string
	Testnet     bool
	// Coin is the perp traded as the hedge, e.g. "ETH".
	Coin string
	// Account is the address whose positions are read when no owner is given.
	Account string
	// Signer is required for orders unless DryRun is set.
	Signer   Signer
	Slippage decimal.Decimal
	// DryRun logs orders instead of submitting them.
	DryRun  bool
	Timeout time.Duration
	// RateLimit is the minimum spacing between calls made by this client.
	RateLimit time.Duration
	// Limiter, when set, paces calls across processes. RateLimit still
	// applies whenever Limiter fails.
	Limiter Limiter
}

// Client talks to the Hyperliquid info and exchange endpoints. It implements
// domain.PriceSource.
type Client struct {
	infoURL     string
	exchangeURL string
	mainnet     bool
	coin        string
	account     string
	signer      Signer
	slippage    decimal.Decimal
	dryRun      bool
	httpClient  *http.Client
	policy      retry.Policy
	limiter     Limiter
	local       *intervalLimiter
	clock       func() time.Time
	logger      *slog.Logger

	assetMu      sync.RWMutex
	assets       map[string]AssetInfo
	assetTTL     time.Duration
	assetRefresh time.Time
}

// NewClient creates a Hyperliquid client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	c := &Client{
		infoURL:     MainnetInfoURL,
		exchangeURL: MainnetExchangeURL,
		mainnet:     !cfg.Testnet,
		coin:        canonicalCoin(cfg.Coin),
		signer:      cfg.Signer,
		slippage:    cfg.Slippage,
		dryRun:      cfg.DryRun,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		policy:      retry.DefaultPolicy(),
		limiter:     cfg.Limiter,
		local:       newIntervalLimiter(cfg.RateLimit),
		clock:       time.Now,
		logger:      logger.With(slog.String("component", "hyperliquid")),
		assets:      make(map[string]AssetInfo),
		assetTTL:    defaultAssetTTL,
	}
	if cfg.Testnet {
		c.infoURL, c.exchangeURL = TestnetInfoURL, TestnetExchangeURL
	}
	if cfg.InfoURL != "" {
		c.infoURL = cfg.InfoURL
	}
	if cfg.ExchangeURL != "" {
		c.exchangeURL = cfg.ExchangeURL
	}
	if c.coin == "" {
		c.coin = "ETH"
	}
	if c.httpClient.Timeout <= 0 {
		c.httpClient.Timeout = defaultHTTPTimeout
	}
	if !c.slippage.IsPositive() {
		c.slippage = defaultSlippage
	}
	if cfg.Account != "" {
		if !common.IsHexAddress(cfg.Account) {
			return nil, fmt.Errorf("hyperliquid: invalid account %q: %w", cfg.Account, domain.ErrInvalidInput)
		}
		c.account = common.HexToAddress(cfg.Account).Hex()
	} else if c.signer != nil {
		c.account = c.signer.Address()
	}
	if c.signer == nil && !c.dryRun {
		c.logger.Warn("no signer configured, orders will be rejected")
	}
	return c, nil
}

// Name returns the source identifier.
func (c *Client) Name() string {
	return "hyperliquid"
}

// Coin returns the hedged perp symbol.
func (c *Client) Coin() string {
	return c.coin
}

// DryRun reports whether orders are only logged.
func (c *Client) DryRun() bool {
	return c.dryRun
}

// Price returns the mid price of the hedge coin from allMids.
func (c *Client) Price(ctx context.Context, _ domain.Pair) (decimal.Decimal, error) {
	var mids map[string]string
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "allMids"}, &mids); err != nil {
		return decimal.Zero, err
	}
	raw, ok := mids[c.coin]
	if !ok {
		return decimal.Zero, fmt.Errorf("hyperliquid: no mid for %s: %w", c.coin, domain.ErrNotFound)
	}
	mid, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("hyperliquid: parse mid %q: %w", raw, err)
	}
	return mid, nil
}

// HedgePosition reads the user's position in the hedge coin. A venue short
// is reported as a positive Size. No position yields the zero value.
func (c *Client) HedgePosition(ctx context.Context, user string) (domain.HedgePosition, error) {
	if user == "" {
		user = c.account
	}
	if !common.IsHexAddress(user) {
		return domain.HedgePosition{}, fmt.Errorf("hyperliquid: invalid user %q: %w", user, domain.ErrInvalidInput)
	}

	var state clearinghouseState
	req := InfoRequest{Type: "clearinghouseState", User: common.HexToAddress(user).Hex()}
	if err := c.doInfoRequest(ctx, req, &state); err != nil {
		return domain.HedgePosition{}, err
	}
	for _, ap := range state.AssetPositions {
		if canonicalCoin(ap.Position.Coin) != c.coin {
			continue
		}
		return domain.HedgePosition{
			Size:     ap.Position.Szi.Neg(),
			Margin:   ap.Position.MarginUsed,
			Leverage: ap.Position.Leverage.Value,
		}, nil
	}
	return domain.HedgePosition{}, nil
}

// FreeCollateral returns the account's withdrawable USDC, the margin still
// available for a larger hedge.
func (c *Client) FreeCollateral(ctx context.Context, user string) (decimal.Decimal, error) {
	if user == "" {
		user = c.account
	}
	if !common.IsHexAddress(user) {
		return decimal.Zero, fmt.Errorf("hyperliquid: invalid user %q: %w", user, domain.ErrInvalidInput)
	}

	var state clearinghouseState
	req := InfoRequest{Type: "clearinghouseState", User: common.HexToAddress(user).Hex()}
	if err := c.doInfoRequest(ctx, req, &state); err != nil {
		return decimal.Zero, err
	}
	if state.Withdrawable.IsNegative() {
		return decimal.Zero, nil
	}
	return state.Withdrawable, nil
}

// OpenOrders lists the user's resting orders across all coins.
func (c *Client) OpenOrders(ctx context.Context, user string) ([]OpenOrder, error) {
	if user == "" {
		user = c.account
	}
	if !common.IsHexAddress(user) {
		return nil, fmt.Errorf("hyperliquid: invalid user %q: %w", user, domain.ErrInvalidInput)
	}
	var orders []OpenOrder
	req := InfoRequest{Type: "openOrders", User: common.HexToAddress(user).Hex()}
	if err := c.doInfoRequest(ctx, req, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// PendingHedge nets the account's resting orders in the hedge coin. Asks count
// as positive, matching the sign of HedgePosition.Size.
func (c *Client) PendingHedge(ctx context.Context) (decimal.Decimal, error) {
	orders, err := c.OpenOrders(ctx, "")
	if err != nil {
		return decimal.Zero, err
	}
	pending := decimal.Zero
	for _, o := range orders {
		if canonicalCoin(o.Coin) != c.coin {
			continue
		}
		if o.IsBuy() {
			pending = pending.Sub(o.Sz)
		} else {
			pending = pending.Add(o.Sz)
		}
	}
	return pending, nil
}

// AssetInfo returns the directory entry for coin, refreshing the cache when
// it is stale or the coin is unknown.
func (c *Client) AssetInfo(ctx context.Context, coin string) (AssetInfo, error) {
	key := canonicalCoin(coin)
	c.assetMu.RLock()
	info, ok := c.assets[key]
	fresh := c.clock().Sub(c.assetRefresh) < c.assetTTL
	c.assetMu.RUnlock()
	if ok && fresh {
		return info, nil
	}

	if err := c.refreshAssetDirectory(ctx); err != nil {
		return AssetInfo{}, err
	}
	c.assetMu.RLock()
	info, ok = c.assets[key]
	c.assetMu.RUnlock()
	if !ok {
		return AssetInfo{}, fmt.Errorf("hyperliquid: unknown asset %s: %w", coin, domain.ErrNotFound)
	}
	return info, nil
}

func (c *Client) refreshAssetDirectory(ctx context.Context) error {
	var resp metaAndAssetCtxs
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "metaAndAssetCtxs"}, &resp); err != nil {
		return err
	}
	if len(resp.Universe) == 0 {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs response contained no assets")
	}

	assets := make(map[string]AssetInfo, len(resp.Universe))
	for idx, entry := range resp.Universe {
		key := canonicalCoin(entry.Name)
		if key == "" {
			continue
		}
		info := AssetInfo{Name: entry.Name, Index: idx, SzDecimals: entry.SzDecimals}
		if idx < len(resp.AssetCtxs) {
			px := resp.AssetCtxs[idx].MidPx
			if px == "" {
				px = resp.AssetCtxs[idx].MarkPx
			}
			if d, err := decimal.NewFromString(px); err == nil {
				info.MidPx = d
			}
		}
		assets[key] = info
	}

	c.assetMu.Lock()
	c.assets = assets
	c.assetRefresh = c.clock()
	c.assetMu.Unlock()
	return nil
}

// doInfoRequest posts to the info endpoint with bounded retries.
func (c *Client) doInfoRequest(ctx context.Context, req InfoRequest, result any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("hyperliquid: encode info request: %w", err)
	}
	err = retry.Read(ctx, c.policy, func() error {
		body, status, err := c.post(ctx, c.infoURL, payload)
		if err != nil {
			return err
		}
		if status < http.StatusOK || status >= 300 {
			err := fmt.Errorf("hyperliquid: info %s http status %d: %s", req.Type, status, string(body))
			if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
				return retry.Permanent(err)
			}
			return err
		}
		if err := json.Unmarshal(body, result); err != nil {
			return retry.Permanent(fmt.Errorf("hyperliquid: decode %s response: %w", req.Type, err))
		}
		return nil
	})
	return err
}

// pace waits for the shared limiter, or for the local interval when there is
// none or it is unreachable.
func (c *Client) pace(ctx context.Context) error {
	if c.limiter != nil {
		err := c.limiter.Wait(ctx)
		if err == nil || ctx.Err() != nil {
			return err
		}
		c.logger.WarnContext(ctx, "shared rate limiter failed, pacing locally", slog.String("error", err.Error()))
	}
	return c.local.Wait(ctx)
}

func (c *Client) post(ctx context.Context, url string, payload []byte) ([]byte, int, error) {
	if err := c.pace(ctx); err != nil {
		return nil, 0, retry.Permanent(fmt.Errorf("hyperliquid: rate limit: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("hyperliquid: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, retry.Permanent(ctx.Err())
		}
		return nil, 0, fmt.Errorf("hyperliquid: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("hyperliquid: read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// canonicalCoin maps wrapped or lower-case symbols onto Hyperliquid names.
func canonicalCoin(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "WETH" {
		return "ETH"
	}
	return s
}
