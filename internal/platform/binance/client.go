// Package binance reads spot ticker prices from the Binance REST API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/platform/retry"
)

// DefaultBaseURL is the public Binance spot API.
const DefaultBaseURL = "https://api.binance.com"

// ClientConfig holds the parameters for New.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	// Symbol overrides the ticker symbol; when empty it is derived from the
	// pair (ETH/USDC -> ETHUSDC).
	Symbol  string
	Timeout time.Duration
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Client implements domain.PriceSource over GET /api/v3/ticker/price.
type Client struct {
	baseURL string
	apiKey  string
	symbol  string
	http    *http.Client
	policy  retry.Policy
}

// New creates a Binance ticker client.
func New(cfg ClientConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		symbol:  strings.ToUpper(strings.TrimSpace(cfg.Symbol)),
		http:    &http.Client{Timeout: timeout},
		policy:  retry.DefaultPolicy(),
	}
}

// Name returns the source identifier.
func (c *Client) Name() string {
	return "binance"
}

// Price returns the last traded price for the pair's ticker symbol.
func (c *Client) Price(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	symbol := c.symbol
	if symbol == "" {
		symbol = strings.ToUpper(pair.Base + pair.Quote)
	}

	var ticker tickerResponse
	err := retry.Read(ctx, c.policy, func() error {
		return c.get(ctx, "/api/v3/ticker/price", url.Values{"symbol": {symbol}}, &ticker)
	})
	if err != nil {
		return decimal.Zero, err
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: parse price %q: %w", ticker.Price, err)
	}
	return price, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("binance: create request: %w", err))
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("binance: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("binance: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("binance: unexpected status %d: %s", resp.StatusCode, string(body))
		// 4xx other than rate limiting will not improve on retry.
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return retry.Permanent(fmt.Errorf("binance: decode response: %w", err))
	}
	return nil
}
