// Package subgraph queries the Uniswap v3 subgraph for pool prices and
// liquidity positions.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/platform/retry"
)

// DefaultURL is the hosted Uniswap v3 Arbitrum subgraph.
const DefaultURL = "https://api.thegraph.com/subgraphs/name/ianlapham/uniswap-v3-arbitrum"

// ClientConfig holds the parameters for NewClient.
type ClientConfig struct {
	URL    string
	APIKey string
	// PoolID is the pool contract address.
	PoolID string
	// BaseIsToken0 tells which pool token is the base asset.
	BaseIsToken0 bool
	Timeout      time.Duration
}

// Client is a GraphQL client for the Uniswap v3 subgraph. It implements
// domain.PriceSource.
type Client struct {
	graphqlURL   string
	apiKey       string
	poolID       string
	baseIsToken0 bool
	httpClient   *http.Client
	policy       retry.Policy
}

// NewClient creates a subgraph client.
func NewClient(cfg ClientConfig) *Client {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		graphqlURL:   url,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		poolID:       strings.ToLower(strings.TrimSpace(cfg.PoolID)),
		baseIsToken0: cfg.BaseIsToken0,
		httpClient:   &http.Client{Timeout: timeout},
		policy:       retry.DefaultPolicy(),
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Name returns the source identifier.
func (c *Client) Name() string {
	return "subgraph"
}

const poolQuery = `
	query Pool($id: ID!) {
		pool(id: $id) {
			token0Price
			token1Price
		}
	}
`

// Price returns the pool's quote-per-base price. token1Price is token1 per
// token0, so it is the answer when the base asset is token0.
func (c *Client) Price(ctx context.Context, _ domain.Pair) (decimal.Decimal, error) {
	data, err := c.doQuery(ctx, poolQuery, map[string]any{"id": c.poolID})
	if err != nil {
		return decimal.Zero, fmt.Errorf("subgraph: fetch pool price: %w", err)
	}

	var result struct {
		Pool *struct {
			Token0Price string `json:"token0Price"`
			Token1Price string `json:"token1Price"`
		} `json:"pool"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return decimal.Zero, fmt.Errorf("subgraph: decode pool: %w", err)
	}
	if result.Pool == nil {
		return decimal.Zero, fmt.Errorf("subgraph: pool %s: %w", c.poolID, domain.ErrNotFound)
	}

	raw := result.Pool.Token0Price
	if c.baseIsToken0 {
		raw = result.Pool.Token1Price
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("subgraph: parse price %q: %w", raw, err)
	}
	return price, nil
}

const positionsQuery = `
	query Positions($owner: String!, $pool: String!) {
		positions(
			first: 10
			where: { owner: $owner, pool: $pool, liquidity_gt: 0 }
		) {
			id
			liquidity
			tickLower { tickIdx }
			tickUpper { tickIdx }
			depositedToken0
			depositedToken1
			withdrawnToken0
			withdrawnToken1
		}
	}
`

type positionRow struct {
	ID        string `json:"id"`
	Liquidity string `json:"liquidity"`
	TickLower struct {
		TickIdx string `json:"tickIdx"`
	} `json:"tickLower"`
	TickUpper struct {
		TickIdx string `json:"tickIdx"`
	} `json:"tickUpper"`
	DepositedToken0 string `json:"depositedToken0"`
	DepositedToken1 string `json:"depositedToken1"`
	WithdrawnToken0 string `json:"withdrawnToken0"`
	WithdrawnToken1 string `json:"withdrawnToken1"`
}

// Positions returns the owner's open positions in the configured pool with
// bounds in tick space. Rows that cannot be parsed are skipped.
func (c *Client) Positions(ctx context.Context, owner string) ([]domain.RawRange, error) {
	data, err := c.doQuery(ctx, positionsQuery, map[string]any{
		"owner": strings.ToLower(owner),
		"pool":  c.poolID,
	})
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch positions: %w", err)
	}

	var result struct {
		Positions []positionRow `json:"positions"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("subgraph: decode positions: %w", err)
	}

	out := make([]domain.RawRange, 0, len(result.Positions))
	for _, p := range result.Positions {
		r, ok := c.toRawRange(p)
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Client) toRawRange(p positionRow) (domain.RawRange, bool) {
	lower, err1 := decimal.NewFromString(p.TickLower.TickIdx)
	upper, err2 := decimal.NewFromString(p.TickUpper.TickIdx)
	if err1 != nil || err2 != nil {
		return domain.RawRange{}, false
	}
	amount0 := net(p.DepositedToken0, p.WithdrawnToken0)
	amount1 := net(p.DepositedToken1, p.WithdrawnToken1)
	base, quote := amount0, amount1
	if !c.baseIsToken0 {
		base, quote = amount1, amount0
	}
	return domain.RawRange{
		Lower:       lower,
		Upper:       upper,
		Kind:        domain.BoundTick,
		BaseAmount:  base,
		QuoteAmount: quote,
		TokenID:     p.ID,
		Liquidity:   p.Liquidity,
	}, true
}

// net returns deposited minus withdrawn, floored at zero.
func net(deposited, withdrawn string) decimal.Decimal {
	dep, err := decimal.NewFromString(deposited)
	if err != nil {
		return decimal.Zero
	}
	wd, err := decimal.NewFromString(withdrawn)
	if err != nil {
		wd = decimal.Zero
	}
	return decimal.Max(dep.Sub(wd), decimal.Zero)
}

// doQuery executes a GraphQL query and returns the raw "data" field. HTTP
// and transport failures are retried; GraphQL errors are not.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	var data json.RawMessage
	err = retry.Read(ctx, c.policy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		}

		var gqlResp graphqlResponse
		if err := json.Unmarshal(body, &gqlResp); err != nil {
			return retry.Permanent(fmt.Errorf("decode graphql response: %w", err))
		}
		if len(gqlResp.Errors) > 0 {
			return retry.Permanent(fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message))
		}
		data = gqlResp.Data
		return nil
	})
	return data, err
}
