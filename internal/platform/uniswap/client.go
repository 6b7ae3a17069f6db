// Package uniswap reads Uniswap v3 pool and position state from an EVM
// JSON-RPC endpoint.
package uniswap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/engine"
	"github.com/alanyoungcy/hedgebot/internal/platform/retry"
)

// Arbitrum One deployment addresses.
const (
	ArbitrumWETH            = "0x82AF49447D8a07e3bd95BD0d56f35241523fBab1"
	ArbitrumUSDC            = "0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8"
	ArbitrumPool            = "0xC5aF84701f98Fa483eCe78aF83F11b6C38ACA71D"
	ArbitrumQuoterV2        = "0x61fFE014bA17989E743c5F6cB21bF9697530B21e"
	ArbitrumPositionManager = "0xC36442b4a4522E871399CD717aBDD847Ab11FE88"
)

// DefaultRPCTimeout bounds a single eth_call.
const DefaultRPCTimeout = 15 * time.Second

// maxOwnedPositions caps how many NFT positions are enumerated per owner.
const maxOwnedPositions = 20

// Config holds the parameters for New.
type Config struct {
	// RPCURLs are tried in order until one answers.
	RPCURLs         []string
	Pool            string
	PositionManager string
	Quoter          string
	// TokenID pins the LP reader to one NFT position instead of enumerating
	// the owner's positions.
	TokenID      string
	BaseIsToken0 bool
	Timeout      time.Duration
}

type poolMeta struct {
	token0, token1 common.Address
	fee            *big.Int
	tp             engine.TokenPair
}

// Client reads pool prices and NFT positions. It implements
// domain.PriceSource.
type Client struct {
	urls         []string
	pool         common.Address
	npm          common.Address
	quoter       common.Address
	tokenID      *big.Int
	baseIsToken0 bool
	timeout      time.Duration
	policy       retry.Policy
	logger       *slog.Logger

	mu      sync.Mutex
	clients map[string]*ethclient.Client
	meta    *poolMeta
}

// New validates cfg and creates a client. Endpoints are dialed lazily.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	var urls []string
	for _, u := range cfg.RPCURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("uniswap: at least one rpc url is required: %w", domain.ErrInvalidInput)
	}
	if !common.IsHexAddress(cfg.Pool) {
		return nil, fmt.Errorf("uniswap: invalid pool address %q: %w", cfg.Pool, domain.ErrInvalidInput)
	}

	c := &Client{
		urls:         urls,
		pool:         common.HexToAddress(cfg.Pool),
		baseIsToken0: cfg.BaseIsToken0,
		timeout:      cfg.Timeout,
		policy:       retry.DefaultPolicy(),
		logger:       logger.With(slog.String("component", "uniswap")),
		clients:      make(map[string]*ethclient.Client),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRPCTimeout
	}
	if common.IsHexAddress(cfg.PositionManager) {
		c.npm = common.HexToAddress(cfg.PositionManager)
	}
	if common.IsHexAddress(cfg.Quoter) {
		c.quoter = common.HexToAddress(cfg.Quoter)
	}
	if id := strings.TrimSpace(cfg.TokenID); id != "" {
		n, ok := new(big.Int).SetString(id, 10)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("uniswap: invalid token id %q: %w", id, domain.ErrInvalidInput)
		}
		c.tokenID = n
	}
	return c, nil
}

// Name returns the source identifier.
func (c *Client) Name() string {
	return "uniswap"
}

// Close closes every dialed endpoint.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, ec := range c.clients {
		ec.Close()
		delete(c.clients, url)
	}
}

// Price returns the pool's quote-per-base price from slot0.
func (c *Client) Price(ctx context.Context, _ domain.Pair) (decimal.Decimal, error) {
	meta, err := c.poolMeta(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	sqrtPrice, _, err := c.slot0(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := engine.PriceFromSqrtX96(sqrtPrice, meta.tp)
	if err != nil {
		return decimal.Zero, fmt.Errorf("uniswap: %w", err)
	}
	return price, nil
}

// TokenPair returns the pool's token decimals and base orientation.
func (c *Client) TokenPair(ctx context.Context) (engine.TokenPair, error) {
	meta, err := c.poolMeta(ctx)
	if err != nil {
		return engine.TokenPair{}, err
	}
	return meta.tp, nil
}

// Positions returns the owner's positions in the configured pool with tick
// bounds and reserves scaled to whole token units. When a token ID is
// configured only that position is read.
func (c *Client) Positions(ctx context.Context, owner string) ([]domain.RawRange, error) {
	if c.npm == (common.Address{}) {
		return nil, fmt.Errorf("uniswap: position manager not configured: %w", domain.ErrInvalidInput)
	}
	ids := []*big.Int{c.tokenID}
	if c.tokenID == nil {
		var err error
		ids, err = c.ownedTokenIDs(ctx, owner)
		if err != nil {
			return nil, err
		}
	}

	meta, err := c.poolMeta(ctx)
	if err != nil {
		return nil, err
	}
	sqrtPrice, _, err := c.slot0(ctx)
	if err != nil {
		return nil, err
	}

	var out []domain.RawRange
	for _, id := range ids {
		r, ok, err := c.position(ctx, id, meta, sqrtPrice)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Client) ownedTokenIDs(ctx context.Context, owner string) ([]*big.Int, error) {
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("uniswap: invalid owner %q: %w", owner, domain.ErrInvalidInput)
	}
	addr := common.HexToAddress(owner)
	res, err := c.call(ctx, positionManagerABI, c.npm, "balanceOf", addr)
	if err != nil {
		return nil, err
	}
	count, err := bigAt(res, 0)
	if err != nil {
		return nil, fmt.Errorf("uniswap: balanceOf: %w", err)
	}
	n := count.Int64()
	if n > maxOwnedPositions {
		c.logger.WarnContext(ctx, "owner holds more positions than enumerated",
			slog.Int64("count", n),
			slog.Int("limit", maxOwnedPositions),
		)
		n = maxOwnedPositions
	}

	ids := make([]*big.Int, 0, n)
	for i := int64(0); i < n; i++ {
		res, err := c.call(ctx, positionManagerABI, c.npm, "tokenOfOwnerByIndex", addr, big.NewInt(i))
		if err != nil {
			return nil, err
		}
		id, err := bigAt(res, 0)
		if err != nil {
			return nil, fmt.Errorf("uniswap: tokenOfOwnerByIndex: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// position reads one NFT position. Positions in other pools or without
// liquidity are reported as not ok.
func (c *Client) position(ctx context.Context, id *big.Int, meta *poolMeta, sqrtPrice *big.Int) (domain.RawRange, bool, error) {
	res, err := c.call(ctx, positionManagerABI, c.npm, "positions", id)
	if err != nil {
		return domain.RawRange{}, false, err
	}
	if len(res) < 8 {
		return domain.RawRange{}, false, fmt.Errorf("uniswap: positions(%s): short result", id)
	}
	token0, _ := res[2].(common.Address)
	token1, _ := res[3].(common.Address)
	fee, errFee := bigAt(res, 4)
	tickLower, errLower := bigAt(res, 5)
	tickUpper, errUpper := bigAt(res, 6)
	liquidity, errLiq := bigAt(res, 7)
	if err := errors.Join(errFee, errLower, errUpper, errLiq); err != nil {
		return domain.RawRange{}, false, fmt.Errorf("uniswap: positions(%s): %w", id, err)
	}
	if token0 != meta.token0 || token1 != meta.token1 || fee.Cmp(meta.fee) != 0 || liquidity.Sign() == 0 {
		return domain.RawRange{}, false, nil
	}

	raw0, raw1 := engine.AmountsForLiquidity(liquidity, sqrtPrice, tickLower.Int64(), tickUpper.Int64())
	amount0 := engine.ScaleAmount(raw0, meta.tp.Decimals0)
	amount1 := engine.ScaleAmount(raw1, meta.tp.Decimals1)
	base, quote := amount0, amount1
	if !c.baseIsToken0 {
		base, quote = amount1, amount0
	}
	return domain.RawRange{
		Lower:       decimal.NewFromBigInt(tickLower, 0),
		Upper:       decimal.NewFromBigInt(tickUpper, 0),
		Kind:        domain.BoundTick,
		BaseAmount:  base,
		QuoteAmount: quote,
		TokenID:     id.String(),
		Liquidity:   liquidity.String(),
	}, true, nil
}

// QuoteExactInput previews a swap of amountIn whole units of one pool token
// into the other through QuoterV2 and returns the output in whole units.
func (c *Client) QuoteExactInput(ctx context.Context, from domain.Asset, amountIn decimal.Decimal) (decimal.Decimal, error) {
	if c.quoter == (common.Address{}) {
		return decimal.Zero, fmt.Errorf("uniswap: quoter not configured: %w", domain.ErrInvalidInput)
	}
	if !amountIn.IsPositive() {
		return decimal.Zero, fmt.Errorf("uniswap: amount in must be > 0: %w", domain.ErrInvalidInput)
	}
	meta, err := c.poolMeta(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	baseToken, quoteToken := meta.token0, meta.token1
	baseDec, quoteDec := meta.tp.Decimals0, meta.tp.Decimals1
	if !c.baseIsToken0 {
		baseToken, quoteToken = meta.token1, meta.token0
		baseDec, quoteDec = meta.tp.Decimals1, meta.tp.Decimals0
	}
	tokenIn, tokenOut, decIn, decOut := quoteToken, baseToken, quoteDec, baseDec
	if from == domain.AssetBase {
		tokenIn, tokenOut, decIn, decOut = baseToken, quoteToken, baseDec, quoteDec
	}

	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		Fee               *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn.Shift(decIn).BigInt(),
		Fee:               meta.fee,
		SqrtPriceLimitX96: big.NewInt(0),
	}
	res, err := c.call(ctx, quoterABI, c.quoter, "quoteExactInputSingle", params)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := bigAt(res, 0)
	if err != nil {
		return decimal.Zero, fmt.Errorf("uniswap: quoteExactInputSingle: %w", err)
	}
	return decimal.NewFromBigInt(out, -decOut), nil
}

// PoolLiquidity returns the pool's in-range liquidity.
func (c *Client) PoolLiquidity(ctx context.Context) (*big.Int, error) {
	res, err := c.call(ctx, poolABI, c.pool, "liquidity")
	if err != nil {
		return nil, err
	}
	return bigAt(res, 0)
}

func (c *Client) slot0(ctx context.Context) (*big.Int, int64, error) {
	res, err := c.call(ctx, poolABI, c.pool, "slot0")
	if err != nil {
		return nil, 0, err
	}
	sqrtPrice, err := bigAt(res, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("uniswap: slot0: %w", err)
	}
	tick, err := bigAt(res, 1)
	if err != nil {
		return nil, 0, fmt.Errorf("uniswap: slot0: %w", err)
	}
	return sqrtPrice, tick.Int64(), nil
}

// poolMeta loads token addresses, decimals and fee once. Failures are not
// cached.
func (c *Client) poolMeta(ctx context.Context) (*poolMeta, error) {
	c.mu.Lock()
	meta := c.meta
	c.mu.Unlock()
	if meta != nil {
		return meta, nil
	}

	token0, err := c.addressCall(ctx, c.pool, "token0")
	if err != nil {
		return nil, err
	}
	token1, err := c.addressCall(ctx, c.pool, "token1")
	if err != nil {
		return nil, err
	}
	res, err := c.call(ctx, poolABI, c.pool, "fee")
	if err != nil {
		return nil, err
	}
	fee, err := bigAt(res, 0)
	if err != nil {
		return nil, fmt.Errorf("uniswap: fee: %w", err)
	}
	dec0, err := c.decimals(ctx, token0)
	if err != nil {
		return nil, err
	}
	dec1, err := c.decimals(ctx, token1)
	if err != nil {
		return nil, err
	}

	meta = &poolMeta{
		token0: token0,
		token1: token1,
		fee:    fee,
		tp:     engine.TokenPair{Decimals0: dec0, Decimals1: dec1, BaseIsToken0: c.baseIsToken0},
	}
	c.mu.Lock()
	c.meta = meta
	c.mu.Unlock()
	c.logger.DebugContext(ctx, "pool metadata loaded",
		slog.String("token0", token0.Hex()),
		slog.String("token1", token1.Hex()),
		slog.String("fee", fee.String()),
	)
	return meta, nil
}

func (c *Client) addressCall(ctx context.Context, to common.Address, method string) (common.Address, error) {
	res, err := c.call(ctx, poolABI, to, method)
	if err != nil {
		return common.Address{}, err
	}
	if len(res) == 0 {
		return common.Address{}, fmt.Errorf("uniswap: %s: empty result", method)
	}
	addr, ok := res[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("uniswap: %s: unexpected type %T", method, res[0])
	}
	return addr, nil
}

func (c *Client) decimals(ctx context.Context, token common.Address) (int32, error) {
	res, err := c.call(ctx, erc20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, fmt.Errorf("uniswap: decimals(%s): empty result", token.Hex())
	}
	d, ok := res[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("uniswap: decimals(%s): unexpected type %T", token.Hex(), res[0])
	}
	return int32(d), nil
}

// call packs and executes an eth_call, trying each endpoint in order. The
// whole fallback sweep is retried with backoff.
func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("uniswap: pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}

	var out []byte
	err = retry.Read(ctx, c.policy, func() error {
		var errs []error
		for _, url := range c.urls {
			ec, err := c.dial(ctx, url)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			out, err = ec.CallContract(callCtx, msg, nil)
			cancel()
			if err == nil {
				return nil
			}
			c.logger.WarnContext(ctx, "rpc call failed, trying next endpoint",
				slog.String("method", method),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
		}
		return errors.Join(errs...)
	})
	if err != nil {
		return nil, fmt.Errorf("uniswap: call %s: %w", method, err)
	}

	res, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("uniswap: unpack %s: %w", method, err)
	}
	return res, nil
}

func (c *Client) dial(ctx context.Context, url string) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ec, ok := c.clients[url]; ok {
		return ec, nil
	}
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.clients[url] = ec
	return ec, nil
}

func bigAt(res []any, i int) (*big.Int, error) {
	if i >= len(res) {
		return nil, fmt.Errorf("missing output %d", i)
	}
	n, ok := res[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("output %d: unexpected type %T", i, res[i])
	}
	return n, nil
}
