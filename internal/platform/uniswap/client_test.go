package uniswap

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/platform/retry"
)

var (
	poolAddr   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	wethAddr   = common.HexToAddress("0x000000000000000000000000000000000000000a")
	usdcAddr   = common.HexToAddress("0x000000000000000000000000000000000000000b")
	npmAddr    = common.HexToAddress("0x000000000000000000000000000000000000000c")
	quoterAddr = common.HexToAddress("0x000000000000000000000000000000000000000d")
	ownerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type callKey struct {
	to     common.Address
	method string
}

// fakeChain answers eth_call for a WETH/USDC pool priced at 2000.
type fakeChain struct {
	t         *testing.T
	responses map[callKey][]byte
	selectors map[string]string
	calls     int
}

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()
	f := &fakeChain{t: t, responses: map[callKey][]byte{}, selectors: map[string]string{}}

	f.add(poolABI, poolAddr, "slot0", sqrtPriceFor(2000), big.NewInt(-200311), uint16(0), uint16(1), uint16(1), uint8(0), true)
	f.add(poolABI, poolAddr, "token0", wethAddr)
	f.add(poolABI, poolAddr, "token1", usdcAddr)
	f.add(poolABI, poolAddr, "fee", big.NewInt(500))
	f.add(poolABI, poolAddr, "liquidity", big.NewInt(123456789))
	f.add(erc20ABI, wethAddr, "decimals", uint8(18))
	f.add(erc20ABI, usdcAddr, "decimals", uint8(6))
	f.add(positionManagerABI, npmAddr, "balanceOf", big.NewInt(1))
	f.add(positionManagerABI, npmAddr, "tokenOfOwnerByIndex", big.NewInt(42))
	f.add(positionManagerABI, npmAddr, "positions",
		big.NewInt(0), common.Address{}, wethAddr, usdcAddr, big.NewInt(500),
		big.NewInt(-201000), big.NewInt(-199000), big.NewInt(1_000_000_000_000_000),
		big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0))
	f.add(quoterABI, quoterAddr, "quoteExactInputSingle",
		big.NewInt(2_000_000_000), big.NewInt(1), uint32(0), big.NewInt(80000))
	return f
}

func (f *fakeChain) add(contract abi.ABI, to common.Address, method string, values ...any) {
	m := contract.Methods[method]
	out, err := m.Outputs.Pack(values...)
	require.NoError(f.t, err, method)
	f.responses[callKey{to: to, method: method}] = out
	f.selectors[hexutil.Encode(m.ID)] = method
}

func (f *fakeChain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls++
	var req rpcRequest
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
	require.Equal(f.t, "eth_call", req.Method)

	var arg map[string]string
	require.NoError(f.t, json.Unmarshal(req.Params[0], &arg))
	input := arg["input"]
	if input == "" {
		input = arg["data"]
	}
	data, err := hexutil.Decode(input)
	require.NoError(f.t, err)

	method := f.selectors[hexutil.Encode(data[:4])]
	out, ok := f.responses[callKey{to: common.HexToAddress(arg["to"]), method: method}]
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32000, "message": "execution reverted"},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": hexutil.Encode(out)})
}

func sqrtPriceFor(price float64) *big.Int {
	raw := new(big.Float).SetPrec(256).SetFloat64(price)
	raw.Quo(raw, new(big.Float).SetPrec(256).SetFloat64(1e12))
	raw.Sqrt(raw)
	raw.Mul(raw, new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96)))
	n, _ := raw.Int(nil)
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, urls ...string) *Client {
	t.Helper()
	c, err := New(Config{
		RPCURLs:         urls,
		Pool:            poolAddr.Hex(),
		PositionManager: npmAddr.Hex(),
		Quoter:          quoterAddr.Hex(),
		BaseIsToken0:    true,
	}, testLogger())
	require.NoError(t, err)
	c.policy = retry.Policy{Attempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	t.Cleanup(c.Close)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Pool: poolAddr.Hex()}, testLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = New(Config{RPCURLs: []string{"http://x"}, Pool: "nope"}, testLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = New(Config{RPCURLs: []string{"http://x"}, Pool: poolAddr.Hex(), TokenID: "abc"}, testLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPrice(t *testing.T) {
	srv := httptest.NewServer(newFakeChain(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	price, err := c.Price(context.Background(), domain.Pair{Base: "ETH", Quote: "USDC"})
	require.NoError(t, err)
	assert.InDelta(t, 2000.0, price.InexactFloat64(), 0.01)

	tp, err := c.TokenPair(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(18), tp.Decimals0)
	assert.Equal(t, int32(6), tp.Decimals1)
}

func TestPrice_FallsBackToNextEndpoint(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	chain := newFakeChain(t)
	up := httptest.NewServer(chain)
	defer up.Close()

	c := newTestClient(t, down.URL, up.URL)
	price, err := c.Price(context.Background(), domain.Pair{Base: "ETH", Quote: "USDC"})
	require.NoError(t, err)
	assert.True(t, price.IsPositive())
	assert.Positive(t, chain.calls)
}

func TestPrice_AllEndpointsDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	c := newTestClient(t, down.URL)
	_, err := c.Price(context.Background(), domain.Pair{Base: "ETH", Quote: "USDC"})
	assert.Error(t, err)
}

func TestPositions(t *testing.T) {
	srv := httptest.NewServer(newFakeChain(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	got, err := c.Positions(context.Background(), ownerAddr.Hex())
	require.NoError(t, err)
	require.Len(t, got, 1)

	r := got[0]
	assert.Equal(t, domain.BoundTick, r.Kind)
	assert.Equal(t, "42", r.TokenID)
	assert.True(t, decimal.NewFromInt(-201000).Equal(r.Lower))
	assert.True(t, decimal.NewFromInt(-199000).Equal(r.Upper))
	assert.True(t, r.BaseAmount.IsPositive())
	assert.True(t, r.QuoteAmount.IsPositive())
}

func TestPositions_PinnedTokenID(t *testing.T) {
	srv := httptest.NewServer(newFakeChain(t))
	defer srv.Close()

	c, err := New(Config{
		RPCURLs:         []string{srv.URL},
		Pool:            poolAddr.Hex(),
		PositionManager: npmAddr.Hex(),
		TokenID:         "7",
		BaseIsToken0:    true,
	}, testLogger())
	require.NoError(t, err)
	defer c.Close()

	got, err := c.Positions(context.Background(), "not-an-address")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].TokenID)
}

func TestPositions_InvalidOwner(t *testing.T) {
	srv := httptest.NewServer(newFakeChain(t))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Positions(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestQuoteExactInput(t *testing.T) {
	srv := httptest.NewServer(newFakeChain(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	out, err := c.QuoteExactInput(context.Background(), domain.AssetBase, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(2000).Equal(out), out.String())

	_, err = c.QuoteExactInput(context.Background(), domain.AssetBase, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPoolLiquidity(t *testing.T) {
	srv := httptest.NewServer(newFakeChain(t))
	defer srv.Close()

	l, err := newTestClient(t, srv.URL).PoolLiquidity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, l.Cmp(big.NewInt(123456789)))
}
