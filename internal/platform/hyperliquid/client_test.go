package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/platform/retry"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

const testUser = "0x00000000000000000000000000000000000000aa"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVenue struct {
	t             *testing.T
	clearinghouse string
	exchangeReply string
	openOrders    string
	infoCalls     atomic.Int32
	exchangeCalls atomic.Int32
	lastExchange  ExchangeRequest
}

func (f *fakeVenue) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /info", func(w http.ResponseWriter, r *http.Request) {
		f.infoCalls.Add(1)
		var req InfoRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Type {
		case "openOrders":
			_, _ = w.Write([]byte(f.openOrders))
		case "allMids":
			_, _ = w.Write([]byte(`{"BTC":"65000.0","ETH":"2000.5"}`))
		case "clearinghouseState":
			_, _ = w.Write([]byte(f.clearinghouse))
		case "metaAndAssetCtxs":
			_, _ = w.Write([]byte(`[{"universe":[{"name":"BTC","szDecimals":5},{"name":"ETH","szDecimals":4}]},
				[{"markPx":"65000","midPx":"65000.5"},{"markPx":"2000","midPx":"2000"}]]`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("POST /exchange", func(w http.ResponseWriter, r *http.Request) {
		f.exchangeCalls.Add(1)
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastExchange))
		_, _ = w.Write([]byte(f.exchangeReply))
	})
	return mux
}

func newTestClient(t *testing.T, venue *fakeVenue, dryRun bool) *Client {
	t.Helper()
	srv := httptest.NewServer(venue.handler())
	t.Cleanup(srv.Close)

	signer, err := NewPrivateKeySigner(testKey)
	require.NoError(t, err)
	c, err := NewClient(ClientConfig{
		InfoURL:     srv.URL + "/info",
		ExchangeURL: srv.URL + "/exchange",
		Coin:        "WETH",
		Signer:      signer,
		DryRun:      dryRun,
	}, testLogger())
	require.NoError(t, err)
	c.policy = retry.Policy{Attempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	c.clock = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return c
}

func TestPrivateKeySigner(t *testing.T) {
	s, err := NewPrivateKeySigner("0x" + testKey)
	require.NoError(t, err)

	digest := crypto.Keccak256([]byte("hedge"))
	sig, err := s.Sign(digest)
	require.NoError(t, err)
	assert.Contains(t, []int{27, 28}, sig.V)

	raw := append(append(hexutil.MustDecode(sig.R), hexutil.MustDecode(sig.S)...), byte(sig.V-27))
	pub, err := crypto.SigToPub(digest, raw)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), crypto.PubkeyToAddress(*pub).Hex())

	_, err = s.Sign([]byte("short"))
	assert.Error(t, err)

	_, err = NewPrivateKeySigner("  ")
	assert.Error(t, err)
}

func TestActionDigest(t *testing.T) {
	action := Action{
		Type: "order",
		Orders: []orderPayload{{
			Asset: 1, IsBuy: true, LimitPx: "2010", Sz: "0.5",
			OrderType: orderTypePayload{Limit: &limitOrderPayload{TIF: "Ioc"}},
		}},
		Grouping: "na",
	}
	a, err := actionDigest(action, 1, "", true)
	require.NoError(t, err)
	b, err := actionDigest(action, 1, "", true)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	testnet, err := actionDigest(action, 1, "", false)
	require.NoError(t, err)
	assert.NotEqual(t, a, testnet)

	later, err := actionDigest(action, 2, "", true)
	require.NoError(t, err)
	assert.NotEqual(t, a, later)

	_, err = actionDigest(action, 0, "", true)
	assert.Error(t, err)
	_, err = actionDigest(action, 1, "bad-vault", true)
	assert.Error(t, err)
}

func TestPrice(t *testing.T) {
	c := newTestClient(t, &fakeVenue{t: t}, true)
	assert.Equal(t, "ETH", c.Coin())

	mid, err := c.Price(context.Background(), domain.Pair{Base: "ETH", Quote: "USDC"})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2000.5").Equal(mid))
}

func TestHedgePosition(t *testing.T) {
	venue := &fakeVenue{t: t, clearinghouse: `{
		"assetPositions":[
			{"type":"oneWay","position":{"coin":"BTC","szi":"0.1","marginUsed":"500","leverage":{"type":"cross","value":10}}},
			{"type":"oneWay","position":{"coin":"ETH","szi":"-1.5","marginUsed":"600.25","leverage":{"type":"cross","value":5}}}
		],
		"marginSummary":{"accountValue":"1000","totalMarginUsed":"600.25"},
		"withdrawable":"399.75"}`}
	c := newTestClient(t, venue, true)

	h, err := c.HedgePosition(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.5").Equal(h.Size))
	assert.True(t, decimal.RequireFromString("600.25").Equal(h.Margin))
	assert.True(t, decimal.NewFromInt(5).Equal(h.Leverage))

	free, err := c.FreeCollateral(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("399.75").Equal(free))
}

func TestHedgePosition_None(t *testing.T) {
	venue := &fakeVenue{t: t, clearinghouse: `{"assetPositions":[],"withdrawable":"0"}`}
	c := newTestClient(t, venue, true)

	h, err := c.HedgePosition(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, h.Size.IsZero())

	_, err = c.HedgePosition(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAssetInfo(t *testing.T) {
	c := newTestClient(t, &fakeVenue{t: t}, true)

	info, err := c.AssetInfo(context.Background(), "eth")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Index)
	assert.Equal(t, int32(4), info.SzDecimals)
	assert.True(t, decimal.NewFromInt(2000).Equal(info.MidPx))

	_, err = c.AssetInfo(context.Background(), "DOGE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketOrder_DryRun(t *testing.T) {
	venue := &fakeVenue{t: t}
	c := newTestClient(t, venue, true)

	res, err := c.MarketOrder(context.Background(), false, decimal.RequireFromString("1.234567"))
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.True(t, decimal.RequireFromString("1.2345").Equal(res.Size))
	assert.True(t, decimal.NewFromInt(1990).Equal(res.LimitPx), res.LimitPx.String())
	assert.Zero(t, venue.exchangeCalls.Load())
}

func TestMarketOrder_Live(t *testing.T) {
	venue := &fakeVenue{t: t, exchangeReply: `{"status":"ok","response":{"type":"order","data":{"statuses":[
		{"filled":{"totalSz":"0.5","avgPx":"2001.2","oid":77}}]}}}`}
	c := newTestClient(t, venue, false)

	res, err := c.MarketOrder(context.Background(), true, decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.False(t, res.DryRun)
	assert.Equal(t, int64(77), res.OrderID)
	assert.True(t, decimal.RequireFromString("0.5").Equal(res.FilledSize))

	sent := venue.lastExchange
	assert.Equal(t, int64(1_700_000_000_000), sent.Nonce)
	require.Len(t, sent.Action.Orders, 1)
	o := sent.Action.Orders[0]
	assert.Equal(t, 1, o.Asset)
	assert.True(t, o.IsBuy)
	assert.Equal(t, "2010", o.LimitPx)
	assert.Equal(t, "0.5", o.Sz)
	assert.Equal(t, "Ioc", o.OrderType.Limit.TIF)
	assert.NotEmpty(t, sent.Signature.R)
}

func TestMarketOrder_Rejected(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{name: "status error", reply: `{"status":"ok","response":{"type":"order","data":{"statuses":[{"error":"Insufficient margin"}]}}}`},
		{name: "exchange error", reply: `{"status":"err","response":"User or API Wallet does not exist."}`},
		{name: "no statuses", reply: `{"status":"ok","response":{"type":"order","data":{"statuses":[]}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			venue := &fakeVenue{t: t, exchangeReply: tt.reply}
			c := newTestClient(t, venue, false)
			_, err := c.MarketOrder(context.Background(), true, decimal.RequireFromString("0.5"))
			assert.Error(t, err)
			assert.Equal(t, int32(1), venue.exchangeCalls.Load())
		})
	}
}

func TestMarketOrder_InvalidSize(t *testing.T) {
	c := newTestClient(t, &fakeVenue{t: t}, true)

	_, err := c.MarketOrder(context.Background(), true, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = c.MarketOrder(context.Background(), true, decimal.RequireFromString("0.00001"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRoundPrice(t *testing.T) {
	tests := []struct {
		px         string
		szDecimals int32
		want       string
	}{
		{px: "2010.05", szDecimals: 4, want: "2010.1"},
		{px: "65325.5", szDecimals: 5, want: "65326"},
		{px: "0.123456789", szDecimals: 0, want: "0.12346"},
		{px: "1.23456", szDecimals: 4, want: "1.23"},
	}
	for _, tt := range tests {
		t.Run(tt.px, func(t *testing.T) {
			got := roundPrice(decimal.RequireFromString(tt.px), tt.szDecimals)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestOpenOrdersAndPendingHedge(t *testing.T) {
	venue := &fakeVenue{t: t, openOrders: `[
		{"coin":"ETH","side":"A","limitPx":"2050.0","sz":"0.75","oid":11,"timestamp":1700000000000},
		{"coin":"ETH","side":"B","limitPx":"1950.0","sz":"0.25","oid":12,"timestamp":1700000000001},
		{"coin":"BTC","side":"A","limitPx":"70000","sz":"0.1","oid":13,"timestamp":1700000000002}
	]`}
	c := newTestClient(t, venue, true)

	orders, err := c.OpenOrders(context.Background(), testUser)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.False(t, orders[0].IsBuy())
	assert.True(t, orders[1].IsBuy())
	assert.Equal(t, int64(12), orders[1].Oid)

	pending, err := c.PendingHedge(context.Background())
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.5").Equal(pending), pending.String())

	_, err = c.OpenOrders(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestClient_SpacesCallsByRateLimit(t *testing.T) {
	venue := &fakeVenue{t: t}
	c := newTestClient(t, venue, true)
	c.local = newIntervalLimiter(100 * time.Millisecond)

	start := time.Now()
	_, err := c.Price(context.Background(), domain.Pair{})
	require.NoError(t, err)
	_, err = c.Price(context.Background(), domain.Pair{})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, int32(2), venue.infoCalls.Load())
}

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Wait(context.Context) error {
	l.calls.Add(1)
	return l.err
}

func TestClient_SharedLimiterPacesInfoAndExchange(t *testing.T) {
	venue := &fakeVenue{t: t, exchangeReply: `{"status":"ok","response":{"type":"order","data":{"statuses":[
		{"filled":{"totalSz":"0.5","avgPx":"2001.2","oid":77}}]}}}`}
	c := newTestClient(t, venue, false)
	shared := &countingLimiter{}
	c.limiter = shared

	_, err := c.MarketOrder(context.Background(), true, decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	// metaAndAssetCtxs then the order itself.
	assert.Equal(t, int32(2), shared.calls.Load())
	assert.Equal(t, int32(1), venue.exchangeCalls.Load())
}

func TestClient_FallsBackToLocalPacing(t *testing.T) {
	venue := &fakeVenue{t: t}
	c := newTestClient(t, venue, true)
	c.limiter = &countingLimiter{err: errors.New("redis down")}
	c.local = newIntervalLimiter(50 * time.Millisecond)

	start := time.Now()
	for range 2 {
		_, err := c.Price(context.Background(), domain.Pair{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestIntervalLimiter_Cancelled(t *testing.T) {
	l := newIntervalLimiter(time.Hour)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}
