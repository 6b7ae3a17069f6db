package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/notify"
	"github.com/alanyoungcy/hedgebot/internal/platform/hyperliquid"
	"github.com/alanyoungcy/hedgebot/internal/wallet"
)

type mockVenue struct {
	mock.Mock
}

func (m *mockVenue) MarketOrder(ctx context.Context, isBuy bool, size decimal.Decimal) (hyperliquid.OrderResult, error) {
	args := m.Called(ctx, isBuy, size)
	return args.Get(0).(hyperliquid.OrderResult), args.Error(1)
}

type restingVenue struct {
	mockVenue
}

func (m *restingVenue) PendingHedge(ctx context.Context) (decimal.Decimal, error) {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type mockQuoter struct {
	mock.Mock
}

func (m *mockQuoter) QuoteExactInput(ctx context.Context, from domain.Asset, amountIn decimal.Decimal) (decimal.Decimal, error) {
	args := m.Called(ctx, from, amountIn)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func decEq(want string) any {
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(dec(want)) })
}

func TestLiveApplier_GrowingHedgeSells(t *testing.T) {
	venue := &mockVenue{}
	venue.On("MarketOrder", mock.Anything, false, decEq("0.5")).Return(hyperliquid.OrderResult{
		Coin: "ETH", IsBuy: false, Size: dec("0.5"), LimitPx: dec("1990"),
		FilledSize: dec("0.5"), AvgPx: dec("1999.5"),
	}, nil).Once()

	a := NewLiveApplier(venue, nil, &mockNotifier{}, testLogger())
	applied, err := a.Apply(context.Background(), ApplyInput{
		Price: dec("2000"),
		Hedge: domain.HedgePosition{Size: dec("1")},
		Decisions: domain.DecisionSet{
			{Kind: domain.KindAdjustHedge, HedgeSize: dec("1.5")},
		},
	})
	require.NoError(t, err)
	venue.AssertExpectations(t)
	require.Len(t, applied, 1)
	assert.Equal(t, "hedge sell 0.5 ETH limit 1990 filled 0.5 @ 1999.5", applied[0])
}

func TestLiveApplier_ShrinkingHedgeBuys(t *testing.T) {
	venue := &mockVenue{}
	venue.On("MarketOrder", mock.Anything, true, decEq("0.25")).Return(hyperliquid.OrderResult{
		Coin: "ETH", IsBuy: true, Size: dec("0.25"), LimitPx: dec("2010"), DryRun: true,
	}, nil).Once()

	a := NewLiveApplier(venue, nil, &mockNotifier{}, testLogger())
	applied, err := a.Apply(context.Background(), ApplyInput{
		Price:     dec("2000"),
		Hedge:     domain.HedgePosition{Size: dec("1")},
		Decisions: domain.DecisionSet{{Kind: domain.KindAdjustHedge, HedgeSize: dec("0.75")}},
	})
	require.NoError(t, err)
	venue.AssertExpectations(t)
	assert.Equal(t, []string{"hedge buy 0.25 ETH limit 2010 (dry run)"}, applied)
}

func TestLiveApplier_OrderFailure(t *testing.T) {
	venue := &mockVenue{}
	venue.On("MarketOrder", mock.Anything, false, mock.Anything).
		Return(hyperliquid.OrderResult{}, errors.New("rejected")).Once()

	a := NewLiveApplier(venue, nil, &mockNotifier{}, testLogger())
	applied, err := a.Apply(context.Background(), ApplyInput{
		Decisions: domain.DecisionSet{{Kind: domain.KindAdjustHedge, HedgeSize: dec("1")}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hedge order")
	assert.Empty(t, applied)
}

func TestLiveApplier_RestingOrders(t *testing.T) {
	hedge := domain.HedgePosition{Size: dec("1")}
	grow := domain.DecisionSet{{Kind: domain.KindAdjustHedge, HedgeSize: dec("1.5")}}

	t.Run("fully covered", func(t *testing.T) {
		venue := &restingVenue{}
		venue.On("PendingHedge", mock.Anything).Return(dec("0.5"), nil).Once()

		a := NewLiveApplier(venue, nil, &mockNotifier{}, testLogger())
		applied, err := a.Apply(context.Background(), ApplyInput{Price: dec("2000"), Hedge: hedge, Decisions: grow})
		require.NoError(t, err)
		venue.AssertNotCalled(t, "MarketOrder", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, []string{"hedge covered by resting orders (pending 0.5, needed 0.5)"}, applied)
	})

	t.Run("partially covered orders the remainder", func(t *testing.T) {
		venue := &restingVenue{}
		venue.On("PendingHedge", mock.Anything).Return(dec("0.2"), nil).Once()
		venue.On("MarketOrder", mock.Anything, false, decEq("0.3")).Return(hyperliquid.OrderResult{
			Coin: "ETH", Size: dec("0.3"), LimitPx: dec("1990"), DryRun: true,
		}, nil).Once()

		a := NewLiveApplier(venue, nil, &mockNotifier{}, testLogger())
		applied, err := a.Apply(context.Background(), ApplyInput{Price: dec("2000"), Hedge: hedge, Decisions: grow})
		require.NoError(t, err)
		venue.AssertExpectations(t)
		assert.Equal(t, []string{"hedge sell 0.3 ETH limit 1990 (dry run)"}, applied)
	})

	t.Run("opposite side is ignored", func(t *testing.T) {
		venue := &restingVenue{}
		venue.On("PendingHedge", mock.Anything).Return(dec("-0.4"), nil).Once()
		venue.On("MarketOrder", mock.Anything, false, decEq("0.5")).Return(hyperliquid.OrderResult{
			Coin: "ETH", Size: dec("0.5"), LimitPx: dec("1990"), DryRun: true,
		}, nil).Once()

		a := NewLiveApplier(venue, nil, &mockNotifier{}, testLogger())
		_, err := a.Apply(context.Background(), ApplyInput{Price: dec("2000"), Hedge: hedge, Decisions: grow})
		require.NoError(t, err)
		venue.AssertExpectations(t)
	})

	t.Run("lookup failure falls back to the full delta", func(t *testing.T) {
		venue := &restingVenue{}
		venue.On("PendingHedge", mock.Anything).Return(decimal.Zero, errors.New("timeout")).Once()
		venue.On("MarketOrder", mock.Anything, false, decEq("0.5")).Return(hyperliquid.OrderResult{
			Coin: "ETH", Size: dec("0.5"), LimitPx: dec("1990"), DryRun: true,
		}, nil).Once()

		a := NewLiveApplier(venue, nil, &mockNotifier{}, testLogger())
		_, err := a.Apply(context.Background(), ApplyInput{Price: dec("2000"), Hedge: hedge, Decisions: grow})
		require.NoError(t, err)
		venue.AssertExpectations(t)
	})
}

func TestLiveApplier_RangeChangeIsManualAndDefersHedge(t *testing.T) {
	venue := &mockVenue{}
	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, notify.EventDecision, "Manual action required", mock.Anything).Once()

	a := NewLiveApplier(venue, nil, notifier, testLogger())
	applied, err := a.Apply(context.Background(), ApplyInput{
		Price: dec("2000"),
		Decisions: domain.DecisionSet{
			{Kind: domain.KindCreateRange, Lower: dec("1900"), Upper: dec("2100"), BaseAmount: dec("1"), QuoteAmount: dec("2000")},
			{Kind: domain.KindAdjustHedge, HedgeSize: dec("1")},
		},
	})
	require.NoError(t, err)
	notifier.AssertExpectations(t)
	venue.AssertNotCalled(t, "MarketOrder", mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, applied, 2)
	assert.Contains(t, applied[0], "manual: create range [1900.00, 2100.00]")
	assert.Contains(t, applied[1], "deferred")
}

func TestLiveApplier_SwapPreview(t *testing.T) {
	quoter := &mockQuoter{}
	quoter.On("QuoteExactInput", mock.Anything, domain.AssetBase, decEq("1")).Return(dec("1995.5"), nil).Once()
	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, notify.EventDecision, mock.Anything, mock.Anything)

	a := NewLiveApplier(&mockVenue{}, quoter, notifier, testLogger())
	applied, err := a.Apply(context.Background(), ApplyInput{
		Price: dec("1800"),
		Decisions: domain.DecisionSet{
			{Kind: domain.KindExitRange, Reason: "price below lower bound beyond breach margin"},
			{Kind: domain.KindSwap, Swap: &domain.Swap{From: domain.AssetBase, To: domain.AssetQuote, AmountIn: dec("1")}},
		},
	})
	require.NoError(t, err)
	quoter.AssertExpectations(t)
	require.Len(t, applied, 2)
	assert.Equal(t, "manual: swap 1.000000 base -> quote (quoter: 1995.500000 quote out)", applied[1])
	notifier.AssertNumberOfCalls(t, "Notify", 2)
}

func TestSimulatedApplier_ExitAndSwap(t *testing.T) {
	w := wallet.NewSimulator(ethUSDC, dec("1"), dec("2000"), nil, testLogger())
	require.NoError(t, w.CreateRange(context.Background(), domain.LiquidityRange{
		Lower: dec("1900"), Upper: dec("2100"), BaseAmount: dec("1"), QuoteAmount: dec("2000"),
	}))

	a := NewSimulatedApplier(w)
	applied, err := a.Apply(context.Background(), ApplyInput{
		Price:    dec("1800"),
		Leverage: dec("5"),
		Decisions: domain.DecisionSet{
			{Kind: domain.KindExitRange, Reason: "price below lower bound beyond breach margin"},
			{Kind: domain.KindSwap, Swap: &domain.Swap{From: domain.AssetBase, To: domain.AssetQuote, AmountIn: dec("1")}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, applied, 2)

	snap := w.Snapshot()
	assert.Nil(t, snap.Position)
	assert.True(t, snap.BaseBalance.IsZero())
	assert.True(t, dec("3800").Equal(snap.QuoteBalance))
}

func TestSimulatedApplier_StopsAtFirstFailure(t *testing.T) {
	w := wallet.NewSimulator(ethUSDC, decimal.Zero, dec("100"), nil, testLogger())
	a := NewSimulatedApplier(w)
	applied, err := a.Apply(context.Background(), ApplyInput{
		Price:    dec("2000"),
		Leverage: dec("5"),
		Decisions: domain.DecisionSet{
			{Kind: domain.KindReposition, Lower: dec("1900"), Upper: dec("2100")},
			{Kind: domain.KindAdjustHedge, HedgeSize: dec("0.1")},
		},
	})
	assert.ErrorIs(t, err, domain.ErrNoActivePosition)
	assert.Empty(t, applied)
	assert.Nil(t, w.Snapshot().Hedge)

	applied, err = a.Apply(context.Background(), ApplyInput{
		Price:     dec("2000"),
		Decisions: domain.DecisionSet{{Kind: "bogus"}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, applied)
}

func TestSimulatedApplier_ClampedHedge(t *testing.T) {
	w := wallet.NewSimulator(ethUSDC, decimal.Zero, dec("100"), nil, testLogger())
	a := NewSimulatedApplier(w)
	applied, err := a.Apply(context.Background(), ApplyInput{
		Price:     dec("2000"),
		Leverage:  dec("5"),
		Decisions: domain.DecisionSet{{Kind: domain.KindAdjustHedge, HedgeSize: dec("1")}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hedge clamped to 0.2500 (requested 1.0000)"}, applied)
}

func TestMonitorApplier(t *testing.T) {
	applied, err := MonitorApplier{}.Apply(context.Background(), ApplyInput{
		Decisions: domain.DecisionSet{{Kind: domain.KindAdjustHedge, HedgeSize: dec("1")}},
	})
	require.NoError(t, err)
	assert.Nil(t, applied)
}
