package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/engine"
	"github.com/alanyoungcy/hedgebot/internal/notify"
	"github.com/alanyoungcy/hedgebot/internal/position"
	"github.com/alanyoungcy/hedgebot/internal/wallet"
)

var ethUSDC = domain.Pair{Base: "ETH", Quote: "USDC"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type stubOracle struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
}

func (o *stubOracle) ReferencePrice(_ context.Context, pair domain.Pair) (domain.PricePoint, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return domain.PricePoint{}, o.err
	}
	return domain.PricePoint{Pair: pair, Price: o.price, Source: "stub", At: time.Now()}, nil
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, event, title, message string) {
	m.Called(ctx, event, title, message)
}

type failingApplier struct {
	err   error
	calls int
}

func (f *failingApplier) Apply(context.Context, ApplyInput) ([]string, error) {
	f.calls++
	return []string{"partial"}, f.err
}

type memCycles struct {
	mu      sync.Mutex
	reports []domain.CycleReport
}

func (m *memCycles) Insert(_ context.Context, r domain.CycleReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func (m *memCycles) ListRecent(context.Context, string, domain.ListOpts) ([]domain.CycleReport, error) {
	return nil, nil
}

type memBroadcaster struct {
	mu       sync.Mutex
	channels []string
}

func (m *memBroadcaster) Broadcast(channel string, _ []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, channel)
}

type stubLocks struct {
	acquireErr error
	acquired   int
	released   int
}

func (l *stubLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.acquireErr != nil {
		return nil, l.acquireErr
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func (l *stubLocks) Extend(context.Context, string, time.Duration) error {
	return nil
}

type simHarness struct {
	svc      *CycleService
	wallet   *wallet.Simulator
	oracle   *stubOracle
	notifier *mockNotifier
	cycles   *memCycles
	hub      *memBroadcaster
}

func newSimHarness(t *testing.T, applier Applier) *simHarness {
	t.Helper()
	w := wallet.NewSimulator(ethUSDC, decimal.Zero, dec("10000"), nil, testLogger())
	sim := position.NewSimulated(w)
	h := &simHarness{
		wallet:   w,
		oracle:   &stubOracle{price: dec("2000")},
		notifier: &mockNotifier{},
		cycles:   &memCycles{},
		hub:      &memBroadcaster{},
	}
	if applier == nil {
		applier = NewSimulatedApplier(w)
	}
	svc, err := NewCycleService(CycleConfig{
		Mode:     "simulate",
		Owner:    "0xowner",
		Pair:     ethUSDC,
		Interval: time.Hour,
		Engine:   engine.DefaultConfig(),
	}, CycleDeps{
		Oracle: h.oracle,
		LP:     sim,
		Hedge:  sim,
		Collateral: CollateralFunc(func(context.Context, string) (decimal.Decimal, error) {
			return w.FreeQuote(), nil
		}),
		Applier:     applier,
		Notifier:    h.notifier,
		Wallet:      w,
		Cycles:      h.cycles,
		Broadcaster: h.hub,
	}, testLogger())
	require.NoError(t, err)
	h.svc = svc
	return h
}

func TestRunOnce_SimulatedCreatesRangeAndHedge(t *testing.T) {
	h := newSimHarness(t, nil)
	h.notifier.On("Notify", mock.Anything, notify.EventDecision, mock.Anything, mock.Anything).Once()
	h.notifier.On("Notify", mock.Anything, notify.EventApplied, mock.Anything, mock.Anything).Once()

	report, err := h.svc.RunOnce(context.Background())
	require.NoError(t, err)
	h.notifier.AssertExpectations(t)

	require.Len(t, report.Decisions, 2)
	assert.Equal(t, domain.KindCreateRange, report.Decisions[0].Kind)
	assert.Equal(t, domain.KindAdjustHedge, report.Decisions[1].Kind)
	assert.Len(t, report.Applied, 3)
	assert.Empty(t, report.Errors)
	assert.False(t, report.Skipped())

	snap := h.wallet.Snapshot()
	require.NotNil(t, snap.Position)
	assert.True(t, dec("1900").Equal(snap.Position.Lower))
	assert.True(t, dec("2100").Equal(snap.Position.Upper))
	assert.True(t, dec("1.25").Equal(snap.Position.BaseAmount))
	assert.True(t, dec("2500").Equal(snap.Position.QuoteAmount))
	require.NotNil(t, snap.Hedge)
	assert.True(t, dec("1.25").Equal(snap.Hedge.Size))
	assert.True(t, dec("4500").Equal(snap.QuoteBalance))

	require.NotNil(t, report.Wallet)
	assert.Len(t, h.cycles.reports, 1)
	assert.Equal(t, []string{ChannelCycles}, h.hub.channels)

	last, ok := h.svc.Last()
	require.True(t, ok)
	assert.Equal(t, report.ID, last.ID)
}

func TestRunOnce_SteadyStateTakesNoAction(t *testing.T) {
	h := newSimHarness(t, nil)
	h.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	_, err := h.svc.RunOnce(context.Background())
	require.NoError(t, err)

	report, err := h.svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Decisions.Empty())
	assert.Empty(t, report.Applied)
	h.notifier.AssertNumberOfCalls(t, "Notify", 2)
}

func TestRunOnce_RepositionAfterBreach(t *testing.T) {
	h := newSimHarness(t, nil)
	h.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	_, err := h.svc.RunOnce(context.Background())
	require.NoError(t, err)

	h.oracle.price = dec("2200")
	report, err := h.svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, report.Decisions.Has(domain.KindReposition))

	snap := h.wallet.Snapshot()
	require.NotNil(t, snap.Position)
	assert.True(t, dec("2090").Equal(snap.Position.Lower))
	assert.True(t, dec("2310").Equal(snap.Position.Upper))
}

func TestRunOnce_PriceUnavailableSkipsCycle(t *testing.T) {
	applier := &failingApplier{}
	h := newSimHarness(t, applier)
	h.oracle.err = fmt.Errorf("oracle: all sources failed: %w", domain.ErrPriceUnavailable)
	h.notifier.On("Notify", mock.Anything, notify.EventPriceUnavailable, mock.Anything, mock.Anything).Once()

	report, err := h.svc.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
	h.notifier.AssertExpectations(t)

	assert.True(t, report.Skipped())
	assert.Zero(t, applier.calls)
	assert.Len(t, report.Errors, 1)
	assert.Len(t, h.cycles.reports, 1)
}

func TestRunOnce_ApplyFailureIsRecorded(t *testing.T) {
	applier := &failingApplier{err: domain.ErrInsufficientBalance}
	h := newSimHarness(t, applier)
	h.notifier.On("Notify", mock.Anything, notify.EventDecision, mock.Anything, mock.Anything).Once()
	h.notifier.On("Notify", mock.Anything, notify.EventApplied, mock.Anything, mock.Anything).Once()
	h.notifier.On("Notify", mock.Anything, notify.EventCycleError, mock.Anything, mock.Anything).Once()

	report, err := h.svc.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	h.notifier.AssertExpectations(t)
	assert.Equal(t, []string{"partial"}, report.Applied)
	assert.Len(t, report.Errors, 1)
}

func TestRun_LockHeldIsFatal(t *testing.T) {
	h := newSimHarness(t, nil)
	h.svc.deps.Locks = &stubLocks{acquireErr: domain.ErrLockHeld}

	err := h.svc.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	_, err = h.svc.Once(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestRun_CyclesUntilCancelled(t *testing.T) {
	h := newSimHarness(t, nil)
	locks := &stubLocks{}
	h.svc.deps.Locks = locks
	h.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, ok := h.svc.Last()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, locks.acquired)
	assert.Equal(t, 1, locks.released)
}

func TestNewCycleService_Validation(t *testing.T) {
	_, err := NewCycleService(CycleConfig{Interval: time.Second, Engine: engine.DefaultConfig()}, CycleDeps{}, testLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewCycleService(CycleConfig{Engine: engine.DefaultConfig()}, CycleDeps{}, testLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
