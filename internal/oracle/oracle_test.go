package oracle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

var ethUSDC = domain.Pair{Base: "ETH", Quote: "USDC"}

type stubSource struct {
	name  string
	price decimal.Decimal
	err   error
	delay time.Duration
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Price(ctx context.Context, _ domain.Pair) (decimal.Decimal, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}
	return s.price, s.err
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) SetPrice(ctx context.Context, pair string, price decimal.Decimal, source string, ts time.Time) error {
	return m.Called(ctx, pair, price, source, ts).Error(0)
}

func (m *mockCache) GetPrice(ctx context.Context, pair string) (domain.PricePoint, error) {
	args := m.Called(ctx, pair)
	return args.Get(0).(domain.PricePoint), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func TestReferencePrice_FirstSourceWins(t *testing.T) {
	a := &stubSource{name: "a", price: decimal.NewFromInt(2000)}
	b := &stubSource{name: "b", price: decimal.NewFromInt(2100)}

	o := New([]domain.PriceSource{a, b}, Config{}, nil, testLogger())
	pp, err := o.ReferencePrice(context.Background(), ethUSDC)
	require.NoError(t, err)

	assert.Equal(t, "a", pp.Source)
	assert.True(t, decimal.NewFromInt(2000).Equal(pp.Price))
	assert.Equal(t, 0, b.calls)
}

func TestReferencePrice_FallsThrough(t *testing.T) {
	a := &stubSource{name: "a", err: errors.New("503")}
	b := &stubSource{name: "b", price: decimal.Zero}
	c := &stubSource{name: "c", price: decimal.NewFromInt(1990)}

	o := New([]domain.PriceSource{a, b, c}, Config{}, nil, testLogger())
	pp, err := o.ReferencePrice(context.Background(), ethUSDC)
	require.NoError(t, err)
	assert.Equal(t, "c", pp.Source)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestReferencePrice_NoCachingBetweenCalls(t *testing.T) {
	a := &stubSource{name: "a", price: decimal.NewFromInt(2000)}
	o := New([]domain.PriceSource{a}, Config{}, nil, testLogger())

	for i := 0; i < 3; i++ {
		_, err := o.ReferencePrice(context.Background(), ethUSDC)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, a.calls)
}

func TestReferencePrice_Fallback(t *testing.T) {
	a := &stubSource{name: "a", err: errors.New("down")}

	o := New([]domain.PriceSource{a}, Config{Fallback: decimal.NewFromInt(1800)}, nil, testLogger())
	pp, err := o.ReferencePrice(context.Background(), ethUSDC)
	require.NoError(t, err)
	assert.Equal(t, FallbackSource, pp.Source)
	assert.True(t, decimal.NewFromInt(1800).Equal(pp.Price))
}

func TestReferencePrice_Unavailable(t *testing.T) {
	a := &stubSource{name: "a", err: errors.New("down")}

	o := New([]domain.PriceSource{a}, Config{}, nil, testLogger())
	_, err := o.ReferencePrice(context.Background(), ethUSDC)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)

	empty := New(nil, Config{}, nil, testLogger())
	_, err = empty.ReferencePrice(context.Background(), ethUSDC)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestReferencePrice_SourceTimeout(t *testing.T) {
	slow := &stubSource{name: "slow", price: decimal.NewFromInt(1), delay: time.Second}
	fast := &stubSource{name: "fast", price: decimal.NewFromInt(2000)}

	o := New([]domain.PriceSource{slow, fast}, Config{SourceTimeout: 20 * time.Millisecond}, nil, testLogger())
	start := time.Now()
	pp, err := o.ReferencePrice(context.Background(), ethUSDC)
	require.NoError(t, err)
	assert.Equal(t, "fast", pp.Source)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestNew_TimeoutCapped(t *testing.T) {
	o := New(nil, Config{SourceTimeout: time.Minute}, nil, testLogger())
	assert.Equal(t, MaxSourceTimeout, o.timeout)
}

func TestReferencePrice_WritesSinkAndIgnoresErrors(t *testing.T) {
	cache := new(mockCache)
	cache.On("SetPrice", mock.Anything, "ETH/USDC", mock.Anything, "a", mock.Anything).Return(errors.New("redis down"))
	a := &stubSource{name: "a", price: decimal.NewFromInt(2000)}

	o := New([]domain.PriceSource{a}, Config{}, cache, testLogger())
	_, err := o.ReferencePrice(context.Background(), ethUSDC)
	require.NoError(t, err)
	cache.AssertExpectations(t)
}
