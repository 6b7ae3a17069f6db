package engine

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

var sameDecimals = TokenPair{Decimals0: 6, Decimals1: 6, BaseIsToken0: true}

func TestTickToPrice(t *testing.T) {
	assertDecimal(t, d("1"), TickToPrice(0, sameDecimals), "tick 0")

	doubled, _ := TickToPrice(6932, sameDecimals).Float64()
	assert.InDelta(t, 2.0, doubled, 0.001)

	inverted := sameDecimals
	inverted.BaseIsToken0 = false
	halved, _ := TickToPrice(6932, inverted).Float64()
	assert.InDelta(t, 0.5, halved, 0.001)
}

func TestTickToPrice_WETHUSDC(t *testing.T) {
	// WETH is token0 (18 decimals), USDC token1 (6 decimals).
	tp := TokenPair{Decimals0: 18, Decimals1: 6, BaseIsToken0: true}
	p, _ := TickToPrice(-200311, tp).Float64()
	assert.InDelta(t, 2000.0, p, 1.0)
}

func TestPriceFromSqrtX96(t *testing.T) {
	q := new(big.Int).Lsh(big.NewInt(1), 96)

	p, err := PriceFromSqrtX96(q, sameDecimals)
	require.NoError(t, err)
	assertDecimal(t, d("1"), p, "unit price")

	p, err = PriceFromSqrtX96(new(big.Int).Mul(q, big.NewInt(2)), sameDecimals)
	require.NoError(t, err)
	assertDecimal(t, d("4"), p, "doubled sqrt")

	inverted := sameDecimals
	inverted.BaseIsToken0 = false
	p, err = PriceFromSqrtX96(new(big.Int).Mul(q, big.NewInt(2)), inverted)
	require.NoError(t, err)
	assertDecimal(t, d("0.25"), p, "inverted")

	_, err = PriceFromSqrtX96(big.NewInt(0), sameDecimals)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNormalizeRange(t *testing.T) {
	t.Run("price bounds pass through", func(t *testing.T) {
		raw := domain.RawRange{Lower: d("1900"), Upper: d("2100"), Kind: domain.BoundPrice, BaseAmount: d("1"), QuoteAmount: d("2000")}
		r, err := NormalizeRange(raw, sameDecimals)
		require.NoError(t, err)
		assertDecimal(t, d("1900"), r.Lower, "lower")
		assertDecimal(t, d("2100"), r.Upper, "upper")
		assertDecimal(t, d("2000"), r.QuoteAmount, "quote")
	})

	t.Run("ticks become prices", func(t *testing.T) {
		raw := domain.RawRange{Lower: d("-6932"), Upper: d("6932"), Kind: domain.BoundTick}
		r, err := NormalizeRange(raw, sameDecimals)
		require.NoError(t, err)
		lower, _ := r.Lower.Float64()
		upper, _ := r.Upper.Float64()
		assert.InDelta(t, 0.5, lower, 0.001)
		assert.InDelta(t, 2.0, upper, 0.001)
	})

	t.Run("inverted pair keeps lower below upper", func(t *testing.T) {
		tp := sameDecimals
		tp.BaseIsToken0 = false
		raw := domain.RawRange{Lower: d("-6932"), Upper: d("0"), Kind: domain.BoundTick}
		r, err := NormalizeRange(raw, tp)
		require.NoError(t, err)
		assert.True(t, r.Lower.LessThan(r.Upper))
		upper, _ := r.Upper.Float64()
		assert.InDelta(t, 2.0, upper, 0.001)
		assertDecimal(t, d("1"), r.Lower, "lower")
	})

	t.Run("fractional ticks rejected", func(t *testing.T) {
		raw := domain.RawRange{Lower: d("10.5"), Upper: d("20"), Kind: domain.BoundTick}
		_, err := NormalizeRange(raw, sameDecimals)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("empty range rejected", func(t *testing.T) {
		raw := domain.RawRange{Lower: d("2000"), Upper: d("2000"), Kind: domain.BoundPrice}
		_, err := NormalizeRange(raw, sameDecimals)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestAmountsForLiquidity(t *testing.T) {
	q := new(big.Int).Lsh(big.NewInt(1), 96)
	liquidity := big.NewInt(1_000_000_000_000)

	t.Run("in range holds both tokens", func(t *testing.T) {
		a0, a1 := AmountsForLiquidity(liquidity, q, -100, 100)
		assert.Equal(t, 1, a0.Sign())
		assert.Equal(t, 1, a1.Sign())
		f0, _ := a0.Float64()
		f1, _ := a1.Float64()
		// Price 1 sits at the middle of a symmetric range.
		assert.InEpsilon(t, f0, f1, 0.01)
	})

	t.Run("below range is all token0", func(t *testing.T) {
		a0, a1 := AmountsForLiquidity(liquidity, q, 100, 200)
		assert.Equal(t, 1, a0.Sign())
		assert.Equal(t, 0, a1.Sign())
	})

	t.Run("above range is all token1", func(t *testing.T) {
		a0, a1 := AmountsForLiquidity(liquidity, q, -200, -100)
		assert.Equal(t, 0, a0.Sign())
		assert.Equal(t, 1, a1.Sign())
	})

	t.Run("zero liquidity", func(t *testing.T) {
		a0, a1 := AmountsForLiquidity(big.NewInt(0), q, -100, 100)
		assert.Equal(t, 0, a0.Sign())
		assert.Equal(t, 0, a1.Sign())
	})
}

func TestScaleAmount(t *testing.T) {
	raw := new(big.Float).SetInt(big.NewInt(1_500_000))
	assertDecimal(t, d("1.5"), ScaleAmount(raw, 6), "usdc")
	assertDecimal(t, decimal.Zero, ScaleAmount(nil, 6), "nil")
}
