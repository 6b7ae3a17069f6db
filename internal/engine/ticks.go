package engine

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// tickBase is the per-tick price ratio of Uniswap v3 pools.
const tickBase = 1.0001

// priceScale bounds the number of decimal places kept for converted prices.
const priceScale = 10

// q96 is 2^96, the fixed-point scale of sqrtPriceX96.
var q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// TokenPair describes how a pool's token0/token1 map onto the base/quote
// pair.
type TokenPair struct {
	Decimals0    int32
	Decimals1    int32
	BaseIsToken0 bool
}

// TickToPrice converts a pool tick to a quote-per-base price.
func TickToPrice(tick int64, tp TokenPair) decimal.Decimal {
	raw := decimal.NewFromFloat(math.Pow(tickBase, float64(tick)))
	p := raw.Shift(tp.Decimals0 - tp.Decimals1)
	if !tp.BaseIsToken0 {
		if p.IsZero() {
			return decimal.Zero
		}
		p = one.DivRound(p, 18)
	}
	return p.Round(priceScale)
}

// PriceFromSqrtX96 converts a slot0 sqrtPriceX96 to a quote-per-base price.
func PriceFromSqrtX96(sqrtPriceX96 *big.Int, tp TokenPair) (decimal.Decimal, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("engine: sqrt price must be > 0: %w", domain.ErrInvalidInput)
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), q96)
	ratio.Mul(ratio, ratio)
	p, err := decimal.NewFromString(ratio.Text('f', 30))
	if err != nil {
		return decimal.Zero, fmt.Errorf("engine: parse sqrt price: %w", err)
	}
	p = p.Shift(tp.Decimals0 - tp.Decimals1)
	if !tp.BaseIsToken0 {
		if p.IsZero() {
			return decimal.Zero, fmt.Errorf("engine: price underflow: %w", domain.ErrInvalidInput)
		}
		p = one.DivRound(p, 18)
	}
	return p.Round(priceScale), nil
}

// NormalizeRange converts a range reported by an external source into price
// space. Tick bounds must be integral; when the base asset is token1 the
// bounds are inverted and swapped so that Lower < Upper still holds.
func NormalizeRange(raw domain.RawRange, tp TokenPair) (domain.LiquidityRange, error) {
	out := domain.LiquidityRange{
		Lower:       raw.Lower,
		Upper:       raw.Upper,
		BaseAmount:  raw.BaseAmount,
		QuoteAmount: raw.QuoteAmount,
		TokenID:     raw.TokenID,
		Liquidity:   raw.Liquidity,
	}
	if raw.Kind == domain.BoundTick {
		if !raw.Lower.IsInteger() || !raw.Upper.IsInteger() {
			return domain.LiquidityRange{}, fmt.Errorf("engine: tick bounds must be integers (%s, %s): %w", raw.Lower, raw.Upper, domain.ErrInvalidInput)
		}
		lower := TickToPrice(raw.Lower.IntPart(), tp)
		upper := TickToPrice(raw.Upper.IntPart(), tp)
		if lower.GreaterThan(upper) {
			lower, upper = upper, lower
		}
		out.Lower, out.Upper = lower, upper
	}
	if !out.Valid() {
		return domain.LiquidityRange{}, fmt.Errorf("engine: normalized range [%s, %s] is invalid: %w", out.Lower, out.Upper, domain.ErrInvalidInput)
	}
	return out, nil
}

// AmountsForLiquidity returns the raw token0/token1 reserves held by a
// position of the given liquidity between tickLower and tickUpper at the
// current pool sqrt price.
func AmountsForLiquidity(liquidity, sqrtPriceX96 *big.Int, tickLower, tickUpper int64) (amount0, amount1 *big.Float) {
	amount0, amount1 = new(big.Float), new(big.Float)
	if liquidity == nil || liquidity.Sign() <= 0 || sqrtPriceX96 == nil || tickLower >= tickUpper {
		return amount0, amount1
	}
	l := new(big.Float).SetInt(liquidity)
	sp := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), q96)
	sa := big.NewFloat(math.Pow(tickBase, float64(tickLower)/2))
	sb := big.NewFloat(math.Pow(tickBase, float64(tickUpper)/2))

	switch {
	case sp.Cmp(sa) <= 0:
		amount0 = liquidity0(l, sa, sb)
	case sp.Cmp(sb) < 0:
		amount0 = liquidity0(l, sp, sb)
		amount1 = new(big.Float).Mul(l, new(big.Float).Sub(sp, sa))
	default:
		amount1 = new(big.Float).Mul(l, new(big.Float).Sub(sb, sa))
	}
	return amount0, amount1
}

// liquidity0 is L * (b - a) / (a * b).
func liquidity0(l, a, b *big.Float) *big.Float {
	num := new(big.Float).Mul(l, new(big.Float).Sub(b, a))
	return num.Quo(num, new(big.Float).Mul(a, b))
}

// ScaleAmount converts a raw token amount into whole units.
func ScaleAmount(raw *big.Float, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw.Text('f', 0))
	if err != nil {
		return decimal.Zero
	}
	return d.Shift(-decimals)
}
