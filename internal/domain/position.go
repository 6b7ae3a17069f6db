package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// LiquidityRange is a single concentrated-liquidity position expressed in
// price space.
type LiquidityRange struct {
	Lower       decimal.Decimal `json:"lower"`
	Upper       decimal.Decimal `json:"upper"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`

	// TokenID and Liquidity are set when the range was read from chain.
	TokenID   string `json:"token_id,omitempty"`
	Liquidity string `json:"liquidity,omitempty"`
}

// Center returns the midpoint of the range bounds.
func (r LiquidityRange) Center() decimal.Decimal {
	return r.Lower.Add(r.Upper).Div(two)
}

// Contains reports whether price lies within [Lower, Upper].
func (r LiquidityRange) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(r.Lower) && price.LessThanOrEqual(r.Upper)
}

// Value marks the range reserves to quote units at price.
func (r LiquidityRange) Value(price decimal.Decimal) decimal.Decimal {
	return r.BaseAmount.Mul(price).Add(r.QuoteAmount)
}

// Valid reports whether the range satisfies lower < upper and non-negative
// reserves.
func (r LiquidityRange) Valid() bool {
	return r.Lower.LessThan(r.Upper) && !r.BaseAmount.IsNegative() && !r.QuoteAmount.IsNegative()
}

// BoundKind tells whether raw bounds are prices or integer ticks.
type BoundKind int

const (
	BoundPrice BoundKind = iota
	BoundTick
)

func (k BoundKind) String() string {
	if k == BoundTick {
		return "tick"
	}
	return "price"
}

// RawRange is a range as reported by an external source, before tick
// normalization.
type RawRange struct {
	Lower       decimal.Decimal
	Upper       decimal.Decimal
	Kind        BoundKind
	BaseAmount  decimal.Decimal
	QuoteAmount decimal.Decimal
	TokenID     string
	Liquidity   string
}

// HedgePosition is the derivatives-venue position offsetting LP exposure.
// Size is the base quantity that offsets long LP exposure; a venue short of
// 1.5 ETH is Size 1.5.
type HedgePosition struct {
	Size     decimal.Decimal `json:"size"`
	Margin   decimal.Decimal `json:"margin"`
	Leverage decimal.Decimal `json:"leverage"`
}

// WalletState is the simulated wallet ledger.
type WalletState struct {
	BaseBalance  decimal.Decimal `json:"base_balance"`
	QuoteBalance decimal.Decimal `json:"quote_balance"`
	Position     *LiquidityRange `json:"position,omitempty"`
	Hedge        *HedgePosition  `json:"hedge,omitempty"`
}

// LPReader returns the owner's liquidity range, or nil when none exists.
type LPReader interface {
	LPPosition(ctx context.Context, owner string) (*LiquidityRange, error)
}

// HedgeReader returns the owner's hedge; the zero value means no hedge.
type HedgeReader interface {
	HedgePosition(ctx context.Context, owner string) (HedgePosition, error)
}
