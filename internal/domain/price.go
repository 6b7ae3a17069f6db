package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Pair identifies a base/quote asset pair, e.g. ETH/USDC.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// PricePoint is a quote of quote-asset units per base-asset unit taken at At.
type PricePoint struct {
	Pair   Pair            `json:"pair"`
	Price  decimal.Decimal `json:"price"`
	Source string          `json:"source"`
	At     time.Time       `json:"at"`
}

// PriceSource is a single upstream that can quote a pair.
type PriceSource interface {
	Name() string
	Price(ctx context.Context, pair Pair) (decimal.Decimal, error)
}
