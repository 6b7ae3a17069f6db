// Package engine decides how the liquidity range and the hedge should change
// for a given price. It performs no I/O; applying a DecisionSet is the
// caller's job.
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// Strategy is the policy applied when price breaches one side of the range.
type Strategy string

const (
	// StrategyMove recenters the range and keeps its reserves.
	StrategyMove Strategy = "move"
	// StrategySwap exits the range and converts the breached leg.
	StrategySwap Strategy = "swap"
)

var (
	one = decimal.NewFromInt(1)
	two = decimal.NewFromInt(2)
)

// Config holds the tunables of the decision engine. All fractions are
// expressed as plain ratios (0.05 = 5%).
type Config struct {
	Width              decimal.Decimal
	AllocationFraction decimal.Decimal
	Leverage           decimal.Decimal
	HedgeTolerance     decimal.Decimal
	FeeRate            decimal.Decimal
	GasCostUSD         decimal.Decimal
	BreachMargin       decimal.Decimal
	UpperStrategy      Strategy
	LowerStrategy      Strategy
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Width:              decimal.RequireFromString("0.05"),
		AllocationFraction: decimal.RequireFromString("0.5"),
		Leverage:           decimal.NewFromInt(5),
		HedgeTolerance:     decimal.RequireFromString("0.01"),
		FeeRate:            decimal.RequireFromString("0.0005"),
		GasCostUSD:         decimal.NewFromInt(5),
		BreachMargin:       decimal.RequireFromString("0.02"),
		UpperStrategy:      StrategyMove,
		LowerStrategy:      StrategyMove,
	}
}

// Validate checks the configuration for values the engine cannot work with.
func (c Config) Validate() error {
	switch {
	case !c.Width.IsPositive() || c.Width.GreaterThanOrEqual(one):
		return fmt.Errorf("engine: width must be in (0, 1), got %s: %w", c.Width, domain.ErrInvalidInput)
	case !c.AllocationFraction.IsPositive() || c.AllocationFraction.GreaterThan(one):
		return fmt.Errorf("engine: allocation fraction must be in (0, 1], got %s: %w", c.AllocationFraction, domain.ErrInvalidInput)
	case !c.Leverage.IsPositive():
		return fmt.Errorf("engine: leverage must be > 0, got %s: %w", c.Leverage, domain.ErrInvalidInput)
	case c.HedgeTolerance.IsNegative(), c.FeeRate.IsNegative(), c.GasCostUSD.IsNegative(), c.BreachMargin.IsNegative():
		return fmt.Errorf("engine: tolerance, fee rate, gas cost and breach margin must be >= 0: %w", domain.ErrInvalidInput)
	}
	for _, s := range []Strategy{c.UpperStrategy, c.LowerStrategy} {
		if s != StrategyMove && s != StrategySwap {
			return fmt.Errorf("engine: unknown strategy %q: %w", s, domain.ErrInvalidInput)
		}
	}
	return nil
}

// RangeAround returns bounds centered on price with the configured
// half-width.
func RangeAround(price, width decimal.Decimal) (lower, upper decimal.Decimal) {
	return price.Mul(one.Sub(width)), price.Mul(one.Add(width))
}

// ShouldReposition reports whether the range should be moved: price has left
// the range, or the fee capture expected from recentering exceeds the gas
// cost of doing so.
func ShouldReposition(price decimal.Decimal, r domain.LiquidityRange, cfg Config) bool {
	if price.LessThan(r.Lower) || price.GreaterThan(r.Upper) {
		return true
	}
	center := r.Center()
	if !center.IsPositive() {
		return false
	}
	deviation := price.Sub(center).Abs().Div(center)
	expected := r.Value(price).Mul(cfg.FeeRate).Mul(deviation)
	return expected.GreaterThan(cfg.GasCostUSD)
}

// breach identifies which bound price has crossed.
type breach int

const (
	breachNone breach = iota
	breachUpper
	breachLower
)

func breachOf(price decimal.Decimal, r domain.LiquidityRange) breach {
	switch {
	case price.GreaterThan(r.Upper):
		return breachUpper
	case price.LessThan(r.Lower):
		return breachLower
	default:
		return breachNone
	}
}

// beyondMargin reports whether price sits further than the breach margin past
// the crossed bound.
func beyondMargin(price decimal.Decimal, r domain.LiquidityRange, b breach, margin decimal.Decimal) bool {
	switch b {
	case breachUpper:
		return price.GreaterThan(r.Upper.Mul(one.Add(margin)))
	case breachLower:
		return price.LessThan(r.Lower.Mul(one.Sub(margin)))
	default:
		return false
	}
}

// Decide evaluates the current state and returns the actions to take.
//
// hedge.Size is the base quantity currently offsetting LP exposure and
// walletFreeQuote the quote balance not locked in the range or as margin.
// A nil lp means no range exists and one should be created.
func Decide(price decimal.Decimal, lp *domain.LiquidityRange, hedge domain.HedgePosition, walletFreeQuote decimal.Decimal, cfg Config) (domain.DecisionSet, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("engine: price must be > 0, got %s: %w", price, domain.ErrInvalidInput)
	}
	if walletFreeQuote.IsNegative() {
		return nil, fmt.Errorf("engine: free quote must be >= 0, got %s: %w", walletFreeQuote, domain.ErrInvalidInput)
	}
	if hedge.Margin.IsNegative() {
		return nil, fmt.Errorf("engine: hedge margin must be >= 0, got %s: %w", hedge.Margin, domain.ErrInvalidInput)
	}

	var set domain.DecisionSet
	collateral := walletFreeQuote.Add(hedge.Margin)
	lpBase := decimal.Zero

	if lp == nil {
		budget := cfg.AllocationFraction.Mul(walletFreeQuote)
		if budget.IsPositive() {
			lower, upper := RangeAround(price, cfg.Width)
			quoteLeg := budget.Div(two)
			baseLeg := quoteLeg.Div(price)
			set = append(set, domain.Decision{
				Kind:        domain.KindCreateRange,
				Lower:       lower,
				Upper:       upper,
				BaseAmount:  baseLeg,
				QuoteAmount: quoteLeg,
				Reason:      "no active range",
			})
			lpBase = baseLeg
			collateral = collateral.Sub(budget)
		}
	} else {
		if !lp.Lower.LessThan(lp.Upper) {
			return nil, fmt.Errorf("engine: range lower %s must be below upper %s: %w", lp.Lower, lp.Upper, domain.ErrInvalidInput)
		}
		if lp.BaseAmount.IsNegative() || lp.QuoteAmount.IsNegative() {
			return nil, fmt.Errorf("engine: range amounts must be >= 0: %w", domain.ErrInvalidInput)
		}
		lpBase = lp.BaseAmount

		b := breachOf(price, *lp)
		switch {
		case b != breachNone && strategyFor(b, cfg) == StrategySwap && beyondMargin(price, *lp, b, cfg.BreachMargin):
			set = append(set, exitDecisions(*lp, b)...)
			lpBase = decimal.Zero
		case ShouldReposition(price, *lp, cfg):
			lower, upper := RangeAround(price, cfg.Width)
			set = append(set, domain.Decision{
				Kind:   domain.KindReposition,
				Lower:  lower,
				Upper:  upper,
				Reason: repositionReason(b),
			})
		}
	}

	target := HedgeTarget(lpBase, collateral, price, cfg.Leverage)
	if hedge.Size.Sub(target).Abs().GreaterThan(cfg.HedgeTolerance) {
		set = append(set, domain.Decision{
			Kind:      domain.KindAdjustHedge,
			HedgeSize: target,
			Reason:    fmt.Sprintf("hedge %s off target %s", hedge.Size.StringFixed(4), target.StringFixed(4)),
		})
	}
	return set, nil
}

// HedgeTarget is the hedge size that neutralizes lpBase, clamped to what
// collateral can margin at leverage.
func HedgeTarget(lpBase, collateral, price, leverage decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !collateral.IsPositive() || !lpBase.IsPositive() {
		return decimal.Zero
	}
	maxSize := collateral.Mul(leverage).Div(price)
	return decimal.Min(lpBase, maxSize)
}

func strategyFor(b breach, cfg Config) Strategy {
	if b == breachUpper {
		return cfg.UpperStrategy
	}
	return cfg.LowerStrategy
}

func exitDecisions(r domain.LiquidityRange, b breach) domain.DecisionSet {
	out := domain.DecisionSet{{
		Kind:   domain.KindExitRange,
		Reason: "price " + breachName(b) + " beyond breach margin",
	}}
	// Upper breach converts the quote leg to base, lower breach the base leg
	// to quote.
	swap := &domain.Swap{From: domain.AssetQuote, To: domain.AssetBase, AmountIn: r.QuoteAmount}
	if b == breachLower {
		swap = &domain.Swap{From: domain.AssetBase, To: domain.AssetQuote, AmountIn: r.BaseAmount}
	}
	if swap.AmountIn.IsPositive() {
		out = append(out, domain.Decision{Kind: domain.KindSwap, Swap: swap, Reason: "convert " + string(swap.From) + " leg after exit"})
	}
	return out
}

func breachName(b breach) string {
	if b == breachUpper {
		return "above upper bound"
	}
	return "below lower bound"
}

func repositionReason(b breach) string {
	if b == breachNone {
		return "fee capture exceeds gas cost"
	}
	return "price " + breachName(b)
}
