package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DecisionKind names one member of a DecisionSet.
type DecisionKind string

const (
	KindCreateRange DecisionKind = "create_range"
	KindReposition  DecisionKind = "reposition"
	KindExitRange   DecisionKind = "exit_range"
	KindSwap        DecisionKind = "swap"
	KindAdjustHedge DecisionKind = "adjust_hedge"
)

// Asset selects one leg of the pair.
type Asset string

const (
	AssetBase  Asset = "base"
	AssetQuote Asset = "quote"
)

// Swap converts AmountIn of From into To at the decision price.
type Swap struct {
	From     Asset           `json:"from"`
	To       Asset           `json:"to"`
	AmountIn decimal.Decimal `json:"amount_in"`
}

// Decision is a single action requested by the engine. Only the fields
// relevant to Kind are set.
type Decision struct {
	Kind        DecisionKind    `json:"kind"`
	Lower       decimal.Decimal `json:"lower,omitzero"`
	Upper       decimal.Decimal `json:"upper,omitzero"`
	BaseAmount  decimal.Decimal `json:"base_amount,omitzero"`
	QuoteAmount decimal.Decimal `json:"quote_amount,omitzero"`
	HedgeSize   decimal.Decimal `json:"hedge_size,omitzero"`
	Swap        *Swap           `json:"swap,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

func (d Decision) String() string {
	switch d.Kind {
	case KindCreateRange:
		return fmt.Sprintf("create range [%s, %s] base=%s quote=%s",
			d.Lower.StringFixed(2), d.Upper.StringFixed(2), d.BaseAmount.StringFixed(6), d.QuoteAmount.StringFixed(2))
	case KindReposition:
		return fmt.Sprintf("reposition to [%s, %s] (%s)", d.Lower.StringFixed(2), d.Upper.StringFixed(2), d.Reason)
	case KindExitRange:
		return fmt.Sprintf("exit range (%s)", d.Reason)
	case KindSwap:
		if d.Swap == nil {
			return "swap"
		}
		return fmt.Sprintf("swap %s %s -> %s", d.Swap.AmountIn.StringFixed(6), d.Swap.From, d.Swap.To)
	case KindAdjustHedge:
		return fmt.Sprintf("adjust hedge to %s", d.HedgeSize.StringFixed(4))
	default:
		return string(d.Kind)
	}
}

// DecisionSet is the ordered output of one engine evaluation. Order matters:
// range changes come before the hedge adjustment that depends on them.
type DecisionSet []Decision

// Has reports whether the set contains a decision of the given kind.
func (s DecisionSet) Has(kind DecisionKind) bool {
	_, ok := s.Get(kind)
	return ok
}

// Get returns the first decision of the given kind.
func (s DecisionSet) Get(kind DecisionKind) (Decision, bool) {
	for _, d := range s {
		if d.Kind == kind {
			return d, true
		}
	}
	return Decision{}, false
}

func (s DecisionSet) Empty() bool {
	return len(s) == 0
}

func (s DecisionSet) String() string {
	if len(s) == 0 {
		return "no action"
	}
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ")
}
