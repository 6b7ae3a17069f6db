package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/notify"
	"github.com/alanyoungcy/hedgebot/internal/platform/hyperliquid"
	"github.com/alanyoungcy/hedgebot/internal/wallet"
)

// ApplyInput is the state a DecisionSet was computed from.
type ApplyInput struct {
	Price     decimal.Decimal
	LP        *domain.LiquidityRange
	Hedge     domain.HedgePosition
	Decisions domain.DecisionSet
	Leverage  decimal.Decimal
}

// Applier carries out decisions. It returns a description of each action
// taken, in order, and stops at the first failure.
type Applier interface {
	Apply(ctx context.Context, in ApplyInput) ([]string, error)
}

// ---------------------------------------------------------------------------
// Simulated
// ---------------------------------------------------------------------------

// SimulatedApplier applies decisions to the in-memory wallet.
type SimulatedApplier struct {
	wallet *wallet.Simulator
}

// NewSimulatedApplier creates a SimulatedApplier over w.
func NewSimulatedApplier(w *wallet.Simulator) *SimulatedApplier {
	return &SimulatedApplier{wallet: w}
}

// Apply runs each decision against the wallet. A range creation first swaps
// quote for any base the wallet is short of.
func (a *SimulatedApplier) Apply(ctx context.Context, in ApplyInput) ([]string, error) {
	var applied []string
	for _, d := range in.Decisions {
		switch d.Kind {
		case domain.KindCreateRange:
			r, funding, err := a.fund(ctx, d, in.Price)
			if funding != "" {
				applied = append(applied, funding)
			}
			if err != nil {
				return applied, err
			}
			if err := a.wallet.CreateRange(ctx, r); err != nil {
				return applied, fmt.Errorf("create range: %w", err)
			}
		case domain.KindReposition:
			if err := a.wallet.MoveRange(ctx, d.Lower, d.Upper); err != nil {
				return applied, fmt.Errorf("move range: %w", err)
			}
		case domain.KindExitRange:
			if _, err := a.wallet.ExitRange(ctx); err != nil {
				return applied, fmt.Errorf("exit range: %w", err)
			}
		case domain.KindSwap:
			if d.Swap == nil {
				return applied, fmt.Errorf("swap without payload: %w", domain.ErrInvalidInput)
			}
			if _, err := a.wallet.Swap(ctx, d.Swap.From, d.Swap.To, d.Swap.AmountIn, in.Price); err != nil {
				return applied, fmt.Errorf("swap: %w", err)
			}
		case domain.KindAdjustHedge:
			h, err := a.wallet.AdjustHedge(ctx, d.HedgeSize, in.Price, in.Leverage)
			if err != nil {
				return applied, fmt.Errorf("adjust hedge: %w", err)
			}
			if !h.Size.Equal(d.HedgeSize) {
				applied = append(applied, fmt.Sprintf("hedge clamped to %s (requested %s)",
					h.Size.StringFixed(4), d.HedgeSize.StringFixed(4)))
				continue
			}
		default:
			return applied, fmt.Errorf("unknown decision %q: %w", d.Kind, domain.ErrInvalidInput)
		}
		applied = append(applied, d.String())
	}
	return applied, nil
}

// fund swaps quote into base when the wallet holds less base than the range
// needs. The range's base leg is capped at the resulting balance to absorb
// rounding in the swap.
func (a *SimulatedApplier) fund(ctx context.Context, d domain.Decision, price decimal.Decimal) (domain.LiquidityRange, string, error) {
	r := domain.LiquidityRange{
		Lower:       d.Lower,
		Upper:       d.Upper,
		BaseAmount:  d.BaseAmount,
		QuoteAmount: d.QuoteAmount,
	}
	shortfall := d.BaseAmount.Sub(a.wallet.Snapshot().BaseBalance)
	if !shortfall.IsPositive() {
		return r, "", nil
	}

	quoteIn := shortfall.Mul(price)
	if _, err := a.wallet.Swap(ctx, domain.AssetQuote, domain.AssetBase, quoteIn, price); err != nil {
		return r, "", fmt.Errorf("fund range: %w", err)
	}
	r.BaseAmount = decimal.Min(r.BaseAmount, a.wallet.Snapshot().BaseBalance)
	return r, fmt.Sprintf("swap %s quote -> base to fund range", quoteIn.StringFixed(2)), nil
}

// ---------------------------------------------------------------------------
// Live
// ---------------------------------------------------------------------------

// HedgeVenue places hedge orders.
type HedgeVenue interface {
	MarketOrder(ctx context.Context, isBuy bool, size decimal.Decimal) (hyperliquid.OrderResult, error)
}

// RestingOrderReader reports hedge size already working on the book, signed
// like HedgePosition.Size. Venues that implement it keep the applier from
// stacking a market order on top of a resting one.
type RestingOrderReader interface {
	PendingHedge(ctx context.Context) (decimal.Decimal, error)
}

// SwapQuoter previews swap output.
type SwapQuoter interface {
	QuoteExactInput(ctx context.Context, from domain.Asset, amountIn decimal.Decimal) (decimal.Decimal, error)
}

// LiveApplier sends hedge adjustments to the venue as market orders. Range
// changes are not submitted on chain; they are announced as manual actions.
type LiveApplier struct {
	venue    HedgeVenue
	quoter   SwapQuoter // optional
	notifier EventNotifier
	logger   *slog.Logger
}

// NewLiveApplier creates a LiveApplier. quoter may be nil.
func NewLiveApplier(venue HedgeVenue, quoter SwapQuoter, notifier EventNotifier, logger *slog.Logger) *LiveApplier {
	return &LiveApplier{
		venue:    venue,
		quoter:   quoter,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "live_applier")),
	}
}

// Apply orders the hedge delta and announces range changes. The hedge is held
// back while a range creation or exit is pending, since its target assumes
// the range change already happened.
func (a *LiveApplier) Apply(ctx context.Context, in ApplyInput) ([]string, error) {
	var applied []string
	pendingRange := in.Decisions.Has(domain.KindCreateRange) || in.Decisions.Has(domain.KindExitRange)

	for _, d := range in.Decisions {
		switch d.Kind {
		case domain.KindAdjustHedge:
			if pendingRange {
				applied = append(applied, "hedge deferred until the range change is executed")
				continue
			}
			line, err := a.adjustHedge(ctx, in.Hedge, d.HedgeSize)
			if err != nil {
				return applied, err
			}
			if line != "" {
				applied = append(applied, line)
			}
		default:
			line := "manual: " + d.String()
			if d.Kind == domain.KindSwap && d.Swap != nil {
				line += a.preview(ctx, *d.Swap)
			}
			a.notifier.Notify(ctx, notify.EventDecision, "Manual action required", line)
			applied = append(applied, line)
		}
	}
	return applied, nil
}

func (a *LiveApplier) adjustHedge(ctx context.Context, current domain.HedgePosition, target decimal.Decimal) (string, error) {
	// A larger Size is a larger venue short, so growing the hedge sells.
	delta := target.Sub(current.Size)
	if delta.IsZero() {
		return "", nil
	}
	pending := a.pendingHedge(ctx)
	if !pending.IsZero() && pending.Sign() == delta.Sign() {
		if pending.Abs().GreaterThanOrEqual(delta.Abs()) {
			return fmt.Sprintf("hedge covered by resting orders (pending %s, needed %s)", pending, delta), nil
		}
		delta = delta.Sub(pending)
	}
	isBuy := delta.IsNegative()

	res, err := a.venue.MarketOrder(ctx, isBuy, delta.Abs())
	if err != nil {
		return "", fmt.Errorf("hedge order: %w", err)
	}

	side := "sell"
	if res.IsBuy {
		side = "buy"
	}
	line := fmt.Sprintf("hedge %s %s %s limit %s", side, res.Size.String(), res.Coin, res.LimitPx.String())
	if res.DryRun {
		line += " (dry run)"
	} else if res.FilledSize.IsPositive() {
		line += fmt.Sprintf(" filled %s @ %s", res.FilledSize.String(), res.AvgPx.String())
	}
	a.logger.InfoContext(ctx, "hedge order placed",
		slog.String("side", side),
		slog.String("size", res.Size.String()),
		slog.Bool("dry_run", res.DryRun),
		slog.Int64("order_id", res.OrderID),
	)
	return line, nil
}

// pendingHedge returns zero when the venue cannot report resting orders or
// the read fails.
func (a *LiveApplier) pendingHedge(ctx context.Context) decimal.Decimal {
	r, ok := a.venue.(RestingOrderReader)
	if !ok {
		return decimal.Zero
	}
	pending, err := r.PendingHedge(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "resting order lookup failed", slog.String("error", err.Error()))
		return decimal.Zero
	}
	if !pending.IsZero() {
		a.logger.InfoContext(ctx, "resting hedge orders", slog.String("pending", pending.String()))
	}
	return pending
}

func (a *LiveApplier) preview(ctx context.Context, sw domain.Swap) string {
	if a.quoter == nil {
		return ""
	}
	out, err := a.quoter.QuoteExactInput(ctx, sw.From, sw.AmountIn)
	if err != nil {
		a.logger.WarnContext(ctx, "swap quote failed", slog.String("error", err.Error()))
		return ""
	}
	return fmt.Sprintf(" (quoter: %s %s out)", out.StringFixed(6), sw.To)
}

// ---------------------------------------------------------------------------
// Monitor
// ---------------------------------------------------------------------------

// MonitorApplier applies nothing.
type MonitorApplier struct{}

// Apply returns no actions.
func (MonitorApplier) Apply(context.Context, ApplyInput) ([]string, error) {
	return nil, nil
}

var (
	_ HedgeVenue         = (*hyperliquid.Client)(nil)
	_ RestingOrderReader = (*hyperliquid.Client)(nil)
)
