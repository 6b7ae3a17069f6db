// Package wallet implements the in-memory simulated wallet that decisions are
// applied to when the bot runs without a real wallet.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// EventSink receives a human-readable line for every wallet mutation.
type EventSink interface {
	Notify(ctx context.Context, event, title, message string)
}

// EventWallet is the notification event name used for wallet mutations.
const EventWallet = "wallet"

// Simulator is an in-memory ledger of balances, the liquidity range and the
// hedge. Every operation is atomic; calling an operation twice applies it
// twice.
type Simulator struct {
	mu     sync.Mutex
	state  domain.WalletState
	pair   domain.Pair
	sink   EventSink
	logger *slog.Logger
}

// NewSimulator creates a Simulator with the given starting balances. sink may
// be nil.
func NewSimulator(pair domain.Pair, base, quote decimal.Decimal, sink EventSink, logger *slog.Logger) *Simulator {
	return &Simulator{
		state: domain.WalletState{
			BaseBalance:  base,
			QuoteBalance: quote,
		},
		pair:   pair,
		sink:   sink,
		logger: logger.With(slog.String("component", "wallet")),
	}
}

// Snapshot returns a deep copy of the current wallet state.
func (s *Simulator) Snapshot() domain.WalletState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Simulator) snapshotLocked() domain.WalletState {
	out := domain.WalletState{
		BaseBalance:  s.state.BaseBalance,
		QuoteBalance: s.state.QuoteBalance,
	}
	if s.state.Position != nil {
		p := *s.state.Position
		out.Position = &p
	}
	if s.state.Hedge != nil {
		h := *s.state.Hedge
		out.Hedge = &h
	}
	return out
}

// FreeQuote returns the quote balance not locked in the range or as margin.
func (s *Simulator) FreeQuote() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.QuoteBalance
}

// Swap converts amountIn of from into to at price and returns the amount
// credited.
func (s *Simulator) Swap(ctx context.Context, from, to domain.Asset, amountIn, price decimal.Decimal) (decimal.Decimal, error) {
	if from == to || !validAsset(from) || !validAsset(to) {
		return decimal.Zero, fmt.Errorf("wallet: swap %s -> %s: %w", from, to, domain.ErrInvalidInput)
	}
	if !amountIn.IsPositive() {
		return decimal.Zero, fmt.Errorf("wallet: swap amount must be > 0, got %s: %w", amountIn, domain.ErrInvalidInput)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("wallet: swap price must be > 0, got %s: %w", price, domain.ErrInvalidInput)
	}

	s.mu.Lock()
	src, dst := s.balance(from), s.balance(to)
	if src.LessThan(amountIn) {
		s.mu.Unlock()
		return decimal.Zero, fmt.Errorf("wallet: swap %s %s with balance %s: %w",
			amountIn, s.symbol(from), src, domain.ErrInsufficientBalance)
	}
	var out decimal.Decimal
	if from == domain.AssetBase {
		out = amountIn.Mul(price)
	} else {
		out = amountIn.Div(price)
	}
	s.setBalance(from, src.Sub(amountIn))
	s.setBalance(to, dst.Add(out))
	s.mu.Unlock()

	s.emit(ctx, "Simulated swap", fmt.Sprintf("Swapped %s %s for %s %s at %s",
		amountIn.StringFixed(6), s.symbol(from), out.StringFixed(6), s.symbol(to), price.StringFixed(2)))
	return out, nil
}

// CreateRange deposits both legs of r and records it as the active range.
func (s *Simulator) CreateRange(ctx context.Context, r domain.LiquidityRange) error {
	if !r.Valid() {
		return fmt.Errorf("wallet: create range [%s, %s]: %w", r.Lower, r.Upper, domain.ErrInvalidInput)
	}

	s.mu.Lock()
	if s.state.Position != nil {
		s.mu.Unlock()
		return fmt.Errorf("wallet: create range: %w", domain.ErrPositionExists)
	}
	if s.state.BaseBalance.LessThan(r.BaseAmount) || s.state.QuoteBalance.LessThan(r.QuoteAmount) {
		base, quote := s.state.BaseBalance, s.state.QuoteBalance
		s.mu.Unlock()
		return fmt.Errorf("wallet: create range needs %s %s + %s %s, have %s + %s: %w",
			r.BaseAmount, s.pair.Base, r.QuoteAmount, s.pair.Quote, base, quote, domain.ErrInsufficientBalance)
	}
	s.state.BaseBalance = s.state.BaseBalance.Sub(r.BaseAmount)
	s.state.QuoteBalance = s.state.QuoteBalance.Sub(r.QuoteAmount)
	pos := r
	s.state.Position = &pos
	s.mu.Unlock()

	s.emit(ctx, "Simulated LP created", fmt.Sprintf("Range [%s, %s] with %s %s + %s %s",
		r.Lower.StringFixed(2), r.Upper.StringFixed(2),
		r.BaseAmount.StringFixed(6), s.pair.Base, r.QuoteAmount.StringFixed(2), s.pair.Quote))
	return nil
}

// MoveRange replaces the bounds of the active range and keeps its reserves.
func (s *Simulator) MoveRange(ctx context.Context, lower, upper decimal.Decimal) error {
	if !lower.LessThan(upper) {
		return fmt.Errorf("wallet: move range [%s, %s]: %w", lower, upper, domain.ErrInvalidInput)
	}

	s.mu.Lock()
	if s.state.Position == nil {
		s.mu.Unlock()
		s.emit(ctx, "Simulated LP move skipped", "No active LP position to move")
		return fmt.Errorf("wallet: move range: %w", domain.ErrNoActivePosition)
	}
	old := *s.state.Position
	s.state.Position.Lower = lower
	s.state.Position.Upper = upper
	s.mu.Unlock()

	s.emit(ctx, "Simulated LP moved", fmt.Sprintf("Range [%s, %s] -> [%s, %s]",
		old.Lower.StringFixed(2), old.Upper.StringFixed(2), lower.StringFixed(2), upper.StringFixed(2)))
	return nil
}

// ExitRange credits both legs of the active range back to the balances and
// returns the closed range.
func (s *Simulator) ExitRange(ctx context.Context) (domain.LiquidityRange, error) {
	s.mu.Lock()
	if s.state.Position == nil {
		s.mu.Unlock()
		s.emit(ctx, "Simulated LP exit skipped", "No active LP position to exit")
		return domain.LiquidityRange{}, fmt.Errorf("wallet: exit range: %w", domain.ErrNoActivePosition)
	}
	closed := *s.state.Position
	s.state.BaseBalance = s.state.BaseBalance.Add(closed.BaseAmount)
	s.state.QuoteBalance = s.state.QuoteBalance.Add(closed.QuoteAmount)
	s.state.Position = nil
	s.mu.Unlock()

	s.emit(ctx, "Simulated LP closed", fmt.Sprintf("Returned %s %s + %s %s",
		closed.BaseAmount.StringFixed(6), s.pair.Base, closed.QuoteAmount.StringFixed(2), s.pair.Quote))
	return closed, nil
}

// HedgeSizeScale is the number of decimal places a clamped hedge size keeps.
// A clamped hedge locks the whole quote balance as margin while its size
// needs at most price/leverage * 10^-HedgeSizeScale less than that.
const HedgeSizeScale = 8

// AdjustHedge sets the hedge to target. Margin held by the previous hedge is
// released first; when the quote balance cannot margin target at leverage
// the size is clamped so that all of it is used. The applied hedge is
// returned so the caller can reconcile against what it asked for.
func (s *Simulator) AdjustHedge(ctx context.Context, target, price, leverage decimal.Decimal) (domain.HedgePosition, error) {
	if !price.IsPositive() || !leverage.IsPositive() {
		return domain.HedgePosition{}, fmt.Errorf("wallet: adjust hedge price %s leverage %s: %w", price, leverage, domain.ErrInvalidInput)
	}

	s.mu.Lock()
	if s.state.Hedge != nil {
		s.state.QuoteBalance = s.state.QuoteBalance.Add(s.state.Hedge.Margin)
	}
	available := s.state.QuoteBalance
	applied := target
	required := target.Abs().Mul(price).Div(leverage)
	if required.GreaterThan(available) {
		// Rounded down so the size never needs more margin than is locked.
		applied = available.Mul(leverage).Div(price).Truncate(HedgeSizeScale)
		if target.IsNegative() {
			applied = applied.Neg()
		}
		required = available
	}
	hedge := domain.HedgePosition{Size: applied, Margin: required, Leverage: leverage}
	s.state.QuoteBalance = available.Sub(required)
	if applied.IsZero() {
		s.state.Hedge = nil
	} else {
		h := hedge
		s.state.Hedge = &h
	}
	s.mu.Unlock()

	msg := fmt.Sprintf("Hedge set to %s %s at %s (margin %s %s, %sx)",
		applied.StringFixed(4), s.pair.Base, price.StringFixed(2), required.StringFixed(2), s.pair.Quote, leverage)
	if !applied.Equal(target) {
		msg += fmt.Sprintf("; clamped from %s", target.StringFixed(4))
		s.logger.WarnContext(ctx, "hedge clamped to available collateral",
			slog.String("target", target.String()),
			slog.String("applied", applied.String()),
		)
	}
	s.emit(ctx, "Simulated hedge", msg)
	return hedge, nil
}

func validAsset(a domain.Asset) bool {
	return a == domain.AssetBase || a == domain.AssetQuote
}

func (s *Simulator) balance(a domain.Asset) decimal.Decimal {
	if a == domain.AssetBase {
		return s.state.BaseBalance
	}
	return s.state.QuoteBalance
}

func (s *Simulator) setBalance(a domain.Asset, v decimal.Decimal) {
	if a == domain.AssetBase {
		s.state.BaseBalance = v
		return
	}
	s.state.QuoteBalance = v
}

func (s *Simulator) symbol(a domain.Asset) string {
	if a == domain.AssetBase {
		return s.pair.Base
	}
	return s.pair.Quote
}

func (s *Simulator) emit(ctx context.Context, title, message string) {
	s.logger.InfoContext(ctx, title, slog.String("detail", message))
	if s.sink != nil {
		s.sink.Notify(ctx, EventWallet, title, message)
	}
}
