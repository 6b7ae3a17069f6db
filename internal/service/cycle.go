// Package service runs the hedge bot's decision loop: resolve a price, read
// positions, decide, apply, notify and record.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/engine"
	"github.com/alanyoungcy/hedgebot/internal/notify"
)

// ChannelCycles is the bus and websocket channel cycle reports are published on.
const ChannelCycles = "cycles"

// PriceOracle resolves the reference price for a pair.
type PriceOracle interface {
	ReferencePrice(ctx context.Context, pair domain.Pair) (domain.PricePoint, error)
}

// EventNotifier delivers best-effort notifications.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string)
}

// CollateralReader reports the quote collateral free for new ranges and hedge
// margin.
type CollateralReader interface {
	FreeQuote(ctx context.Context, owner string) (decimal.Decimal, error)
}

// CollateralFunc adapts a function to CollateralReader.
type CollateralFunc func(ctx context.Context, owner string) (decimal.Decimal, error)

// FreeQuote calls f.
func (f CollateralFunc) FreeQuote(ctx context.Context, owner string) (decimal.Decimal, error) {
	return f(ctx, owner)
}

// ReportArchiver accepts cycle reports for long-term storage.
type ReportArchiver interface {
	Add(ctx context.Context, report domain.CycleReport) error
}

// Broadcaster pushes a payload to websocket clients on channel.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// WalletSnapshotter exposes the simulated wallet for reports.
type WalletSnapshotter interface {
	Snapshot() domain.WalletState
}

// CycleConfig holds the loop parameters.
type CycleConfig struct {
	Mode     string
	Owner    string
	Pair     domain.Pair
	Interval time.Duration
	Engine   engine.Config
}

// CycleDeps lists the collaborators of a CycleService. Oracle, LP, Hedge,
// Collateral, Applier and Notifier are required; the rest may be nil.
type CycleDeps struct {
	Oracle     PriceOracle
	LP         domain.LPReader
	Hedge      domain.HedgeReader
	Collateral CollateralReader
	Applier    Applier
	Notifier   EventNotifier

	Wallet      WalletSnapshotter
	Locks       domain.LockManager
	Cycles      domain.CycleStore
	Audit       domain.AuditStore
	Archive     ReportArchiver
	Bus         domain.SignalBus
	Broadcaster Broadcaster
}

// CycleService runs decision cycles for one owner, one at a time.
type CycleService struct {
	cfg    CycleConfig
	deps   CycleDeps
	logger *slog.Logger

	clock func() time.Time
	newID func() string

	mu   sync.RWMutex
	last *domain.CycleReport
}

// NewCycleService validates cfg and deps and returns a CycleService.
func NewCycleService(cfg CycleConfig, deps CycleDeps, logger *slog.Logger) (*CycleService, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("service: interval must be > 0: %w", domain.ErrInvalidInput)
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	if deps.Oracle == nil || deps.LP == nil || deps.Hedge == nil || deps.Collateral == nil || deps.Applier == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("service: oracle, readers, collateral, applier and notifier are required: %w", domain.ErrInvalidInput)
	}
	return &CycleService{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "cycle")),
		clock:  func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}, nil
}

// Last returns the most recent cycle report.
func (s *CycleService) Last() (domain.CycleReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return domain.CycleReport{}, false
	}
	return *s.last, true
}

// lockName is the instance lock guarding the owner's positions.
func (s *CycleService) lockName() string {
	return "hedgebot:" + s.cfg.Owner
}

func (s *CycleService) lockTTL() time.Duration {
	return 3 * s.cfg.Interval
}

// Run executes a cycle immediately and then on every interval tick until ctx
// is cancelled. Cycle failures are logged and do not stop the loop; losing
// the instance lock does.
func (s *CycleService) Run(ctx context.Context) error {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { unlock() }()

	s.logger.InfoContext(ctx, "cycle loop started",
		slog.String("mode", s.cfg.Mode),
		slog.String("owner", s.cfg.Owner),
		slog.Duration("interval", s.cfg.Interval),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			relock, err := s.keepLock(ctx)
			if err != nil {
				return err
			}
			if relock != nil {
				unlock()
				unlock = relock
			}
			s.runLogged(ctx)
		}
	}
}

// Once runs a single cycle under the instance lock.
func (s *CycleService) Once(ctx context.Context) (domain.CycleReport, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return domain.CycleReport{}, err
	}
	defer unlock()
	return s.RunOnce(ctx)
}

func (s *CycleService) runLogged(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.ErrorContext(ctx, "cycle failed",
			slog.String("cycle_id", report.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CycleService) acquire(ctx context.Context) (func(), error) {
	if s.deps.Locks == nil {
		return func() {}, nil
	}
	unlock, err := s.deps.Locks.Acquire(ctx, s.lockName(), s.lockTTL())
	if err != nil {
		return nil, fmt.Errorf("service: acquire %s: %w", s.lockName(), err)
	}
	return unlock, nil
}

// keepLock extends the instance lock. When the lock expired and nobody else
// took it, it is acquired again and the new unlock func is returned.
func (s *CycleService) keepLock(ctx context.Context) (func(), error) {
	if s.deps.Locks == nil {
		return nil, nil
	}
	err := s.deps.Locks.Extend(ctx, s.lockName(), s.lockTTL())
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, domain.ErrLockHeld) {
		s.logger.WarnContext(ctx, "lock extend failed", slog.String("error", err.Error()))
		return nil, nil
	}
	unlock, err := s.deps.Locks.Acquire(ctx, s.lockName(), s.lockTTL())
	if err != nil {
		return nil, fmt.Errorf("service: lost lock %s: %w", s.lockName(), err)
	}
	s.logger.WarnContext(ctx, "lock expired and was re-acquired", slog.String("lock", s.lockName()))
	return unlock, nil
}

// RunOnce executes one cycle and records its report. The returned error
// describes why the cycle stopped early or failed to apply; the report is
// recorded either way.
func (s *CycleService) RunOnce(ctx context.Context) (domain.CycleReport, error) {
	report := domain.CycleReport{
		ID:        s.newID(),
		Mode:      s.cfg.Mode,
		Owner:     s.cfg.Owner,
		StartedAt: s.clock(),
	}
	err := s.cycle(ctx, &report)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	if s.deps.Wallet != nil {
		w := s.deps.Wallet.Snapshot()
		report.Wallet = &w
	}
	report.Duration = s.clock().Sub(report.StartedAt)

	if ctx.Err() == nil {
		s.record(ctx, report)
	}
	return report, err
}

func (s *CycleService) cycle(ctx context.Context, report *domain.CycleReport) error {
	pp, err := s.deps.Oracle.ReferencePrice(ctx, s.cfg.Pair)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			s.deps.Notifier.Notify(ctx, notify.EventPriceUnavailable, "Price unavailable",
				fmt.Sprintf("No price for %s; cycle skipped.", s.cfg.Pair))
		}
		return fmt.Errorf("service: reference price: %w", err)
	}
	report.Price = &pp

	lp, err := s.deps.LP.LPPosition(ctx, s.cfg.Owner)
	if err != nil {
		return fmt.Errorf("service: read lp position: %w", err)
	}
	report.LP = lp

	hedge, err := s.deps.Hedge.HedgePosition(ctx, s.cfg.Owner)
	if err != nil {
		return fmt.Errorf("service: read hedge position: %w", err)
	}
	report.Hedge = hedge

	free, err := s.deps.Collateral.FreeQuote(ctx, s.cfg.Owner)
	if err != nil {
		return s.cycleError(ctx, fmt.Errorf("service: read free collateral: %w", err))
	}

	decisions, err := engine.Decide(pp.Price, lp, hedge, free, s.cfg.Engine)
	if err != nil {
		return s.cycleError(ctx, fmt.Errorf("service: decide: %w", err))
	}
	report.Decisions = decisions

	s.logger.InfoContext(ctx, "cycle decided",
		slog.String("price", pp.Price.StringFixed(2)),
		slog.String("source", pp.Source),
		slog.String("free_quote", free.StringFixed(2)),
		slog.String("decisions", decisions.String()),
	)
	if decisions.Empty() {
		return nil
	}
	s.deps.Notifier.Notify(ctx, notify.EventDecision, "Decision",
		fmt.Sprintf("%s @ %s: %s", s.cfg.Pair, pp.Price.StringFixed(2), decisions))

	applied, err := s.deps.Applier.Apply(ctx, ApplyInput{
		Price:     pp.Price,
		LP:        lp,
		Hedge:     hedge,
		Decisions: decisions,
		Leverage:  s.cfg.Engine.Leverage,
	})
	report.Applied = applied
	if len(applied) > 0 {
		s.deps.Notifier.Notify(ctx, notify.EventApplied, "Applied", bulletList(applied))
	}
	if err != nil {
		return s.cycleError(ctx, fmt.Errorf("service: apply: %w", err))
	}
	return nil
}

func (s *CycleService) cycleError(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		s.deps.Notifier.Notify(ctx, notify.EventCycleError, "Cycle error", err.Error())
	}
	return err
}

// record fans the report out to every configured sink. Sink failures are
// logged only.
func (s *CycleService) record(ctx context.Context, report domain.CycleReport) {
	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()

	warn := func(sink string, err error) {
		s.logger.WarnContext(ctx, "record cycle report failed",
			slog.String("sink", sink),
			slog.String("cycle_id", report.ID),
			slog.String("error", err.Error()),
		)
	}

	if s.deps.Cycles != nil {
		if err := s.deps.Cycles.Insert(ctx, report); err != nil {
			warn("postgres", err)
		}
	}
	if s.deps.Audit != nil && (len(report.Applied) > 0 || len(report.Errors) > 0) {
		detail := map[string]any{
			"cycle_id": report.ID,
			"owner":    report.Owner,
			"mode":     report.Mode,
			"applied":  report.Applied,
			"errors":   report.Errors,
		}
		if err := s.deps.Audit.Log(ctx, "cycle", detail); err != nil {
			warn("audit", err)
		}
	}
	if s.deps.Archive != nil {
		if err := s.deps.Archive.Add(ctx, report); err != nil {
			warn("archive", err)
		}
	}

	if s.deps.Bus == nil && s.deps.Broadcaster == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		warn("encode", err)
		return
	}
	if s.deps.Bus != nil {
		if err := s.deps.Bus.Publish(ctx, ChannelCycles, payload); err != nil {
			warn("bus", err)
		}
	}
	if s.deps.Broadcaster != nil {
		s.deps.Broadcaster.Broadcast(ChannelCycles, payload)
	}
}

func bulletList(lines []string) string {
	return "- " + strings.Join(lines, "\n- ")
}
