package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/platform/hyperliquid"
	"github.com/alanyoungcy/hedgebot/internal/position"
	"github.com/alanyoungcy/hedgebot/internal/server"
	"github.com/alanyoungcy/hedgebot/internal/server/handler"
	"github.com/alanyoungcy/hedgebot/internal/server/ws"
	"github.com/alanyoungcy/hedgebot/internal/service"
	"github.com/alanyoungcy/hedgebot/internal/wallet"
)

// SimulateMode runs the loop against an in-memory wallet seeded from config.
// Prices are live; no order leaves the process.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode")

	w := wallet.NewSimulator(
		a.pair(),
		decimal.NewFromFloat(a.cfg.Wallet.BaseBalance),
		decimal.NewFromFloat(a.cfg.Wallet.QuoteBalance),
		deps.Notifier,
		a.logger,
	)
	sim := position.NewSimulated(w)
	return a.runCycles(ctx, deps, service.CycleDeps{
		LP:    sim,
		Hedge: sim,
		Collateral: service.CollateralFunc(func(context.Context, string) (decimal.Decimal, error) {
			return w.FreeQuote(), nil
		}),
		Applier: service.NewSimulatedApplier(w),
		Wallet:  w,
	})
}

// LiveMode reads live positions, sends hedge adjustments to Hyperliquid and
// announces range changes for manual execution.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode",
		slog.String("hedge_account", deps.HedgeAccount),
		slog.Bool("dry_run", deps.Hyperliquid.DryRun()),
	)

	cd := a.liveReaders(deps)
	var quoter service.SwapQuoter
	if deps.Uniswap != nil && a.cfg.Chain.Quoter != "" {
		quoter = deps.Uniswap
	}
	cd.Applier = service.NewLiveApplier(deps.Hyperliquid, quoter, deps.Notifier, a.logger)
	return a.runCycles(ctx, deps, cd)
}

// MonitorMode reads live positions and reports decisions without acting.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	cd := a.liveReaders(deps)
	cd.Applier = service.MonitorApplier{}
	return a.runCycles(ctx, deps, cd)
}

// liveReaders builds the LP, hedge and collateral readers shared by live and
// monitor mode.
func (a *App) liveReaders(deps *Dependencies) service.CycleDeps {
	var source position.RangeSource = deps.Uniswap
	if a.cfg.Subgraph.UseForPositions {
		source = deps.Subgraph
	}
	hl, account := deps.Hyperliquid, deps.HedgeAccount
	return service.CycleDeps{
		LP:    position.NewLiveLP(source, a.cfg.Pair.TokenPair(), a.logger),
		Hedge: position.NewLiveHedge(hedgeAccount{client: hl, account: account}, a.logger),
		Collateral: service.CollateralFunc(func(ctx context.Context, _ string) (decimal.Decimal, error) {
			return hl.FreeCollateral(ctx, account)
		}),
	}
}

// hedgeAccount reads the hedge from the Hyperliquid account, which may differ
// from the LP owner.
type hedgeAccount struct {
	client  *hyperliquid.Client
	account string
}

func (h hedgeAccount) HedgePosition(ctx context.Context, _ string) (domain.HedgePosition, error) {
	return h.client.HedgePosition(ctx, h.account)
}

// runCycles completes cd with the shared collaborators, announces startup and
// runs the cycle loop next to the optional HTTP server.
func (a *App) runCycles(ctx context.Context, deps *Dependencies, cd service.CycleDeps) error {
	cd.Oracle = deps.Oracle
	cd.Notifier = deps.Notifier
	cd.Locks = deps.LockManager
	cd.Cycles = deps.CycleStore
	cd.Audit = deps.AuditStore
	cd.Bus = deps.SignalBus
	if deps.Archiver != nil {
		cd.Archive = deps.Archiver
	}

	var svc *service.CycleService
	startedAt := time.Now().UTC()
	var hub *ws.Hub
	if a.cfg.Server.Enabled && !a.once {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			Owner:     a.cfg.Owner,
			StartedAt: startedAt,
			LastCycle: func() (domain.CycleReport, bool) { return svc.Last() },
		})
		// With a bus the hub relays published reports itself.
		if deps.SignalBus == nil {
			cd.Broadcaster = hub
		}
	}

	svc, err := service.NewCycleService(service.CycleConfig{
		Mode:     strings.ToLower(a.cfg.Mode),
		Owner:    a.cfg.Owner,
		Pair:     a.pair(),
		Interval: a.cfg.Interval.Duration,
		Engine:   a.cfg.Engine.Decide(),
	}, cd, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	deps.Notifier.NotifyAll(ctx, "Hedge bot started", fmt.Sprintf(
		"Mode %s for %s on %s, every %s. Price sources: %s.",
		a.cfg.Mode, a.ownerLabel(), a.pair(), a.cfg.Interval.Duration, strings.Join(deps.Oracle.Sources(), ", "),
	))

	if a.once {
		report, err := svc.Once(ctx)
		a.logger.InfoContext(ctx, "single cycle finished",
			slog.String("cycle_id", report.ID),
			slog.String("decisions", report.Decisions.String()),
			slog.Int("applied", len(report.Applied)),
		)
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(ctx)
	})
	if hub != nil {
		a.startHTTPServer(ctx, g, deps, hub, svc, startedAt)
	}
	return g.Wait()
}

// startHTTPServer runs the status API and the websocket hub inside g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub, svc *service.CycleService, startedAt time.Time) {
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, a.cfg.Owner, a.pair(), startedAt, svc.Last),
		Position: handler.NewPositionHandler(svc.Last),
	}
	if deps.CycleStore != nil {
		handlers.Cycles = handler.NewCycleHandler(deps.CycleStore, deps.AuditStore, a.cfg.Owner, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Serve(ctx)
	})
}

func (a *App) pair() domain.Pair {
	return domain.Pair{Base: a.cfg.Pair.Base, Quote: a.cfg.Pair.Quote}
}

func (a *App) ownerLabel() string {
	if a.cfg.Owner == "" {
		return "the simulated wallet"
	}
	return a.cfg.Owner
}
