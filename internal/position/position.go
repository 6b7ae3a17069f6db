// Package position reads the current liquidity range and hedge for a wallet,
// either from the simulated ledger or from live venues.
package position

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/hedgebot/internal/domain"
	"github.com/alanyoungcy/hedgebot/internal/engine"
	"github.com/alanyoungcy/hedgebot/internal/wallet"
)

// Simulated reports the simulator's ledger. The owner is ignored.
type Simulated struct {
	wallet *wallet.Simulator
}

// NewSimulated creates a reader over w.
func NewSimulated(w *wallet.Simulator) *Simulated {
	return &Simulated{wallet: w}
}

func (s *Simulated) LPPosition(_ context.Context, _ string) (*domain.LiquidityRange, error) {
	return s.wallet.Snapshot().Position, nil
}

func (s *Simulated) HedgePosition(_ context.Context, _ string) (domain.HedgePosition, error) {
	snap := s.wallet.Snapshot()
	if snap.Hedge == nil {
		return domain.HedgePosition{}, nil
	}
	return *snap.Hedge, nil
}

// RangeSource lists an owner's positions with bounds as reported upstream.
type RangeSource interface {
	Positions(ctx context.Context, owner string) ([]domain.RawRange, error)
}

// tokenPairSource is implemented by sources that know the pool's token
// decimals, such as the on-chain reader.
type tokenPairSource interface {
	TokenPair(ctx context.Context) (engine.TokenPair, error)
}

// LiveLP reads the owner's range from a RangeSource and converts it into
// price space. Source failures and malformed data degrade to "no position".
type LiveLP struct {
	source RangeSource
	pair   engine.TokenPair
	logger *slog.Logger
}

// NewLiveLP creates a live LP reader. pair is used unless the source can
// report its own token decimals.
func NewLiveLP(source RangeSource, pair engine.TokenPair, logger *slog.Logger) *LiveLP {
	return &LiveLP{
		source: source,
		pair:   pair,
		logger: logger.With(slog.String("component", "position_lp")),
	}
}

func (l *LiveLP) LPPosition(ctx context.Context, owner string) (*domain.LiquidityRange, error) {
	raws, err := l.source.Positions(ctx, owner)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.logger.WarnContext(ctx, "lp read failed, treating as no position",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if len(raws) == 0 {
		return nil, nil
	}
	if len(raws) > 1 {
		l.logger.WarnContext(ctx, "owner has several open ranges, tracking the first",
			slog.Int("count", len(raws)),
			slog.String("token_id", raws[0].TokenID),
		)
	}

	pair := l.pair
	if tps, ok := l.source.(tokenPairSource); ok && raws[0].Kind == domain.BoundTick {
		if pair, err = tps.TokenPair(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.WarnContext(ctx, "token decimals unavailable, treating as no position",
				slog.String("error", err.Error()),
			)
			return nil, nil
		}
	}

	r, err := engine.NormalizeRange(raws[0], pair)
	if err != nil {
		l.logger.WarnContext(ctx, "malformed lp position, treating as no position",
			slog.String("token_id", raws[0].TokenID),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return &r, nil
}

// LiveHedge wraps a venue HedgeReader so that failures degrade to no hedge.
type LiveHedge struct {
	source domain.HedgeReader
	logger *slog.Logger
}

// NewLiveHedge creates a live hedge reader.
func NewLiveHedge(source domain.HedgeReader, logger *slog.Logger) *LiveHedge {
	return &LiveHedge{
		source: source,
		logger: logger.With(slog.String("component", "position_hedge")),
	}
}

func (h *LiveHedge) HedgePosition(ctx context.Context, owner string) (domain.HedgePosition, error) {
	pos, err := h.source.HedgePosition(ctx, owner)
	if err != nil {
		if ctx.Err() != nil {
			return domain.HedgePosition{}, ctx.Err()
		}
		h.logger.WarnContext(ctx, "hedge read failed, treating as no hedge",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		return domain.HedgePosition{}, nil
	}
	if pos.Margin.IsNegative() || pos.Leverage.IsNegative() {
		h.logger.WarnContext(ctx, "malformed hedge position, treating as no hedge",
			slog.String("margin", pos.Margin.String()),
			slog.String("leverage", pos.Leverage.String()),
		)
		return domain.HedgePosition{}, nil
	}
	return pos, nil
}
