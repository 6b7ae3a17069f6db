// Package oracle resolves a reference price by walking an ordered chain of
// sources and falling back to a configured constant.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// MaxSourceTimeout is the upper bound on a single source attempt.
const MaxSourceTimeout = 10 * time.Second

// FallbackSource is the source name reported for the fallback constant.
const FallbackSource = "fallback"

// Config controls the oracle.
type Config struct {
	SourceTimeout time.Duration
	// Fallback is used when every source fails. Zero disables it.
	Fallback decimal.Decimal
}

// Oracle queries its sources in priority order on every call. It does not
// cache results.
type Oracle struct {
	sources []domain.PriceSource
	timeout time.Duration
	fallbk  decimal.Decimal
	sink    domain.PriceCache
	now     func() time.Time
	logger  *slog.Logger
}

// New creates an Oracle over sources. sink may be nil; when set, every
// resolved price is written to it.
func New(sources []domain.PriceSource, cfg Config, sink domain.PriceCache, logger *slog.Logger) *Oracle {
	timeout := cfg.SourceTimeout
	if timeout <= 0 || timeout > MaxSourceTimeout {
		timeout = MaxSourceTimeout
	}
	return &Oracle{
		sources: sources,
		timeout: timeout,
		fallbk:  cfg.Fallback,
		sink:    sink,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "oracle")),
	}
}

// Sources returns the names of the configured sources in priority order.
func (o *Oracle) Sources() []string {
	names := make([]string, len(o.sources))
	for i, s := range o.sources {
		names[i] = s.Name()
	}
	return names
}

// ReferencePrice returns the first positive price produced by the source
// chain. If all sources fail it returns the fallback constant, or
// domain.ErrPriceUnavailable when none is configured.
func (o *Oracle) ReferencePrice(ctx context.Context, pair domain.Pair) (domain.PricePoint, error) {
	var errs []error
	for _, src := range o.sources {
		price, err := o.try(ctx, src, pair)
		if err == nil {
			return o.resolved(ctx, pair, price, src.Name()), nil
		}
		if ctx.Err() != nil {
			return domain.PricePoint{}, ctx.Err()
		}
		o.logger.WarnContext(ctx, "price source failed",
			slog.String("source", src.Name()),
			slog.String("pair", pair.String()),
			slog.String("error", err.Error()),
		)
		errs = append(errs, err)
	}

	if o.fallbk.IsPositive() {
		o.logger.WarnContext(ctx, "all price sources failed, using fallback",
			slog.String("pair", pair.String()),
			slog.String("price", o.fallbk.String()),
		)
		return o.resolved(ctx, pair, o.fallbk, FallbackSource), nil
	}
	return domain.PricePoint{}, fmt.Errorf("oracle: %s: %w", pair, errors.Join(append([]error{domain.ErrPriceUnavailable}, errs...)...))
}

func (o *Oracle) try(ctx context.Context, src domain.PriceSource, pair domain.Pair) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	price, err := src.Price(ctx, pair)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w: %w", src.Name(), domain.ErrSourceUnavailable, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: non-positive price %s: %w", src.Name(), price, domain.ErrSourceUnavailable)
	}
	return price, nil
}

func (o *Oracle) resolved(ctx context.Context, pair domain.Pair, price decimal.Decimal, source string) domain.PricePoint {
	pp := domain.PricePoint{Pair: pair, Price: price, Source: source, At: o.now().UTC()}
	if o.sink != nil {
		if err := o.sink.SetPrice(ctx, pair.String(), price, source, pp.At); err != nil {
			o.logger.WarnContext(ctx, "failed to cache price",
				slog.String("pair", pair.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	o.logger.DebugContext(ctx, "reference price resolved",
		slog.String("pair", pair.String()),
		slog.String("price", price.String()),
		slog.String("source", source),
	)
	return pp
}
