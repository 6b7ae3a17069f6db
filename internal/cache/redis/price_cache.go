package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per pair at
// "hedgebot:price:<BASE>/<QUOTE>" holding price, source and ts (Unix nanos).
// Entries expire after the configured TTL so a stalled bot does not leave a
// stale price behind for readers.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A zero ttl keeps entries forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.rdb, ttl: ttl}
}

func priceKey(pair string) string {
	return key("price", strings.ToUpper(pair))
}

// SetPrice records the latest resolved price for pair.
func (pc *PriceCache) SetPrice(ctx context.Context, pair string, price decimal.Decimal, source string, ts time.Time) error {
	k := priceKey(pair)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, k, encodePrice(price, source, ts))
	if pc.ttl > 0 {
		pipe.Expire(ctx, k, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", pair, err)
	}
	return nil
}

// GetPrice returns the cached price for pair, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, pair string) (domain.PricePoint, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(pair)).Result()
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: get price %s: %w", pair, err)
	}
	if len(vals) == 0 {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	p, err := decodePrice(pair, vals)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: get price %s: %w", pair, err)
	}
	return p, nil
}

func encodePrice(price decimal.Decimal, source string, ts time.Time) map[string]any {
	return map[string]any{
		"price":  price.String(),
		"source": source,
		"ts":     strconv.FormatInt(ts.UnixNano(), 10),
	}
}

func decodePrice(pair string, vals map[string]string) (domain.PricePoint, error) {
	raw, ok := vals["price"]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("parse price: %w", err)
	}
	nanos, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("parse ts: %w", err)
	}

	p := domain.PricePoint{
		Price:  price,
		Source: vals["source"],
		At:     time.Unix(0, nanos).UTC(),
	}
	if base, quote, ok := strings.Cut(pair, "/"); ok {
		p.Pair = domain.Pair{Base: base, Quote: quote}
	}
	return p, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
