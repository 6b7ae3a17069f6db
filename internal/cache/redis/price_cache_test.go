package redis

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

func TestPriceKey(t *testing.T) {
	assert.Equal(t, "hedgebot:price:ETH/USDC", priceKey("eth/usdc"))
	assert.Equal(t, "hedgebot:lock:hedgebot:0xabc", lockKey("hedgebot:0xabc"))
}

func TestPriceCodec(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	enc := encodePrice(decimal.RequireFromString("2001.25"), "binance", ts)

	vals := make(map[string]string, len(enc))
	for k, v := range enc {
		vals[k] = v.(string)
	}

	p, err := decodePrice("ETH/USDC", vals)
	require.NoError(t, err)
	assert.Equal(t, domain.Pair{Base: "ETH", Quote: "USDC"}, p.Pair)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("2001.25")))
	assert.Equal(t, "binance", p.Source)
	assert.True(t, p.At.Equal(ts))
}

func TestDecodePrice_Errors(t *testing.T) {
	_, err := decodePrice("ETH/USDC", map[string]string{"ts": "1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = decodePrice("ETH/USDC", map[string]string{"price": "abc", "ts": "1"})
	assert.Error(t, err)

	_, err = decodePrice("ETH/USDC", map[string]string{"price": "1", "ts": "x"})
	assert.Error(t, err)
}
