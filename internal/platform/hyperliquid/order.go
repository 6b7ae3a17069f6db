package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// maxPerpPriceDecimals bounds price precision together with szDecimals.
const maxPerpPriceDecimals = 6

// priceSigFigs is the number of significant figures accepted for prices.
const priceSigFigs = 5

// OrderResult describes a submitted (or dry-run) IOC order.
type OrderResult struct {
	Coin       string          `json:"coin"`
	IsBuy      bool            `json:"is_buy"`
	Size       decimal.Decimal `json:"size"`
	LimitPx    decimal.Decimal `json:"limit_px"`
	FilledSize decimal.Decimal `json:"filled_size"`
	AvgPx      decimal.Decimal `json:"avg_px"`
	OrderID    int64           `json:"order_id,omitempty"`
	DryRun     bool            `json:"dry_run"`
}

// MarketOrder places an IOC limit order at the mid shifted by the configured
// slippage. Size is rounded down to the asset's size precision.
func (c *Client) MarketOrder(ctx context.Context, isBuy bool, size decimal.Decimal) (OrderResult, error) {
	if !size.IsPositive() {
		return OrderResult{}, fmt.Errorf("hyperliquid: order size must be > 0: %w", domain.ErrInvalidInput)
	}
	info, err := c.AssetInfo(ctx, c.coin)
	if err != nil {
		return OrderResult{}, err
	}
	mid := info.MidPx
	if !mid.IsPositive() {
		if mid, err = c.Price(ctx, domain.Pair{}); err != nil {
			return OrderResult{}, err
		}
	}

	sz := size.Truncate(info.SzDecimals)
	if !sz.IsPositive() {
		return OrderResult{}, fmt.Errorf("hyperliquid: size %s below minimum step for %s: %w", size, c.coin, domain.ErrInvalidInput)
	}
	px := mid.Mul(decimal.NewFromInt(1).Sub(c.slippage))
	if isBuy {
		px = mid.Mul(decimal.NewFromInt(1).Add(c.slippage))
	}
	px = roundPrice(px, info.SzDecimals)

	result := OrderResult{Coin: c.coin, IsBuy: isBuy, Size: sz, LimitPx: px, DryRun: c.dryRun}
	if c.dryRun {
		c.logger.InfoContext(ctx, "dry-run order",
			slog.String("coin", c.coin),
			slog.Bool("is_buy", isBuy),
			slog.String("size", sz.String()),
			slog.String("limit_px", px.String()),
		)
		return result, nil
	}
	if c.signer == nil {
		return OrderResult{}, errors.New("hyperliquid: signer required for live orders")
	}

	action := Action{
		Type: "order",
		Orders: []orderPayload{{
			Asset:     info.Index,
			IsBuy:     isBuy,
			LimitPx:   px.String(),
			Sz:        sz.String(),
			OrderType: orderTypePayload{Limit: &limitOrderPayload{TIF: "Ioc"}},
		}},
		Grouping: "na",
	}
	status, err := c.doExchangeRequest(ctx, action)
	if err != nil {
		return OrderResult{}, err
	}
	switch {
	case status.Error != "":
		return OrderResult{}, fmt.Errorf("hyperliquid: order rejected: %s", status.Error)
	case status.Filled != nil:
		result.FilledSize = status.Filled.TotalSz
		result.AvgPx = status.Filled.AvgPx
		result.OrderID = status.Filled.Oid
	case status.Resting != nil:
		result.OrderID = status.Resting.Oid
	}
	c.logger.InfoContext(ctx, "order placed",
		slog.String("coin", c.coin),
		slog.Bool("is_buy", isBuy),
		slog.String("size", sz.String()),
		slog.String("filled", result.FilledSize.String()),
		slog.Int64("oid", result.OrderID),
	)
	return result, nil
}

// doExchangeRequest signs and submits action once. Orders are never retried.
func (c *Client) doExchangeRequest(ctx context.Context, action Action) (orderStatus, error) {
	req, err := signAction(action, c.signer, c.clock().UnixMilli(), "", c.mainnet)
	if err != nil {
		return orderStatus{}, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return orderStatus{}, fmt.Errorf("hyperliquid: encode exchange request: %w", err)
	}

	body, status, err := c.post(ctx, c.exchangeURL, payload)
	if err != nil {
		return orderStatus{}, err
	}
	if status < http.StatusOK || status >= 300 {
		return orderStatus{}, fmt.Errorf("hyperliquid: exchange http status %d: %s", status, string(body))
	}

	var resp exchangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return orderStatus{}, fmt.Errorf("hyperliquid: decode exchange response: %w", err)
	}
	if resp.Status != "ok" {
		var msg string
		if err := json.Unmarshal(resp.Response, &msg); err != nil {
			msg = string(resp.Response)
		}
		return orderStatus{}, fmt.Errorf("hyperliquid: exchange error: %s", msg)
	}
	var out orderResponseBody
	if err := json.Unmarshal(resp.Response, &out); err != nil {
		return orderStatus{}, fmt.Errorf("hyperliquid: decode order response: %w", err)
	}
	if len(out.Data.Statuses) == 0 {
		return orderStatus{}, errors.New("hyperliquid: order response contained no statuses")
	}
	return out.Data.Statuses[0], nil
}

// roundPrice keeps at most five significant figures and at most
// 6-szDecimals decimal places. Integer prices are always allowed.
func roundPrice(px decimal.Decimal, szDecimals int32) decimal.Decimal {
	places := maxPerpPriceDecimals - szDecimals
	intDigits := int32(len(px.Abs().Truncate(0).String()))
	if px.Abs().LessThan(decimal.NewFromInt(1)) {
		intDigits = 0
	}
	if sig := priceSigFigs - intDigits; sig < places {
		places = sig
	}
	if places < 0 {
		places = 0
	}
	return px.Round(places)
}
