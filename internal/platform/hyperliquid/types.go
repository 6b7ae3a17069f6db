package hyperliquid

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Action is an exchange action. Field order is part of the signed msgpack
// encoding.
type Action struct {
	Type     string         `json:"type" msgpack:"type"`
	Orders   []orderPayload `json:"orders,omitempty" msgpack:"orders,omitempty"`
	Grouping string         `json:"grouping,omitempty" msgpack:"grouping,omitempty"`
}

type orderPayload struct {
	Asset      int              `json:"a" msgpack:"a"`
	IsBuy      bool             `json:"b" msgpack:"b"`
	LimitPx    string           `json:"p" msgpack:"p"`
	Sz         string           `json:"s" msgpack:"s"`
	ReduceOnly bool             `json:"r" msgpack:"r"`
	OrderType  orderTypePayload `json:"t" msgpack:"t"`
}

type orderTypePayload struct {
	Limit *limitOrderPayload `json:"limit,omitempty" msgpack:"limit,omitempty"`
}

type limitOrderPayload struct {
	TIF string `json:"tif" msgpack:"tif"`
}

// ExchangeRequest is the signed /exchange body.
type ExchangeRequest struct {
	Action       Action    `json:"action"`
	Nonce        int64     `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress string    `json:"vaultAddress,omitempty"`
}

// Signature is an r/s/v ECDSA signature.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// InfoRequest is the /info body.
type InfoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

type clearinghouseState struct {
	AssetPositions []struct {
		Type     string        `json:"type"`
		Position assetPosition `json:"position"`
	} `json:"assetPositions"`
	MarginSummary struct {
		AccountValue    decimal.Decimal `json:"accountValue"`
		TotalMarginUsed decimal.Decimal `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable decimal.Decimal `json:"withdrawable"`
}

type assetPosition struct {
	Coin       string          `json:"coin"`
	Szi        decimal.Decimal `json:"szi"`
	MarginUsed decimal.Decimal `json:"marginUsed"`
	Leverage   struct {
		Type  string          `json:"type"`
		Value decimal.Decimal `json:"value"`
	} `json:"leverage"`
}

type universeEntry struct {
	Name       string `json:"name"`
	SzDecimals int32  `json:"szDecimals"`
}

type assetCtx struct {
	MarkPx string `json:"markPx"`
	MidPx  string `json:"midPx"`
}

// metaAndAssetCtxs decodes the [meta, ctxs] tuple returned by the info
// endpoint.
type metaAndAssetCtxs struct {
	Universe  []universeEntry
	AssetCtxs []assetCtx
}

func (m *metaAndAssetCtxs) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs decode: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs empty payload")
	}
	var meta struct {
		Universe []universeEntry `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs universe: %w", err)
	}
	m.Universe = meta.Universe
	if len(raw) > 1 {
		if err := json.Unmarshal(raw[1], &m.AssetCtxs); err != nil {
			return fmt.Errorf("hyperliquid: metaAndAssetCtxs assetCtxs: %w", err)
		}
	}
	return nil
}

// AssetInfo is the cached directory entry for one perp.
type AssetInfo struct {
	Name       string
	Index      int
	SzDecimals int32
	MidPx      decimal.Decimal
}

type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type orderResponseBody struct {
	Type string `json:"type"`
	Data struct {
		Statuses []orderStatus `json:"statuses"`
	} `json:"data"`
}

type orderStatus struct {
	Filled *struct {
		TotalSz decimal.Decimal `json:"totalSz"`
		AvgPx   decimal.Decimal `json:"avgPx"`
		Oid     int64           `json:"oid"`
	} `json:"filled,omitempty"`
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Error string `json:"error,omitempty"`
}

// OpenOrder is a resting order as returned by the openOrders info request.
// Side is "B" for bids and "A" for asks.
type OpenOrder struct {
	Coin      string          `json:"coin"`
	Side      string          `json:"side"`
	LimitPx   decimal.Decimal `json:"limitPx"`
	Sz        decimal.Decimal `json:"sz"`
	Oid       int64           `json:"oid"`
	Timestamp int64           `json:"timestamp"`
}

// IsBuy reports whether the order is a bid.
func (o OpenOrder) IsBuy() bool { return o.Side == "B" }
