package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// PositionHandler serves the position snapshot taken by the last cycle.
type PositionHandler struct {
	last LastCycleFunc
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(last LastCycleFunc) *PositionHandler {
	return &PositionHandler{last: last}
}

type positionResponse struct {
	AsOf   time.Time              `json:"as_of"`
	Price  *domain.PricePoint     `json:"price,omitempty"`
	LP     *domain.LiquidityRange `json:"lp"`
	Hedge  domain.HedgePosition   `json:"hedge"`
	Wallet *domain.WalletState    `json:"wallet,omitempty"`
}

// GetPosition returns the LP range, hedge and wallet seen by the last cycle.
// GET /api/position
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	last, ok := h.last()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no cycle has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		AsOf:   last.StartedAt,
		Price:  last.Price,
		LP:     last.LP,
		Hedge:  last.Hedge,
		Wallet: last.Wallet,
	})
}
