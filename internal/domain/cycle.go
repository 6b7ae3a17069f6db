package domain

import (
	"time"
)

// CycleReport records one pass of the orchestrator loop.
type CycleReport struct {
	ID        string          `json:"id"`
	Mode      string          `json:"mode"`
	Owner     string          `json:"owner"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Price     *PricePoint     `json:"price,omitempty"`
	LP        *LiquidityRange `json:"lp,omitempty"`
	Hedge     HedgePosition   `json:"hedge"`
	Wallet    *WalletState    `json:"wallet,omitempty"`
	Decisions DecisionSet     `json:"decisions"`
	Applied   []string        `json:"applied,omitempty"`
	Errors    []string        `json:"errors,omitempty"`
}

// Skipped reports whether the cycle ended before a decision was made.
func (r CycleReport) Skipped() bool {
	return r.Price == nil
}
