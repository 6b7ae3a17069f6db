package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// LastCycleFunc returns the most recent cycle report, if any.
type LastCycleFunc func() (domain.CycleReport, bool)

// StatusHandler serves the bot mode and the most recent cycle.
type StatusHandler struct {
	mode      string
	owner     string
	pair      domain.Pair
	startedAt time.Time
	last      LastCycleFunc
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, owner string, pair domain.Pair, startedAt time.Time, last LastCycleFunc) *StatusHandler {
	return &StatusHandler{mode: mode, owner: owner, pair: pair, startedAt: startedAt, last: last}
}

type statusResponse struct {
	Mode          string              `json:"mode"`
	Owner         string              `json:"owner"`
	Pair          string              `json:"pair"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	LastCycle     *domain.CycleReport `json:"last_cycle,omitempty"`
}

// GetStatus responds with the mode and the last cycle report.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:          h.mode,
		Owner:         h.owner,
		Pair:          h.pair.String(),
		UptimeSeconds: max(int64(time.Since(h.startedAt).Seconds()), 0),
	}
	if last, ok := h.last(); ok {
		resp.LastCycle = &last
	}
	writeJSON(w, http.StatusOK, resp)
}
