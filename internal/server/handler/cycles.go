package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// CycleHandler serves the cycle journal.
type CycleHandler struct {
	cycles domain.CycleStore
	audit  domain.AuditStore
	owner  string
	logger *slog.Logger
}

// NewCycleHandler creates a CycleHandler. audit may be nil.
func NewCycleHandler(cycles domain.CycleStore, audit domain.AuditStore, owner string, logger *slog.Logger) *CycleHandler {
	return &CycleHandler{cycles: cycles, audit: audit, owner: owner, logger: logHandler(logger, "cycles")}
}

type listCyclesResponse struct {
	Cycles []domain.CycleReport `json:"cycles"`
}

// ListCycles returns recent cycle reports, newest first. The owner query
// parameter defaults to the bot's own address; "*" lists every owner.
// GET /api/cycles
func (h *CycleHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	switch owner {
	case "":
		owner = h.owner
	case "*":
		owner = ""
	}

	reports, err := h.cycles.ListRecent(r.Context(), owner, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list cycles failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}
	if reports == nil {
		reports = []domain.CycleReport{}
	}
	writeJSON(w, http.StatusOK, listCyclesResponse{Cycles: reports})
}

type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// ListAudit returns recent audit entries.
// GET /api/audit
func (h *CycleHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: entries})
}
