package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// OpsHandler serves operator views: failed market creations awaiting manual
// retry and the audit log.
type OpsHandler struct {
	attempts domain.FailedAttemptReader
	audit    domain.AuditReader
	logger   *slog.Logger
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(attempts domain.FailedAttemptReader, audit domain.AuditReader, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{attempts: attempts, audit: audit, logger: logger.With(slog.String("handler", "ops"))}
}

type failedAttemptView struct {
	ID            string `json:"id"`
	SeasonID      int64  `json:"season_id"`
	PlayerAddress string `json:"player_address"`
	MarketType    string `json:"market_type"`
	Error         string `json:"error"`
	Attempts      int    `json:"attempts"`
	Source        string `json:"source"`
	CreatedAt     string `json:"created_at"`
}

// FailedAttempts lists failed market creations, newest first.
// GET /api/markets/failed?limit=50
func (h *OpsHandler) FailedAttempts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.attempts.Recent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list failed attempts", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list failed attempts")
		return
	}
	out := make([]failedAttemptView, 0, len(rows))
	for _, a := range rows {
		out = append(out, failedAttemptView{
			ID:            a.ID,
			SeasonID:      a.SeasonID,
			PlayerAddress: a.PlayerAddress,
			MarketType:    a.Type.String(),
			Error:         a.Error,
			Attempts:      a.Attempts,
			Source:        a.Source,
			CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": out, "count": len(out)})
}

// Audit lists recent audit entries.
// GET /api/audit?limit=50
func (h *OpsHandler) Audit(w http.ResponseWriter, r *http.Request) {
	rows, err := h.audit.Recent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit log", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if rows == nil {
		rows = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": rows, "count": len(rows)})
}
