package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// OddsQuerier reads a market's chart history.
type OddsQuerier interface {
	Query(ctx context.Context, seasonID, marketID int64, rng domain.OddsRange) (domain.OddsHistory, error)
}

// OddsHandler serves the odds history endpoint.
type OddsHandler struct {
	odds   OddsQuerier
	logger *slog.Logger
}

// NewOddsHandler creates an OddsHandler.
func NewOddsHandler(odds OddsQuerier, logger *slog.Logger) *OddsHandler {
	return &OddsHandler{odds: odds, logger: logger.With(slog.String("handler", "odds"))}
}

// GetHistory returns the downsampled history of one market.
// GET /api/odds/{season}/{market}?range=1D
func (h *OddsHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	seasonID, ok := pathInt64(r, "season")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid season id")
		return
	}
	marketID, ok := pathInt64(r, "market")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	rng := domain.OddsRange1D
	if raw := r.URL.Query().Get("range"); raw != "" {
		parsed, err := domain.ParseOddsRange(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "range must be one of 1H, 6H, 1D, 1W, 1M, ALL")
			return
		}
		rng = parsed
	}

	hist, err := h.odds.Query(r.Context(), seasonID, marketID, rng)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "odds query failed",
			slog.Int64("season_id", seasonID),
			slog.Int64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load odds history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"season_id": seasonID,
		"market_id": marketID,
		"range":     rng,
		"history":   hist,
	})
}
