package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// ArmedListeners reports the keys of running pollers.
type ArmedListeners interface {
	Keys() []string
}

// ListenerHandler exposes poller state.
type ListenerHandler struct {
	armed   ArmedListeners
	cursors domain.CursorLister
	logger  *slog.Logger
}

// NewListenerHandler creates a ListenerHandler. armed is nil in modes that
// run no pollers.
func NewListenerHandler(armed ArmedListeners, cursors domain.CursorLister, logger *slog.Logger) *ListenerHandler {
	return &ListenerHandler{armed: armed, cursors: cursors, logger: logger.With(slog.String("handler", "listeners"))}
}

type listenerView struct {
	Key       string `json:"key"`
	LastBlock uint64 `json:"last_block"`
	UpdatedAt string `json:"updated_at,omitempty"`
	Armed     bool   `json:"armed"`
}

// List merges persisted cursors with the pollers armed in this process.
// GET /api/listeners
func (h *ListenerHandler) List(w http.ResponseWriter, r *http.Request) {
	cursors, err := h.cursors.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list cursors failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list listeners")
		return
	}

	armed := make(map[string]bool)
	if h.armed != nil {
		for _, k := range h.armed.Keys() {
			armed[k] = true
		}
	}

	out := make([]listenerView, 0, len(cursors)+len(armed))
	for _, c := range cursors {
		out = append(out, listenerView{
			Key:       c.ListenerKey,
			LastBlock: c.LastProcessedBlock,
			UpdatedAt: c.UpdatedAt.UTC().Format(time.RFC3339),
			Armed:     armed[c.ListenerKey],
		})
		delete(armed, c.ListenerKey)
	}
	// Armed but no block processed yet.
	for k := range armed {
		out = append(out, listenerView{Key: k, Armed: true})
	}
	writeJSON(w, http.StatusOK, map[string]any{"listeners": out, "count": len(out)})
}
