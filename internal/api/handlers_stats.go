package api

import (
	"net/http"

	"github.com/farhan/wagate/internal/queue"
	"github.com/farhan/wagate/internal/storage"
)

type StatsHandler struct {
	store storage.Storage
	queue *queue.Queue
}

func NewStatsHandler(store storage.Storage, q *queue.Queue) *StatsHandler {
	return &StatsHandler{store: store, queue: q}
}

func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"degraded": h.queue.Degraded(),
	})
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.store.QueueStats(r.Context(), acc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
