package api

import (
	"encoding/json"
	"net/http"

	"github.com/farhan/wagate/internal/models"
	"github.com/farhan/wagate/internal/queue"
	"github.com/farhan/wagate/internal/storage"
)

// EventHandler is the ingestion point the WhatsApp session layer posts to:
// one inbound message, ack or connection event per call, fanned out to the
// account's webhooks.
type EventHandler struct {
	store storage.Storage
	queue *queue.Queue
}

func NewEventHandler(store storage.Storage, q *queue.Queue) *EventHandler {
	return &EventHandler{store: store, queue: q}
}

type ingestEventRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

const maxEventSize = 256 * 1024 // 256KB

func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxEventSize)
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}

	webhooks, err := h.store.ActiveWebhooks(r.Context(), acc.ID, req.Event)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve webhooks")
		return
	}

	event := models.NewEvent(req.Event, acc.ID, req.Data)
	h.queue.QueueDeliveries(r.Context(), acc.ID, webhooks, event)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"event":    req.Event,
		"webhooks": len(webhooks),
	})
}
