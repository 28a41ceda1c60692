package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/farhan/wagate/internal/models"
	"github.com/farhan/wagate/internal/storage"
)

type DeliveryHandler struct {
	store storage.Storage
}

func NewDeliveryHandler(store storage.Storage) *DeliveryHandler {
	return &DeliveryHandler{store: store}
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := h.store.GetDelivery(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get delivery")
		return
	}
	if rec == nil || rec.AccountID != acc.ID {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *DeliveryHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.store.ListDeadLetters(r.Context(), acc.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if recs == nil {
		recs = []models.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *DeliveryHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := h.store.GetDelivery(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get delivery")
		return
	}
	if rec == nil || rec.AccountID != acc.ID {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	if rec.Status != models.DeliveryDeadLetter {
		writeError(w, http.StatusConflict, "only dead-lettered deliveries can be requeued")
		return
	}

	if err := h.store.RequeueDelivery(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to requeue delivery")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requeued": true,
	})
}
