package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/farhan/wagate/internal/models"
	"github.com/farhan/wagate/internal/queue"
	"github.com/farhan/wagate/internal/storage"
)

type WebhookHandler struct {
	store storage.Storage
	queue *queue.Queue
}

func NewWebhookHandler(store storage.Storage, q *queue.Queue) *WebhookHandler {
	return &WebhookHandler{store: store, queue: q}
}

type createWebhookRequest struct {
	URL        string   `json:"url"`
	Events     []string `json:"events"`
	MaxRetries int      `json:"max_retries"`
}

func validTargetURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !validTargetURL(req.URL) {
		writeError(w, http.StatusBadRequest, "url must be a valid HTTP or HTTPS URL")
		return
	}

	now := time.Now().UTC()
	wh := &models.Webhook{
		ID:         models.NewID("wh"),
		AccountID:  acc.ID,
		URL:        req.URL,
		Secret:     models.NewSecret(),
		Events:     req.Events,
		MaxRetries: req.MaxRetries,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if wh.Events == nil {
		wh.Events = []string{}
	}

	if err := h.store.CreateWebhook(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	writeJSON(w, http.StatusCreated, wh)
}

// ownedWebhook loads a webhook and checks it belongs to the caller's account.
func (h *WebhookHandler) ownedWebhook(w http.ResponseWriter, r *http.Request) *models.Webhook {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}

	id := chi.URLParam(r, "id")
	wh, err := h.store.GetWebhook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get webhook")
		return nil
	}
	if wh == nil || wh.AccountID != acc.ID {
		writeError(w, http.StatusNotFound, "webhook not found")
		return nil
	}
	return wh
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	wh := h.ownedWebhook(w, r)
	if wh == nil {
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	webhooks, err := h.store.ListWebhooks(r.Context(), acc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	if webhooks == nil {
		webhooks = []models.Webhook{}
	}
	writeJSON(w, http.StatusOK, webhooks)
}

type updateWebhookRequest struct {
	URL        string   `json:"url"`
	Events     []string `json:"events"`
	MaxRetries int      `json:"max_retries"`
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	wh := h.ownedWebhook(w, r)
	if wh == nil {
		return
	}

	var req updateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL != "" {
		if !validTargetURL(req.URL) {
			writeError(w, http.StatusBadRequest, "url must be a valid HTTP or HTTPS URL")
			return
		}
		wh.URL = req.URL
	}
	if req.Events != nil {
		wh.Events = req.Events
	}
	wh.MaxRetries = req.MaxRetries

	if err := h.store.UpdateWebhook(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}

	writeJSON(w, http.StatusOK, wh)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	wh := h.ownedWebhook(w, r)
	if wh == nil {
		return
	}

	if err := h.store.DeleteWebhook(r.Context(), wh.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	wh := h.ownedWebhook(w, r)
	if wh == nil {
		return
	}

	newActive := !wh.Active
	if err := h.store.ToggleWebhook(r.Context(), wh.ID, newActive); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to toggle webhook")
		return
	}

	wh.Active = newActive
	writeJSON(w, http.StatusOK, wh)
}

// Test queues a ping through the normal delivery path so the owner can
// verify their endpoint end to end.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	wh := h.ownedWebhook(w, r)
	if wh == nil {
		return
	}
	if !wh.Active {
		writeError(w, http.StatusConflict, "webhook is not active")
		return
	}

	event := models.NewEvent(models.EventTest, wh.AccountID, json.RawMessage(`{"ping":true}`))
	h.queue.QueueDeliveries(r.Context(), wh.AccountID, []models.Webhook{*wh}, event)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued": true,
	})
}
