package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farhan/wagate/internal/config"
	"github.com/farhan/wagate/internal/delivery"
	"github.com/farhan/wagate/internal/models"
	"github.com/farhan/wagate/internal/queue"
	"github.com/farhan/wagate/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })

	sender := delivery.NewSender(2 * time.Second)
	q := queue.New(store, sender, 3, zerolog.Nop())

	srv := NewServer(config.ServerConfig{}, store, q, zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func doJSON(t *testing.T, method, url, apiKey string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func createTestAccount(t *testing.T, ts *httptest.Server) models.Account {
	t.Helper()
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/accounts", "", map[string]string{
		"name":         "support line",
		"phone_number": "+8801700000000",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var acc models.Account
	decode(t, resp, &acc)
	require.NotEmpty(t, acc.APIKey)
	return acc
}

func createTestWebhook(t *testing.T, ts *httptest.Server, apiKey, targetURL string) models.Webhook {
	t.Helper()
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/webhooks", apiKey, map[string]interface{}{
		"url": targetURL,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var wh models.Webhook
	decode(t, resp, &wh)
	require.NotEmpty(t, wh.Secret)
	return wh
}

func TestEventIngestionEnqueuesDeliveries(t *testing.T) {
	ts, store := newTestServer(t)
	acc := createTestAccount(t, ts)
	wh := createTestWebhook(t, ts, acc.APIKey, "http://receiver.example.com/hook")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/events", acc.APIKey, map[string]interface{}{
		"event": "message",
		"data":  map[string]string{"from": "+8801555000111", "body": "hello"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted map[string]interface{}
	decode(t, resp, &accepted)
	assert.Equal(t, float64(1), accepted["webhooks"])

	due, err := store.DueDeliveries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	rec := due[0]
	assert.Equal(t, acc.ID, rec.AccountID)
	assert.Equal(t, wh.ID, rec.WebhookID)
	assert.Equal(t, wh.URL, rec.WebhookURL)
	assert.Equal(t, wh.Secret, rec.WebhookSecret)
	assert.Equal(t, models.DeliveryPending, rec.Status)

	var event models.Event
	require.NoError(t, json.Unmarshal(rec.Payload, &event))
	assert.Equal(t, "message", event.Event)
	assert.Equal(t, acc.ID, event.AccountID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestEventIngestionRequiresAuth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/events", "", map[string]interface{}{
		"event": "message",
		"data":  map[string]string{"body": "hi"},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/events", "wak_bogus", map[string]interface{}{
		"event": "message",
		"data":  map[string]string{"body": "hi"},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookTestPing(t *testing.T) {
	ts, store := newTestServer(t)
	acc := createTestAccount(t, ts)
	wh := createTestWebhook(t, ts, acc.APIKey, "http://receiver.example.com/hook")

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/webhooks/%s/test", ts.URL, wh.ID), acc.APIKey, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	due, err := store.DueDeliveries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	var event models.Event
	require.NoError(t, json.Unmarshal(due[0].Payload, &event))
	assert.Equal(t, models.EventTest, event.Event)
}

func TestWebhookOwnershipIsEnforced(t *testing.T) {
	ts, _ := newTestServer(t)
	owner := createTestAccount(t, ts)
	intruder := createTestAccount(t, ts)
	wh := createTestWebhook(t, ts, owner.APIKey, "http://receiver.example.com/hook")

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/webhooks/"+wh.ID, intruder.APIKey, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookRejectsBadURL(t *testing.T) {
	ts, _ := newTestServer(t)
	acc := createTestAccount(t, ts)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/webhooks", acc.APIKey, map[string]interface{}{
		"url": "ftp://not-a-webhook",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeadLetterListAndRequeue(t *testing.T) {
	ts, store := newTestServer(t)
	acc := createTestAccount(t, ts)
	createTestWebhook(t, ts, acc.APIKey, "http://receiver.example.com/hook")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/events", acc.APIKey, map[string]interface{}{
		"event": "message",
		"data":  map[string]string{"body": "hi"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	ctx := context.Background()
	due, err := store.DueDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	claimed, err := store.ClaimDelivery(ctx, &due[0])
	require.NoError(t, err)
	require.NoError(t, store.FailDelivery(ctx, claimed, "endpoint returned HTTP 500", 500, time.Now().UTC(), true))

	var letters []models.DeliveryRecord
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/deliveries/dead-letter", acc.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &letters)
	require.Len(t, letters, 1)
	assert.Equal(t, models.DeliveryDeadLetter, letters[0].Status)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/deliveries/"+letters[0].ID+"/requeue", acc.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	rec, err := store.GetDelivery(ctx, letters[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPending, rec.Status)
	assert.Equal(t, 0, rec.AttemptCount)
}

func TestStatsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	acc := createTestAccount(t, ts)
	createTestWebhook(t, ts, acc.APIKey, "http://receiver.example.com/hook")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/events", acc.APIKey, map[string]interface{}{
		"event": "message",
		"data":  map[string]string{"body": "hi"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	var stats storage.QueueStats
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/stats", acc.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &stats)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Total)
}

func TestAccountStatusUpdate(t *testing.T) {
	ts, _ := newTestServer(t)
	acc := createTestAccount(t, ts)
	require.Equal(t, models.AccountDisconnected, acc.Status)

	resp := doJSON(t, http.MethodPatch, ts.URL+"/api/v1/accounts/"+acc.ID+"/status", "", map[string]string{
		"status": "connected",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated models.Account
	decode(t, resp, &updated)
	assert.Equal(t, models.AccountConnected, updated.Status)

	resp = doJSON(t, http.MethodPatch, ts.URL+"/api/v1/accounts/"+acc.ID+"/status", "", map[string]string{
		"status": "napping",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAccountDeleteRemovesWebhooks(t *testing.T) {
	ts, store := newTestServer(t)
	acc := createTestAccount(t, ts)
	wh := createTestWebhook(t, ts, acc.APIKey, "http://receiver.example.com/hook")

	resp := doJSON(t, http.MethodDelete, ts.URL+"/api/v1/accounts/"+acc.ID, "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	got, err := store.GetWebhook(context.Background(), wh.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
