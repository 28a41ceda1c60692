package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farhan/wagate/internal/delivery"
	"github.com/farhan/wagate/internal/models"
	"github.com/farhan/wagate/internal/storage"
)

type fakeEnqueuer struct {
	err   error
	panic bool
	recs  []*models.DeliveryRecord
}

func (f *fakeEnqueuer) EnqueueDelivery(ctx context.Context, rec *models.DeliveryRecord) error {
	if f.panic {
		panic("storage blew up")
	}
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, rec)
	return nil
}

type fakeDispatcher struct {
	results map[string]*delivery.SendResult
	sent    []string
}

func (f *fakeDispatcher) Send(ctx context.Context, url, secret string, payload []byte) *delivery.SendResult {
	f.sent = append(f.sent, url)
	if r, ok := f.results[url]; ok {
		return r
	}
	return &delivery.SendResult{StatusCode: 200}
}

func testWebhooks() []models.Webhook {
	return []models.Webhook{
		{ID: "wh_1", AccountID: "acc_1", URL: "http://one.example.com", Secret: "s1", MaxRetries: 5, Active: true},
		{ID: "wh_2", AccountID: "acc_1", URL: "http://two.example.com", Secret: "s2", Active: true},
	}
}

func testEvent() models.Event {
	return models.NewEvent(models.EventMessage, "acc_1", json.RawMessage(`{"body":"hello"}`))
}

func TestQueueDeliveriesEnqueuesPerWebhook(t *testing.T) {
	store := &fakeEnqueuer{}
	sender := &fakeDispatcher{}
	q := New(store, sender, 3, zerolog.Nop())

	q.QueueDeliveries(context.Background(), "acc_1", testWebhooks(), testEvent())

	require.Len(t, store.recs, 2)
	assert.Empty(t, sender.sent, "durable path never dispatches directly")

	rec := store.recs[0]
	assert.Equal(t, "acc_1", rec.AccountID)
	assert.Equal(t, "wh_1", rec.WebhookID)
	assert.Equal(t, "http://one.example.com", rec.WebhookURL)
	assert.Equal(t, "s1", rec.WebhookSecret)
	assert.Equal(t, models.DeliveryPending, rec.Status)
	assert.Equal(t, 5, rec.MaxRetries)
	assert.Equal(t, 0, rec.AttemptCount)
	assert.False(t, rec.NextAttemptAt.After(time.Now().UTC()))

	var body models.Event
	require.NoError(t, json.Unmarshal(rec.Payload, &body))
	assert.Equal(t, models.EventMessage, body.Event)
	assert.Equal(t, "acc_1", body.AccountID)

	assert.Equal(t, 3, store.recs[1].MaxRetries, "webhook without a ceiling gets the default")
}

func TestQueueDeliveriesSkipsInactiveWebhooks(t *testing.T) {
	store := &fakeEnqueuer{}
	q := New(store, &fakeDispatcher{}, 3, zerolog.Nop())

	hooks := testWebhooks()
	hooks[1].Active = false
	q.QueueDeliveries(context.Background(), "acc_1", hooks, testEvent())

	require.Len(t, store.recs, 1)
	assert.Equal(t, "wh_1", store.recs[0].WebhookID)
}

func TestFallbackOnQueueUnavailable(t *testing.T) {
	store := &fakeEnqueuer{err: storage.ErrQueueUnavailable}
	sender := &fakeDispatcher{}
	q := New(store, sender, 3, zerolog.Nop())

	q.QueueDeliveries(context.Background(), "acc_1", testWebhooks(), testEvent())

	assert.Empty(t, store.recs, "nothing persisted in degraded mode")
	assert.Equal(t, []string{"http://one.example.com", "http://two.example.com"}, sender.sent,
		"exactly one direct attempt per active webhook")
	assert.True(t, q.Degraded())
}

func TestDegradedModeIsSticky(t *testing.T) {
	store := &fakeEnqueuer{err: storage.ErrQueueUnavailable}
	sender := &fakeDispatcher{}
	q := New(store, sender, 3, zerolog.Nop())

	q.QueueDeliveries(context.Background(), "acc_1", testWebhooks(), testEvent())

	// store "recovers", but the per-process latch keeps the fallback path
	store.err = nil
	q.QueueDeliveries(context.Background(), "acc_1", testWebhooks(), testEvent())

	assert.Empty(t, store.recs, "no retroactive persistence after recovery")
	assert.Len(t, sender.sent, 4)
}

func TestFallbackDoesNotShortCircuitOnFailure(t *testing.T) {
	store := &fakeEnqueuer{err: storage.ErrQueueUnavailable}
	sender := &fakeDispatcher{results: map[string]*delivery.SendResult{
		"http://one.example.com": {Error: "request failed: connection refused"},
	}}
	q := New(store, sender, 3, zerolog.Nop())

	q.QueueDeliveries(context.Background(), "acc_1", testWebhooks(), testEvent())

	assert.Len(t, sender.sent, 2, "a failed dispatch must not stop the fan-out")
}

func TestOrdinaryEnqueueErrorDoesNotDegrade(t *testing.T) {
	store := &fakeEnqueuer{err: errors.New("disk I/O error")}
	sender := &fakeDispatcher{}
	q := New(store, sender, 3, zerolog.Nop())

	q.QueueDeliveries(context.Background(), "acc_1", testWebhooks(), testEvent())

	assert.Empty(t, sender.sent, "transient store errors never trigger the fallback")
	assert.False(t, q.Degraded())

	// and the caller is never bothered: the store recovers, enqueues resume
	store.err = nil
	q.QueueDeliveries(context.Background(), "acc_1", testWebhooks(), testEvent())
	assert.Len(t, store.recs, 2)
}

func TestQueueDeliveriesNeverPropagates(t *testing.T) {
	store := &fakeEnqueuer{panic: true}
	q := New(store, &fakeDispatcher{}, 3, zerolog.Nop())

	assert.NotPanics(t, func() {
		q.QueueDeliveries(context.Background(), "acc_1", testWebhooks(), testEvent())
	})
}
