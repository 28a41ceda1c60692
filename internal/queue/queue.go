// Package queue is the single entry point the gateway's message handling
// calls to fan an event out to an account's webhooks. It prefers the durable
// delivery queue and degrades to one-shot direct dispatch when the queue's
// backing table is unavailable.
package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/farhan/wagate/internal/delivery"
	"github.com/farhan/wagate/internal/models"
	"github.com/farhan/wagate/internal/storage"
)

// Enqueuer is the slice of the storage layer the facade needs.
type Enqueuer interface {
	EnqueueDelivery(ctx context.Context, rec *models.DeliveryRecord) error
}

// Dispatcher performs one direct POST attempt; *delivery.Sender satisfies it.
type Dispatcher interface {
	Send(ctx context.Context, url, secret string, payload []byte) *delivery.SendResult
}

type Queue struct {
	store             Enqueuer
	sender            Dispatcher
	defaultMaxRetries int
	log               zerolog.Logger

	// degraded latches per process once the store reports its table missing,
	// so we stop hammering a known-broken queue. Never shared across
	// instances; it is only a local shortcut.
	degraded atomic.Bool
}

func New(store Enqueuer, sender Dispatcher, defaultMaxRetries int, log zerolog.Logger) *Queue {
	if defaultMaxRetries < 1 {
		defaultMaxRetries = 3
	}
	return &Queue{
		store:             store,
		sender:            sender,
		defaultMaxRetries: defaultMaxRetries,
		log:               log,
	}
}

// Degraded reports whether the facade has latched onto the fallback path.
func (q *Queue) Degraded() bool {
	return q.degraded.Load()
}

// QueueDeliveries fans event out to each active webhook, one delivery record
// apiece. It never returns an error and never panics: webhook trouble must
// not block message processing.
func (q *Queue) QueueDeliveries(ctx context.Context, accountID string, webhooks []models.Webhook, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("account_id", accountID).Msg("panic while queueing deliveries")
		}
	}()

	payload, err := event.Marshal()
	if err != nil {
		q.log.Error().Err(err).Str("account_id", accountID).Msg("failed to encode event payload")
		return
	}

	for _, wh := range webhooks {
		if !wh.Active {
			continue
		}

		if q.degraded.Load() {
			q.dispatchDirect(ctx, wh, payload)
			continue
		}

		rec := q.newRecord(accountID, wh, payload)
		err := q.store.EnqueueDelivery(ctx, rec)
		if err == nil {
			continue
		}

		if errors.Is(err, storage.ErrQueueUnavailable) {
			q.degraded.Store(true)
			q.log.Warn().Err(err).Msg("delivery queue unavailable, falling back to direct dispatch")
			q.dispatchDirect(ctx, wh, payload)
			continue
		}

		q.log.Error().Err(err).
			Str("account_id", accountID).
			Str("webhook_id", wh.ID).
			Msg("failed to enqueue webhook delivery")
	}
}

func (q *Queue) newRecord(accountID string, wh models.Webhook, payload []byte) *models.DeliveryRecord {
	maxRetries := wh.MaxRetries
	if maxRetries < 1 {
		maxRetries = q.defaultMaxRetries
	}
	now := time.Now().UTC()
	return &models.DeliveryRecord{
		ID:            models.NewID("dlv"),
		AccountID:     accountID,
		WebhookID:     wh.ID,
		WebhookURL:    wh.URL,
		WebhookSecret: wh.Secret,
		Payload:       payload,
		Status:        models.DeliveryPending,
		MaxRetries:    maxRetries,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// dispatchDirect is the degraded path: at most once, best effort, nothing
// persisted. Failures are logged and dropped.
func (q *Queue) dispatchDirect(ctx context.Context, wh models.Webhook, payload []byte) {
	result := q.sender.Send(ctx, wh.URL, wh.Secret, payload)
	if result.Success() {
		q.log.Info().
			Str("webhook_id", wh.ID).
			Int("status_code", result.StatusCode).
			Msg("direct webhook dispatch succeeded")
		return
	}
	q.log.Warn().
		Str("webhook_id", wh.ID).
		Int("status_code", result.StatusCode).
		Str("error", result.Error).
		Msg("direct webhook dispatch failed, dropping event")
}
