package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/farhan/wagate/internal/models"
)

// Store is the slice of the storage layer the worker needs.
type Store interface {
	DueDeliveries(ctx context.Context, limit int) ([]models.DeliveryRecord, error)
	ClaimDelivery(ctx context.Context, rec *models.DeliveryRecord) (*models.DeliveryRecord, error)
	CompleteDelivery(ctx context.Context, id string, responseStatus int) error
	FailDelivery(ctx context.Context, rec *models.DeliveryRecord, errMsg string, responseStatus int, nextAttemptAt time.Time, deadLetter bool) error
	ResetStuckDeliveries(ctx context.Context, maxAge time.Duration) (int64, error)
}

type Worker struct {
	store  Store
	sender *Sender
	policy Policy
	log    zerolog.Logger
}

func NewWorker(store Store, sender *Sender, policy Policy, log zerolog.Logger) *Worker {
	return &Worker{
		store:  store,
		sender: sender,
		policy: policy,
		log:    log,
	}
}

// Process runs one claim-send-record cycle for a due record. Every outcome is
// absorbed here; nothing propagates to the loop.
func (w *Worker) Process(ctx context.Context, rec models.DeliveryRecord) {
	claimed, err := w.store.ClaimDelivery(ctx, &rec)
	if err != nil {
		w.log.Error().Err(err).Str("delivery_id", rec.ID).Msg("failed to claim delivery")
		return
	}
	if claimed == nil {
		// another claimant won the race, expected under concurrent workers
		return
	}

	result := w.sender.Send(ctx, claimed.WebhookURL, claimed.WebhookSecret, claimed.Payload)

	if result.Success() {
		if err := w.store.CompleteDelivery(ctx, claimed.ID, result.StatusCode); err != nil {
			w.log.Error().Err(err).Str("delivery_id", claimed.ID).Msg("failed to mark delivery succeeded")
			return
		}
		w.log.Info().
			Str("delivery_id", claimed.ID).
			Str("account_id", claimed.AccountID).
			Int("status_code", result.StatusCode).
			Int64("latency_ms", result.LatencyMs).
			Msg("webhook delivered")
		return
	}

	errMsg := result.Error
	if errMsg == "" {
		errMsg = fmt.Sprintf("endpoint returned HTTP %d", result.StatusCode)
	}

	decision := w.policy.Decide(claimed.AttemptCount, claimed.MaxRetries, time.Now().UTC())

	if err := w.store.FailDelivery(ctx, claimed, errMsg, result.StatusCode, decision.NextAttemptAt, decision.DeadLetter); err != nil {
		w.log.Error().Err(err).Str("delivery_id", claimed.ID).Msg("failed to record delivery failure")
		return
	}

	if decision.DeadLetter {
		w.log.Warn().
			Str("delivery_id", claimed.ID).
			Str("account_id", claimed.AccountID).
			Int("attempts", claimed.AttemptCount).
			Str("error", errMsg).
			Msg("webhook dead-lettered")
		return
	}

	w.log.Info().
		Str("delivery_id", claimed.ID).
		Int("attempt", claimed.AttemptCount).
		Time("next_attempt", decision.NextAttemptAt).
		Str("error", errMsg).
		Msg("webhook delivery scheduled for retry")
}
