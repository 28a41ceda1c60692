package storage

import (
	"context"
	"errors"
	"time"

	"github.com/farhan/wagate/internal/models"
)

// ErrQueueUnavailable signals that the delivery queue's backing table does
// not exist (migration never ran). Callers check it with errors.Is and fall
// back to best-effort direct dispatch. Ordinary I/O errors are not wrapped
// with it.
var ErrQueueUnavailable = errors.New("delivery queue storage unavailable")

type Storage interface {
	// Accounts
	CreateAccount(ctx context.Context, acc *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	UpdateAccountAPIKey(ctx context.Context, id, newKey string) error
	UpdateAccountStatus(ctx context.Context, id string, status models.AccountStatus) error

	// Webhooks
	CreateWebhook(ctx context.Context, wh *models.Webhook) error
	GetWebhook(ctx context.Context, id string) (*models.Webhook, error)
	ListWebhooks(ctx context.Context, accountID string) ([]models.Webhook, error)
	UpdateWebhook(ctx context.Context, wh *models.Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	ToggleWebhook(ctx context.Context, id string, active bool) error
	ActiveWebhooks(ctx context.Context, accountID, eventKind string) ([]models.Webhook, error)

	// Delivery queue
	EnqueueDelivery(ctx context.Context, rec *models.DeliveryRecord) error
	GetDelivery(ctx context.Context, id string) (*models.DeliveryRecord, error)
	DueDeliveries(ctx context.Context, limit int) ([]models.DeliveryRecord, error)
	ClaimDelivery(ctx context.Context, rec *models.DeliveryRecord) (*models.DeliveryRecord, error)
	CompleteDelivery(ctx context.Context, id string, responseStatus int) error
	FailDelivery(ctx context.Context, rec *models.DeliveryRecord, errMsg string, responseStatus int, nextAttemptAt time.Time, deadLetter bool) error
	ResetStuckDeliveries(ctx context.Context, maxAge time.Duration) (int64, error)
	ListDeadLetters(ctx context.Context, accountID string, limit int) ([]models.DeliveryRecord, error)
	RequeueDelivery(ctx context.Context, id string) error
	PurgeTerminalDeliveries(ctx context.Context, olderThan time.Duration) (int64, error)
	QueueStats(ctx context.Context, accountID string) (*QueueStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Success    int64 `json:"success"`
	Failed     int64 `json:"failed"`
	DeadLetter int64 `json:"dead_letter"`
	Total      int64 `json:"total"`
}
