package models

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryProcessing DeliveryStatus = "processing"
	DeliverySuccess    DeliveryStatus = "success"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryDeadLetter DeliveryStatus = "dead_letter"
)

// DeliveryRecord is one queued webhook call. Payload, WebhookURL and
// WebhookSecret are written once at enqueue and never mutated afterwards.
type DeliveryRecord struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	WebhookID      string          `json:"webhook_id"`
	WebhookURL     string          `json:"webhook_url"`
	WebhookSecret  string          `json:"webhook_secret,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Status         DeliveryStatus  `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	MaxRetries     int             `json:"max_retries"`
	LastError      string          `json:"last_error,omitempty"`
	ResponseStatus int             `json:"response_status,omitempty"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
