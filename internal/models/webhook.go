package models

import "time"

// Webhook is a per-account delivery target. The queue snapshots URL and
// secret at enqueue time, so edits here never touch in-flight deliveries.
type Webhook struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	Events     []string  `json:"events"`
	MaxRetries int       `json:"max_retries"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
