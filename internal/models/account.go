package models

import "time"

type AccountStatus string

const (
	AccountConnected    AccountStatus = "connected"
	AccountDisconnected AccountStatus = "disconnected"
)

// Account is one tenant: a single WhatsApp number managed by the gateway.
type Account struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	PhoneNumber string        `json:"phone_number,omitempty"`
	Status      AccountStatus `json:"status"`
	APIKey      string        `json:"api_key,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
