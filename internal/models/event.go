package models

import (
	"encoding/json"
	"time"
)

const (
	EventMessage    = "message"
	EventMessageAck = "message_ack"
	EventTest       = "test"
)

// Event is the wire body POSTed to webhook endpoints. Data is opaque to the
// delivery engine; its shape belongs to whatever produced the event.
type Event struct {
	Event     string          `json:"event"`
	AccountID string          `json:"account_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func NewEvent(kind, accountID string, data json.RawMessage) Event {
	return Event{
		Event:     kind,
		AccountID: accountID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
