package models

import (
	"encoding/json"
	"time"
)

// DeliveryStatus is the state of a webhook delivery sequence. Failed is terminal.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// WebhookDeliveryRecord tracks every attempt made for one notification.
type WebhookDeliveryRecord struct {
	DeliveryID      string          `json:"delivery_id"`
	TenantID        string          `json:"tenant_id"`
	WebhookURL      string          `json:"webhook_url"`
	Payload         json.RawMessage `json:"payload"`
	EventType       string          `json:"event_type"`
	Status          DeliveryStatus  `json:"status"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"max_attempts"`
	CreatedAt       time.Time       `json:"created_at"`
	LastAttemptedAt *time.Time      `json:"last_attempted_at,omitempty"`
	NextAttemptAt   *time.Time      `json:"next_attempt_at,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	ResponseCode    int             `json:"response_code,omitempty"`
}
