package webhook

import (
	"encoding/json"
	"time"
)

// PayloadVersion is bumped whenever Envelope changes incompatibly.
const PayloadVersion = "1"

// Event types emitted by this service.
const (
	EventCreativeStatusChanged = "creative.status_changed"
	EventTaskCreated           = "task.created"
	EventTaskCompleted         = "task.completed"
)

// Payload is what callers hand to Deliver.
type Payload struct {
	ObjectID string         `json:"object_id"`
	Status   string         `json:"status"`
	Data     map[string]any `json:"data,omitempty"`
}

// Envelope is the signed JSON body posted to subscribers. Receivers should
// deduplicate on DeliveryID.
type Envelope struct {
	Version    string         `json:"version"`
	DeliveryID string         `json:"delivery_id"`
	EventType  string         `json:"event_type"`
	TenantID   string         `json:"tenant_id"`
	ObjectID   string         `json:"object_id"`
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}

func buildEnvelope(deliveryID, tenantID, eventType string, p Payload, now time.Time) ([]byte, error) {
	return json.Marshal(Envelope{
		Version:    PayloadVersion,
		DeliveryID: deliveryID,
		EventType:  eventType,
		TenantID:   tenantID,
		ObjectID:   p.ObjectID,
		Status:     p.Status,
		Timestamp:  now.UTC(),
		Data:       p.Data,
	})
}
