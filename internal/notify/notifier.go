// Package notify turns domain events into webhook deliveries for tenants
// that have a notification target.
package notify

import (
	"context"
	"log/slog"

	"creative-review-engine/internal/models"
	"creative-review-engine/internal/webhook"
)

type Deliverer interface {
	Deliver(ctx context.Context, tenantID, targetURL string, payload webhook.Payload, eventType string) (string, error)
}

// TargetResolver returns "" when the tenant has no notification URL.
type TargetResolver interface {
	WebhookTarget(ctx context.Context, tenantID string) (string, error)
}

// Notifier is fire-and-forget: delivery errors are logged, never returned to
// the operation that triggered the event.
type Notifier struct {
	deliver Deliverer
	targets TargetResolver
	log     *slog.Logger
}

func New(d Deliverer, targets TargetResolver, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{deliver: d, targets: targets, log: log}
}

// Notify returns the delivery id, or "" when nothing was sent.
func (n *Notifier) Notify(ctx context.Context, tenantID, eventType string, p webhook.Payload) string {
	if n == nil || n.deliver == nil || n.targets == nil {
		return ""
	}
	target, err := n.targets.WebhookTarget(ctx, tenantID)
	if err != nil {
		n.log.Warn("resolve webhook target", "tenant_id", tenantID, "err", err)
		return ""
	}
	if target == "" {
		return ""
	}
	id, err := n.deliver.Deliver(ctx, tenantID, target, p, eventType)
	if err != nil {
		n.log.Warn("webhook not queued", "tenant_id", tenantID, "event_type", eventType, "object_id", p.ObjectID, "err", err)
		return ""
	}
	return id
}

func (n *Notifier) CreativeStatusChanged(ctx context.Context, tenantID, creativeID string, status models.Decision, data map[string]any) string {
	return n.Notify(ctx, tenantID, webhook.EventCreativeStatusChanged, webhook.Payload{
		ObjectID: creativeID,
		Status:   string(status),
		Data:     data,
	})
}

// TaskCreated implements tasks.Observer.
func (n *Notifier) TaskCreated(ctx context.Context, t models.ReviewTask) {
	n.Notify(ctx, t.TenantID, webhook.EventTaskCreated, taskPayload(t))
}

// TaskClosed implements tasks.Observer.
func (n *Notifier) TaskClosed(ctx context.Context, t models.ReviewTask) {
	n.Notify(ctx, t.TenantID, webhook.EventTaskCompleted, taskPayload(t))
}

func taskPayload(t models.ReviewTask) webhook.Payload {
	data := map[string]any{
		"task_type":    t.TaskType,
		"priority":     t.Priority,
		"principal_id": t.PrincipalID,
	}
	if t.Context.CreativeID != "" {
		data["creative_id"] = t.Context.CreativeID
	}
	if t.Context.MediaBuyID != "" {
		data["media_buy_id"] = t.Context.MediaBuyID
	}
	if t.Resolution != "" {
		data["resolution"] = t.Resolution
		data["resolved_by"] = t.ResolvedBy
	}
	return webhook.Payload{ObjectID: t.TaskID, Status: string(t.Status), Data: data}
}
