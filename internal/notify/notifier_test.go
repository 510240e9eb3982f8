package notify

import (
	"context"
	"errors"
	"testing"

	"creative-review-engine/internal/models"
	"creative-review-engine/internal/webhook"
)

type call struct {
	tenant, url, event string
	payload            webhook.Payload
}

type fakeDeliverer struct {
	calls []call
	err   error
}

func (f *fakeDeliverer) Deliver(_ context.Context, tenantID, url string, p webhook.Payload, event string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, call{tenantID, url, event, p})
	return "d1", nil
}

type targets map[string]string

func (t targets) WebhookTarget(_ context.Context, tenantID string) (string, error) {
	return t[tenantID], nil
}

func TestNotifier(t *testing.T) {
	d := &fakeDeliverer{}
	n := New(d, targets{"t1": "https://hooks.example.com"}, nil)
	ctx := context.Background()

	if id := n.CreativeStatusChanged(ctx, "t1", "cr_1", models.DecisionApproved, nil); id != "d1" {
		t.Fatalf("expected delivery id, got %q", id)
	}
	if id := n.CreativeStatusChanged(ctx, "t2", "cr_2", models.DecisionApproved, nil); id != "" {
		t.Fatalf("tenant without target should not deliver")
	}
	n.TaskCreated(ctx, models.ReviewTask{TaskID: "task_1", TenantID: "t1", Status: models.TaskPending, Context: models.TaskContext{CreativeID: "cr_1"}})

	if len(d.calls) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(d.calls))
	}
	if c := d.calls[0]; c.event != webhook.EventCreativeStatusChanged || c.payload.ObjectID != "cr_1" || c.payload.Status != "approved" {
		t.Fatalf("unexpected status delivery: %+v", c)
	}
	if c := d.calls[1]; c.event != webhook.EventTaskCreated || c.payload.Data["creative_id"] != "cr_1" {
		t.Fatalf("unexpected task delivery: %+v", c)
	}

	failing := New(&fakeDeliverer{err: errors.New("boom")}, targets{"t1": "https://hooks.example.com"}, nil)
	if id := failing.CreativeStatusChanged(ctx, "t1", "cr_1", models.DecisionRejected, nil); id != "" {
		t.Fatalf("delivery errors are swallowed, got %q", id)
	}
}
