package tenants

import (
	"context"
	"errors"
	"testing"

	"creative-review-engine/internal/policy"
	"creative-review-engine/internal/webhook"
)

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	d := FromMaps(policy.Default(), map[string]string{"t1": "s1"}, map[string]string{"t1": "https://hooks.example.com/t1", "t2": "https://hooks.example.com/t2"})

	if s, err := d.WebhookSecret(ctx, "t1"); err != nil || s != "s1" {
		t.Fatalf("secret: %q %v", s, err)
	}
	if _, err := d.WebhookSecret(ctx, "t2"); !errors.Is(err, webhook.ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if u, _ := d.WebhookTarget(ctx, "t2"); u != "https://hooks.example.com/t2" {
		t.Fatalf("target: %q", u)
	}
	if u, _ := d.WebhookTarget(ctx, "nobody"); u != "" {
		t.Fatalf("unknown tenant should have no target, got %q", u)
	}

	p, _, _ := d.ReviewPolicy(ctx, "t1")
	if p.AutoApproveThreshold != policy.DefaultAutoApproveThreshold {
		t.Fatalf("expected default policy, got %+v", p)
	}

	strict, err := policy.New(0.99, 0.01, []string{"Political"})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if err := d.Put(Settings{TenantID: "t3", Policy: &strict, Criteria: "no gambling"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	p, criteria, _ := d.ReviewPolicy(ctx, "t3")
	if p.AutoApproveThreshold != 0.99 || !p.RequiresHuman("political") || criteria != "no gambling" {
		t.Fatalf("unexpected tenant policy: %+v %q", p, criteria)
	}

	bad := policy.AIReviewPolicy{AutoApproveThreshold: 0.2, AutoRejectThreshold: 0.5}
	if err := d.Put(Settings{TenantID: "t4", Policy: &bad}); !errors.Is(err, policy.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}
