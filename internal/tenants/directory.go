// Package tenants supplies per-tenant review policy, webhook targets and
// signing secrets.
package tenants

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"creative-review-engine/internal/policy"
	"creative-review-engine/internal/webhook"
)

// Settings is one tenant's review configuration.
type Settings struct {
	TenantID      string
	Policy        *policy.AIReviewPolicy
	Criteria      string
	WebhookURL    string
	WebhookSecret string
}

// Directory is a config-backed tenant source. It is safe for concurrent use.
type Directory struct {
	mu            sync.RWMutex
	tenants       map[string]Settings
	defaultPolicy policy.AIReviewPolicy
}

func NewDirectory(defaultPolicy policy.AIReviewPolicy) *Directory {
	return &Directory{tenants: make(map[string]Settings), defaultPolicy: defaultPolicy}
}

// FromMaps builds a Directory from the WEBHOOK_SECRETS and WEBHOOK_TARGETS
// config maps.
func FromMaps(defaultPolicy policy.AIReviewPolicy, secrets, targets map[string]string) *Directory {
	d := NewDirectory(defaultPolicy)
	for id, secret := range secrets {
		s := d.tenants[id]
		s.TenantID, s.WebhookSecret = id, secret
		d.tenants[id] = s
	}
	for id, target := range targets {
		s := d.tenants[id]
		s.TenantID, s.WebhookURL = id, target
		d.tenants[id] = s
	}
	return d
}

// Put validates and stores s.
func (d *Directory) Put(s Settings) error {
	if s.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if s.Policy != nil {
		if err := s.Policy.Validate(); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.tenants[s.TenantID] = s
	d.mu.Unlock()
	return nil
}

func (d *Directory) get(tenantID string) (Settings, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.tenants[tenantID]
	return s, ok
}

// ReviewPolicy returns the tenant's policy or the default.
func (d *Directory) ReviewPolicy(_ context.Context, tenantID string) (policy.AIReviewPolicy, string, error) {
	s, ok := d.get(tenantID)
	if !ok || s.Policy == nil {
		return d.defaultPolicy, s.Criteria, nil
	}
	return *s.Policy, s.Criteria, nil
}

// WebhookTarget returns "" when the tenant has no notification URL.
func (d *Directory) WebhookTarget(_ context.Context, tenantID string) (string, error) {
	s, _ := d.get(tenantID)
	return strings.TrimSpace(s.WebhookURL), nil
}

func (d *Directory) WebhookSecret(_ context.Context, tenantID string) (string, error) {
	s, ok := d.get(tenantID)
	if !ok || s.WebhookSecret == "" {
		return "", fmt.Errorf("%w: %s", webhook.ErrMissingSecret, tenantID)
	}
	return s.WebhookSecret, nil
}
