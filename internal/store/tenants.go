package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"creative-review-engine/internal/policy"
	"creative-review-engine/internal/tenants"
)

// TenantRepository reads tenant_review_settings. Tenants without a row, or
// with a column left NULL, fall back to the config-backed directory.
type TenantRepository struct {
	pool     *pgxpool.Pool
	fallback *tenants.Directory
}

func (s *Store) Tenants(fallback *tenants.Directory) *TenantRepository {
	if fallback == nil {
		fallback = tenants.NewDirectory(policy.Default())
	}
	return &TenantRepository{pool: s.pool, fallback: fallback}
}

type tenantRow struct {
	policy   policy.AIReviewPolicy
	criteria pgtype.Text
	url      pgtype.Text
	secret   pgtype.Text
}

func (r *TenantRepository) load(ctx context.Context, tenantID string) (tenantRow, bool, error) {
	var row tenantRow
	err := r.pool.QueryRow(ctx, `
		SELECT auto_approve_threshold, auto_reject_threshold, always_require_human_for, criteria, webhook_url, webhook_secret
		FROM tenant_review_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(&row.policy.AutoApproveThreshold, &row.policy.AutoRejectThreshold,
		&row.policy.AlwaysRequireHumanFor, &row.criteria, &row.url, &row.secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return tenantRow{}, false, nil
	}
	if err != nil {
		return tenantRow{}, false, fmt.Errorf("load tenant settings: %w", err)
	}
	return row, true, nil
}

func (r *TenantRepository) ReviewPolicy(ctx context.Context, tenantID string) (policy.AIReviewPolicy, string, error) {
	row, ok, err := r.load(ctx, tenantID)
	if err != nil {
		return policy.AIReviewPolicy{}, "", err
	}
	if !ok {
		return r.fallback.ReviewPolicy(ctx, tenantID)
	}
	p, err := policy.New(row.policy.AutoApproveThreshold, row.policy.AutoRejectThreshold, row.policy.AlwaysRequireHumanFor)
	if err != nil {
		return policy.AIReviewPolicy{}, "", fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	return p, textOf(row.criteria), nil
}

func (r *TenantRepository) WebhookTarget(ctx context.Context, tenantID string) (string, error) {
	row, ok, err := r.load(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if ok && strings.TrimSpace(textOf(row.url)) != "" {
		return strings.TrimSpace(row.url.String), nil
	}
	return r.fallback.WebhookTarget(ctx, tenantID)
}

func (r *TenantRepository) WebhookSecret(ctx context.Context, tenantID string) (string, error) {
	row, ok, err := r.load(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if ok && textOf(row.secret) != "" {
		return row.secret.String, nil
	}
	return r.fallback.WebhookSecret(ctx, tenantID)
}

// Put upserts a tenant's settings after validating the policy.
func (r *TenantRepository) Put(ctx context.Context, s tenants.Settings) error {
	if s.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	p := policy.Default()
	if s.Policy != nil {
		p = *s.Policy
	}
	if err := p.Validate(); err != nil {
		return err
	}
	categories := p.AlwaysRequireHumanFor
	if categories == nil {
		categories = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_review_settings (tenant_id, auto_approve_threshold, auto_reject_threshold,
			always_require_human_for, criteria, webhook_url, webhook_secret, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			auto_approve_threshold = EXCLUDED.auto_approve_threshold,
			auto_reject_threshold = EXCLUDED.auto_reject_threshold,
			always_require_human_for = EXCLUDED.always_require_human_for,
			criteria = EXCLUDED.criteria,
			webhook_url = EXCLUDED.webhook_url,
			webhook_secret = EXCLUDED.webhook_secret,
			updated_at = NOW()
	`, s.TenantID, p.AutoApproveThreshold, p.AutoRejectThreshold, categories,
		nullText(s.Criteria), nullText(s.WebhookURL), nullText(s.WebhookSecret))
	if err != nil {
		return fmt.Errorf("upsert tenant settings: %w", err)
	}
	return nil
}
