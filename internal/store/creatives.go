package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"creative-review-engine/internal/creatives"
	"creative-review-engine/internal/models"
)

// CreativeRepository implements creatives.Repository. Review records are
// append-only.
type CreativeRepository struct {
	pool *pgxpool.Pool
}

func (r *CreativeRepository) AppendRecord(ctx context.Context, rec models.CreativeReviewRecord) error {
	recs, err := json.Marshal(rec.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}
	var aiDecision pgtype.Text
	if rec.AIDecision != nil {
		aiDecision = pgtype.Text{String: string(*rec.AIDecision), Valid: true}
	}
	var confidence pgtype.Float8
	if rec.ConfidenceScore != nil {
		confidence = pgtype.Float8{Float64: *rec.ConfidenceScore, Valid: true}
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO creative_reviews (id, tenant_id, creative_id, reviewed_at, review_type, ai_decision, confidence_score,
			policy_triggered, reason, recommendations, human_override, final_decision, reviewed_by, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, rec.ID, rec.TenantID, rec.CreativeID, rec.ReviewedAt, string(rec.ReviewType), aiDecision, confidence,
		nullText(rec.PolicyTriggered), nullText(rec.Reason), recs, rec.HumanOverride, string(rec.FinalDecision),
		nullText(rec.ReviewedBy), nullText(rec.Error))
	if err != nil {
		return fmt.Errorf("insert creative review: %w", err)
	}
	return nil
}

func (r *CreativeRepository) ListRecords(ctx context.Context, tenantID, creativeID string) ([]models.CreativeReviewRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, creative_id, reviewed_at, review_type, ai_decision, confidence_score,
			policy_triggered, reason, recommendations, human_override, final_decision, reviewed_by, error
		FROM creative_reviews
		WHERE tenant_id = $1 AND creative_id = $2
		ORDER BY reviewed_at
	`, tenantID, creativeID)
	if err != nil {
		return nil, fmt.Errorf("list creative reviews: %w", err)
	}
	defer rows.Close()

	var out []models.CreativeReviewRecord
	for rows.Next() {
		var (
			rec                                     models.CreativeReviewRecord
			reviewType, finalDecision               string
			aiDecision, policy, reason, by, errText pgtype.Text
			confidence                              pgtype.Float8
			recs                                    []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.CreativeID, &rec.ReviewedAt, &reviewType, &aiDecision, &confidence,
			&policy, &reason, &recs, &rec.HumanOverride, &finalDecision, &by, &errText); err != nil {
			return nil, fmt.Errorf("scan creative review: %w", err)
		}
		rec.ReviewedAt = rec.ReviewedAt.UTC()
		rec.ReviewType = models.ReviewType(reviewType)
		rec.FinalDecision = models.Decision(finalDecision)
		if aiDecision.Valid {
			d := models.Decision(aiDecision.String)
			rec.AIDecision = &d
		}
		if confidence.Valid {
			c := confidence.Float64
			rec.ConfidenceScore = &c
		}
		rec.PolicyTriggered = textOf(policy)
		rec.Reason = textOf(reason)
		rec.ReviewedBy = textOf(by)
		rec.Error = textOf(errText)
		if len(recs) > 0 {
			if err := json.Unmarshal(recs, &rec.Recommendations); err != nil {
				return nil, fmt.Errorf("unmarshal recommendations: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *CreativeRepository) SetStatus(ctx context.Context, st models.CreativeStatus) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO creative_statuses (tenant_id, creative_id, status, detail, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, creative_id)
		DO UPDATE SET status = EXCLUDED.status, detail = EXCLUDED.detail, updated_at = EXCLUDED.updated_at
	`, st.TenantID, st.CreativeID, string(st.Status), nullText(st.Detail), st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert creative status: %w", err)
	}
	return nil
}

func (r *CreativeRepository) GetStatus(ctx context.Context, tenantID, creativeID string) (models.CreativeStatus, error) {
	var (
		st     models.CreativeStatus
		status string
		detail pgtype.Text
	)
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, creative_id, status, detail, updated_at
		FROM creative_statuses
		WHERE tenant_id = $1 AND creative_id = $2
	`, tenantID, creativeID).Scan(&st.TenantID, &st.CreativeID, &status, &detail, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CreativeStatus{}, creatives.ErrNotFound
	}
	if err != nil {
		return models.CreativeStatus{}, fmt.Errorf("get creative status: %w", err)
	}
	st.Status = models.Decision(status)
	st.Detail = textOf(detail)
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}
