package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"creative-review-engine/internal/models"
	"creative-review-engine/internal/webhook"
)

// DeliveryRepository implements webhook.Store.
type DeliveryRepository struct {
	pool *pgxpool.Pool
}

const deliveryColumns = `delivery_id, tenant_id, webhook_url, payload, event_type, status, attempts, max_attempts,
	created_at, last_attempted_at, next_attempt_at, last_error, response_code`

func (r *DeliveryRepository) CreateDelivery(ctx context.Context, rec models.WebhookDeliveryRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, rec.DeliveryID, rec.TenantID, rec.WebhookURL, []byte(rec.Payload), rec.EventType, string(rec.Status),
		rec.Attempts, rec.MaxAttempts, rec.CreatedAt, nullTime(rec.LastAttemptedAt), nullTime(rec.NextAttemptAt),
		nullText(rec.LastError), nullInt(rec.ResponseCode))
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (r *DeliveryRepository) GetDelivery(ctx context.Context, id string) (models.WebhookDeliveryRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE delivery_id = $1`, id)
	return scanDelivery(row)
}

func (r *DeliveryRepository) SaveAttempt(ctx context.Context, rec models.WebhookDeliveryRecord) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempts = $3, last_attempted_at = $4, next_attempt_at = $5, last_error = $6, response_code = $7
		WHERE delivery_id = $1
	`, rec.DeliveryID, string(rec.Status), rec.Attempts, nullTime(rec.LastAttemptedAt), nullTime(rec.NextAttemptAt),
		nullText(rec.LastError), nullInt(rec.ResponseCode))
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrDeliveryNotFound
	}
	return nil
}

func (r *DeliveryRepository) ListDeliveries(ctx context.Context, f webhook.DeliveryFilter) ([]models.WebhookDeliveryRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	q := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()
	var out []models.WebhookDeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanDelivery(row pgx.Row) (models.WebhookDeliveryRecord, error) {
	var (
		rec                   models.WebhookDeliveryRecord
		payload               []byte
		status                string
		lastAttempt, nextTime pgtype.Timestamptz
		lastError             pgtype.Text
		code                  pgtype.Int4
	)
	err := row.Scan(&rec.DeliveryID, &rec.TenantID, &rec.WebhookURL, &payload, &rec.EventType, &status,
		&rec.Attempts, &rec.MaxAttempts, &rec.CreatedAt, &lastAttempt, &nextTime, &lastError, &code)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WebhookDeliveryRecord{}, webhook.ErrDeliveryNotFound
	}
	if err != nil {
		return models.WebhookDeliveryRecord{}, fmt.Errorf("scan delivery: %w", err)
	}
	rec.Payload = payload
	rec.Status = models.DeliveryStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.LastAttemptedAt = timePtr(lastAttempt)
	rec.NextAttemptAt = timePtr(nextTime)
	rec.LastError = textOf(lastError)
	if code.Valid {
		rec.ResponseCode = int(code.Int32)
	}
	return rec, nil
}

func nullInt(v int) pgtype.Int4 {
	return pgtype.Int4{Int32: int32(v), Valid: v != 0}
}
