package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"creative-review-engine/internal/models"
	"creative-review-engine/internal/tasks"
)

// TaskRepository implements tasks.Repository.
type TaskRepository struct {
	pool *pgxpool.Pool
}

const taskColumns = `task_id, tenant_id, task_type, principal_id, adapter_name, status, priority, context,
	assigned_to, assigned_at, created_at, updated_at, due_by, completed_at, resolution, resolution_detail, resolved_by`

func (r *TaskRepository) Insert(ctx context.Context, t models.ReviewTask) error {
	taskCtx, err := json.Marshal(t.Context)
	if err != nil {
		return fmt.Errorf("marshal task context: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO review_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, t.TaskID, t.TenantID, t.TaskType, t.PrincipalID, nullText(t.AdapterName), t.Status, t.Priority, taskCtx,
		nullText(t.AssignedTo), nullTime(t.AssignedAt), t.CreatedAt, t.UpdatedAt, nullTime(t.DueBy), nullTime(t.CompletedAt),
		nullText(string(t.Resolution)), nullText(t.ResolutionDetail), nullText(t.ResolvedBy))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *TaskRepository) Get(ctx context.Context, tenantID, taskID string) (models.ReviewTask, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM review_tasks WHERE task_id = $1 AND tenant_id = $2`, taskID, tenantID)
	return scanTask(row)
}

// Update locks the row, applies fn and writes the result in one transaction.
// If fn returns an error the transaction is rolled back untouched.
func (r *TaskRepository) Update(ctx context.Context, tenantID, taskID string, fn func(*models.ReviewTask) error) (models.ReviewTask, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ReviewTask{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM review_tasks WHERE task_id = $1 AND tenant_id = $2 FOR UPDATE`, taskID, tenantID)
	t, err := scanTask(row)
	if err != nil {
		return models.ReviewTask{}, err
	}
	if err := fn(&t); err != nil {
		return models.ReviewTask{}, err
	}
	taskCtx, err := json.Marshal(t.Context)
	if err != nil {
		return models.ReviewTask{}, fmt.Errorf("marshal task context: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE review_tasks
		SET status = $3, priority = $4, context = $5, assigned_to = $6, assigned_at = $7, updated_at = $8,
		    due_by = $9, completed_at = $10, resolution = $11, resolution_detail = $12, resolved_by = $13
		WHERE task_id = $1 AND tenant_id = $2
	`, t.TaskID, t.TenantID, t.Status, t.Priority, taskCtx, nullText(t.AssignedTo), nullTime(t.AssignedAt), t.UpdatedAt,
		nullTime(t.DueBy), nullTime(t.CompletedAt), nullText(string(t.Resolution)), nullText(t.ResolutionDetail), nullText(t.ResolvedBy))
	if err != nil {
		return models.ReviewTask{}, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.ReviewTask{}, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

func (r *TaskRepository) List(ctx context.Context, f tasks.Filter) ([]models.ReviewTask, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.PrincipalID != "" {
		add("principal_id = $%d", f.PrincipalID)
	}
	if f.TaskType != "" {
		add("task_type = $%d", string(f.TaskType))
	}
	if f.Priority != "" {
		add("priority = $%d", string(f.Priority))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}

	q := `SELECT ` + taskColumns + ` FROM review_tasks`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []models.ReviewTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (models.ReviewTask, error) {
	var (
		t                              models.ReviewTask
		taskCtx                        []byte
		adapter, assignedTo            pgtype.Text
		resolution, detail, resolvedBy pgtype.Text
		assignedAt, dueBy, completedAt pgtype.Timestamptz
	)
	err := row.Scan(&t.TaskID, &t.TenantID, &t.TaskType, &t.PrincipalID, &adapter, &t.Status, &t.Priority, &taskCtx,
		&assignedTo, &assignedAt, &t.CreatedAt, &t.UpdatedAt, &dueBy, &completedAt, &resolution, &detail, &resolvedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ReviewTask{}, tasks.ErrNotFound
	}
	if err != nil {
		return models.ReviewTask{}, fmt.Errorf("scan task: %w", err)
	}
	if len(taskCtx) > 0 {
		if err := json.Unmarshal(taskCtx, &t.Context); err != nil {
			return models.ReviewTask{}, fmt.Errorf("unmarshal task context: %w", err)
		}
	}
	t.AdapterName = textOf(adapter)
	t.AssignedTo = textOf(assignedTo)
	t.AssignedAt = timePtr(assignedAt)
	t.DueBy = timePtr(dueBy)
	t.CompletedAt = timePtr(completedAt)
	t.Resolution = models.Resolution(textOf(resolution))
	t.ResolutionDetail = textOf(detail)
	t.ResolvedBy = textOf(resolvedBy)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}
