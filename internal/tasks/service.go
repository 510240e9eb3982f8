// Package tasks owns the lifecycle of human intervention tasks.
//
// Stored status moves pending -> assigned -> in_progress -> completed|failed.
// Escalation is not stored: a task past due_by with no resolution reports
// escalated as its effective status and can still be assigned.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"creative-review-engine/internal/models"
	"creative-review-engine/internal/telemetry"
)

var (
	ErrNotFound          = errors.New("tasks: task not found")
	ErrNotAssignable     = errors.New("tasks: task is not assignable")
	ErrInvalidTransition = errors.New("tasks: invalid status transition")
	ErrInvalidTask       = errors.New("tasks: invalid task")
)

// OpenStatuses are the stored statuses listed as pending work.
var OpenStatuses = []models.TaskStatus{
	models.TaskPending,
	models.TaskAssigned,
	models.TaskInProgress,
	models.TaskEscalated,
}

// Repository persists tasks. Update must run fn and the write inside one
// transaction so a rejected transition leaves the stored task unchanged.
type Repository interface {
	Insert(ctx context.Context, t models.ReviewTask) error
	Get(ctx context.Context, tenantID, taskID string) (models.ReviewTask, error)
	Update(ctx context.Context, tenantID, taskID string, fn func(*models.ReviewTask) error) (models.ReviewTask, error)
	List(ctx context.Context, f Filter) ([]models.ReviewTask, error)
}

// Filter narrows List and ListPending. Empty fields match everything.
type Filter struct {
	TenantID    string
	PrincipalID string
	TaskType    models.TaskType
	Priority    models.Priority
	Statuses    []models.TaskStatus
	// IncludeOverdue defaults to true when nil.
	IncludeOverdue *bool
	Limit          int
}

// Observer is told about task creation and closure after the write commits.
type Observer interface {
	TaskCreated(ctx context.Context, t models.ReviewTask)
	TaskClosed(ctx context.Context, t models.ReviewTask)
}

type Service struct {
	repo      Repository
	log       *slog.Logger
	now       func() time.Time
	observers []Observer
}

func NewService(repo Repository, log *slog.Logger, observers ...Observer) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, now: time.Now, observers: observers}
}

// AddObserver registers o for subsequent events.
func (s *Service) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

type CreateInput struct {
	TenantID    string
	TaskType    models.TaskType
	PrincipalID string
	AdapterName string
	Priority    models.Priority
	Context     models.TaskContext
	DueIn       time.Duration
}

func (s *Service) Create(ctx context.Context, in CreateInput) (models.ReviewTask, error) {
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	var problems []string
	if in.TenantID == "" {
		problems = append(problems, "tenant_id is required")
	}
	if !in.TaskType.Valid() {
		problems = append(problems, fmt.Sprintf("unknown task_type %q", in.TaskType))
	}
	if strings.TrimSpace(in.PrincipalID) == "" {
		problems = append(problems, "principal_id is required")
	}
	if !in.Priority.Valid() {
		problems = append(problems, fmt.Sprintf("unknown priority %q", in.Priority))
	}
	if in.DueIn < 0 {
		problems = append(problems, "due_in must not be negative")
	}
	if len(problems) > 0 {
		return models.ReviewTask{}, fmt.Errorf("%w: %s", ErrInvalidTask, strings.Join(problems, "; "))
	}

	now := s.now().UTC()
	t := models.ReviewTask{
		TaskID:      uuid.NewString(),
		TaskType:    in.TaskType,
		TenantID:    in.TenantID,
		PrincipalID: in.PrincipalID,
		AdapterName: in.AdapterName,
		Status:      models.TaskPending,
		Priority:    in.Priority,
		Context:     in.Context,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.DueIn > 0 {
		due := now.Add(in.DueIn)
		t.DueBy = &due
	}
	if err := s.repo.Insert(ctx, t); err != nil {
		return models.ReviewTask{}, fmt.Errorf("insert task: %w", err)
	}
	telemetry.TasksCreated.WithLabelValues(string(t.TaskType)).Inc()
	s.log.Info("task created", "task_id", t.TaskID, "task_type", t.TaskType, "priority", t.Priority)
	for _, o := range s.observers {
		o.TaskCreated(ctx, t)
	}
	return s.annotate(t), nil
}

func (s *Service) Get(ctx context.Context, tenantID, taskID string) (models.ReviewTask, error) {
	t, err := s.repo.Get(ctx, tenantID, taskID)
	if err != nil {
		return models.ReviewTask{}, err
	}
	return s.annotate(t), nil
}

// Assign accepts pending or escalated tasks, including open tasks whose
// escalation is derived from due_by.
func (s *Service) Assign(ctx context.Context, tenantID, taskID, assignee string) (models.ReviewTask, error) {
	if strings.TrimSpace(assignee) == "" {
		return models.ReviewTask{}, fmt.Errorf("%w: assignee is required", ErrInvalidTask)
	}
	now := s.now().UTC()
	t, err := s.repo.Update(ctx, tenantID, taskID, func(t *models.ReviewTask) error {
		eff := t.EffectiveStatus(now)
		if t.Status != models.TaskPending && t.Status != models.TaskEscalated && eff != models.TaskEscalated {
			return fmt.Errorf("%w: status is %s", ErrNotAssignable, eff)
		}
		t.Status = models.TaskAssigned
		t.AssignedTo = assignee
		t.AssignedAt = &now
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return models.ReviewTask{}, err
	}
	s.log.Info("task assigned", "task_id", taskID, "assigned_to", assignee)
	return s.annotate(t), nil
}

// Start moves an assigned task to in_progress.
func (s *Service) Start(ctx context.Context, tenantID, taskID string) (models.ReviewTask, error) {
	now := s.now().UTC()
	t, err := s.repo.Update(ctx, tenantID, taskID, func(t *models.ReviewTask) error {
		if t.Status != models.TaskAssigned {
			return fmt.Errorf("%w: cannot start a task in %s", ErrInvalidTransition, t.Status)
		}
		t.Status = models.TaskInProgress
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return models.ReviewTask{}, err
	}
	return s.annotate(t), nil
}

// Complete requires assigned or in_progress. Any other status is rejected
// and the stored task is left unchanged.
func (s *Service) Complete(ctx context.Context, tenantID, taskID string, resolution models.Resolution, detail, resolvedBy string) (models.ReviewTask, error) {
	if !resolution.Valid() {
		return models.ReviewTask{}, fmt.Errorf("%w: unknown resolution %q", ErrInvalidTask, resolution)
	}
	return s.close(ctx, tenantID, taskID, models.TaskCompleted, resolution, detail, resolvedBy)
}

// Fail closes an assigned or in-progress task as cannot_complete.
func (s *Service) Fail(ctx context.Context, tenantID, taskID, detail, resolvedBy string) (models.ReviewTask, error) {
	return s.close(ctx, tenantID, taskID, models.TaskFailed, models.ResolutionCannotComplete, detail, resolvedBy)
}

func (s *Service) close(ctx context.Context, tenantID, taskID string, status models.TaskStatus, resolution models.Resolution, detail, resolvedBy string) (models.ReviewTask, error) {
	if strings.TrimSpace(resolvedBy) == "" {
		return models.ReviewTask{}, fmt.Errorf("%w: resolved_by is required", ErrInvalidTask)
	}
	now := s.now().UTC()
	t, err := s.repo.Update(ctx, tenantID, taskID, func(t *models.ReviewTask) error {
		if t.Status != models.TaskAssigned && t.Status != models.TaskInProgress {
			return fmt.Errorf("%w: cannot move %s task to %s", ErrInvalidTransition, t.Status, status)
		}
		t.Status = status
		t.Resolution = resolution
		t.ResolutionDetail = detail
		t.ResolvedBy = resolvedBy
		t.CompletedAt = &now
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return models.ReviewTask{}, err
	}
	telemetry.TasksCompleted.WithLabelValues(string(resolution)).Inc()
	s.log.Info("task closed", "task_id", taskID, "status", status, "resolution", resolution, "resolved_by", resolvedBy)
	for _, o := range s.observers {
		o.TaskClosed(ctx, t)
	}
	return s.annotate(t), nil
}

// ListPending returns open tasks sorted by priority then age, each annotated
// with IsOverdue.
func (s *Service) ListPending(ctx context.Context, f Filter) ([]models.ReviewTask, error) {
	if len(f.Statuses) == 0 {
		f.Statuses = OpenStatuses
	}
	limit := f.Limit
	f.Limit = 0
	stored, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	includeOverdue := f.IncludeOverdue == nil || *f.IncludeOverdue

	out := make([]models.ReviewTask, 0, len(stored))
	for _, t := range stored {
		t = s.annotate(t)
		if t.IsOverdue && !includeOverdue {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) annotate(t models.ReviewTask) models.ReviewTask {
	t.IsOverdue = t.Overdue(s.now())
	return t
}

// MatchesFilter reports whether t satisfies the stored-field parts of f.
// Repositories use it so memory and SQL filtering agree.
func MatchesFilter(t models.ReviewTask, f Filter) bool {
	if f.TenantID != "" && t.TenantID != f.TenantID {
		return false
	}
	if f.PrincipalID != "" && t.PrincipalID != f.PrincipalID {
		return false
	}
	if f.TaskType != "" && t.TaskType != f.TaskType {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if t.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
