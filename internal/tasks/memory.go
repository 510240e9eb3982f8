package tasks

import (
	"context"
	"fmt"
	"sync"

	"creative-review-engine/internal/models"
)

// MemoryRepository guards every task with one mutex, which also makes
// Update atomic.
type MemoryRepository struct {
	mu    sync.Mutex
	tasks map[string]models.ReviewTask
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tasks: make(map[string]models.ReviewTask)}
}

func (r *MemoryRepository) Insert(_ context.Context, t models.ReviewTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.TaskID]; ok {
		return fmt.Errorf("task %s already exists", t.TaskID)
	}
	r.tasks[t.TaskID] = t
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, tenantID, taskID string) (models.ReviewTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok || t.TenantID != tenantID {
		return models.ReviewTask{}, ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) Update(_ context.Context, tenantID, taskID string, fn func(*models.ReviewTask) error) (models.ReviewTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok || t.TenantID != tenantID {
		return models.ReviewTask{}, ErrNotFound
	}
	if err := fn(&t); err != nil {
		return models.ReviewTask{}, err
	}
	r.tasks[taskID] = t
	return t, nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]models.ReviewTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ReviewTask, 0)
	for _, t := range r.tasks {
		if MatchesFilter(t, f) {
			out = append(out, t)
		}
	}
	return out, nil
}
