package creatives

import (
	"context"
	"sort"
	"sync"

	"creative-review-engine/internal/models"
)

type MemoryRepository struct {
	mu       sync.RWMutex
	records  map[string][]models.CreativeReviewRecord
	statuses map[string]models.CreativeStatus
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:  make(map[string][]models.CreativeReviewRecord),
		statuses: make(map[string]models.CreativeStatus),
	}
}

func key(tenantID, creativeID string) string { return tenantID + "/" + creativeID }

func (r *MemoryRepository) AppendRecord(_ context.Context, rec models.CreativeReviewRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(rec.TenantID, rec.CreativeID)
	r.records[k] = append(r.records[k], rec)
	return nil
}

func (r *MemoryRepository) ListRecords(_ context.Context, tenantID, creativeID string) ([]models.CreativeReviewRecord, error) {
	r.mu.RLock()
	out := append([]models.CreativeReviewRecord(nil), r.records[key(tenantID, creativeID)]...)
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].ReviewedAt.Before(out[j].ReviewedAt) })
	return out, nil
}

func (r *MemoryRepository) SetStatus(_ context.Context, st models.CreativeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[key(st.TenantID, st.CreativeID)] = st
	return nil
}

func (r *MemoryRepository) GetStatus(_ context.Context, tenantID, creativeID string) (models.CreativeStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.statuses[key(tenantID, creativeID)]
	if !ok {
		return models.CreativeStatus{}, ErrNotFound
	}
	return st, nil
}
