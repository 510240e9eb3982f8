package webhook

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"creative-review-engine/internal/models"
)

// MemoryStore keeps delivery records in process. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]models.WebhookDeliveryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]models.WebhookDeliveryRecord)}
}

func (s *MemoryStore) CreateDelivery(_ context.Context, rec models.WebhookDeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.DeliveryID]; ok {
		return fmt.Errorf("delivery %s already exists", rec.DeliveryID)
	}
	s.recs[rec.DeliveryID] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) GetDelivery(_ context.Context, id string) (models.WebhookDeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return models.WebhookDeliveryRecord{}, ErrDeliveryNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) SaveAttempt(_ context.Context, rec models.WebhookDeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.DeliveryID]; !ok {
		return ErrDeliveryNotFound
	}
	s.recs[rec.DeliveryID] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) ListDeliveries(_ context.Context, f DeliveryFilter) ([]models.WebhookDeliveryRecord, error) {
	s.mu.RLock()
	out := make([]models.WebhookDeliveryRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		if f.TenantID != "" && rec.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func cloneRecord(rec models.WebhookDeliveryRecord) models.WebhookDeliveryRecord {
	rec.Payload = append([]byte(nil), rec.Payload...)
	if rec.LastAttemptedAt != nil {
		t := *rec.LastAttemptedAt
		rec.LastAttemptedAt = &t
	}
	if rec.NextAttemptAt != nil {
		t := *rec.NextAttemptAt
		rec.NextAttemptAt = &t
	}
	return rec
}
