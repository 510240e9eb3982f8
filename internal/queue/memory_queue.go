package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is the single-process counterpart of RedisQueue. One mutex
// guards the whole schedule.
type MemoryQueue struct {
	mu         sync.Mutex
	ready      []string
	scheduled  map[string]time.Time
	inflight   map[string]time.Time
	dlq        []string
	visibility time.Duration
	now        func() time.Time
}

func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &MemoryQueue{
		scheduled:  make(map[string]time.Time),
		inflight:   make(map[string]time.Time),
		visibility: visibility,
		now:        time.Now,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, id string, runAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if runAt.After(q.now()) {
		q.scheduled[id] = runAt
		return nil
	}
	q.ready = append(q.ready, id)
	return nil
}

func (q *MemoryQueue) Reschedule(_ context.Context, id string, runAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, id)
	q.scheduled[id] = runAt
	return nil
}

func (q *MemoryQueue) PromoteScheduled(_ context.Context, now time.Time, limit int64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	moved := moveDue(q.scheduled, now, limit)
	q.ready = append(q.ready, moved...)
	return len(moved), nil
}

func (q *MemoryQueue) DequeueWithLease(_ context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return "", nil
	}
	id := q.ready[0]
	q.ready = q.ready[1:]
	q.inflight[id] = q.now().Add(q.visibility)
	return id, nil
}

func (q *MemoryQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, id)
	return nil
}

func (q *MemoryQueue) RequeueExpired(_ context.Context, now time.Time, limit int64) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	moved := moveDue(q.inflight, now, limit)
	q.ready = append(q.ready, moved...)
	return len(moved), nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, id)
	q.dlq = append([]string{id}, q.dlq...)
	return nil
}

func (q *MemoryQueue) DeadLetters(_ context.Context, count int64) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if count <= 0 || count > int64(len(q.dlq)) {
		count = int64(len(q.dlq))
	}
	out := make([]string, count)
	copy(out, q.dlq[:count])
	return out, nil
}

func (q *MemoryQueue) ReadyDepth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready)), nil
}

// moveDue removes entries due at or before now, oldest first, and returns their ids.
func moveDue(set map[string]time.Time, now time.Time, limit int64) []string {
	due := make([]string, 0)
	for id, at := range set {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return set[due[i]].Before(set[due[j]]) })
	if limit > 0 && int64(len(due)) > limit {
		due = due[:limit]
	}
	for _, id := range due {
		delete(set, id)
	}
	return due
}
