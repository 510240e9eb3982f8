package review

import (
	"sync"
	"time"

	"creative-review-engine/internal/telemetry"
)

// tracker holds job status by id under one mutex. Entries older than ttl are
// dropped by sweep whether or not the job finished.
type tracker struct {
	mu   sync.Mutex
	jobs map[string]JobStatus
	ttl  time.Duration
	now  func() time.Time
}

func newTracker(ttl time.Duration, now func() time.Time) *tracker {
	return &tracker{jobs: make(map[string]JobStatus), ttl: ttl, now: now}
}

func (t *tracker) add(st JobStatus) {
	t.mu.Lock()
	t.jobs[st.JobID] = st
	n := len(t.jobs)
	t.mu.Unlock()
	telemetry.ReviewJobsTracked.Set(float64(n))
}

func (t *tracker) get(id string) (JobStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[id]
	return st, ok
}

func (t *tracker) complete(id string, res JobResult) {
	t.finish(id, func(st *JobStatus) {
		st.State = StateCompleted
		st.Result = &res
	})
}

func (t *tracker) fail(id string, err error, res *JobResult) {
	t.finish(id, func(st *JobStatus) {
		st.State = StateFailed
		st.Error = err.Error()
		st.Result = res
	})
}

func (t *tracker) finish(id string, fn func(*JobStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.jobs[id]
	if !ok {
		// Swept while running.
		return
	}
	now := t.now().UTC()
	st.FinishedAt = &now
	fn(&st)
	t.jobs[id] = st
}

func (t *tracker) sweep() int {
	cutoff := t.now().Add(-t.ttl)
	t.mu.Lock()
	removed := 0
	for id, st := range t.jobs {
		if st.CreatedAt.Before(cutoff) {
			delete(t.jobs, id)
			removed++
		}
	}
	n := len(t.jobs)
	t.mu.Unlock()
	telemetry.ReviewJobsTracked.Set(float64(n))
	return removed
}
