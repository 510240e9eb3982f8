// Package review runs automated creative moderation in the background.
//
// Submit records the job and returns at once. A fixed pool of workers drains
// an in-memory FIFO, calls the moderation service, applies the tenant policy
// and either finalises the creative or opens a human approval task.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"creative-review-engine/internal/creatives"
	"creative-review-engine/internal/models"
	"creative-review-engine/internal/moderation"
	"creative-review-engine/internal/policy"
	"creative-review-engine/internal/tasks"
	"creative-review-engine/internal/telemetry"
)

var ErrInvalidRequest = errors.New("review: invalid request")

// State is the externally visible job state.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateUnknown   State = "unknown"
)

// JobResult describes what a finished job did.
type JobResult struct {
	Outcome         policy.Outcome  `json:"outcome"`
	Decision        models.Decision `json:"decision"`
	PolicyTriggered string          `json:"policy_triggered"`
	Verdict         policy.Verdict  `json:"verdict,omitempty"`
	Confidence      float64         `json:"confidence"`
	Category        string          `json:"category,omitempty"`
	RecordID        string          `json:"record_id,omitempty"`
	TaskID          string          `json:"task_id,omitempty"`
	DeliveryID      string          `json:"delivery_id,omitempty"`
}

// JobStatus is what Status returns. Queued jobs report running.
type JobStatus struct {
	JobID      string     `json:"job_id"`
	TenantID   string     `json:"tenant_id"`
	CreativeID string     `json:"creative_id"`
	State      State      `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *JobResult `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Request is one submit_review call.
type Request struct {
	TenantID    string
	CreativeID  string
	PrincipalID string
	Content     moderation.Content
	// Policy overrides the tenant policy when set.
	Policy   *policy.AIReviewPolicy
	Criteria moderation.Criteria
}

type PolicySource interface {
	ReviewPolicy(ctx context.Context, tenantID string) (policy.AIReviewPolicy, string, error)
}

type Preparer interface {
	Prepare(ctx context.Context, c moderation.Content) (moderation.Content, error)
}

type CreativeRecorder interface {
	RecordAutomated(ctx context.Context, in creatives.Automated) (creatives.Recorded, error)
	RecordFailure(ctx context.Context, tenantID, creativeID string, cause error) (models.CreativeReviewRecord, error)
}

type TaskCreator interface {
	Create(ctx context.Context, in tasks.CreateInput) (models.ReviewTask, error)
}

type StatusNotifier interface {
	CreativeStatusChanged(ctx context.Context, tenantID, creativeID string, status models.Decision, data map[string]any) string
}

// Deps are the scheduler's collaborators. Preparer, Policies and Notifier
// are optional.
type Deps struct {
	Reviewer  moderation.Reviewer
	Creatives CreativeRecorder
	Tasks     TaskCreator
	Policies  PolicySource
	Preparer  Preparer
	Notifier  StatusNotifier
	Log       *slog.Logger
}

type Config struct {
	Workers           int
	ModerationTimeout time.Duration
	JobTTL            time.Duration
	SweepInterval     time.Duration
	// TaskDueIn sets due_by on approval tasks. Zero means no deadline.
	TaskDueIn time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:           4,
		ModerationTimeout: 30 * time.Second,
		JobTTL:            time.Hour,
		SweepInterval:     time.Minute,
		TaskDueIn:         48 * time.Hour,
	}
}

type job struct {
	id  string
	req Request
}

type Scheduler struct {
	cfg     Config
	deps    Deps
	log     *slog.Logger
	tracker *tracker
	now     func() time.Time

	mu      sync.Mutex
	pending []job
	signal  chan struct{}

	wg sync.WaitGroup
}

func NewScheduler(cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Reviewer == nil || deps.Creatives == nil || deps.Tasks == nil {
		return nil, fmt.Errorf("review: reviewer, creatives and tasks are required")
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ModerationTimeout <= 0 {
		cfg.ModerationTimeout = def.ModerationTimeout
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = def.JobTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		now:    time.Now,
		signal: make(chan struct{}, 1),
	}
	s.tracker = newTracker(cfg.JobTTL, func() time.Time { return s.now() })
	return s, nil
}

// Submit queues a review and returns its job id without waiting for any
// I/O. It never blocks on a busy pool.
func (s *Scheduler) Submit(req Request) (string, error) {
	if req.TenantID == "" || req.CreativeID == "" {
		return "", fmt.Errorf("%w: tenant_id and creative_id are required", ErrInvalidRequest)
	}
	if req.Policy != nil {
		if err := req.Policy.Validate(); err != nil {
			return "", err
		}
	}
	id := uuid.NewString()
	s.tracker.add(JobStatus{
		JobID:      id,
		TenantID:   req.TenantID,
		CreativeID: req.CreativeID,
		State:      StateRunning,
		CreatedAt:  s.now().UTC(),
	})

	s.mu.Lock()
	s.pending = append(s.pending, job{id: id, req: req})
	depth := len(s.pending)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}

	telemetry.ReviewsSubmitted.Inc()
	telemetry.ReviewQueueDepth.Set(float64(depth))
	s.log.Debug("review submitted", "job_id", id, "creative_id", req.CreativeID, "tenant_id", req.TenantID)
	return id, nil
}

// Status returns the job's state, or StateUnknown for ids never seen or
// already swept.
func (s *Scheduler) Status(jobID string) JobStatus {
	st, ok := s.tracker.get(jobID)
	if !ok {
		return JobStatus{JobID: jobID, State: StateUnknown}
	}
	return st
}

// Start launches the worker pool and the TTL sweeper. Cancel ctx to stop.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.work(ctx)
		}()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweepLoop(ctx)
	}()
	s.log.Info("review scheduler started", "workers", s.cfg.Workers, "moderation_timeout", s.cfg.ModerationTimeout)
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) work(ctx context.Context) {
	for {
		j, ok := s.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.signal:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		s.run(ctx, j)
	}
}

func (s *Scheduler) next() (job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return job{}, false
	}
	j := s.pending[0]
	s.pending[0] = job{}
	s.pending = s.pending[1:]
	telemetry.ReviewQueueDepth.Set(float64(len(s.pending)))
	if len(s.pending) > 0 {
		// Wake an idle sibling for the remaining work.
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
	return j, true
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.tracker.sweep(); n > 0 {
				s.log.Debug("swept review jobs", "count", n)
			}
		}
	}
}
