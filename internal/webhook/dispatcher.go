package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"creative-review-engine/internal/models"
	"creative-review-engine/internal/netguard"
	"creative-review-engine/internal/telemetry"
)

var (
	ErrDeliveryNotFound = errors.New("webhook: delivery not found")
	ErrMissingSecret    = errors.New("webhook: no signing secret for tenant")
	ErrInvalidDelivery  = errors.New("webhook: invalid delivery request")
)

// Store persists delivery records. The dispatcher is the only writer.
type Store interface {
	CreateDelivery(ctx context.Context, rec models.WebhookDeliveryRecord) error
	GetDelivery(ctx context.Context, id string) (models.WebhookDeliveryRecord, error)
	SaveAttempt(ctx context.Context, rec models.WebhookDeliveryRecord) error
	ListDeliveries(ctx context.Context, f DeliveryFilter) ([]models.WebhookDeliveryRecord, error)
}

// DeliveryFilter narrows ListDeliveries. Zero fields match everything.
type DeliveryFilter struct {
	TenantID string
	Status   models.DeliveryStatus
	Limit    int
}

// Queue is the delivery schedule shared by dispatcher workers.
type Queue interface {
	Enqueue(ctx context.Context, id string, runAt time.Time) error
	Reschedule(ctx context.Context, id string, runAt time.Time) error
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	DequeueWithLease(ctx context.Context) (string, error)
	Ack(ctx context.Context, id string) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) (int, error)
	DeadLetter(ctx context.Context, id string) error
	DeadLetters(ctx context.Context, count int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

// SecretSource supplies the per-tenant signing secret. It returns an error
// wrapping ErrMissingSecret when the tenant has none.
type SecretSource interface {
	WebhookSecret(ctx context.Context, tenantID string) (string, error)
}

type Config struct {
	Workers      int
	Timeout      time.Duration
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PollInterval time.Duration
	Lease        time.Duration
	BatchSize    int
	// AllowPrivate permits loopback and private-network targets (local development).
	AllowPrivate bool
	UserAgent    string
}

func DefaultConfig() Config {
	return Config{
		Workers:      4,
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     5 * time.Minute,
		PollInterval: 200 * time.Millisecond,
		Lease:        30 * time.Second,
		BatchSize:    100,
		UserAgent:    "creative-review-engine-webhooks/1",
	}
}

// Dispatcher delivers signed webhook notifications from a pool of workers.
// Deliver only records and enqueues; attempts happen in Start's goroutines.
type Dispatcher struct {
	cfg       Config
	store     Store
	queue     Queue
	secrets   SecretSource
	validator TargetValidator
	client    *http.Client
	log       *slog.Logger
	now       func() time.Time
	wg        sync.WaitGroup
}

type Option func(*Dispatcher)

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.client = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func WithResolver(r Resolver) Option {
	return func(d *Dispatcher) { d.validator.Resolver = r }
}

func NewDispatcher(cfg Config, st Store, q Queue, secrets SecretSource, opts ...Option) (*Dispatcher, error) {
	if st == nil || q == nil || secrets == nil {
		return nil, fmt.Errorf("webhook: store, queue and secret source are required")
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	// A lease shorter than an attempt would hand the delivery to a second worker mid-flight.
	if cfg.Lease <= 2*cfg.Timeout {
		cfg.Lease = 3 * cfg.Timeout
	}

	d := &Dispatcher{
		cfg:       cfg,
		store:     st,
		queue:     q,
		secrets:   secrets,
		validator: TargetValidator{AllowPrivate: cfg.AllowPrivate, Resolver: DefaultResolver()},
		client: &http.Client{
			Transport:     netguard.Policy{AllowPrivate: cfg.AllowPrivate}.Transport(),
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		log: slog.Default(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Deliver validates the target, records a pending delivery and enqueues it.
// It never waits for the HTTP attempt.
func (d *Dispatcher) Deliver(ctx context.Context, tenantID, targetURL string, payload Payload, eventType string) (string, error) {
	if tenantID == "" || eventType == "" {
		return "", fmt.Errorf("%w: tenant id and event type are required", ErrInvalidDelivery)
	}
	if err := d.validator.Validate(ctx, targetURL); err != nil {
		return "", err
	}
	if _, err := d.secrets.WebhookSecret(ctx, tenantID); err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := d.now().UTC()
	body, err := buildEnvelope(id, tenantID, eventType, payload, now)
	if err != nil {
		return "", fmt.Errorf("%w: encode payload: %v", ErrInvalidDelivery, err)
	}
	rec := models.WebhookDeliveryRecord{
		DeliveryID:  id,
		TenantID:    tenantID,
		WebhookURL:  targetURL,
		Payload:     body,
		EventType:   eventType,
		Status:      models.DeliveryPending,
		MaxAttempts: d.cfg.MaxRetries,
		CreatedAt:   now,
	}
	if err := d.store.CreateDelivery(ctx, rec); err != nil {
		return "", fmt.Errorf("create delivery: %w", err)
	}
	if err := d.queue.Enqueue(ctx, id, now); err != nil {
		rec.Status = models.DeliveryFailed
		rec.LastError = "enqueue failed: " + err.Error()
		_ = d.store.SaveAttempt(ctx, rec)
		return "", fmt.Errorf("enqueue delivery: %w", err)
	}
	telemetry.WebhookQueued.Inc()
	d.log.Debug("webhook queued", "delivery_id", id, "tenant_id", tenantID, "event_type", eventType)
	return id, nil
}

// Get returns one delivery record.
func (d *Dispatcher) Get(ctx context.Context, id string) (models.WebhookDeliveryRecord, error) {
	return d.store.GetDelivery(ctx, id)
}

// List returns delivery records for operator views.
func (d *Dispatcher) List(ctx context.Context, f DeliveryFilter) ([]models.WebhookDeliveryRecord, error) {
	return d.store.ListDeliveries(ctx, f)
}

// DeadLetters returns the most recently failed deliveries.
func (d *Dispatcher) DeadLetters(ctx context.Context, count int64) ([]models.WebhookDeliveryRecord, error) {
	ids, err := d.queue.DeadLetters(ctx, count)
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]models.WebhookDeliveryRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := d.store.GetDelivery(ctx, id)
		if errors.Is(err, ErrDeliveryNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Start launches the schedule pump and the worker pool. Cancel ctx to stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pump(ctx)
	}()
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.work(ctx)
		}()
	}
	d.log.Info("webhook dispatcher started", "workers", d.cfg.Workers, "max_retries", d.cfg.MaxRetries, "base_delay", d.cfg.BaseDelay)
}

// Wait blocks until every goroutine started by Start has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Run is Start followed by Wait.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.Start(ctx)
	d.Wait()
	return ctx.Err()
}

func (d *Dispatcher) pump(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		now := d.now()
		batch := int64(d.cfg.BatchSize)
		if _, err := d.queue.PromoteScheduled(ctx, now, batch); err != nil && ctx.Err() == nil {
			d.log.Warn("promote scheduled deliveries", "err", err)
		}
		if n, err := d.queue.RequeueExpired(ctx, now, batch); err != nil && ctx.Err() == nil {
			d.log.Warn("requeue expired leases", "err", err)
		} else if n > 0 {
			d.log.Warn("reclaimed expired delivery leases", "count", n)
		}
		if depth, err := d.queue.ReadyDepth(ctx); err == nil {
			telemetry.WebhookReady.Set(float64(depth))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		id, err := d.queue.DequeueWithLease(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.log.Warn("dequeue delivery", "err", err)
			}
			sleep(ctx, d.cfg.PollInterval)
			continue
		}
		if id == "" {
			sleep(ctx, d.cfg.PollInterval)
			continue
		}
		d.process(ctx, id)
	}
}

func (d *Dispatcher) process(ctx context.Context, id string) {
	log := d.log.With("delivery_id", id)
	rec, err := d.store.GetDelivery(ctx, id)
	if err != nil {
		log.Error("load delivery", "err", err)
		if errors.Is(err, ErrDeliveryNotFound) {
			_ = d.queue.Ack(ctx, id)
		}
		return
	}
	if rec.Status != models.DeliveryPending {
		_ = d.queue.Ack(ctx, id)
		return
	}
	maxAttempts := d.maxAttempts(rec)
	if rec.Attempts >= maxAttempts {
		rec.Status = models.DeliveryFailed
		if err := d.store.SaveAttempt(ctx, rec); err == nil {
			_ = d.queue.DeadLetter(ctx, id)
		}
		return
	}

	telemetry.WebhookInFlight.Inc()
	res := d.attempt(ctx, rec)
	telemetry.WebhookInFlight.Dec()
	if ctx.Err() != nil {
		// Shutting down: the lease expires and another worker retries.
		return
	}

	now := d.now().UTC()
	rec.Attempts++
	rec.LastAttemptedAt = &now
	rec.ResponseCode = res.statusCode
	rec.NextAttemptAt = nil
	switch res.result {
	case resultDelivered:
		rec.Status = models.DeliveryDelivered
		rec.LastError = ""
	case resultPermanent:
		rec.Status = models.DeliveryFailed
		rec.LastError = res.err
	case resultRetryable:
		rec.LastError = res.err
		if rec.Attempts < maxAttempts {
			next := now.Add(d.backoff(rec.Attempts))
			rec.NextAttemptAt = &next
		} else {
			rec.Status = models.DeliveryFailed
		}
	}
	telemetry.WebhookAttempts.WithLabelValues(string(res.result)).Inc()

	if err := d.store.SaveAttempt(ctx, rec); err != nil {
		log.Error("persist delivery attempt", "err", err, "attempts", rec.Attempts)
		return
	}

	switch rec.Status {
	case models.DeliveryDelivered:
		_ = d.queue.Ack(ctx, id)
		telemetry.WebhookDelivered.Inc()
		log.Info("webhook delivered", "attempts", rec.Attempts, "status_code", rec.ResponseCode)
	case models.DeliveryFailed:
		_ = d.queue.DeadLetter(ctx, id)
		telemetry.WebhookFailed.Inc()
		log.Warn("webhook failed", "attempts", rec.Attempts, "status_code", rec.ResponseCode, "err", rec.LastError)
	default:
		if err := d.queue.Reschedule(ctx, id, *rec.NextAttemptAt); err != nil {
			log.Error("reschedule delivery", "err", err)
			return
		}
		log.Info("webhook retry scheduled", "attempts", rec.Attempts, "next_attempt_at", rec.NextAttemptAt.Format(time.RFC3339Nano), "err", rec.LastError)
	}
}

type attemptResult string

const (
	resultDelivered attemptResult = "delivered"
	resultPermanent attemptResult = "client_error"
	resultRetryable attemptResult = "retryable"
)

type attemptOutcome struct {
	result     attemptResult
	statusCode int
	err        string
}

func (d *Dispatcher) attempt(ctx context.Context, rec models.WebhookDeliveryRecord) attemptOutcome {
	secret, err := d.secrets.WebhookSecret(ctx, rec.TenantID)
	if err != nil {
		if errors.Is(err, ErrMissingSecret) {
			return attemptOutcome{result: resultPermanent, err: err.Error()}
		}
		return attemptOutcome{result: resultRetryable, err: err.Error()}
	}

	actx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(actx, http.MethodPost, rec.WebhookURL, bytes.NewReader(rec.Payload))
	if err != nil {
		return attemptOutcome{result: resultPermanent, err: fmt.Sprintf("build request: %v", err)}
	}
	ts := d.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, Sign(secret, ts, rec.Payload))
	req.Header.Set(HeaderDelivery, rec.DeliveryID)
	req.Header.Set(HeaderEvent, rec.EventType)

	resp, err := d.client.Do(req)
	if err != nil {
		// The target resolved to a blocked address at dial time.
		if errors.Is(err, netguard.ErrBlocked) {
			return attemptOutcome{result: resultPermanent, err: err.Error()}
		}
		return attemptOutcome{result: resultRetryable, err: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return classify(resp.StatusCode)
}

// classify maps an HTTP status onto an attempt result. Redirects are not
// followed, so 3xx is treated as a misconfigured endpoint.
func classify(code int) attemptOutcome {
	switch {
	case code >= 200 && code < 300:
		return attemptOutcome{result: resultDelivered, statusCode: code}
	case code >= 500:
		return attemptOutcome{result: resultRetryable, statusCode: code, err: fmt.Sprintf("server responded %d", code)}
	case code >= 400:
		return attemptOutcome{result: resultPermanent, statusCode: code, err: fmt.Sprintf("client error %d", code)}
	default:
		return attemptOutcome{result: resultPermanent, statusCode: code, err: fmt.Sprintf("unexpected status %d", code)}
	}
}

// backoff returns the delay after the given number of failed attempts:
// base, 2*base, 4*base... capped at MaxDelay.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	next := time.Duration(float64(d.cfg.BaseDelay) * math.Pow(2, float64(attempts-1)))
	if next <= 0 || next > d.cfg.MaxDelay {
		return d.cfg.MaxDelay
	}
	return next
}

func (d *Dispatcher) maxAttempts(rec models.WebhookDeliveryRecord) int {
	if rec.MaxAttempts > 0 {
		return rec.MaxAttempts
	}
	return d.cfg.MaxRetries
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
