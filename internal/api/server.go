package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"creative-review-engine/internal/assets"
	"creative-review-engine/internal/auth"
	"creative-review-engine/internal/creatives"
	"creative-review-engine/internal/logger"
	"creative-review-engine/internal/models"
	"creative-review-engine/internal/policy"
	"creative-review-engine/internal/ratelimit"
	"creative-review-engine/internal/review"
	"creative-review-engine/internal/tasks"
	"creative-review-engine/internal/telemetry"
	"creative-review-engine/internal/tenants"
	"creative-review-engine/internal/verify"
	"creative-review-engine/internal/webhook"
)

type Reviews interface {
	Submit(req review.Request) (string, error)
	Status(jobID string) review.JobStatus
}

type Tasks interface {
	Create(ctx context.Context, in tasks.CreateInput) (models.ReviewTask, error)
	Get(ctx context.Context, tenantID, taskID string) (models.ReviewTask, error)
	Assign(ctx context.Context, tenantID, taskID, assignee string) (models.ReviewTask, error)
	Start(ctx context.Context, tenantID, taskID string) (models.ReviewTask, error)
	Complete(ctx context.Context, tenantID, taskID string, resolution models.Resolution, detail, resolvedBy string) (models.ReviewTask, error)
	Fail(ctx context.Context, tenantID, taskID, detail, resolvedBy string) (models.ReviewTask, error)
	ListPending(ctx context.Context, f tasks.Filter) ([]models.ReviewTask, error)
}

type Verifier interface {
	Verify(ctx context.Context, tenantID, taskID string, expected map[string]any) (verify.Result, error)
	MarkTaskComplete(ctx context.Context, tenantID, taskID string, override bool, completedBy string) (verify.Result, models.ReviewTask, error)
}

type Webhooks interface {
	Deliver(ctx context.Context, tenantID, targetURL string, payload webhook.Payload, eventType string) (string, error)
	Get(ctx context.Context, id string) (models.WebhookDeliveryRecord, error)
	List(ctx context.Context, f webhook.DeliveryFilter) ([]models.WebhookDeliveryRecord, error)
	DeadLetters(ctx context.Context, count int64) ([]models.WebhookDeliveryRecord, error)
}

type Creatives interface {
	History(ctx context.Context, tenantID, creativeID string) (creatives.History, error)
}

// AssetChecker vets asset URLs before a review is queued.
type AssetChecker interface {
	CheckURL(ctx context.Context, rawURL string) error
}

type Limiter interface {
	Allow(ctx context.Context, tenantID string) (ratelimit.Decision, error)
}

// SettingsStore persists tenant review settings. Only the Postgres backend
// provides one.
type SettingsStore interface {
	Put(ctx context.Context, s tenants.Settings) error
}

// Deps are the services behind the HTTP API. Assets, Limiter, Auth and
// Settings are optional.
type Deps struct {
	Reviews   Reviews
	Tasks     Tasks
	Verifier  Verifier
	Webhooks  Webhooks
	Creatives Creatives
	Assets    AssetChecker
	Limiter   Limiter
	Settings  SettingsStore
	Auth      *auth.Manager
	Log       *slog.Logger
	// Ready reports backing store health for /healthz.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers for the review engine API.
type Server struct {
	deps Deps
	log  *slog.Logger
}

func New(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{deps: deps, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.Middleware(s.log))

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireTenant(s.deps.Auth))

		r.Post("/reviews", s.handleSubmitReview)
		r.Get("/reviews/{jobID}", s.handleReviewStatus)
		r.Get("/creatives/{id}/reviews", s.handleCreativeHistory)

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleCreateTask)
			r.Get("/", s.handleListTasks)
			r.Get("/{id}", s.handleGetTask)
			r.Post("/{id}/assign", s.handleAssignTask)
			r.Post("/{id}/start", s.handleStartTask)
			r.Post("/{id}/complete", s.handleCompleteTask)
			r.Post("/{id}/fail", s.handleFailTask)
			r.Post("/{id}/verify", s.handleVerifyTask)
			r.Post("/{id}/mark-complete", s.handleMarkComplete)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/deliveries", s.handleDeliver)
			r.Get("/deliveries", s.handleListDeliveries)
			r.Get("/deliveries/{id}", s.handleGetDelivery)
			r.Get("/dead-letters", s.handleDeadLetters)
		})

		if s.deps.Settings != nil {
			r.Put("/settings", s.handlePutSettings)
		}
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type settingsRequest struct {
	AutoApproveThreshold  *float64 `json:"auto_approve_threshold"`
	AutoRejectThreshold   *float64 `json:"auto_reject_threshold"`
	AlwaysRequireHumanFor []string `json:"always_require_human_for"`
	Criteria              string   `json:"criteria"`
	WebhookURL            string   `json:"webhook_url"`
	WebhookSecret         string   `json:"webhook_secret"`
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decode(w, r, &req) {
		return
	}
	approve, reject := policy.DefaultAutoApproveThreshold, policy.DefaultAutoRejectThreshold
	if req.AutoApproveThreshold != nil {
		approve = *req.AutoApproveThreshold
	}
	if req.AutoRejectThreshold != nil {
		reject = *req.AutoRejectThreshold
	}
	p, err := policy.New(approve, reject, req.AlwaysRequireHumanFor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	settings := tenants.Settings{
		TenantID:      auth.TenantID(r.Context()),
		Policy:        &p,
		Criteria:      req.Criteria,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
	}
	if err := s.deps.Settings.Put(r.Context(), settings); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": settings.TenantID, "policy": p, "criteria": req.Criteria})
}

// allow applies the per-tenant rate limit. It writes the 429 itself and
// returns false when the request must stop.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	if s.deps.Limiter == nil {
		return true
	}
	d, err := s.deps.Limiter.Allow(r.Context(), tenantID)
	if err != nil {
		// A limiter outage should not stop reviews.
		logger.From(r.Context()).Warn("rate limiter unavailable", "tenant_id", tenantID, "err", err)
		return true
	}
	if d.Allowed {
		return true
	}
	telemetry.RateLimitRejects.Inc()
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
	writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
	return false
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tasks.ErrNotFound),
		errors.Is(err, creatives.ErrNotFound),
		errors.Is(err, webhook.ErrDeliveryNotFound):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrNotAssignable),
		errors.Is(err, tasks.ErrInvalidTransition),
		errors.Is(err, verify.ErrVerificationFailed):
		return http.StatusConflict
	case errors.Is(err, tasks.ErrInvalidTask),
		errors.Is(err, review.ErrInvalidRequest),
		errors.Is(err, policy.ErrInvalidPolicy),
		errors.Is(err, webhook.ErrInvalidTarget),
		errors.Is(err, assets.ErrInvalidAssetURL),
		errors.Is(err, webhook.ErrInvalidDelivery),
		errors.Is(err, creatives.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, webhook.ErrMissingSecret),
		errors.Is(err, verify.ErrNoStateObject):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.From(r.Context()).Error("request failed", "err", err)
		writeJSON(w, code, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
