package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ReviewsSubmitted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "reviews_submitted_total", Help: "Review jobs accepted by the scheduler"})
	ReviewOutcomes     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "review_outcomes_total", Help: "Policy outcomes of finished review jobs"}, []string{"outcome"})
	ModerationFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "moderation_failures_total", Help: "Moderation calls that errored or timed out"})
	ReviewJobsTracked  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "review_jobs_tracked", Help: "Review jobs currently held in the tracking map"})
	ReviewQueueDepth   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "review_queue_depth", Help: "Review jobs waiting for a worker"})

	WebhookQueued    = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_deliveries_queued_total", Help: "Webhook deliveries accepted for dispatch"})
	WebhookAttempts  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "webhook_attempts_total", Help: "Webhook HTTP attempts by classified result"}, []string{"result"})
	WebhookDelivered = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_deliveries_delivered_total", Help: "Deliveries that received a 2xx"})
	WebhookFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_deliveries_failed_total", Help: "Deliveries that ended in the failed state"})
	WebhookInFlight  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "webhook_attempts_inflight", Help: "Webhook attempts currently running"})
	WebhookReady     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "webhook_queue_ready_depth", Help: "Deliveries ready for an attempt"})

	TasksCreated     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "review_tasks_created_total", Help: "Human intervention tasks created"}, []string{"task_type"})
	TasksCompleted   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "review_tasks_closed_total", Help: "Human intervention tasks closed"}, []string{"resolution"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "review_rate_limit_rejects_total", Help: "Review submissions rejected by the tenant rate limiter"})
)

// Handler exposes /metrics with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ReviewsSubmitted,
			ReviewOutcomes,
			ModerationFailures,
			ReviewJobsTracked,
			ReviewQueueDepth,
			WebhookQueued,
			WebhookAttempts,
			WebhookDelivered,
			WebhookFailed,
			WebhookInFlight,
			WebhookReady,
			TasksCreated,
			TasksCompleted,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
