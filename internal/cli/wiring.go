package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"creative-review-engine/internal/api"
	"creative-review-engine/internal/config"
	"creative-review-engine/internal/creatives"
	"creative-review-engine/internal/moderation"
	"creative-review-engine/internal/notify"
	"creative-review-engine/internal/policy"
	"creative-review-engine/internal/queue"
	"creative-review-engine/internal/review"
	"creative-review-engine/internal/store"
	"creative-review-engine/internal/tasks"
	"creative-review-engine/internal/tenants"
	"creative-review-engine/internal/webhook"
)

const (
	webhookQueuePrefix = "reviews:webhooks"
	shutdownGrace      = 10 * time.Second
)

var errModerationNotConfigured = errors.New("moderation: MODERATION_URL is not set")

// tenantSource answers every per-tenant question the engine asks.
type tenantSource interface {
	review.PolicySource
	notify.TargetResolver
	webhook.SecretSource
}

// backend is the persistence layer picked from the configuration: Postgres
// when POSTGRES_DSN is set, process memory otherwise.
type backend struct {
	tasks      tasks.Repository
	creatives  creatives.Repository
	deliveries webhook.Store
	tenants    tenantSource
	settings   api.SettingsStore
	ping       func(ctx context.Context) error
	close      func()
}

func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (*backend, error) {
	defaultPolicy, err := policy.New(cfg.DefaultAutoApprove, cfg.DefaultAutoReject, cfg.DefaultHumanCategories)
	if err != nil {
		return nil, err
	}
	dir := tenants.FromMaps(defaultPolicy, cfg.WebhookSecrets, cfg.WebhookTargets)

	if cfg.PostgresDSN == "" {
		log.Warn("POSTGRES_DSN not set, using in-memory stores")
		return &backend{
			tasks:      tasks.NewMemoryRepository(),
			creatives:  creatives.NewMemoryRepository(),
			deliveries: webhook.NewMemoryStore(),
			tenants:    dir,
			close:      func() {},
		}, nil
	}

	st, err := store.New(ctx, cfg.PostgresDSN, int32(cfg.PostgresConns))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	applied, err := st.RunMigrations(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	if len(applied) > 0 {
		log.Info("migrations applied", "files", applied)
	}
	tenantRepo := st.Tenants(dir)
	return &backend{
		tasks:      st.Tasks(),
		creatives:  st.Creatives(),
		deliveries: st.Deliveries(),
		tenants:    tenantRepo,
		settings:   tenantRepo,
		ping:       st.Ping,
		close:      st.Close,
	}, nil
}

// openRedis returns nil when REDIS_ADDR is unset.
func openRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func newWebhookQueue(cfg config.Config, rdb *redis.Client) (webhook.Queue, error) {
	switch cfg.WebhookQueue {
	case "redis":
		if rdb == nil {
			return nil, errors.New("WEBHOOK_QUEUE=redis requires REDIS_ADDR")
		}
		return queue.NewRedisQueue(rdb, webhookQueuePrefix, cfg.WebhookLease), nil
	default:
		return queue.NewMemoryQueue(cfg.WebhookLease), nil
	}
}

func newDispatcher(cfg config.Config, b *backend, q webhook.Queue, log *slog.Logger) (*webhook.Dispatcher, error) {
	return webhook.NewDispatcher(webhook.Config{
		Workers:      cfg.WebhookWorkers,
		Timeout:      cfg.WebhookTimeout,
		MaxRetries:   cfg.WebhookMaxRetries,
		BaseDelay:    cfg.WebhookBaseDelay,
		MaxDelay:     cfg.WebhookMaxDelay,
		PollInterval: cfg.WebhookPollInterval,
		Lease:        cfg.WebhookLease,
		AllowPrivate: cfg.WebhookAllowPrivate,
	}, b.deliveries, q, b.tenants, webhook.WithLogger(log.With("component", "webhook")))
}

// newReviewer talks to the moderation service. Without MODERATION_URL every
// job fails with errModerationNotConfigured and the creative stays pending.
func newReviewer(cfg config.Config, log *slog.Logger) moderation.Reviewer {
	if cfg.ModerationURL == "" {
		log.Warn("MODERATION_URL not set, automated reviews will fail")
		return moderation.ReviewerFunc(func(context.Context, moderation.Content, moderation.Criteria) moderation.Result {
			return moderation.Failed(errModerationNotConfigured)
		})
	}
	return moderation.NewHTTPClient(cfg.ModerationURL, cfg.ModerationAPIKey, cfg.ModerationTimeout)
}

// readiness pings every configured backing service.
func readiness(b *backend, rdb *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if b.ping != nil {
			if err := b.ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}
