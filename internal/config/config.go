package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration for the API, review scheduler and
// webhook dispatcher.
type Config struct {
	Env           string
	HTTPPort      string
	MetricsAddr   string
	PostgresDSN   string
	PostgresConns int
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ReviewWorkers       int
	ReviewJobTTL        time.Duration
	ReviewSweepInterval time.Duration
	TaskDueIn           time.Duration

	ModerationURL     string
	ModerationAPIKey  string
	ModerationTimeout time.Duration

	WebhookQueue        string
	WebhookWorkers      int
	WebhookTimeout      time.Duration
	WebhookMaxRetries   int
	WebhookBaseDelay    time.Duration
	WebhookMaxDelay     time.Duration
	WebhookPollInterval time.Duration
	WebhookLease        time.Duration
	WebhookAllowPrivate bool
	WebhookSecrets      map[string]string
	WebhookTargets      map[string]string

	DefaultAutoApprove     float64
	DefaultAutoReject      float64
	DefaultHumanCategories []string

	RateLimitCapacity int
	RateLimitRefill   float64

	JWTSecret string
	JWTIssuer string

	AssetMaxBytes        int64
	AssetMaxEdge         int
	AssetMaxPixels       int64
	AssetAllowPrivate    bool
	AssetArchiveBucket   string
	AssetArchiveRegion   string
	AssetArchiveEndpoint string
	AssetArchiveDir      string

	VerifyStateURL string
}

// Load reads configuration from environment variables with sane defaults for
// local development, then validates it. Unparseable values are reported
// together with every other violation.
func Load() (Config, error) {
	p := &parser{}
	cfg := Config{
		Env:           getEnv("APP_ENV", "dev"),
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		PostgresConns: p.integer("POSTGRES_MAX_CONNS", 10),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       p.integer("REDIS_DB", 0),

		ReviewWorkers:       p.integer("REVIEW_WORKERS", 4),
		ReviewJobTTL:        p.duration("REVIEW_JOB_TTL", time.Hour),
		ReviewSweepInterval: p.duration("REVIEW_SWEEP_INTERVAL", time.Minute),
		TaskDueIn:           p.duration("TASK_DUE_IN", 48*time.Hour),

		ModerationURL:     getEnv("MODERATION_URL", ""),
		ModerationAPIKey:  getEnv("MODERATION_API_KEY", ""),
		ModerationTimeout: p.duration("MODERATION_TIMEOUT", 30*time.Second),

		WebhookQueue:        strings.ToLower(getEnv("WEBHOOK_QUEUE", "memory")),
		WebhookWorkers:      p.integer("WEBHOOK_WORKERS", 4),
		WebhookTimeout:      p.duration("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookMaxRetries:   p.integer("WEBHOOK_MAX_RETRIES", 3),
		WebhookBaseDelay:    p.duration("WEBHOOK_BASE_DELAY", time.Second),
		WebhookMaxDelay:     p.duration("WEBHOOK_MAX_DELAY", 5*time.Minute),
		WebhookPollInterval: p.duration("WEBHOOK_POLL_INTERVAL", 200*time.Millisecond),
		WebhookLease:        p.duration("WEBHOOK_LEASE", 30*time.Second),
		WebhookAllowPrivate: p.flag("WEBHOOK_ALLOW_PRIVATE", false),
		WebhookSecrets:      p.pairs("WEBHOOK_SECRETS"),
		WebhookTargets:      p.pairs("WEBHOOK_TARGETS"),

		DefaultAutoApprove:     p.number("DEFAULT_AUTO_APPROVE_THRESHOLD", 0.90),
		DefaultAutoReject:      p.number("DEFAULT_AUTO_REJECT_THRESHOLD", 0.10),
		DefaultHumanCategories: getEnvList("DEFAULT_HUMAN_CATEGORIES", nil),

		RateLimitCapacity: p.integer("RATE_LIMIT_CAPACITY", 50),
		RateLimitRefill:   p.number("RATE_LIMIT_REFILL_PER_SEC", 20),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", ""),

		AssetMaxBytes:        int64(p.integer("ASSET_MAX_BYTES", 20<<20)),
		AssetMaxEdge:         p.integer("ASSET_MAX_EDGE", 1024),
		AssetMaxPixels:       int64(p.integer("ASSET_MAX_PIXELS", 50_000_000)),
		AssetAllowPrivate:    p.flag("ASSET_ALLOW_PRIVATE", false),
		AssetArchiveBucket:   getEnv("ASSET_ARCHIVE_BUCKET", ""),
		AssetArchiveRegion:   getEnv("ASSET_ARCHIVE_REGION", ""),
		AssetArchiveEndpoint: getEnv("ASSET_ARCHIVE_ENDPOINT", ""),
		AssetArchiveDir:      getEnv("ASSET_ARCHIVE_DIR", ""),

		VerifyStateURL: getEnv("VERIFY_STATE_URL", ""),
	}
	if err := errors.Join(append(p.errs, cfg.Validate())...); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Local reports whether debug logging and lax webhook targets are appropriate.
func (c Config) Local() bool {
	return c.Env == "local" || c.Env == "dev"
}

// Validate reports every violation at once.
func (c Config) Validate() error {
	var errs []error
	if c.DefaultAutoApprove < 0 || c.DefaultAutoApprove > 1 {
		errs = append(errs, fmt.Errorf("DEFAULT_AUTO_APPROVE_THRESHOLD must be in [0,1], got %v", c.DefaultAutoApprove))
	}
	if c.DefaultAutoReject < 0 || c.DefaultAutoReject > 1 {
		errs = append(errs, fmt.Errorf("DEFAULT_AUTO_REJECT_THRESHOLD must be in [0,1], got %v", c.DefaultAutoReject))
	}
	if c.DefaultAutoReject >= c.DefaultAutoApprove {
		errs = append(errs, fmt.Errorf("DEFAULT_AUTO_REJECT_THRESHOLD (%v) must be below DEFAULT_AUTO_APPROVE_THRESHOLD (%v)",
			c.DefaultAutoReject, c.DefaultAutoApprove))
	}
	for name, v := range map[string]int{
		"REVIEW_WORKERS":      c.ReviewWorkers,
		"WEBHOOK_WORKERS":     c.WebhookWorkers,
		"RATE_LIMIT_CAPACITY": c.RateLimitCapacity,
		"ASSET_MAX_EDGE":      c.AssetMaxEdge,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.WebhookMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_MAX_RETRIES must not be negative, got %d", c.WebhookMaxRetries))
	}
	if c.RateLimitRefill <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_REFILL_PER_SEC must be positive, got %v", c.RateLimitRefill))
	}
	if c.AssetMaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("ASSET_MAX_BYTES must be positive, got %d", c.AssetMaxBytes))
	}
	if c.AssetMaxPixels <= 0 {
		errs = append(errs, fmt.Errorf("ASSET_MAX_PIXELS must be positive, got %d", c.AssetMaxPixels))
	}
	switch c.WebhookQueue {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("WEBHOOK_QUEUE=redis requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("WEBHOOK_QUEUE must be memory or redis, got %q", c.WebhookQueue))
	}
	for tenant, secret := range c.WebhookSecrets {
		if strings.TrimSpace(secret) == "" {
			errs = append(errs, fmt.Errorf("WEBHOOK_SECRETS: empty secret for tenant %q", tenant))
		}
	}
	return errors.Join(errs...)
}

type parser struct {
	errs []error
}

func (p *parser) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return i
}

func (p *parser) number(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a number", key, v))
		return def
	}
	return f
}

func (p *parser) flag(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

// pairs parses "tenant=value,tenant2=value2".
func (p *parser) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, item := range getEnvList(key, nil) {
		k, v, ok := strings.Cut(item, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			p.errs = append(p.errs, fmt.Errorf("%s: malformed entry %q, want tenant=value", key, item))
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
