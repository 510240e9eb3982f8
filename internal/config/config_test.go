package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ReviewWorkers != 4 || cfg.WebhookMaxRetries != 3 || cfg.WebhookQueue != "memory" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ReviewJobTTL != time.Hour || cfg.WebhookPollInterval != 200*time.Millisecond || cfg.ModerationTimeout != 30*time.Second {
		t.Fatalf("unexpected duration defaults %+v", cfg)
	}
	if cfg.DefaultAutoApprove != 0.90 || cfg.DefaultAutoReject != 0.10 {
		t.Fatalf("unexpected thresholds %v/%v", cfg.DefaultAutoApprove, cfg.DefaultAutoReject)
	}
	if cfg.AssetMaxPixels != 50_000_000 || cfg.AssetAllowPrivate {
		t.Fatalf("unexpected asset defaults pixels=%d allow_private=%v", cfg.AssetMaxPixels, cfg.AssetAllowPrivate)
	}
	if !cfg.Local() {
		t.Fatalf("expected dev env to be local")
	}
}

func TestLoad_ParsesMaps(t *testing.T) {
	t.Setenv("WEBHOOK_SECRETS", "acme=s3cret, globex = other ")
	t.Setenv("WEBHOOK_TARGETS", "acme=https://hooks.acme.test/reviews")
	t.Setenv("DEFAULT_HUMAN_CATEGORIES", "political, alcohol")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebhookSecrets["acme"] != "s3cret" || cfg.WebhookSecrets["globex"] != "other" {
		t.Fatalf("unexpected secrets %v", cfg.WebhookSecrets)
	}
	if cfg.WebhookTargets["acme"] != "https://hooks.acme.test/reviews" {
		t.Fatalf("unexpected targets %v", cfg.WebhookTargets)
	}
	if len(cfg.DefaultHumanCategories) != 2 || cfg.DefaultHumanCategories[1] != "alcohol" {
		t.Fatalf("unexpected categories %v", cfg.DefaultHumanCategories)
	}
}

func TestLoad_AggregatesViolations(t *testing.T) {
	t.Setenv("DEFAULT_AUTO_APPROVE_THRESHOLD", "0.2")
	t.Setenv("DEFAULT_AUTO_REJECT_THRESHOLD", "0.5")
	t.Setenv("REVIEW_WORKERS", "0")
	t.Setenv("WEBHOOK_QUEUE", "kafka")
	t.Setenv("WEBHOOK_SECRETS", "acme")
	t.Setenv("WEBHOOK_TIMEOUT", "soon")
	t.Setenv("ASSET_MAX_PIXELS", "0")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{
		"DEFAULT_AUTO_REJECT_THRESHOLD (0.5) must be below",
		"REVIEW_WORKERS must be positive",
		"WEBHOOK_QUEUE must be memory or redis",
		"WEBHOOK_SECRETS: malformed entry",
		"WEBHOOK_TIMEOUT",
		"ASSET_MAX_PIXELS must be positive",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestValidate_RedisQueueNeedsAddr(t *testing.T) {
	t.Setenv("WEBHOOK_QUEUE", "redis")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "REDIS_ADDR") {
		t.Fatalf("expected REDIS_ADDR error, got %v", err)
	}
	t.Setenv("REDIS_ADDR", "localhost:6379")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
