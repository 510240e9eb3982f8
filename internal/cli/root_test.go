package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"creative-review-engine/internal/auth"
	"creative-review-engine/internal/config"
	"creative-review-engine/internal/logger"
	"creative-review-engine/internal/moderation"
	"creative-review-engine/internal/queue"
	"creative-review-engine/internal/tenants"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "dispatch", "migrate", "token", "version"} {
		if !names[want] {
			t.Errorf("root command missing subcommand %q", want)
		}
	}
}

func TestVersionOutput(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "reviewengine dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("JWT_ISSUER", "")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--tenant", "acme", "--principal", "ops"})
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}
	m, err := auth.NewManager("test-secret", "")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.Verify(strings.TrimSpace(out.String()), time.Now())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.TenantID != "acme" || claims.PrincipalID != "ops" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestDispatchPreflight(t *testing.T) {
	err := dispatchPreflight(config.Config{WebhookQueue: "memory"})
	if err == nil || !strings.Contains(err.Error(), "POSTGRES_DSN") || !strings.Contains(err.Error(), "WEBHOOK_QUEUE=redis") {
		t.Fatalf("expected both violations, got %v", err)
	}
	if err := dispatchPreflight(config.Config{PostgresDSN: "postgres://x", WebhookQueue: "redis"}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestOpenBackend_Memory(t *testing.T) {
	cfg := config.Config{
		DefaultAutoApprove: 0.9,
		DefaultAutoReject:  0.1,
		WebhookSecrets:     map[string]string{"acme": "s3cret"},
		WebhookTargets:     map[string]string{"acme": "https://hooks.example.com/acme"},
	}
	b, err := openBackend(context.Background(), cfg, logger.Discard())
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer b.close()

	if b.settings != nil {
		t.Fatal("memory backend should not expose a settings store")
	}
	if _, ok := b.tenants.(*tenants.Directory); !ok {
		t.Fatalf("expected directory tenant source, got %T", b.tenants)
	}
	secret, err := b.tenants.WebhookSecret(context.Background(), "acme")
	if err != nil || secret != "s3cret" {
		t.Fatalf("secret = %q, %v", secret, err)
	}
	target, err := b.tenants.WebhookTarget(context.Background(), "acme")
	if err != nil || target != "https://hooks.example.com/acme" {
		t.Fatalf("target = %q, %v", target, err)
	}
	if err := readiness(b, nil)(context.Background()); err != nil {
		t.Fatalf("memory backend should always be ready: %v", err)
	}
}

func TestOpenBackend_RejectsBadDefaultPolicy(t *testing.T) {
	_, err := openBackend(context.Background(), config.Config{DefaultAutoApprove: 0.2, DefaultAutoReject: 0.5}, logger.Discard())
	if err == nil {
		t.Fatal("expected invalid default policy to fail")
	}
}

func TestReadinessReportsPostgres(t *testing.T) {
	b := &backend{ping: func(context.Context) error { return errors.New("down") }}
	err := readiness(b, nil)(context.Background())
	if err == nil || !strings.HasPrefix(err.Error(), "postgres:") {
		t.Fatalf("expected postgres error, got %v", err)
	}
}

func TestNewWebhookQueue(t *testing.T) {
	q, err := newWebhookQueue(config.Config{WebhookQueue: "memory", WebhookLease: time.Second}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := q.(*queue.MemoryQueue); !ok {
		t.Fatalf("expected memory queue, got %T", q)
	}
	if _, err := newWebhookQueue(config.Config{WebhookQueue: "redis"}, nil); err == nil {
		t.Fatal("expected redis queue without a client to fail")
	}
}

func TestNewReviewerWithoutURLFails(t *testing.T) {
	r := newReviewer(config.Config{}, logger.Discard())
	res := r.Review(context.Background(), moderation.Content{CreativeID: "cr_1"}, "")
	if !errors.Is(res.Err, errModerationNotConfigured) {
		t.Fatalf("expected not-configured error, got %+v", res)
	}
}
