package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"creative-review-engine/internal/creatives"
	"creative-review-engine/internal/models"
	"creative-review-engine/internal/policy"
	"creative-review-engine/internal/tasks"
	"creative-review-engine/internal/tenants"
	"creative-review-engine/internal/webhook"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := New(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(st.Close)
	if _, err := st.RunMigrations(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if applied, err := st.RunMigrations(ctx); err != nil || len(applied) != 0 {
		t.Fatalf("second migrate applied %v, err %v", applied, err)
	}
	return st
}

func TestTaskRepository_Lifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	svc := tasks.NewService(st.Tasks(), nil)
	tenant := "tenant-" + uuid.NewString()

	task, err := svc.Create(ctx, tasks.CreateInput{
		TenantID:    tenant,
		TaskType:    models.TaskCreativeApproval,
		PrincipalID: "p1",
		Priority:    models.PriorityHigh,
		Context:     models.TaskContext{CreativeID: "cr_1", Recommendation: &models.AIRecommendation{Verdict: "approve", Confidence: 0.7}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Complete(ctx, tenant, task.TaskID, models.ResolutionApproved, "", "ops"); !errors.Is(err, tasks.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := svc.Assign(ctx, tenant, task.TaskID, "alice"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	done, err := svc.Complete(ctx, tenant, task.TaskID, models.ResolutionApproved, "looks fine", "alice")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.TaskCompleted || done.CompletedAt == nil {
		t.Fatalf("unexpected task %+v", done)
	}

	got, err := svc.Get(ctx, tenant, task.TaskID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Context.Recommendation == nil || got.Context.Recommendation.Confidence != 0.7 {
		t.Fatalf("context not round-tripped: %+v", got.Context)
	}
	if _, err := svc.Get(ctx, "other-tenant", task.TaskID); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("expected not found across tenants, got %v", err)
	}

	pending, err := svc.ListPending(ctx, tasks.Filter{TenantID: tenant})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no open tasks, got %d", len(pending))
	}
}

func TestCreativeRepository_History(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	svc := creatives.NewService(st.Creatives(), nil)
	tenant := "tenant-" + uuid.NewString()

	if _, err := svc.RecordAutomated(ctx, creatives.Automated{
		TenantID:   tenant,
		CreativeID: "cr_9",
		Decision:   policy.Decision{Outcome: policy.AutoReject, Verdict: policy.VerdictReject, Confidence: 0.95, PolicyTriggered: policy.RuleAutoReject},
		Reason:     "prohibited content",
	}); err != nil {
		t.Fatalf("record automated: %v", err)
	}
	if _, err := svc.RecordHuman(ctx, tenant, "cr_9", models.DecisionApproved, "bob", "false positive"); err != nil {
		t.Fatalf("record human: %v", err)
	}

	h, err := svc.History(ctx, tenant, "cr_9")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.Records) != 2 || h.FinalDecision != models.DecisionApproved || !h.Records[1].HumanOverride {
		t.Fatalf("unexpected history %+v", h)
	}
	status, err := svc.Status(ctx, tenant, "cr_9")
	if err != nil || status.Status != models.DecisionApproved {
		t.Fatalf("status %+v err %v", status, err)
	}
}

func TestDeliveryRepository(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	repo := st.Deliveries()
	tenant := "tenant-" + uuid.NewString()

	rec := models.WebhookDeliveryRecord{
		DeliveryID:  uuid.NewString(),
		TenantID:    tenant,
		WebhookURL:  "https://hooks.example.com/x",
		Payload:     []byte(`{"event_type":"creative.status_changed"}`),
		EventType:   "creative.status_changed",
		Status:      models.DeliveryPending,
		MaxAttempts: 4,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.CreateDelivery(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	now := time.Now().UTC()
	rec.Attempts, rec.Status, rec.ResponseCode, rec.LastAttemptedAt = 1, models.DeliveryDelivered, 200, &now
	if err := repo.SaveAttempt(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.GetDelivery(ctx, rec.DeliveryID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.DeliveryDelivered || got.ResponseCode != 200 || got.Attempts != 1 {
		t.Fatalf("unexpected record %+v", got)
	}
	list, err := repo.ListDeliveries(ctx, webhook.DeliveryFilter{TenantID: tenant, Status: models.DeliveryDelivered})
	if err != nil || len(list) != 1 {
		t.Fatalf("list %v err %v", list, err)
	}
	if _, err := repo.GetDelivery(ctx, uuid.NewString()); !errors.Is(err, webhook.ErrDeliveryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTenantRepository_FallsBackToDirectory(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	tenant := "tenant-" + uuid.NewString()
	dir := tenants.FromMaps(policy.Default(), map[string]string{tenant: "from-env"}, nil)
	repo := st.Tenants(dir)

	secret, err := repo.WebhookSecret(ctx, tenant)
	if err != nil || secret != "from-env" {
		t.Fatalf("fallback secret %q err %v", secret, err)
	}

	strict, _ := policy.New(0.97, 0.2, []string{"Political"})
	if err := repo.Put(ctx, tenants.Settings{TenantID: tenant, Policy: &strict, WebhookSecret: "from-db", Criteria: "no gambling"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	p, criteria, err := repo.ReviewPolicy(ctx, tenant)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if p.AutoApproveThreshold != 0.97 || !p.RequiresHuman("political") || criteria != "no gambling" {
		t.Fatalf("unexpected policy %+v criteria %q", p, criteria)
	}
	if secret, _ := repo.WebhookSecret(ctx, tenant); secret != "from-db" {
		t.Fatalf("expected db secret, got %q", secret)
	}
}
