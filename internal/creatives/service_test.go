package creatives

import (
	"context"
	"errors"
	"testing"
	"time"

	"creative-review-engine/internal/models"
	"creative-review-engine/internal/policy"
)

func newTestService() (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return svc, repo
}

func TestRecordAutomated_AutoApprove(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	d := policy.Decide(policy.VerdictApprove, 0.95, "general", nil)
	out, err := svc.RecordAutomated(ctx, Automated{TenantID: "t1", CreativeID: "cr_1", Decision: d})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	rec := out.Record
	if rec.FinalDecision != models.DecisionApproved || out.Status != models.DecisionApproved || rec.ConfidenceScore == nil || *rec.ConfidenceScore != 0.95 {
		t.Fatalf("unexpected record: %+v", out)
	}
	st, err := svc.Status(ctx, "t1", "cr_1")
	if err != nil || st.Status != models.DecisionApproved {
		t.Fatalf("expected approved status, got %+v err=%v", st, err)
	}
}

func TestRecordAutomated_RequireHumanStaysPending(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	d := policy.Decide(policy.VerdictApprove, 0.6, "general", nil)
	out, err := svc.RecordAutomated(ctx, Automated{TenantID: "t1", CreativeID: "cr_1", Decision: d})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	rec := out.Record
	if rec.FinalDecision != models.DecisionPending || out.Status != models.DecisionPending || rec.AIDecision == nil || *rec.AIDecision != models.DecisionApproved {
		t.Fatalf("unexpected record: %+v", out)
	}
}

func TestRecordFailure_AttachesError(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	rec, err := svc.RecordFailure(ctx, "t1", "cr_1", errors.New("moderation call: timeout"))
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if rec.Error == "" || rec.FinalDecision != models.DecisionPending || rec.AIDecision != nil {
		t.Fatalf("unexpected record: %+v", rec)
	}
	st, _ := svc.Status(ctx, "t1", "cr_1")
	if st.Status != models.DecisionPending || st.Detail == "" {
		t.Fatalf("expected pending status with detail, got %+v", st)
	}
}

func TestRecordHuman_OverridesAutomated(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	d := policy.Decide(policy.VerdictApprove, 0.6, "general", nil)
	if _, err := svc.RecordAutomated(ctx, Automated{TenantID: "t1", CreativeID: "cr_1", Decision: d}); err != nil {
		t.Fatalf("record automated: %v", err)
	}
	rec, err := svc.RecordHuman(ctx, "t1", "cr_1", models.DecisionRejected, "alice", "brand safety")
	if err != nil {
		t.Fatalf("record human: %v", err)
	}
	if !rec.HumanOverride {
		t.Fatalf("expected human override")
	}

	// A later automated pass does not outrank the human record.
	d = policy.Decide(policy.VerdictApprove, 0.99, "general", nil)
	out, err := svc.RecordAutomated(ctx, Automated{TenantID: "t1", CreativeID: "cr_1", Decision: d})
	if err != nil {
		t.Fatalf("record automated: %v", err)
	}
	if out.Record.FinalDecision != models.DecisionApproved || out.Status != models.DecisionRejected {
		t.Fatalf("expected approved record under a rejected status, got %+v", out)
	}
	h, err := svc.History(ctx, "t1", "cr_1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.FinalDecision != models.DecisionRejected || len(h.Records) != 3 {
		t.Fatalf("unexpected history: final=%s records=%d", h.FinalDecision, len(h.Records))
	}
	st, err := svc.Status(ctx, "t1", "cr_1")
	if err != nil || st.Status != models.DecisionRejected {
		t.Fatalf("expected creative status to stay rejected, got %+v err=%v", st, err)
	}
}

func TestRecordFailure_KeepsHumanDecision(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.RecordHuman(ctx, "t1", "cr_1", models.DecisionApproved, "alice", ""); err != nil {
		t.Fatalf("record human: %v", err)
	}
	if _, err := svc.RecordFailure(ctx, "t1", "cr_1", errors.New("timeout")); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	st, _ := svc.Status(ctx, "t1", "cr_1")
	if st.Status != models.DecisionApproved {
		t.Fatalf("expected approved status to survive a failed pass, got %+v", st)
	}
}

func TestRecordHuman_UnparseableVerdictIsNotOverride(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	d := policy.Decide(policy.VerdictUnknown, 0, "", nil)
	if _, err := svc.RecordAutomated(ctx, Automated{TenantID: "t1", CreativeID: "cr_1", Decision: d}); err != nil {
		t.Fatalf("record automated: %v", err)
	}
	rec, err := svc.RecordHuman(ctx, "t1", "cr_1", models.DecisionRejected, "alice", "")
	if err != nil {
		t.Fatalf("record human: %v", err)
	}
	if rec.HumanOverride {
		t.Fatal("a decision on an unparseable verdict is not an override")
	}
}

func TestRecordHuman_AgreeingIsNotOverride(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	d := policy.Decide(policy.VerdictApprove, 0.6, "general", nil)
	_, _ = svc.RecordAutomated(ctx, Automated{TenantID: "t1", CreativeID: "cr_1", Decision: d})
	rec, err := svc.RecordHuman(ctx, "t1", "cr_1", models.DecisionApproved, "alice", "")
	if err != nil || rec.HumanOverride {
		t.Fatalf("agreeing human review should not be an override: %+v err=%v", rec, err)
	}
	if _, err := svc.RecordHuman(ctx, "t1", "cr_1", models.DecisionPending, "alice", ""); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
}

func TestFinalDecision(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []models.CreativeReviewRecord{
		{ReviewType: models.ReviewHuman, ReviewedAt: t0, FinalDecision: models.DecisionApproved},
		{ReviewType: models.ReviewAutomated, ReviewedAt: t0.Add(time.Hour), FinalDecision: models.DecisionRejected},
		{ReviewType: models.ReviewHuman, ReviewedAt: t0.Add(time.Minute), FinalDecision: models.DecisionRejected},
	}
	if got := FinalDecision(recs); got != models.DecisionRejected {
		t.Fatalf("expected latest human decision, got %s", got)
	}
	if got := FinalDecision(nil); got != models.DecisionPending {
		t.Fatalf("expected pending with no records, got %s", got)
	}
}
