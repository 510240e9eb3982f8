package review

import (
	"context"
	"log/slog"

	"creative-review-engine/internal/models"
)

type HumanRecorder interface {
	RecordHuman(ctx context.Context, tenantID, creativeID string, decision models.Decision, reviewer, reason string) (models.CreativeReviewRecord, error)
}

// ApprovalSync closes the loop on creative_approval tasks: an approved or
// rejected resolution becomes a human review record and a status webhook.
// It implements tasks.Observer.
type ApprovalSync struct {
	creatives HumanRecorder
	notifier  StatusNotifier
	log       *slog.Logger
}

func NewApprovalSync(c HumanRecorder, n StatusNotifier, log *slog.Logger) *ApprovalSync {
	if log == nil {
		log = slog.Default()
	}
	return &ApprovalSync{creatives: c, notifier: n, log: log}
}

func (a *ApprovalSync) TaskCreated(context.Context, models.ReviewTask) {}

func (a *ApprovalSync) TaskClosed(ctx context.Context, t models.ReviewTask) {
	if t.TaskType != models.TaskCreativeApproval || t.Context.CreativeID == "" || t.Status != models.TaskCompleted {
		return
	}
	var decision models.Decision
	switch t.Resolution {
	case models.ResolutionApproved:
		decision = models.DecisionApproved
	case models.ResolutionRejected:
		decision = models.DecisionRejected
	default:
		return
	}
	rec, err := a.creatives.RecordHuman(ctx, t.TenantID, t.Context.CreativeID, decision, t.ResolvedBy, t.ResolutionDetail)
	if err != nil {
		a.log.Error("record human review", "task_id", t.TaskID, "creative_id", t.Context.CreativeID, "err", err)
		return
	}
	if a.notifier != nil {
		a.notifier.CreativeStatusChanged(ctx, t.TenantID, t.Context.CreativeID, decision, map[string]any{
			"task_id":        t.TaskID,
			"reviewed_by":    t.ResolvedBy,
			"human_override": rec.HumanOverride,
		})
	}
}
