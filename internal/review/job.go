package review

import (
	"context"
	"fmt"
	"log/slog"

	"creative-review-engine/internal/creatives"
	"creative-review-engine/internal/models"
	"creative-review-engine/internal/moderation"
	"creative-review-engine/internal/policy"
	"creative-review-engine/internal/tasks"
	"creative-review-engine/internal/telemetry"
)

const systemPrincipal = "system"

// run is the job body. Every failure ends here as a failed job status; none
// escape to the worker loop.
func (s *Scheduler) run(ctx context.Context, j job) {
	log := s.log.With("job_id", j.id, "creative_id", j.req.CreativeID, "tenant_id", j.req.TenantID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("review job panicked", "panic", r)
			s.tracker.fail(j.id, fmt.Errorf("internal error: %v", r), nil)
		}
	}()

	pol, criteria := s.resolvePolicy(ctx, j.req, log)

	content := j.req.Content
	content.CreativeID = j.req.CreativeID
	content.TenantID = j.req.TenantID
	if s.deps.Preparer != nil && content.AssetURL != "" {
		prepared, err := s.deps.Preparer.Prepare(ctx, content)
		if err != nil {
			s.moderationFailed(ctx, j, fmt.Errorf("prepare asset: %w", err), log)
			return
		}
		content = prepared
	}

	mctx, cancel := context.WithTimeout(ctx, s.cfg.ModerationTimeout)
	res := s.deps.Reviewer.Review(mctx, content, criteria)
	cancel()
	if !res.Ok() {
		s.moderationFailed(ctx, j, res.Err, log)
		return
	}

	decision := policy.Decide(res.Verdict, res.Confidence, res.Category, &pol)
	recorded, err := s.deps.Creatives.RecordAutomated(ctx, creatives.Automated{
		TenantID:        j.req.TenantID,
		CreativeID:      j.req.CreativeID,
		Decision:        decision,
		Reason:          res.Reason,
		Recommendations: res.Recommendations,
	})
	if err != nil {
		log.Error("persist review outcome", "err", err)
		s.tracker.fail(j.id, err, nil)
		return
	}

	result := JobResult{
		Outcome:         decision.Outcome,
		Decision:        recorded.Status,
		PolicyTriggered: decision.PolicyTriggered,
		Verdict:         decision.Verdict,
		Confidence:      decision.Confidence,
		Category:        decision.Category,
		RecordID:        recorded.Record.ID,
	}

	if decision.Outcome == policy.RequireHuman {
		task, err := s.deps.Tasks.Create(ctx, tasks.CreateInput{
			TenantID:    j.req.TenantID,
			TaskType:    models.TaskCreativeApproval,
			PrincipalID: principalOf(j.req),
			Priority:    priorityFor(decision),
			DueIn:       s.cfg.TaskDueIn,
			Context: models.TaskContext{
				CreativeID: j.req.CreativeID,
				Operation:  "creative_review",
				Recommendation: &models.AIRecommendation{
					Verdict:         string(decision.Verdict),
					Confidence:      decision.Confidence,
					Category:        decision.Category,
					PolicyTriggered: decision.PolicyTriggered,
					Reason:          res.Reason,
					Recommendations: res.Recommendations,
				},
			},
		})
		if err != nil {
			log.Error("create approval task", "err", err)
			s.tracker.fail(j.id, fmt.Errorf("create approval task: %w", err), &result)
			return
		}
		result.TaskID = task.TaskID
	}

	if s.deps.Notifier != nil {
		data := map[string]any{
			"job_id":           j.id,
			"outcome":          decision.Outcome,
			"policy_triggered": decision.PolicyTriggered,
		}
		if result.TaskID != "" {
			data["task_id"] = result.TaskID
		}
		result.DeliveryID = s.deps.Notifier.CreativeStatusChanged(ctx, j.req.TenantID, j.req.CreativeID, recorded.Status, data)
	}

	telemetry.ReviewOutcomes.WithLabelValues(string(decision.Outcome)).Inc()
	s.tracker.complete(j.id, result)
	log.Info("review finished", "outcome", decision.Outcome, "policy_triggered", decision.PolicyTriggered, "confidence", decision.Confidence, "task_id", result.TaskID)
}

// moderationFailed leaves the creative pending with the error attached.
func (s *Scheduler) moderationFailed(ctx context.Context, j job, cause error, log *slog.Logger) {
	telemetry.ModerationFailures.Inc()
	log.Warn("moderation failed, creative left pending", "err", cause)
	if _, err := s.deps.Creatives.RecordFailure(ctx, j.req.TenantID, j.req.CreativeID, cause); err != nil {
		log.Error("persist moderation failure", "err", err)
	}
	s.tracker.fail(j.id, cause, &JobResult{
		Decision:        models.DecisionPending,
		PolicyTriggered: policy.RuleModerationError,
	})
}

func (s *Scheduler) resolvePolicy(ctx context.Context, req Request, log *slog.Logger) (policy.AIReviewPolicy, moderation.Criteria) {
	criteria := req.Criteria
	if req.Policy != nil {
		return *req.Policy, criteria
	}
	if s.deps.Policies == nil {
		return policy.Default(), criteria
	}
	p, tenantCriteria, err := s.deps.Policies.ReviewPolicy(ctx, req.TenantID)
	if err != nil {
		log.Warn("load tenant policy, using defaults", "err", err)
		return policy.Default(), criteria
	}
	if criteria == "" {
		criteria = moderation.Criteria(tenantCriteria)
	}
	return p, criteria
}

func principalOf(req Request) string {
	if req.PrincipalID != "" {
		return req.PrincipalID
	}
	return systemPrincipal
}

func priorityFor(d policy.Decision) models.Priority {
	switch d.PolicyTriggered {
	case policy.RuleSensitiveCategory:
		return models.PriorityHigh
	case policy.RuleUnparseable:
		return models.PriorityMedium
	}
	if d.Verdict == policy.VerdictReject {
		return models.PriorityHigh
	}
	return models.PriorityMedium
}
