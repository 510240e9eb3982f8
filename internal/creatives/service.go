// Package creatives records moderation outcomes for creatives and tracks
// their current review status.
package creatives

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"creative-review-engine/internal/models"
	"creative-review-engine/internal/policy"
)

var (
	ErrNotFound        = errors.New("creatives: creative not found")
	ErrInvalidDecision = errors.New("creatives: invalid decision")
)

// Repository persists review records and the current creative status.
type Repository interface {
	AppendRecord(ctx context.Context, rec models.CreativeReviewRecord) error
	ListRecords(ctx context.Context, tenantID, creativeID string) ([]models.CreativeReviewRecord, error)
	SetStatus(ctx context.Context, st models.CreativeStatus) error
	GetStatus(ctx context.Context, tenantID, creativeID string) (models.CreativeStatus, error)
}

type Service struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, now: time.Now}
}

// Automated is the input for one automated moderation pass.
type Automated struct {
	TenantID        string
	CreativeID      string
	Decision        policy.Decision
	Reason          string
	Recommendations []string
}

// Recorded is an appended record plus the creative status it left behind.
// Status can differ from Record.FinalDecision when an earlier human record
// still outranks the new one.
type Recorded struct {
	Record models.CreativeReviewRecord
	Status models.Decision
}

// RecordAutomated writes an automated record and refreshes the creative
// status from the full history. require_human leaves the creative pending
// unless a human has already decided.
func (s *Service) RecordAutomated(ctx context.Context, in Automated) (Recorded, error) {
	final := models.DecisionPending
	switch in.Decision.Outcome {
	case policy.AutoApprove:
		final = models.DecisionApproved
	case policy.AutoReject:
		final = models.DecisionRejected
	}
	ai := aiDecision(in.Decision.Verdict)
	now := s.now().UTC()
	rec := models.CreativeReviewRecord{
		ID:              uuid.NewString(),
		CreativeID:      in.CreativeID,
		TenantID:        in.TenantID,
		ReviewedAt:      now,
		ReviewType:      models.ReviewAutomated,
		AIDecision:      &ai,
		PolicyTriggered: in.Decision.PolicyTriggered,
		Reason:          in.Reason,
		Recommendations: in.Recommendations,
		FinalDecision:   final,
	}
	if c := in.Decision.Confidence; c >= 0 && c <= 1 {
		rec.ConfidenceScore = &c
	}
	return s.appendAndRefresh(ctx, rec, in.Decision.PolicyTriggered)
}

// RecordFailure leaves the creative pending with the moderation error
// attached for operators. A prior human decision keeps its status.
func (s *Service) RecordFailure(ctx context.Context, tenantID, creativeID string, cause error) (models.CreativeReviewRecord, error) {
	msg := "moderation failed"
	if cause != nil {
		msg = cause.Error()
	}
	rec := models.CreativeReviewRecord{
		ID:              uuid.NewString(),
		CreativeID:      creativeID,
		TenantID:        tenantID,
		ReviewedAt:      s.now().UTC(),
		ReviewType:      models.ReviewAutomated,
		PolicyTriggered: policy.RuleModerationError,
		FinalDecision:   models.DecisionPending,
		Error:           msg,
	}
	out, err := s.appendAndRefresh(ctx, rec, msg)
	return out.Record, err
}

// appendAndRefresh appends rec and sets the creative status to the final
// decision over every record, so an automated pass never outranks a human.
func (s *Service) appendAndRefresh(ctx context.Context, rec models.CreativeReviewRecord, detail string) (Recorded, error) {
	out := Recorded{Record: rec, Status: rec.FinalDecision}
	existing, err := s.repo.ListRecords(ctx, rec.TenantID, rec.CreativeID)
	if err != nil {
		return out, fmt.Errorf("list review records: %w", err)
	}
	if err := s.repo.AppendRecord(ctx, rec); err != nil {
		return out, fmt.Errorf("append review record: %w", err)
	}
	all := append(existing, rec)
	out.Status = FinalDecision(all)
	if out.Status != rec.FinalDecision {
		detail = "human decision retained"
		s.log.Info("automated review outranked by human decision",
			"creative_id", rec.CreativeID, "automated", rec.FinalDecision, "status", out.Status)
	}
	if err := s.setStatus(ctx, rec.TenantID, rec.CreativeID, out.Status, detail, rec.ReviewedAt); err != nil {
		return out, err
	}
	return out, nil
}

// RecordHuman writes a human record. HumanOverride is set when the decision
// disagrees with the latest automated ai_decision that was itself approved or
// rejected; an unparseable verdict is not overridden.
func (s *Service) RecordHuman(ctx context.Context, tenantID, creativeID string, decision models.Decision, reviewer, reason string) (models.CreativeReviewRecord, error) {
	if decision != models.DecisionApproved && decision != models.DecisionRejected {
		return models.CreativeReviewRecord{}, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
	if reviewer == "" {
		return models.CreativeReviewRecord{}, fmt.Errorf("%w: reviewer is required", ErrInvalidDecision)
	}
	existing, err := s.repo.ListRecords(ctx, tenantID, creativeID)
	if err != nil {
		return models.CreativeReviewRecord{}, fmt.Errorf("list review records: %w", err)
	}

	now := s.now().UTC()
	rec := models.CreativeReviewRecord{
		ID:              uuid.NewString(),
		CreativeID:      creativeID,
		TenantID:        tenantID,
		ReviewedAt:      now,
		ReviewType:      models.ReviewHuman,
		PolicyTriggered: policy.RuleHumanReview,
		Reason:          reason,
		FinalDecision:   decision,
		ReviewedBy:      reviewer,
	}
	if last := latestAutomated(existing); last != nil && decided(*last.AIDecision) && *last.AIDecision != decision {
		rec.HumanOverride = true
	}
	if err := s.repo.AppendRecord(ctx, rec); err != nil {
		return rec, fmt.Errorf("append review record: %w", err)
	}
	if err := s.setStatus(ctx, tenantID, creativeID, decision, reason, now); err != nil {
		return rec, err
	}
	s.log.Info("human review recorded", "creative_id", creativeID, "decision", decision, "override", rec.HumanOverride)
	return rec, nil
}

// History is every record for a creative plus the derived final decision.
type History struct {
	CreativeID    string                        `json:"creative_id"`
	FinalDecision models.Decision               `json:"final_decision"`
	Records       []models.CreativeReviewRecord `json:"records"`
}

func (s *Service) History(ctx context.Context, tenantID, creativeID string) (History, error) {
	recs, err := s.repo.ListRecords(ctx, tenantID, creativeID)
	if err != nil {
		return History{}, err
	}
	if len(recs) == 0 {
		return History{}, ErrNotFound
	}
	return History{CreativeID: creativeID, FinalDecision: FinalDecision(recs), Records: recs}, nil
}

// Status returns the current creative status.
func (s *Service) Status(ctx context.Context, tenantID, creativeID string) (models.CreativeStatus, error) {
	return s.repo.GetStatus(ctx, tenantID, creativeID)
}

// FinalDecision takes the most recent record of the highest-authority review
// type. No records means pending.
func FinalDecision(recs []models.CreativeReviewRecord) models.Decision {
	var best *models.CreativeReviewRecord
	for i := range recs {
		r := &recs[i]
		if best == nil {
			best = r
			continue
		}
		ra, ba := r.ReviewType.Authority(), best.ReviewType.Authority()
		if ra > ba || (ra == ba && !r.ReviewedAt.Before(best.ReviewedAt)) {
			best = r
		}
	}
	if best == nil {
		return models.DecisionPending
	}
	return best.FinalDecision
}

func (s *Service) setStatus(ctx context.Context, tenantID, creativeID string, d models.Decision, detail string, now time.Time) error {
	err := s.repo.SetStatus(ctx, models.CreativeStatus{
		CreativeID: creativeID,
		TenantID:   tenantID,
		Status:     d,
		Detail:     detail,
		UpdatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("set creative status: %w", err)
	}
	return nil
}

func latestAutomated(recs []models.CreativeReviewRecord) *models.CreativeReviewRecord {
	var last *models.CreativeReviewRecord
	for i := range recs {
		r := &recs[i]
		if r.ReviewType != models.ReviewAutomated || r.AIDecision == nil {
			continue
		}
		if last == nil || !r.ReviewedAt.Before(last.ReviewedAt) {
			last = r
		}
	}
	return last
}

func decided(d models.Decision) bool {
	return d == models.DecisionApproved || d == models.DecisionRejected
}

func aiDecision(v policy.Verdict) models.Decision {
	switch v {
	case policy.VerdictApprove:
		return models.DecisionApproved
	case policy.VerdictReject:
		return models.DecisionRejected
	}
	return models.DecisionPending
}
