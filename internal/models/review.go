package models

import "time"

// ReviewType distinguishes automated passes from human ones. Human records
// carry more authority.
type ReviewType string

const (
	ReviewAutomated ReviewType = "automated"
	ReviewHuman     ReviewType = "human"
)

// Authority orders review types; higher wins.
func (t ReviewType) Authority() int {
	if t == ReviewHuman {
		return 2
	}
	return 1
}

// Decision is a creative moderation state.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionPending  Decision = "pending"
)

func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected || d == DecisionPending
}

// CreativeReviewRecord is the persisted outcome of one moderation pass.
type CreativeReviewRecord struct {
	ID              string     `json:"id"`
	CreativeID      string     `json:"creative_id"`
	TenantID        string     `json:"tenant_id"`
	ReviewedAt      time.Time  `json:"reviewed_at"`
	ReviewType      ReviewType `json:"review_type"`
	AIDecision      *Decision  `json:"ai_decision"`
	ConfidenceScore *float64   `json:"confidence_score"`
	PolicyTriggered string     `json:"policy_triggered,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	Recommendations []string   `json:"recommendations,omitempty"`
	HumanOverride   bool       `json:"human_override"`
	FinalDecision   Decision   `json:"final_decision"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	// Error is set when the moderation call failed and the creative was left pending.
	Error string `json:"error,omitempty"`
}

// CreativeStatus is the current moderation state of a creative as seen by
// the creative engine.
type CreativeStatus struct {
	CreativeID string    `json:"creative_id"`
	TenantID   string    `json:"tenant_id"`
	Status     Decision  `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}
