// Package policy maps a moderation verdict onto an automation outcome.
//
// Decide is pure: it never performs I/O and the same inputs always yield the
// same Decision.
package policy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	DefaultAutoApproveThreshold = 0.90
	DefaultAutoRejectThreshold  = 0.10
)

// Rule names recorded as policy_triggered on review records.
const (
	RuleSensitiveCategory = "sensitive_category"
	RuleAutoApprove       = "auto_approve_threshold"
	RuleAutoReject        = "auto_reject_threshold"
	RuleLowConfidence     = "low_confidence"
	RuleUnparseable       = "unparseable_response"
	RuleModerationError   = "moderation_error"
	RuleHumanReview       = "human_review"
)

var ErrInvalidPolicy = errors.New("policy: invalid review policy")

// Verdict is the moderation service's recommendation.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
	VerdictUnknown Verdict = ""
)

// ParseVerdict normalises the spellings moderation services return.
func ParseVerdict(s string) Verdict {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved", "allow", "pass":
		return VerdictApprove
	case "reject", "rejected", "deny", "block":
		return VerdictReject
	}
	return VerdictUnknown
}

// Outcome is what the review scheduler should do with a creative.
type Outcome string

const (
	AutoApprove  Outcome = "auto_approve"
	AutoReject   Outcome = "auto_reject"
	RequireHuman Outcome = "require_human"
)

// AIReviewPolicy is per-tenant configuration read by the decision engine.
// Build it with New so threshold ordering is checked at load time.
type AIReviewPolicy struct {
	AutoApproveThreshold  float64  `json:"auto_approve_threshold"`
	AutoRejectThreshold   float64  `json:"auto_reject_threshold"`
	AlwaysRequireHumanFor []string `json:"always_require_human_for"`
}

// Default returns the built-in policy used when a tenant has none configured.
func Default() AIReviewPolicy {
	return AIReviewPolicy{
		AutoApproveThreshold: DefaultAutoApproveThreshold,
		AutoRejectThreshold:  DefaultAutoRejectThreshold,
	}
}

// New validates thresholds and normalises the forced-human categories.
func New(autoApprove, autoReject float64, humanCategories []string) (AIReviewPolicy, error) {
	p := AIReviewPolicy{
		AutoApproveThreshold:  autoApprove,
		AutoRejectThreshold:   autoReject,
		AlwaysRequireHumanFor: normaliseCategories(humanCategories),
	}
	if err := p.Validate(); err != nil {
		return AIReviewPolicy{}, err
	}
	return p, nil
}

// Validate enforces 0 <= auto_reject < auto_approve <= 1.
func (p AIReviewPolicy) Validate() error {
	if !inUnitRange(p.AutoApproveThreshold) {
		return fmt.Errorf("%w: auto_approve_threshold %v outside [0,1]", ErrInvalidPolicy, p.AutoApproveThreshold)
	}
	if !inUnitRange(p.AutoRejectThreshold) {
		return fmt.Errorf("%w: auto_reject_threshold %v outside [0,1]", ErrInvalidPolicy, p.AutoRejectThreshold)
	}
	if p.AutoRejectThreshold >= p.AutoApproveThreshold {
		return fmt.Errorf("%w: auto_reject_threshold %v must be below auto_approve_threshold %v",
			ErrInvalidPolicy, p.AutoRejectThreshold, p.AutoApproveThreshold)
	}
	return nil
}

// RequiresHuman reports whether category is in the forced-human set.
func (p AIReviewPolicy) RequiresHuman(category string) bool {
	c := normaliseCategory(category)
	if c == "" {
		return false
	}
	for _, forced := range p.AlwaysRequireHumanFor {
		if normaliseCategory(forced) == c {
			return true
		}
	}
	return false
}

// Decision is the result of applying a policy to one verdict.
type Decision struct {
	Outcome         Outcome `json:"outcome"`
	PolicyTriggered string  `json:"policy_triggered"`
	Verdict         Verdict `json:"verdict"`
	Confidence      float64 `json:"confidence"`
	Category        string  `json:"category,omitempty"`
}

// Decide applies p to a verdict. A nil policy falls back to Default.
func Decide(verdict Verdict, confidence float64, category string, p *AIReviewPolicy) Decision {
	pol := Default()
	if p != nil {
		pol = *p
	}
	d := Decision{
		Outcome:    RequireHuman,
		Verdict:    verdict,
		Confidence: confidence,
		Category:   category,
	}

	if pol.RequiresHuman(category) {
		d.PolicyTriggered = RuleSensitiveCategory
		return d
	}
	if (verdict != VerdictApprove && verdict != VerdictReject) || !inUnitRange(confidence) {
		d.PolicyTriggered = RuleUnparseable
		return d
	}
	if verdict == VerdictApprove && confidence >= pol.AutoApproveThreshold {
		d.Outcome = AutoApprove
		d.PolicyTriggered = RuleAutoApprove
		return d
	}
	if verdict == VerdictReject && confidence >= 1-pol.AutoRejectThreshold {
		d.Outcome = AutoReject
		d.PolicyTriggered = RuleAutoReject
		return d
	}
	d.PolicyTriggered = RuleLowConfidence
	return d
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func normaliseCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

func normaliseCategories(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		n := normaliseCategory(c)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
