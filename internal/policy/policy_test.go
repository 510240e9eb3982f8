package policy

import (
	"errors"
	"math"
	"testing"
)

func TestDecide_HighConfidenceApprove(t *testing.T) {
	p := Default()
	for _, c := range []float64{0.90, 0.91, 0.95, 0.999, 1.0} {
		d := Decide(VerdictApprove, c, "general", &p)
		if d.Outcome != AutoApprove {
			t.Fatalf("confidence %v: expected auto_approve, got %s", c, d.Outcome)
		}
		if d.PolicyTriggered != RuleAutoApprove {
			t.Fatalf("confidence %v: unexpected rule %q", c, d.PolicyTriggered)
		}
	}
}

func TestDecide_ForcedHumanCategoryAlwaysWins(t *testing.T) {
	p, err := New(0.9, 0.1, []string{"political", " Healthcare ", "financial"})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	for _, cat := range []string{"political", "HEALTHCARE", "financial"} {
		for _, v := range []Verdict{VerdictApprove, VerdictReject, VerdictUnknown} {
			for _, c := range []float64{0, 0.5, 0.99, 1} {
				d := Decide(v, c, cat, &p)
				if d.Outcome != RequireHuman || d.PolicyTriggered != RuleSensitiveCategory {
					t.Fatalf("cat=%s verdict=%q conf=%v: got %s/%s", cat, v, c, d.Outcome, d.PolicyTriggered)
				}
			}
		}
	}
}

func TestDecide_Table(t *testing.T) {
	p := Default()
	cases := []struct {
		name    string
		verdict Verdict
		conf    float64
		want    Outcome
		rule    string
	}{
		{"low confidence approve", VerdictApprove, 0.60, RequireHuman, RuleLowConfidence},
		{"high confidence reject", VerdictReject, 0.95, AutoReject, RuleAutoReject},
		{"weak reject", VerdictReject, 0.50, RequireHuman, RuleLowConfidence},
		{"unknown verdict", VerdictUnknown, 0.99, RequireHuman, RuleUnparseable},
		{"confidence above one", VerdictApprove, 1.5, RequireHuman, RuleUnparseable},
		{"nan confidence", VerdictApprove, math.NaN(), RequireHuman, RuleUnparseable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Decide(tc.verdict, tc.conf, "general", &p)
			if d.Outcome != tc.want || d.PolicyTriggered != tc.rule {
				t.Fatalf("got %s/%s want %s/%s", d.Outcome, d.PolicyTriggered, tc.want, tc.rule)
			}
		})
	}
}

func TestDecide_NilPolicyUsesDefaults(t *testing.T) {
	if d := Decide(VerdictApprove, 0.95, "political", nil); d.Outcome != AutoApprove {
		t.Fatalf("expected defaults without forced categories, got %s", d.Outcome)
	}
	if d := Decide(VerdictApprove, 0.85, "general", nil); d.Outcome != RequireHuman {
		t.Fatalf("expected require_human below default threshold, got %s", d.Outcome)
	}
}

func TestDecide_CarriesRecommendation(t *testing.T) {
	d := Decide(VerdictApprove, 0.6, "general", nil)
	if d.Verdict != VerdictApprove || d.Confidence != 0.6 {
		t.Fatalf("expected verdict and confidence carried forward, got %+v", d)
	}
}

func TestNew_RejectsInvalidThresholds(t *testing.T) {
	cases := [][2]float64{
		{0.5, 0.5},
		{0.3, 0.7},
		{1.2, 0.1},
		{0.9, -0.1},
	}
	for _, c := range cases {
		if _, err := New(c[0], c[1], nil); !errors.Is(err, ErrInvalidPolicy) {
			t.Fatalf("approve=%v reject=%v: expected ErrInvalidPolicy, got %v", c[0], c[1], err)
		}
	}
}

func TestNew_NormalisesCategories(t *testing.T) {
	p, err := New(0.8, 0.2, []string{"Political", "political", "", "financial"})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	if len(p.AlwaysRequireHumanFor) != 2 {
		t.Fatalf("expected 2 categories, got %v", p.AlwaysRequireHumanFor)
	}
	if p.RequiresHuman("") {
		t.Fatalf("empty category must not match")
	}
}

func TestParseVerdict(t *testing.T) {
	cases := map[string]Verdict{
		"approve":   VerdictApprove,
		"APPROVED":  VerdictApprove,
		" reject ":  VerdictReject,
		"rejected":  VerdictReject,
		"maybe":     VerdictUnknown,
		"":          VerdictUnknown,
	}
	for in, want := range cases {
		if got := ParseVerdict(in); got != want {
			t.Fatalf("ParseVerdict(%q) = %q, want %q", in, got, want)
		}
	}
}
