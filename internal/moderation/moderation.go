// Package moderation is the client side of the external content moderation
// service. Failures never surface as Go errors from Review; they are carried
// on Result.Err so the review job can branch on them.
package moderation

import (
	"context"
	"errors"

	"creative-review-engine/internal/policy"
)

// ErrMalformedResponse marks a moderation response that was not valid JSON.
var ErrMalformedResponse = errors.New("moderation: malformed response")

// Content is what gets moderated.
type Content struct {
	CreativeID string         `json:"creative_id"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	Format     string         `json:"format,omitempty"`
	Text       string         `json:"text,omitempty"`
	AssetURL   string         `json:"asset_url,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	// Asset holds normalised image bytes when the asset was prepared locally.
	Asset       []byte `json:"-"`
	AssetType   string `json:"-"`
	ArchivedURI string `json:"-"`
}

// Criteria is the tenant's free-text review guidance.
type Criteria string

// Result is either a verdict or an error, never both.
type Result struct {
	Verdict         policy.Verdict
	Confidence      float64
	Category        string
	Reason          string
	Recommendations []string
	Err             error
}

// Ok reports whether the moderation call produced a response.
func (r Result) Ok() bool { return r.Err == nil }

// Failed builds an error Result.
func Failed(err error) Result { return Result{Err: err} }

// Reviewer scores content.
type Reviewer interface {
	Review(ctx context.Context, content Content, criteria Criteria) Result
}

// ReviewerFunc adapts a function to Reviewer.
type ReviewerFunc func(ctx context.Context, content Content, criteria Criteria) Result

func (f ReviewerFunc) Review(ctx context.Context, content Content, criteria Criteria) Result {
	return f(ctx, content, criteria)
}
