package webhook

import (
	"context"
	"errors"
	"fmt"

	"creative-review-engine/internal/netguard"
)

// ErrInvalidTarget marks a webhook URL that must never be called. It is a
// configuration error and is never retried.
var ErrInvalidTarget = errors.New("webhook: invalid target url")

// Resolver is the subset of net.Resolver used for target validation.
type Resolver = netguard.Resolver

// TargetValidator rejects loopback, private-network and cloud metadata
// targets. Metadata endpoints stay blocked even when AllowPrivate is set.
type TargetValidator struct {
	AllowPrivate bool
	Resolver     Resolver
}

func (v TargetValidator) policy() netguard.Policy {
	return netguard.Policy{AllowPrivate: v.AllowPrivate, Resolver: v.Resolver}
}

// Validate checks rawURL once, before the delivery is recorded. Lookup
// failures pass; the dispatcher's transport checks the dialed address on
// every attempt.
func (v TargetValidator) Validate(ctx context.Context, rawURL string) error {
	if err := v.policy().Validate(ctx, rawURL); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	return nil
}

// DefaultResolver adapts net.DefaultResolver.
func DefaultResolver() Resolver {
	return netguard.DefaultResolver()
}
