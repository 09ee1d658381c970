// Package auth authenticates API keys and enforces capability scopes.
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Capability scopes. A key carries the scopes it may exercise.
const (
	ScopePeriodRead     = "period.read"
	ScopePeriodReview   = "period.review"
	ScopePeriodFinalize = "period.finalize"
	ScopePeriodLock     = "period.lock"
	ScopeDecisionMake   = "decision.make"
)

// Principal is the authenticated caller.
type Principal struct {
	KeyID            uuid.UUID
	AdministrationID uuid.UUID
	Name             string
	Scopes           []string
}

// HasScope reports whether the principal carries the scope.
func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type contextKey struct{}

// WithPrincipal stores the principal on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom returns the principal stored on the context.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
