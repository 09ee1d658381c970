package validation

import (
	"context"

	"github.com/google/uuid"
)

// IssueStore persists the issue set of a period.
type IssueStore interface {
	Replace(ctx context.Context, periodID uuid.UUID, issues []Issue) error
	OpenIssues(ctx context.Context, periodID uuid.UUID) ([]Issue, error)
	GetIssue(ctx context.Context, issueID uuid.UUID) (Issue, error)
}

// Service runs the engine and atomically replaces the stored issue set.
type Service struct {
	engine *Engine
	store  IssueStore
}

// NewService constructs Service.
func NewService(engine *Engine, store IssueStore) *Service {
	return &Service{engine: engine, store: store}
}

// Run evaluates the period and persists the result. On any ledger read error
// the previously stored issue set stays untouched.
func (s *Service) Run(ctx context.Context, scope Scope) (Result, error) {
	result, err := s.engine.Run(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	if err := s.store.Replace(ctx, scope.PeriodID, result.Issues()); err != nil {
		return Result{}, err
	}
	return result, nil
}

// OpenIssues returns unresolved issues for a period.
func (s *Service) OpenIssues(ctx context.Context, periodID uuid.UUID) ([]Issue, error) {
	return s.store.OpenIssues(ctx, periodID)
}

// GetIssue returns one issue.
func (s *Service) GetIssue(ctx context.Context, issueID uuid.UUID) (Issue, error) {
	return s.store.GetIssue(ctx, issueID)
}
