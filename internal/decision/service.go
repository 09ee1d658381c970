package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/periodic-erp/periodic/internal/audit"
	"github.com/periodic-erp/periodic/internal/shared"
	"github.com/periodic-erp/periodic/internal/validation"
)

// IssueReader looks up issues for suggestion and decision flows.
type IssueReader interface {
	GetIssue(ctx context.Context, issueID uuid.UUID) (validation.Issue, error)
}

// PeriodWindow resolves the end date of a period, used as posting date for
// corrective entries.
type PeriodWindow interface {
	PeriodEnd(ctx context.Context, periodID uuid.UUID) (time.Time, error)
}

// AuditRecorder appends audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// DecideInput is one verdict on a suggested action.
type DecideInput struct {
	IssueID    uuid.UUID
	ActionType ActionType
	Verdict    Verdict
	Actor      string
	Notes      string
}

// Service produces suggestions and records decisions.
type Service struct {
	repo     Repository
	issues   IssueReader
	periods  PeriodWindow
	registry *Registry
	cache    *Cache
	auditor  AuditRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs Service.
func NewService(repo Repository, issues IssueReader, periods PeriodWindow, registry *Registry, cache *Cache, auditor AuditRecorder, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		issues:   issues,
		periods:  periods,
		registry: registry,
		cache:    cache,
		auditor:  auditor,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetSuggestions returns the ranked suggestion list for an issue. Previously
// rejected action types stay listed but lose the auto-suggested flag.
func (s *Service) GetSuggestions(ctx context.Context, issueID uuid.UUID) ([]SuggestedAction, error) {
	issue, err := s.issues.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if cached, ok := s.cache.Get(ctx, issueID); ok {
		return cached, nil
	}
	rejected, err := s.repo.RejectedActionTypes(ctx, issueID)
	if err != nil {
		return nil, err
	}
	suggestions := SuggestFor(issue, rejected)
	s.cache.Set(ctx, issueID, suggestions)
	return suggestions, nil
}

// ListDecisions returns the decision history of an issue.
func (s *Service) ListDecisions(ctx context.Context, issueID uuid.UUID) ([]Decision, error) {
	if _, err := s.issues.GetIssue(ctx, issueID); err != nil {
		return nil, err
	}
	return s.repo.ListByIssue(ctx, issueID)
}

// Decide records a verdict. An approval executes the action in the same
// transaction as the decision row and the issue resolution. A repeated
// approval of an executed action returns the stored decision without a second
// side effect. A failed execution may be retried. Rejecting an action that
// already executed is a state conflict, the ledger mutation cannot be
// un-decided.
func (s *Service) Decide(ctx context.Context, in DecideInput) (Decision, error) {
	issue, err := s.issues.GetIssue(ctx, in.IssueID)
	if err != nil {
		return Decision{}, err
	}
	if !s.registry.Supported(in.ActionType) {
		return Decision{}, fmt.Errorf("%w: %s", shared.ErrUnsupportedAction, in.ActionType)
	}
	if in.ActionType != ActionLockPeriod && !Supports(issue.Code, in.ActionType) {
		return Decision{}, fmt.Errorf("%w: %s does not apply to %s", shared.ErrUnsupportedAction, in.ActionType, issue.Code)
	}

	suggestedActionID := ActionID(issue.ID, in.ActionType)
	now := s.now().UTC()

	if in.Verdict == VerdictRejected {
		rejection := Decision{
			ID:                uuid.New(),
			IssueID:           issue.ID,
			SuggestedActionID: suggestedActionID,
			ActionType:        in.ActionType,
			Verdict:           VerdictRejected,
			ExecutionStatus:   ExecutionNone,
			DecidedBy:         in.Actor,
			DecidedAt:         now,
		}
		err := s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
			existing, found, err := repo.GetForUpdate(ctx, suggestedActionID)
			if err != nil {
				return err
			}
			if found && existing.ExecutionStatus == ExecutionExecuted {
				return fmt.Errorf("%s already executed for issue %s: %w", in.ActionType, issue.ID, shared.ErrStateConflict)
			}
			if found {
				rejection.ID = existing.ID
			}
			return repo.Upsert(ctx, rejection)
		})
		if err != nil {
			return Decision{}, err
		}
		s.cache.Invalidate(ctx, issue.ID)
		s.recordAudit(ctx, issue, rejection, in.Notes)
		return rejection, nil
	}

	periodEnd, err := s.periods.PeriodEnd(ctx, issue.PeriodID)
	if err != nil {
		return Decision{}, err
	}

	var result Decision
	var execErr error
	var replay bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		existing, found, err := repo.GetForUpdate(ctx, suggestedActionID)
		if err != nil {
			return err
		}
		if found && existing.Verdict == VerdictApproved && existing.ExecutionStatus == ExecutionExecuted {
			result = existing
			replay = true
			return nil
		}

		result = Decision{
			ID:                uuid.New(),
			IssueID:           issue.ID,
			SuggestedActionID: suggestedActionID,
			ActionType:        in.ActionType,
			Verdict:           VerdictApproved,
			ExecutionStatus:   ExecutionPending,
			DecidedBy:         in.Actor,
			DecidedAt:         now,
		}
		if found {
			result.ID = existing.ID
		}

		req := ExecutionRequest{Issue: issue, PostingDate: periodEnd, Actor: in.Actor}
		if execErr = s.registry.Execute(ctx, in.ActionType, repo.Ledger(), req); execErr != nil {
			// Abort so the ledger side effect rolls back. The FAILED row is
			// written after the rollback in its own transaction.
			return execErr
		}

		executedAt := s.now().UTC()
		result.ExecutionStatus = ExecutionExecuted
		result.ExecutedAt = &executedAt
		if err := repo.Upsert(ctx, result); err != nil {
			return err
		}
		return repo.ResolveIssue(ctx, issue.ID, executedAt)
	})

	if err != nil {
		if execErr != nil && !errors.Is(execErr, shared.ErrUnsupportedAction) && !errors.Is(execErr, shared.ErrPeriodLocked) {
			return s.recordFailure(ctx, issue, result, execErr, in.Notes)
		}
		return Decision{}, err
	}
	if replay {
		return result, nil
	}

	s.cache.Invalidate(ctx, issue.ID)
	s.recordAudit(ctx, issue, result, in.Notes)
	return result, nil
}

// recordFailure writes the FAILED decision row after the execution
// transaction rolled back. The failure itself is a normal outcome for the
// caller, not an error.
func (s *Service) recordFailure(ctx context.Context, issue validation.Issue, d Decision, execErr error, notes string) (Decision, error) {
	d.ExecutionStatus = ExecutionFailed
	d.ExecutionError = execErr.Error()
	d.ExecutedAt = nil
	if err := s.repo.RecordOutcome(ctx, d); err != nil {
		return Decision{}, err
	}
	s.cache.Invalidate(ctx, issue.ID)
	s.recordAudit(ctx, issue, d, notes)
	s.logger.Warn("action execution failed",
		slog.String("issue_id", issue.ID.String()),
		slog.String("action_type", string(d.ActionType)),
		slog.String("error", execErr.Error()))
	return d, nil
}

func (s *Service) recordAudit(ctx context.Context, issue validation.Issue, d Decision, notes string) {
	meta := map[string]any{
		"issue_id":            issue.ID.String(),
		"issue_code":          string(issue.Code),
		"suggested_action_id": d.SuggestedActionID.String(),
		"action_type":         string(d.ActionType),
		"verdict":             string(d.Verdict),
		"execution_status":    string(d.ExecutionStatus),
	}
	if d.ExecutionError != "" {
		meta["execution_error"] = d.ExecutionError
	}
	if notes != "" {
		meta["notes"] = notes
	}
	entry := audit.Entry{
		PeriodID:         issue.PeriodID,
		AdministrationID: issue.AdministrationID,
		Action:           audit.ActionDecision,
		Actor:            d.DecidedBy,
		Meta:             meta,
		OccurredAt:       d.DecidedAt,
	}
	if err := s.auditor.Record(ctx, entry); err != nil {
		s.logger.Error("audit record failed", slog.String("error", err.Error()))
	}
}
