package period

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/periodic-erp/periodic/internal/audit"
	"github.com/periodic-erp/periodic/internal/shared"
	"github.com/periodic-erp/periodic/internal/snapshot"
	"github.com/periodic-erp/periodic/internal/validation"
)

// ValidationRunner runs validation and atomically replaces the issue set.
type ValidationRunner interface {
	Run(ctx context.Context, scope validation.Scope) (validation.Result, error)
	OpenIssues(ctx context.Context, periodID uuid.UUID) ([]validation.Issue, error)
}

// SnapshotBuilder computes the totals frozen at finalization.
type SnapshotBuilder interface {
	Build(ctx context.Context, administrationID uuid.UUID, from, to time.Time) (snapshot.Totals, error)
}

// TxRepository is the transactional surface of a lifecycle transition.
type TxRepository interface {
	GetPeriodForUpdate(ctx context.Context, periodID uuid.UUID) (Period, error)
	// Transition compares-and-swaps the status. A zero-row update means a
	// concurrent transition won and surfaces as a state conflict.
	Transition(ctx context.Context, periodID uuid.UUID, from, to Status, at time.Time) error
	InsertSnapshot(ctx context.Context, snap snapshot.Snapshot) error
	AppendAudit(ctx context.Context, entry audit.Entry) error
}

// Repository persists periods.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	ListPeriods(ctx context.Context, administrationID uuid.UUID) ([]Period, error)
	GetPeriod(ctx context.Context, periodID uuid.UUID) (Period, error)
	ListByStatus(ctx context.Context, status Status) ([]Period, error)
}

// Service drives the period close lifecycle.
type Service struct {
	repo      Repository
	validator ValidationRunner
	builder   SnapshotBuilder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs Service.
func NewService(repo Repository, validator ValidationRunner, builder SnapshotBuilder, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		builder:   builder,
		logger:    logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// List returns the periods of an administration.
func (s *Service) List(ctx context.Context, administrationID uuid.UUID) ([]Period, error) {
	return s.repo.ListPeriods(ctx, administrationID)
}

// Get returns a period with its open issues split by severity.
func (s *Service) Get(ctx context.Context, periodID uuid.UUID) (Detail, error) {
	p, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return Detail{}, err
	}
	issues, err := s.validator.OpenIssues(ctx, periodID)
	if err != nil {
		return Detail{}, err
	}
	detail := Detail{Period: p}
	for _, issue := range issues {
		if issue.Severity == validation.SeverityRed {
			detail.RedIssues = append(detail.RedIssues, issue)
		} else {
			detail.YellowIssues = append(detail.YellowIssues, issue)
		}
	}
	return detail, nil
}

// IsLocked reports whether the period reached its terminal state.
func (s *Service) IsLocked(ctx context.Context, periodID uuid.UUID) (bool, error) {
	p, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return false, err
	}
	return p.Status == StatusLocked, nil
}

// PeriodEnd returns the last day of the period, the posting date for
// corrective entries.
func (s *Service) PeriodEnd(ctx context.Context, periodID uuid.UUID) (time.Time, error) {
	p, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return time.Time{}, err
	}
	return p.EndDate, nil
}

// StartReview runs validation over the period's ledger facts and moves an
// OPEN period to REVIEW. Running it again while the period is already in
// REVIEW re-validates in place. If any ledger read fails the period keeps its
// status and its previous issue set.
func (s *Service) StartReview(ctx context.Context, periodID uuid.UUID, actor string) (ReviewResult, error) {
	p, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return ReviewResult{}, err
	}
	if p.Status != StatusOpen && p.Status != StatusReview {
		return ReviewResult{}, fmt.Errorf("cannot start review from %s: %w", p.Status, shared.ErrStateConflict)
	}

	now := s.now().UTC()
	var result validation.Result
	// Validation replaces the issue set, so it runs only after the row lock
	// confirmed the period can still enter or stay in REVIEW. A transition
	// raced by a finalize must not overwrite the frozen issue set.
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		current, err := repo.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if current.Status != StatusOpen && current.Status != StatusReview {
			return fmt.Errorf("cannot start review from %s: %w", current.Status, shared.ErrStateConflict)
		}
		result, err = s.validator.Run(ctx, validation.Scope{
			AdministrationID: current.AdministrationID,
			PeriodID:         current.ID,
			From:             current.StartDate,
			To:               current.EndDate,
		})
		if err != nil {
			return err
		}
		if current.Status == StatusOpen {
			if err := repo.Transition(ctx, periodID, StatusOpen, StatusReview, now); err != nil {
				return err
			}
		}
		return repo.AppendAudit(ctx, audit.Entry{
			PeriodID:         current.ID,
			AdministrationID: current.AdministrationID,
			Action:           audit.ActionReviewStart,
			FromStatus:       string(current.Status),
			ToStatus:         string(StatusReview),
			Actor:            actor,
			Meta: map[string]any{
				"issues_found": result.IssuesFound,
				"red":          len(result.RedIssues),
				"yellow":       len(result.YellowIssues),
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return ReviewResult{}, err
	}

	p, err = s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return ReviewResult{}, err
	}
	s.logger.Info("review started",
		slog.String("period_id", periodID.String()),
		slog.Int("issues_found", result.IssuesFound))
	return ReviewResult{
		Period:       p,
		RedIssues:    result.RedIssues,
		YellowIssues: result.YellowIssues,
		IssuesFound:  result.IssuesFound,
	}, nil
}

// Finalize moves REVIEW to FINALIZED. Open red issues block it. The caller
// must acknowledge exactly the set of open yellow issues, no more and no
// fewer. The snapshot freezes in the same transaction as the transition.
func (s *Service) Finalize(ctx context.Context, periodID uuid.UUID, in FinalizeInput) (Period, error) {
	p, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if p.Status != StatusReview {
		return Period{}, fmt.Errorf("cannot finalize from %s: %w", p.Status, shared.ErrStateConflict)
	}

	issues, err := s.validator.OpenIssues(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if err := checkFinalizeGates(issues, in.AcknowledgedYellowIssueIDs); err != nil {
		return Period{}, err
	}

	totals, err := s.builder.Build(ctx, p.AdministrationID, p.StartDate, p.EndDate)
	if err != nil {
		return Period{}, err
	}

	now := s.now().UTC()
	ackIDs := make([]string, 0, len(in.AcknowledgedYellowIssueIDs))
	for _, id := range in.AcknowledgedYellowIssueIDs {
		ackIDs = append(ackIDs, id.String())
	}
	meta := map[string]any{"acknowledged_yellow_issue_ids": ackIDs}
	if in.Notes != "" {
		meta["notes"] = in.Notes
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		current, err := repo.GetPeriodForUpdate(ctx, periodID)
		if err != nil {
			return err
		}
		if current.Status != StatusReview {
			return fmt.Errorf("cannot finalize from %s: %w", current.Status, shared.ErrStateConflict)
		}
		// The gates checked above raced anything that changed the issue set
		// since, a nightly sweep included. Re-check under the row lock so a
		// red issue cannot slip past the finalization.
		open, err := s.validator.OpenIssues(ctx, periodID)
		if err != nil {
			return err
		}
		if err := checkFinalizeGates(open, in.AcknowledgedYellowIssueIDs); err != nil {
			return err
		}
		if err := repo.Transition(ctx, periodID, StatusReview, StatusFinalized, now); err != nil {
			return err
		}
		if err := repo.InsertSnapshot(ctx, snapshot.Snapshot{
			ID:               uuid.New(),
			PeriodID:         p.ID,
			AdministrationID: p.AdministrationID,
			Totals:           totals,
			CreatedAt:        now,
		}); err != nil {
			return err
		}
		return repo.AppendAudit(ctx, audit.Entry{
			PeriodID:         p.ID,
			AdministrationID: p.AdministrationID,
			Action:           audit.ActionFinalize,
			FromStatus:       string(StatusReview),
			ToStatus:         string(StatusFinalized),
			Actor:            in.Actor,
			Meta:             meta,
			OccurredAt:       now,
		})
	})
	if err != nil {
		return Period{}, err
	}

	s.logger.Info("period finalized", slog.String("period_id", periodID.String()))
	return s.repo.GetPeriod(ctx, periodID)
}

// Lock moves FINALIZED to LOCKED. It requires the explicit irreversibility
// confirmation and is terminal.
func (s *Service) Lock(ctx context.Context, periodID uuid.UUID, in LockInput) (Period, error) {
	if !in.ConfirmIrreversible {
		return Period{}, shared.ErrConfirmationRequired
	}
	p, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return Period{}, err
	}
	if p.Status != StatusFinalized {
		return Period{}, fmt.Errorf("cannot lock from %s: %w", p.Status, shared.ErrStateConflict)
	}

	now := s.now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo TxRepository) error {
		if err := repo.Transition(ctx, periodID, StatusFinalized, StatusLocked, now); err != nil {
			return err
		}
		return repo.AppendAudit(ctx, audit.Entry{
			PeriodID:         p.ID,
			AdministrationID: p.AdministrationID,
			Action:           audit.ActionLock,
			FromStatus:       string(StatusFinalized),
			ToStatus:         string(StatusLocked),
			Actor:            in.Actor,
			Meta:             map[string]any{"confirm_irreversible": true},
			OccurredAt:       now,
		})
	})
	if err != nil {
		return Period{}, err
	}

	s.logger.Info("period locked", slog.String("period_id", periodID.String()))
	return s.repo.GetPeriod(ctx, periodID)
}

// LockForDecision locks a period through an approved lock-period action.
func (s *Service) LockForDecision(ctx context.Context, administrationID, periodID uuid.UUID, actor string) error {
	p, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return err
	}
	if p.AdministrationID != administrationID {
		return shared.ErrNotFound
	}
	_, err = s.Lock(ctx, periodID, LockInput{ConfirmIrreversible: true, Actor: actor})
	return err
}

// ResweepReviewPeriods re-runs validation over every period in REVIEW. Used
// by the nightly sweep so stale issue sets catch up with ledger changes.
func (s *Service) ResweepReviewPeriods(ctx context.Context) error {
	periods, err := s.repo.ListByStatus(ctx, StatusReview)
	if err != nil {
		return err
	}
	for _, p := range periods {
		_, err := s.validator.Run(ctx, validation.Scope{
			AdministrationID: p.AdministrationID,
			PeriodID:         p.ID,
			From:             p.StartDate,
			To:               p.EndDate,
		})
		if err != nil {
			s.logger.Error("resweep failed",
				slog.String("period_id", p.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
	}
	return nil
}

// checkFinalizeGates enforces the red gate and the exact yellow
// acknowledgement set.
func checkFinalizeGates(open []validation.Issue, acknowledged []uuid.UUID) error {
	var redIDs []uuid.UUID
	var redCodes []string
	openYellow := make(map[uuid.UUID]bool)
	for _, issue := range open {
		if issue.Severity == validation.SeverityRed {
			redIDs = append(redIDs, issue.ID)
			redCodes = append(redCodes, string(issue.Code))
		} else {
			openYellow[issue.ID] = true
		}
	}
	if len(redIDs) > 0 {
		return &shared.ValidationBlockedError{RedIssueIDs: redIDs, Codes: redCodes}
	}

	acked := make(map[uuid.UUID]bool, len(acknowledged))
	var mismatch shared.AcknowledgementMismatchError
	for _, id := range acknowledged {
		if acked[id] {
			continue
		}
		acked[id] = true
		if !openYellow[id] {
			mismatch.Extra = append(mismatch.Extra, id)
		}
	}
	for id := range openYellow {
		if !acked[id] {
			mismatch.Missing = append(mismatch.Missing, id)
		}
	}
	if len(mismatch.Missing) > 0 || len(mismatch.Extra) > 0 {
		return &mismatch
	}
	return nil
}
