package decision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/periodic-erp/periodic/internal/audit"
	"github.com/periodic-erp/periodic/internal/ledger"
	"github.com/periodic-erp/periodic/internal/shared"
	"github.com/periodic-erp/periodic/internal/validation"
)

type fakeWriter struct {
	adjustments   int
	depreciations int
	allocations   int
	reversals     int
	err           error
}

func (f *fakeWriter) CreateAdjustmentEntry(ctx context.Context, in ledger.AdjustmentInput) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.adjustments++
	return uuid.New(), nil
}

func (f *fakeWriter) CreateDepreciationEntry(ctx context.Context, scheduleID uuid.UUID, postedOn time.Time, amount decimal.Decimal) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.depreciations++
	return uuid.New(), nil
}

func (f *fakeWriter) ReclassifyToAsset(ctx context.Context, in ledger.AdjustmentInput) (uuid.UUID, error) {
	return uuid.New(), f.err
}

func (f *fakeWriter) ReverseJournalEntry(ctx context.Context, administrationID, journalEntryID uuid.UUID) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.reversals++
	return uuid.New(), nil
}

func (f *fakeWriter) CorrectVATRate(ctx context.Context, in ledger.VATCorrectionInput) error {
	return f.err
}

func (f *fakeWriter) AllocateOpenItem(ctx context.Context, in ledger.AllocationInput) error {
	if f.err != nil {
		return f.err
	}
	f.allocations++
	return nil
}

func (f *fakeWriter) FlagDocumentInvalid(ctx context.Context, administrationID, documentID uuid.UUID) error {
	return f.err
}

// memRepo keeps decisions in memory. WithTx discards the writer's side
// effects when fn fails, mirroring a rollback.
type memRepo struct {
	decisions map[uuid.UUID]Decision
	resolved  map[uuid.UUID]bool
	writer    *fakeWriter
}

func newMemRepo(writer *fakeWriter) *memRepo {
	return &memRepo{
		decisions: make(map[uuid.UUID]Decision),
		resolved:  make(map[uuid.UUID]bool),
		writer:    writer,
	}
}

type memTx struct {
	repo      *memRepo
	decisions map[uuid.UUID]Decision
	resolved  map[uuid.UUID]bool
}

func (m *memRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	tx := &memTx{
		repo:      m,
		decisions: make(map[uuid.UUID]Decision),
		resolved:  make(map[uuid.UUID]bool),
	}
	before := *m.writer
	if err := fn(ctx, tx); err != nil {
		*m.writer = before
		return err
	}
	for id, d := range tx.decisions {
		m.decisions[id] = d
	}
	for id := range tx.resolved {
		m.resolved[id] = true
	}
	return nil
}

func (m *memRepo) RecordOutcome(ctx context.Context, d Decision) error {
	m.decisions[d.SuggestedActionID] = d
	return nil
}

func (m *memRepo) RejectedActionTypes(ctx context.Context, issueID uuid.UUID) (map[ActionType]bool, error) {
	rejected := make(map[ActionType]bool)
	for _, d := range m.decisions {
		if d.IssueID == issueID && d.Verdict == VerdictRejected {
			rejected[d.ActionType] = true
		}
	}
	return rejected, nil
}

func (m *memRepo) ListByIssue(ctx context.Context, issueID uuid.UUID) ([]Decision, error) {
	var out []Decision
	for _, d := range m.decisions {
		if d.IssueID == issueID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (t *memTx) GetForUpdate(ctx context.Context, suggestedActionID uuid.UUID) (Decision, bool, error) {
	d, ok := t.repo.decisions[suggestedActionID]
	return d, ok, nil
}

func (t *memTx) Upsert(ctx context.Context, d Decision) error {
	t.decisions[d.SuggestedActionID] = d
	return nil
}

func (t *memTx) ResolveIssue(ctx context.Context, issueID uuid.UUID, at time.Time) error {
	t.resolved[issueID] = true
	return nil
}

func (t *memTx) Ledger() ledger.Writer {
	return t.repo.writer
}

type stubIssues struct {
	issues map[uuid.UUID]validation.Issue
}

func (s *stubIssues) GetIssue(ctx context.Context, issueID uuid.UUID) (validation.Issue, error) {
	issue, ok := s.issues[issueID]
	if !ok {
		return validation.Issue{}, shared.ErrNotFound
	}
	return issue, nil
}

type stubPeriods struct{}

func (stubPeriods) PeriodEnd(ctx context.Context, periodID uuid.UUID) (time.Time, error) {
	return time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), nil
}

type stubLocker struct {
	locked int
}

func (s *stubLocker) LockForDecision(ctx context.Context, administrationID, periodID uuid.UUID, actor string) error {
	s.locked++
	return nil
}

type memAudit struct {
	entries []audit.Entry
}

func (m *memAudit) Record(ctx context.Context, entry audit.Entry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func amountPtr(s string) *decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return &d
}

func imbalanceIssue() validation.Issue {
	entryID := uuid.MustParse("12121212-0000-0000-0000-000000000001")
	return validation.Issue{
		ID:               uuid.MustParse("abababab-0000-0000-0000-000000000001"),
		AdministrationID: uuid.MustParse("cdcdcdcd-0000-0000-0000-000000000001"),
		PeriodID:         uuid.MustParse("efefefef-0000-0000-0000-000000000001"),
		Code:             validation.CodeJournalImbalance,
		Severity:         validation.SeverityRed,
		Title:            "Journal entry 7 is out of balance",
		EntityID:         entryID,
		JournalEntryID:   &entryID,
		Amount:           amountPtr("10.00"),
	}
}

type harness struct {
	svc    *Service
	repo   *memRepo
	writer *fakeWriter
	audit  *memAudit
	cache  *Cache
}

func newHarness(t *testing.T, issues ...validation.Issue) *harness {
	t.Helper()
	writer := &fakeWriter{}
	repo := newMemRepo(writer)
	store := &stubIssues{issues: make(map[uuid.UUID]validation.Issue)}
	for _, issue := range issues {
		store.issues[issue.ID] = issue
	}

	srv := miniredis.RunT(t)
	cache := NewCache(redis.NewClient(&redis.Options{Addr: srv.Addr()}), time.Minute)

	auditor := &memAudit{}
	registry := NewRegistry(&stubLocker{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, store, stubPeriods{}, registry, cache, auditor, logger)
	return &harness{svc: svc, repo: repo, writer: writer, audit: auditor, cache: cache}
}

func TestGetSuggestionsRankedByConfidence(t *testing.T) {
	issue := imbalanceIssue()
	h := newHarness(t, issue)

	suggestions, err := h.svc.GetSuggestions(context.Background(), issue.ID)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	require.Equal(t, ActionCreateAdjustmentEntry, suggestions[0].ActionType)
	require.Equal(t, "HIGH", suggestions[0].ConfidenceBand)
	require.Equal(t, ActionReverseJournalEntry, suggestions[1].ActionType)
	require.True(t, suggestions[0].AutoSuggested)

	// Deterministic identity: same issue and type, same id.
	require.Equal(t, ActionID(issue.ID, ActionCreateAdjustmentEntry), suggestions[0].ID)
}

func TestRejectionDemotesSuggestionWithoutHidingIt(t *testing.T) {
	issue := imbalanceIssue()
	h := newHarness(t, issue)
	ctx := context.Background()

	_, err := h.svc.Decide(ctx, DecideInput{
		IssueID:    issue.ID,
		ActionType: ActionCreateAdjustmentEntry,
		Verdict:    VerdictRejected,
		Actor:      "ria",
	})
	require.NoError(t, err)
	require.Zero(t, h.writer.adjustments)

	suggestions, err := h.svc.GetSuggestions(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	require.Equal(t, ActionCreateAdjustmentEntry, suggestions[0].ActionType)
	require.False(t, suggestions[0].AutoSuggested)
	require.True(t, suggestions[1].AutoSuggested)
}

func TestApproveExecutesOnceAndIsIdempotent(t *testing.T) {
	issue := imbalanceIssue()
	h := newHarness(t, issue)
	ctx := context.Background()

	first, err := h.svc.Decide(ctx, DecideInput{
		IssueID:    issue.ID,
		ActionType: ActionCreateAdjustmentEntry,
		Verdict:    VerdictApproved,
		Actor:      "ria",
	})
	require.NoError(t, err)
	require.Equal(t, ExecutionExecuted, first.ExecutionStatus)
	require.NotNil(t, first.ExecutedAt)
	require.Equal(t, 1, h.writer.adjustments)
	require.True(t, h.repo.resolved[issue.ID])

	second, err := h.svc.Decide(ctx, DecideInput{
		IssueID:    issue.ID,
		ActionType: ActionCreateAdjustmentEntry,
		Verdict:    VerdictApproved,
		Actor:      "ria",
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.SuggestedActionID, second.SuggestedActionID)
	require.Equal(t, 1, h.writer.adjustments, "no second side effect")
}

func TestRejectAfterExecutionIsRefused(t *testing.T) {
	issue := imbalanceIssue()
	h := newHarness(t, issue)
	ctx := context.Background()

	executed, err := h.svc.Decide(ctx, DecideInput{
		IssueID:    issue.ID,
		ActionType: ActionCreateAdjustmentEntry,
		Verdict:    VerdictApproved,
		Actor:      "ria",
	})
	require.NoError(t, err)
	require.Equal(t, ExecutionExecuted, executed.ExecutionStatus)
	require.Equal(t, 1, h.writer.adjustments)

	// The adjustment already posted, the decision cannot flip to rejected.
	_, err = h.svc.Decide(ctx, DecideInput{
		IssueID:    issue.ID,
		ActionType: ActionCreateAdjustmentEntry,
		Verdict:    VerdictRejected,
		Actor:      "mara",
	})
	require.ErrorIs(t, err, shared.ErrStateConflict)

	stored := h.repo.decisions[executed.SuggestedActionID]
	require.Equal(t, VerdictApproved, stored.Verdict)
	require.Equal(t, ExecutionExecuted, stored.ExecutionStatus)

	// A later approval replays the stored decision without a second posting.
	replayed, err := h.svc.Decide(ctx, DecideInput{
		IssueID:    issue.ID,
		ActionType: ActionCreateAdjustmentEntry,
		Verdict:    VerdictApproved,
		Actor:      "ria",
	})
	require.NoError(t, err)
	require.Equal(t, executed.ID, replayed.ID)
	require.Equal(t, ExecutionExecuted, replayed.ExecutionStatus)
	require.Equal(t, 1, h.writer.adjustments, "exactly one adjustment across the sequence")
}

func TestRejectAfterFailureOverwritesFailedRow(t *testing.T) {
	issue := imbalanceIssue()
	h := newHarness(t, issue)
	ctx := context.Background()
	h.writer.err = errors.New("deadlock detected")

	failed, err := h.svc.Decide(ctx, DecideInput{
		IssueID:    issue.ID,
		ActionType: ActionCreateAdjustmentEntry,
		Verdict:    VerdictApproved,
		Actor:      "ria",
	})
	require.NoError(t, err)
	require.Equal(t, ExecutionFailed, failed.ExecutionStatus)

	rejected, err := h.svc.Decide(ctx, DecideInput{
		IssueID:    issue.ID,
		ActionType: ActionCreateAdjustmentEntry,
		Verdict:    VerdictRejected,
		Actor:      "ria",
	})
	require.NoError(t, err)
	require.Equal(t, failed.ID, rejected.ID, "rejection reuses the decision row")
	require.Equal(t, VerdictRejected, rejected.Verdict)
	require.Equal(t, ExecutionNone, rejected.ExecutionStatus)
}

func TestFailedExecutionRecordedAndRetryable(t *testing.T) {
	issue := imbalanceIssue()
	h := newHarness(t, issue)
	ctx := context.Background()
	h.writer.err = errors.New("deadlock detected")

	failed, err := h.svc.Decide(ctx, DecideInput{
		IssueID:    issue.ID,
		ActionType: ActionCreateAdjustmentEntry,
		Verdict:    VerdictApproved,
		Actor:      "ria",
	})
	require.NoError(t, err, "a failed execution is an outcome, not an error")
	require.Equal(t, ExecutionFailed, failed.ExecutionStatus)
	require.Contains(t, failed.ExecutionError, "deadlock detected")
	require.Zero(t, h.writer.adjustments)
	require.False(t, h.repo.resolved[issue.ID])

	h.writer.err = nil
	retried, err := h.svc.Decide(ctx, DecideInput{
		IssueID:    issue.ID,
		ActionType: ActionCreateAdjustmentEntry,
		Verdict:    VerdictApproved,
		Actor:      "ria",
	})
	require.NoError(t, err)
	require.Equal(t, ExecutionExecuted, retried.ExecutionStatus)
	require.Equal(t, failed.ID, retried.ID, "retry reuses the decision row")
	require.Equal(t, 1, h.writer.adjustments)
	require.True(t, h.repo.resolved[issue.ID])
}

func TestDecideUnknownActionType(t *testing.T) {
	issue := imbalanceIssue()
	h := newHarness(t, issue)

	_, err := h.svc.Decide(context.Background(), DecideInput{
		IssueID:    issue.ID,
		ActionType: ActionType("transmute-to-gold"),
		Verdict:    VerdictApproved,
		Actor:      "ria",
	})
	require.ErrorIs(t, err, shared.ErrUnsupportedAction)
	require.Empty(t, h.repo.decisions)
}

func TestDecideActionNotApplicableToIssue(t *testing.T) {
	issue := imbalanceIssue()
	h := newHarness(t, issue)

	_, err := h.svc.Decide(context.Background(), DecideInput{
		IssueID:    issue.ID,
		ActionType: ActionCreateDepreciation,
		Verdict:    VerdictApproved,
		Actor:      "ria",
	})
	require.ErrorIs(t, err, shared.ErrUnsupportedAction)
	require.Empty(t, h.repo.decisions)
}

func TestDecideUnknownIssue(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Decide(context.Background(), DecideInput{
		IssueID:    uuid.New(),
		ActionType: ActionCreateAdjustmentEntry,
		Verdict:    VerdictApproved,
		Actor:      "ria",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDecisionsRecordedInAuditTrail(t *testing.T) {
	issue := imbalanceIssue()
	h := newHarness(t, issue)

	_, err := h.svc.Decide(context.Background(), DecideInput{
		IssueID:    issue.ID,
		ActionType: ActionCreateAdjustmentEntry,
		Verdict:    VerdictApproved,
		Actor:      "ria",
		Notes:      "suspense cleanup next month",
	})
	require.NoError(t, err)
	require.Len(t, h.audit.entries, 1)
	entry := h.audit.entries[0]
	require.Equal(t, audit.ActionDecision, entry.Action)
	require.Equal(t, issue.PeriodID, entry.PeriodID)
	require.Equal(t, "APPROVED", entry.Meta["verdict"])
	require.Equal(t, "suspense cleanup next month", entry.Meta["notes"])
}
