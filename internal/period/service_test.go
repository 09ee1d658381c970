package period

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/periodic-erp/periodic/internal/audit"
	"github.com/periodic-erp/periodic/internal/shared"
	"github.com/periodic-erp/periodic/internal/snapshot"
	"github.com/periodic-erp/periodic/internal/validation"
)

type memoryRepo struct {
	mu        sync.Mutex
	periods   map[uuid.UUID]Period
	snapshots map[uuid.UUID]snapshot.Snapshot
	auditLog  []audit.Entry
}

func newMemoryRepo(periods ...Period) *memoryRepo {
	repo := &memoryRepo{
		periods:   make(map[uuid.UUID]Period),
		snapshots: make(map[uuid.UUID]snapshot.Snapshot),
	}
	for _, p := range periods {
		repo.periods[p.ID] = p
	}
	return repo
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, &memoryTx{repo: m})
}

func (m *memoryRepo) ListPeriods(ctx context.Context, administrationID uuid.UUID) ([]Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Period
	for _, p := range m.periods {
		if p.AdministrationID == administrationID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryRepo) GetPeriod(ctx context.Context, periodID uuid.UUID) (Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[periodID]
	if !ok {
		return Period{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memoryRepo) ListByStatus(ctx context.Context, status Status) ([]Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Period
	for _, p := range m.periods {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) GetPeriodForUpdate(ctx context.Context, periodID uuid.UUID) (Period, error) {
	p, ok := t.repo.periods[periodID]
	if !ok {
		return Period{}, shared.ErrNotFound
	}
	return p, nil
}

func (t *memoryTx) Transition(ctx context.Context, periodID uuid.UUID, from, to Status, at time.Time) error {
	p, ok := t.repo.periods[periodID]
	if !ok || p.Status != from {
		return shared.ErrStateConflict
	}
	p.Status = to
	switch to {
	case StatusReview:
		p.ReviewStartedAt = &at
	case StatusFinalized:
		p.FinalizedAt = &at
	case StatusLocked:
		p.LockedAt = &at
	}
	t.repo.periods[periodID] = p
	return nil
}

func (t *memoryTx) InsertSnapshot(ctx context.Context, snap snapshot.Snapshot) error {
	t.repo.snapshots[snap.PeriodID] = snap
	return nil
}

func (t *memoryTx) AppendAudit(ctx context.Context, entry audit.Entry) error {
	t.repo.auditLog = append(t.repo.auditLog, entry)
	return nil
}

type fakeValidator struct {
	result validation.Result
	err    error
	runs   int
	// openIssuesFn, when set, answers OpenIssues per call so a test can
	// change the open set between reads.
	openIssuesFn func() []validation.Issue
}

func (f *fakeValidator) Run(ctx context.Context, scope validation.Scope) (validation.Result, error) {
	f.runs++
	if f.err != nil {
		return validation.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeValidator) OpenIssues(ctx context.Context, periodID uuid.UUID) ([]validation.Issue, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.openIssuesFn != nil {
		return f.openIssuesFn(), nil
	}
	return f.result.Issues(), nil
}

// contendedRepo flips every period to a different status right before the
// transaction starts, the shape of a concurrent transition winning the race
// between the service's pre-check and its row lock.
type contendedRepo struct {
	*memoryRepo
	flipTo Status
}

func (r *contendedRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	r.mu.Lock()
	for id, p := range r.periods {
		p.Status = r.flipTo
		r.periods[id] = p
	}
	r.mu.Unlock()
	return r.memoryRepo.WithTx(ctx, fn)
}

type fakeBuilder struct {
	totals snapshot.Totals
	err    error
}

func (f *fakeBuilder) Build(ctx context.Context, administrationID uuid.UUID, from, to time.Time) (snapshot.Totals, error) {
	return f.totals, f.err
}

func marchPeriod(status Status) Period {
	return Period{
		ID:               uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"),
		AdministrationID: uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001"),
		Year:             2025,
		Month:            3,
		StartDate:        time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:          time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:           status,
	}
}

func redIssue() validation.Issue {
	return validation.Issue{
		ID:       uuid.MustParse("cccccccc-0000-0000-0000-000000000001"),
		Code:     validation.CodeJournalImbalance,
		Severity: validation.SeverityRed,
	}
}

func yellowIssue(n byte) validation.Issue {
	id := uuid.MustParse("dddddddd-0000-0000-0000-000000000000")
	id[15] = n
	return validation.Issue{
		ID:       id,
		Code:     validation.CodeOverdueReceivable,
		Severity: validation.SeverityYellow,
	}
}

func newTestService(repo *memoryRepo, validator *fakeValidator, builder *fakeBuilder) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, validator, builder, logger)
}

func TestStartReviewTransitionsAndRecordsAudit(t *testing.T) {
	p := marchPeriod(StatusOpen)
	repo := newMemoryRepo(p)
	validator := &fakeValidator{result: validation.Result{
		RedIssues:   []validation.Issue{redIssue()},
		IssuesFound: 1,
	}}
	svc := newTestService(repo, validator, &fakeBuilder{})

	result, err := svc.StartReview(context.Background(), p.ID, "ria")
	require.NoError(t, err)
	require.Equal(t, StatusReview, result.Period.Status)
	require.NotNil(t, result.Period.ReviewStartedAt)
	require.Equal(t, 1, result.IssuesFound)

	require.Len(t, repo.auditLog, 1)
	require.Equal(t, audit.ActionReviewStart, repo.auditLog[0].Action)
	require.Equal(t, "OPEN", repo.auditLog[0].FromStatus)
	require.Equal(t, 1, repo.auditLog[0].Meta["issues_found"])
}

func TestStartReviewRevalidatesInPlace(t *testing.T) {
	p := marchPeriod(StatusReview)
	repo := newMemoryRepo(p)
	validator := &fakeValidator{}
	svc := newTestService(repo, validator, &fakeBuilder{})

	result, err := svc.StartReview(context.Background(), p.ID, "ria")
	require.NoError(t, err)
	require.Equal(t, StatusReview, result.Period.Status)
	require.Equal(t, 1, validator.runs)
	require.Equal(t, "REVIEW", repo.auditLog[0].FromStatus)
}

func TestStartReviewRejectsFinalizedPeriod(t *testing.T) {
	p := marchPeriod(StatusFinalized)
	repo := newMemoryRepo(p)
	validator := &fakeValidator{}
	svc := newTestService(repo, validator, &fakeBuilder{})

	_, err := svc.StartReview(context.Background(), p.ID, "ria")
	require.ErrorIs(t, err, shared.ErrStateConflict)
	require.Zero(t, validator.runs)
}

func TestStartReviewLedgerFailureKeepsStatus(t *testing.T) {
	p := marchPeriod(StatusOpen)
	repo := newMemoryRepo(p)
	validator := &fakeValidator{err: shared.ErrLedgerUnavailable}
	svc := newTestService(repo, validator, &fakeBuilder{})

	_, err := svc.StartReview(context.Background(), p.ID, "ria")
	require.ErrorIs(t, err, shared.ErrLedgerUnavailable)

	current, err := repo.GetPeriod(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, current.Status)
	require.Empty(t, repo.auditLog)
}

func TestStartReviewLosingRaceKeepsIssueSet(t *testing.T) {
	p := marchPeriod(StatusOpen)
	repo := &contendedRepo{memoryRepo: newMemoryRepo(p), flipTo: StatusFinalized}
	validator := &fakeValidator{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, validator, &fakeBuilder{}, logger)

	_, err := svc.StartReview(context.Background(), p.ID, "ria")
	require.ErrorIs(t, err, shared.ErrStateConflict)
	require.Zero(t, validator.runs, "validation must not replace the issue set after losing the race")
	require.Empty(t, repo.auditLog)
}

func TestFinalizeBlockedByRedIssues(t *testing.T) {
	p := marchPeriod(StatusReview)
	repo := newMemoryRepo(p)
	validator := &fakeValidator{result: validation.Result{
		RedIssues:   []validation.Issue{redIssue()},
		IssuesFound: 1,
	}}
	svc := newTestService(repo, validator, &fakeBuilder{})

	_, err := svc.Finalize(context.Background(), p.ID, FinalizeInput{Actor: "ria"})
	var blocked *shared.ValidationBlockedError
	require.ErrorAs(t, err, &blocked)
	require.Equal(t, []uuid.UUID{redIssue().ID}, blocked.RedIssueIDs)

	current, _ := repo.GetPeriod(context.Background(), p.ID)
	require.Equal(t, StatusReview, current.Status)
}

func TestFinalizeRequiresExactYellowAcknowledgement(t *testing.T) {
	p := marchPeriod(StatusReview)
	first, second := yellowIssue(1), yellowIssue(2)
	repo := newMemoryRepo(p)
	validator := &fakeValidator{result: validation.Result{
		YellowIssues: []validation.Issue{first, second},
		IssuesFound:  2,
	}}
	svc := newTestService(repo, validator, &fakeBuilder{})

	_, err := svc.Finalize(context.Background(), p.ID, FinalizeInput{
		AcknowledgedYellowIssueIDs: []uuid.UUID{first.ID},
		Actor:                      "ria",
	})
	var mismatch *shared.AcknowledgementMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, []uuid.UUID{second.ID}, mismatch.Missing)
	require.Empty(t, mismatch.Extra)

	stranger := uuid.New()
	_, err = svc.Finalize(context.Background(), p.ID, FinalizeInput{
		AcknowledgedYellowIssueIDs: []uuid.UUID{first.ID, second.ID, stranger},
		Actor:                      "ria",
	})
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, []uuid.UUID{stranger}, mismatch.Extra)
}

func TestFinalizeFreezesSnapshotWithTransition(t *testing.T) {
	p := marchPeriod(StatusReview)
	yellow := yellowIssue(1)
	repo := newMemoryRepo(p)
	validator := &fakeValidator{result: validation.Result{
		YellowIssues: []validation.Issue{yellow},
		IssuesFound:  1,
	}}
	builder := &fakeBuilder{totals: snapshot.Totals{Assets: decimal.NewFromInt(1500)}}
	svc := newTestService(repo, validator, builder)

	finalized, err := svc.Finalize(context.Background(), p.ID, FinalizeInput{
		AcknowledgedYellowIssueIDs: []uuid.UUID{yellow.ID},
		Notes:                      "reviewed with client",
		Actor:                      "ria",
	})
	require.NoError(t, err)
	require.Equal(t, StatusFinalized, finalized.Status)
	require.NotNil(t, finalized.FinalizedAt)

	snap, ok := repo.snapshots[p.ID]
	require.True(t, ok)
	require.True(t, snap.Totals.Assets.Equal(decimal.NewFromInt(1500)))

	require.Len(t, repo.auditLog, 1)
	entry := repo.auditLog[0]
	require.Equal(t, audit.ActionFinalize, entry.Action)
	require.Equal(t, "reviewed with client", entry.Meta["notes"])
	require.Equal(t, []string{yellow.ID.String()}, entry.Meta["acknowledged_yellow_issue_ids"])
}

func TestFinalizeRechecksGatesUnderRowLock(t *testing.T) {
	p := marchPeriod(StatusReview)
	repo := newMemoryRepo(p)
	reads := 0
	validator := &fakeValidator{openIssuesFn: func() []validation.Issue {
		// The first read, before the transaction, sees a clean period. A
		// sweep lands a red issue before the second read under the lock.
		reads++
		if reads == 1 {
			return nil
		}
		return []validation.Issue{redIssue()}
	}}
	builder := &fakeBuilder{totals: snapshot.Totals{Assets: decimal.NewFromInt(100)}}
	svc := newTestService(repo, validator, builder)

	_, err := svc.Finalize(context.Background(), p.ID, FinalizeInput{Actor: "ria"})
	var blocked *shared.ValidationBlockedError
	require.ErrorAs(t, err, &blocked)
	require.Equal(t, 2, reads)

	current, _ := repo.GetPeriod(context.Background(), p.ID)
	require.Equal(t, StatusReview, current.Status)
	require.Empty(t, repo.snapshots)
	require.Empty(t, repo.auditLog)
}

func TestFinalizeSnapshotFailureKeepsReview(t *testing.T) {
	p := marchPeriod(StatusReview)
	repo := newMemoryRepo(p)
	validator := &fakeValidator{}
	builder := &fakeBuilder{err: shared.ErrLedgerUnavailable}
	svc := newTestService(repo, validator, builder)

	_, err := svc.Finalize(context.Background(), p.ID, FinalizeInput{Actor: "ria"})
	require.ErrorIs(t, err, shared.ErrLedgerUnavailable)

	current, _ := repo.GetPeriod(context.Background(), p.ID)
	require.Equal(t, StatusReview, current.Status)
	require.Empty(t, repo.snapshots)
}

func TestLockRequiresConfirmation(t *testing.T) {
	p := marchPeriod(StatusFinalized)
	repo := newMemoryRepo(p)
	svc := newTestService(repo, &fakeValidator{}, &fakeBuilder{})

	_, err := svc.Lock(context.Background(), p.ID, LockInput{Actor: "ria"})
	require.ErrorIs(t, err, shared.ErrConfirmationRequired)

	current, _ := repo.GetPeriod(context.Background(), p.ID)
	require.Equal(t, StatusFinalized, current.Status)
}

func TestLockOnlyFromFinalized(t *testing.T) {
	p := marchPeriod(StatusReview)
	repo := newMemoryRepo(p)
	svc := newTestService(repo, &fakeValidator{}, &fakeBuilder{})

	_, err := svc.Lock(context.Background(), p.ID, LockInput{ConfirmIrreversible: true, Actor: "ria"})
	require.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestLockIsTerminal(t *testing.T) {
	p := marchPeriod(StatusFinalized)
	repo := newMemoryRepo(p)
	svc := newTestService(repo, &fakeValidator{}, &fakeBuilder{})

	locked, err := svc.Lock(context.Background(), p.ID, LockInput{ConfirmIrreversible: true, Actor: "ria"})
	require.NoError(t, err)
	require.Equal(t, StatusLocked, locked.Status)
	require.NotNil(t, locked.LockedAt)
	require.Equal(t, audit.ActionLock, repo.auditLog[0].Action)
	require.Equal(t, true, repo.auditLog[0].Meta["confirm_irreversible"])

	_, err = svc.Lock(context.Background(), p.ID, LockInput{ConfirmIrreversible: true, Actor: "ria"})
	require.ErrorIs(t, err, shared.ErrStateConflict)

	isLocked, err := svc.IsLocked(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, isLocked)
}

func TestFullCloseLifecycle(t *testing.T) {
	p := marchPeriod(StatusOpen)
	repo := newMemoryRepo(p)
	red := redIssue()
	yellow := yellowIssue(1)
	validator := &fakeValidator{result: validation.Result{
		RedIssues:    []validation.Issue{red},
		YellowIssues: []validation.Issue{yellow},
		IssuesFound:  2,
	}}
	builder := &fakeBuilder{totals: snapshot.Totals{NetIncome: decimal.NewFromInt(500)}}
	svc := newTestService(repo, validator, builder)
	ctx := context.Background()

	review, err := svc.StartReview(ctx, p.ID, "ria")
	require.NoError(t, err)
	require.Equal(t, StatusReview, review.Period.Status)
	require.Len(t, review.RedIssues, 1)

	// Finalize is blocked while the red issue is open.
	_, err = svc.Finalize(ctx, p.ID, FinalizeInput{
		AcknowledgedYellowIssueIDs: []uuid.UUID{yellow.ID},
		Actor:                      "ria",
	})
	var blocked *shared.ValidationBlockedError
	require.ErrorAs(t, err, &blocked)

	// The red issue gets resolved, a re-run only leaves the yellow one.
	validator.result = validation.Result{
		YellowIssues: []validation.Issue{yellow},
		IssuesFound:  1,
	}
	review, err = svc.StartReview(ctx, p.ID, "ria")
	require.NoError(t, err)
	require.Empty(t, review.RedIssues)

	finalized, err := svc.Finalize(ctx, p.ID, FinalizeInput{
		AcknowledgedYellowIssueIDs: []uuid.UUID{yellow.ID},
		Actor:                      "ria",
	})
	require.NoError(t, err)
	require.Equal(t, StatusFinalized, finalized.Status)

	locked, err := svc.Lock(ctx, p.ID, LockInput{ConfirmIrreversible: true, Actor: "ria"})
	require.NoError(t, err)
	require.Equal(t, StatusLocked, locked.Status)

	// The trail tells the whole story in order.
	actions := make([]audit.Action, 0, len(repo.auditLog))
	for _, entry := range repo.auditLog {
		actions = append(actions, entry.Action)
	}
	require.Equal(t, []audit.Action{
		audit.ActionReviewStart,
		audit.ActionReviewStart,
		audit.ActionFinalize,
		audit.ActionLock,
	}, actions)
}

func TestResweepReviewPeriodsRunsValidation(t *testing.T) {
	inReview := marchPeriod(StatusReview)
	open := marchPeriod(StatusOpen)
	open.ID = uuid.New()
	repo := newMemoryRepo(inReview, open)
	validator := &fakeValidator{}
	svc := newTestService(repo, validator, &fakeBuilder{})

	require.NoError(t, svc.ResweepReviewPeriods(context.Background()))
	require.Equal(t, 1, validator.runs)
}
