package validation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/periodic-erp/periodic/internal/ledger"
	"github.com/periodic-erp/periodic/internal/shared"
)

type fakeReader struct {
	facts ledger.Facts
	err   error
}

func (f *fakeReader) JournalEntries(ctx context.Context, administrationID uuid.UUID, from, to time.Time) ([]ledger.JournalEntry, error) {
	return f.facts.Journals, f.err
}

func (f *fakeReader) OpenItems(ctx context.Context, administrationID uuid.UUID, asOf time.Time) ([]ledger.OpenItem, error) {
	return f.facts.OpenItems, f.err
}

func (f *fakeReader) DepreciationSchedules(ctx context.Context, administrationID uuid.UUID, from, to time.Time) ([]ledger.DepreciationSchedule, error) {
	return f.facts.Depreciations, f.err
}

func (f *fakeReader) VATLines(ctx context.Context, administrationID uuid.UUID, from, to time.Time) ([]ledger.VATLine, error) {
	return f.facts.VATLines, f.err
}

func (f *fakeReader) TrialBalance(ctx context.Context, administrationID uuid.UUID, from, to time.Time) ([]ledger.AccountBalance, error) {
	return nil, f.err
}

type memStore struct {
	replaced map[uuid.UUID][]Issue
}

func newMemStore() *memStore {
	return &memStore{replaced: make(map[uuid.UUID][]Issue)}
}

func (m *memStore) Replace(ctx context.Context, periodID uuid.UUID, issues []Issue) error {
	m.replaced[periodID] = issues
	return nil
}

func (m *memStore) OpenIssues(ctx context.Context, periodID uuid.UUID) ([]Issue, error) {
	return m.replaced[periodID], nil
}

func (m *memStore) GetIssue(ctx context.Context, issueID uuid.UUID) (Issue, error) {
	for _, issues := range m.replaced {
		for _, issue := range issues {
			if issue.ID == issueID {
				return issue, nil
			}
		}
	}
	return Issue{}, shared.ErrNotFound
}

func testScope() Scope {
	return Scope{
		AdministrationID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		PeriodID:         uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		From:             time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		To:               time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngineRunClassifiesAndOrders(t *testing.T) {
	scope := testScope()
	entryID := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	itemID := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	counterparty := uuid.MustParse("55555555-5555-5555-5555-555555555555")

	reader := &fakeReader{facts: ledger.Facts{
		Journals: []ledger.JournalEntry{{
			ID: entryID, AdministrationID: scope.AdministrationID, Number: 7,
			Date: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			Lines: []ledger.JournalLine{
				{AccountCode: "4000", Debit: dec("100.00")},
				{AccountCode: "1600", Credit: dec("90.00")},
			},
		}},
		OpenItems: []ledger.OpenItem{{
			ID: itemID, AdministrationID: scope.AdministrationID,
			Kind: ledger.OpenItemReceivable, CounterpartyID: counterparty,
			Description: "Invoice 2025-018",
			Amount:      dec("250.00"), Allocated: dec("0.00"),
			DueDate: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		}},
	}}

	engine := NewEngine(reader, testLogger())
	result, err := engine.Run(context.Background(), scope)
	require.NoError(t, err)

	require.Len(t, result.RedIssues, 1)
	require.Len(t, result.YellowIssues, 1)
	require.Equal(t, 2, result.IssuesFound)

	red := result.RedIssues[0]
	require.Equal(t, CodeJournalImbalance, red.Code)
	require.Equal(t, 0, red.Position)
	require.NotNil(t, red.Amount)
	require.True(t, red.Amount.Equal(dec("10.00")))
	require.Equal(t, &entryID, red.JournalEntryID)

	yellow := result.YellowIssues[0]
	require.Equal(t, CodeOverdueReceivable, yellow.Code)
	require.Equal(t, 1, yellow.Position)
	require.True(t, yellow.Amount.Equal(dec("250.00")))
}

func TestEngineRunDeterministicIssueIDs(t *testing.T) {
	scope := testScope()
	reader := &fakeReader{facts: ledger.Facts{
		Journals: []ledger.JournalEntry{{
			ID: uuid.MustParse("33333333-3333-3333-3333-333333333333"), Number: 1,
			Lines: []ledger.JournalLine{{AccountCode: "4000", Debit: dec("1.00")}},
		}},
	}}
	engine := NewEngine(reader, testLogger())

	first, err := engine.Run(context.Background(), scope)
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), scope)
	require.NoError(t, err)
	require.Equal(t, first.RedIssues[0].ID, second.RedIssues[0].ID)
}

func TestEngineRunDepreciationAndVAT(t *testing.T) {
	scope := testScope()
	scheduleID := uuid.MustParse("66666666-6666-6666-6666-666666666666")
	mismatchID := uuid.MustParse("77777777-7777-7777-7777-777777777777")
	entryID := uuid.MustParse("88888888-8888-8888-8888-888888888888")
	lineID := uuid.MustParse("99999999-9999-9999-9999-999999999999")

	reader := &fakeReader{facts: ledger.Facts{
		Depreciations: []ledger.DepreciationSchedule{
			{
				ID: scheduleID, Active: true, AssetName: "Delivery van",
				StartDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				MonthlyAmount: dec("300.00"),
			},
			{
				ID: mismatchID, Active: true, AssetName: "Laser cutter",
				StartDate:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
				MonthlyAmount: dec("500.00"),
				Entries: []ledger.DepreciationEntry{{
					ID:       uuid.New(),
					PostedOn: time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
					Amount:   dec("450.00"),
				}},
			},
		},
		VATLines: []ledger.VATLine{{
			JournalEntryID: entryID, LineID: lineID, VATCode: "HIGH",
			DeclaredRate: dec("21.0"), AppliedRate: dec("9.0"),
			BaseAmount: dec("100.00"), VATAmount: dec("9.00"),
		}},
	}}

	engine := NewEngine(reader, testLogger())
	result, err := engine.Run(context.Background(), scope)
	require.NoError(t, err)

	require.Len(t, result.RedIssues, 1)
	require.Equal(t, CodeDepreciationMissing, result.RedIssues[0].Code)

	codes := make([]IssueCode, 0, len(result.YellowIssues))
	for _, issue := range result.YellowIssues {
		codes = append(codes, issue.Code)
	}
	require.Equal(t, []IssueCode{CodeDepreciationMismatch, CodeVATRateMismatch}, codes)
}

func TestServiceRunLedgerErrorLeavesStoreUntouched(t *testing.T) {
	scope := testScope()
	store := newMemStore()
	stale := Issue{ID: uuid.New(), PeriodID: scope.PeriodID, Code: CodeJournalImbalance, Severity: SeverityRed}
	store.replaced[scope.PeriodID] = []Issue{stale}

	reader := &fakeReader{err: errors.New("connection refused")}
	svc := NewService(NewEngine(reader, testLogger()), store)

	_, err := svc.Run(context.Background(), scope)
	require.ErrorIs(t, err, shared.ErrLedgerUnavailable)

	kept, err := store.OpenIssues(context.Background(), scope.PeriodID)
	require.NoError(t, err)
	require.Equal(t, []Issue{stale}, kept)
}

func TestServiceRunReplacesIssueSet(t *testing.T) {
	scope := testScope()
	store := newMemStore()
	store.replaced[scope.PeriodID] = []Issue{{ID: uuid.New(), Code: CodeVATNegative}}

	reader := &fakeReader{facts: ledger.Facts{}}
	svc := NewService(NewEngine(reader, testLogger()), store)

	result, err := svc.Run(context.Background(), scope)
	require.NoError(t, err)
	require.Zero(t, result.IssuesFound)

	kept, err := store.OpenIssues(context.Background(), scope.PeriodID)
	require.NoError(t, err)
	require.Empty(t, kept)
}
