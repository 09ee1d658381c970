// Package ledger exposes read access to bookkeeping facts for an
// administration and date range, plus the write capability limited to
// applying registered corrective actions.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JournalLine is a single debit/credit posting within an entry.
type JournalLine struct {
	ID          uuid.UUID
	AccountCode string
	Description string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	VATCode     string
}

// JournalEntry groups balanced lines posted on a date.
type JournalEntry struct {
	ID               uuid.UUID
	AdministrationID uuid.UUID
	Number           int64
	Date             time.Time
	Memo             string
	DocumentID       *uuid.UUID
	Lines            []JournalLine
}

// Imbalance returns debit minus credit across all lines.
func (e JournalEntry) Imbalance() decimal.Decimal {
	total := decimal.Zero
	for _, line := range e.Lines {
		total = total.Add(line.Debit).Sub(line.Credit)
	}
	return total
}

// OpenItemKind distinguishes receivables from payables.
type OpenItemKind string

const (
	OpenItemReceivable OpenItemKind = "RECEIVABLE"
	OpenItemPayable    OpenItemKind = "PAYABLE"
)

// OpenItem is an unsettled receivable or payable tied to a source document.
type OpenItem struct {
	ID               uuid.UUID
	AdministrationID uuid.UUID
	Kind             OpenItemKind
	CounterpartyID   uuid.UUID
	DocumentID       *uuid.UUID
	Description      string
	Amount           decimal.Decimal
	Allocated        decimal.Decimal
	DueDate          time.Time
}

// Outstanding returns the unallocated remainder.
func (i OpenItem) Outstanding() decimal.Decimal {
	return i.Amount.Sub(i.Allocated)
}

// DepreciationEntry records one posted depreciation amount.
type DepreciationEntry struct {
	ID             uuid.UUID
	JournalEntryID uuid.UUID
	PostedOn       time.Time
	Amount         decimal.Decimal
}

// DepreciationSchedule describes a fixed asset's expected monthly posting.
type DepreciationSchedule struct {
	ID               uuid.UUID
	AdministrationID uuid.UUID
	AssetName        string
	Active           bool
	StartDate        time.Time
	MonthlyAmount    decimal.Decimal
	Entries          []DepreciationEntry
}

// VATLine is a VAT-coded journal line with its declared and applied rates.
type VATLine struct {
	JournalEntryID uuid.UUID
	LineID         uuid.UUID
	DocumentID     *uuid.UUID
	VATCode        string
	DeclaredRate   decimal.Decimal
	AppliedRate    decimal.Decimal
	BaseAmount     decimal.Decimal
	VATAmount      decimal.Decimal
}

// AccountType classifies trial balance rows.
type AccountType string

const (
	AccountAsset     AccountType = "ASSET"
	AccountLiability AccountType = "LIABILITY"
	AccountEquity    AccountType = "EQUITY"
	AccountRevenue   AccountType = "REVENUE"
	AccountExpense   AccountType = "EXPENSE"
)

// AccountBalance is an aggregated trial balance row.
type AccountBalance struct {
	Code    string
	Name    string
	Type    AccountType
	Balance decimal.Decimal
}

// Facts bundles everything a validation run reads.
type Facts struct {
	Journals      []JournalEntry
	OpenItems     []OpenItem
	Depreciations []DepreciationSchedule
	VATLines      []VATLine
}

// Reader provides read access to ledger facts for an administration and range.
type Reader interface {
	JournalEntries(ctx context.Context, administrationID uuid.UUID, from, to time.Time) ([]JournalEntry, error)
	OpenItems(ctx context.Context, administrationID uuid.UUID, asOf time.Time) ([]OpenItem, error)
	DepreciationSchedules(ctx context.Context, administrationID uuid.UUID, from, to time.Time) ([]DepreciationSchedule, error)
	VATLines(ctx context.Context, administrationID uuid.UUID, from, to time.Time) ([]VATLine, error)
	TrialBalance(ctx context.Context, administrationID uuid.UUID, from, to time.Time) ([]AccountBalance, error)
}

// AdjustmentInput creates a balanced two-line correction entry.
type AdjustmentInput struct {
	AdministrationID uuid.UUID
	Date             time.Time
	Memo             string
	DebitAccount     string
	CreditAccount    string
	Amount           decimal.Decimal
}

// VATCorrectionInput reapplies the declared rate of the line's VAT code.
type VATCorrectionInput struct {
	AdministrationID uuid.UUID
	JournalEntryID   uuid.UUID
	LineID           uuid.UUID
}

// AllocationInput settles an open item against the provided amount.
type AllocationInput struct {
	AdministrationID uuid.UUID
	OpenItemID       uuid.UUID
	Amount           decimal.Decimal
}

// Writer applies registered corrective actions. Implementations must refuse
// writes that fall inside a locked period.
type Writer interface {
	CreateAdjustmentEntry(ctx context.Context, in AdjustmentInput) (uuid.UUID, error)
	CreateDepreciationEntry(ctx context.Context, scheduleID uuid.UUID, postedOn time.Time, amount decimal.Decimal) (uuid.UUID, error)
	ReclassifyToAsset(ctx context.Context, in AdjustmentInput) (uuid.UUID, error)
	ReverseJournalEntry(ctx context.Context, administrationID, journalEntryID uuid.UUID) (uuid.UUID, error)
	CorrectVATRate(ctx context.Context, in VATCorrectionInput) error
	AllocateOpenItem(ctx context.Context, in AllocationInput) error
	FlagDocumentInvalid(ctx context.Context, administrationID, documentID uuid.UUID) error
}
