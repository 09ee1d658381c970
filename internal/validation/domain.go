// Package validation detects bookkeeping problems in a period and persists
// them as issues with a severity classification.
package validation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Severity classifies how an issue affects period close.
type Severity string

const (
	// SeverityRed blocks finalization until resolved.
	SeverityRed Severity = "RED"
	// SeverityYellow needs explicit acknowledgement at finalization.
	SeverityYellow Severity = "YELLOW"
)

// IssueCode identifies the detector rule that raised an issue.
type IssueCode string

const (
	CodeJournalImbalance     IssueCode = "journal-imbalance"
	CodeAROpenItemMismatch   IssueCode = "ar-open-item-mismatch"
	CodeAPOpenItemMismatch   IssueCode = "ap-open-item-mismatch"
	CodeOverdueReceivable    IssueCode = "overdue-receivable"
	CodeOverduePayable       IssueCode = "overdue-payable"
	CodeDepreciationMissing  IssueCode = "depreciation-not-posted"
	CodeDepreciationMismatch IssueCode = "depreciation-mismatch"
	CodeVATRateMismatch      IssueCode = "vat-rate-mismatch"
	CodeVATNegative          IssueCode = "vat-negative"
)

// Issue is a single detected problem in a period.
type Issue struct {
	ID               uuid.UUID        `json:"id"`
	AdministrationID uuid.UUID        `json:"administration_id"`
	PeriodID         uuid.UUID        `json:"period_id"`
	Code             IssueCode        `json:"code"`
	Severity         Severity         `json:"severity"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Explanation      string           `json:"explanation"`
	EntityID         uuid.UUID        `json:"entity_id"`
	DocumentID       *uuid.UUID       `json:"document_id,omitempty"`
	JournalEntryID   *uuid.UUID       `json:"journal_entry_id,omitempty"`
	CounterpartyID   *uuid.UUID       `json:"counterparty_id,omitempty"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Resolved         bool             `json:"resolved"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	DetectedAt       time.Time        `json:"detected_at"`
	Position         int              `json:"position"`
}

// issueNamespace seeds deterministic issue identity so re-running validation
// over unchanged facts yields the same IDs.
var issueNamespace = uuid.MustParse("6f1c2b9e-4d52-4e0a-9c31-8d5a1f7b2c90")

// StableID derives the issue identity from administration, period, code and
// the entity the issue points at.
func StableID(administrationID, periodID uuid.UUID, code IssueCode, entityRef string) uuid.UUID {
	name := administrationID.String() + "|" + periodID.String() + "|" + string(code) + "|" + entityRef
	return uuid.NewSHA1(issueNamespace, []byte(name))
}
