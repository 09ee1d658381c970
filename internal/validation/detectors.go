package validation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/periodic-erp/periodic/internal/ledger"
)

// Scope bounds a validation run to one administration period.
type Scope struct {
	AdministrationID uuid.UUID
	PeriodID         uuid.UUID
	From             time.Time
	To               time.Time
}

// Detector inspects ledger facts and returns zero or more issues. Detectors
// are pure: no I/O, same facts in, same issues out.
type Detector func(scope Scope, facts ledger.Facts) []Issue

func defaultDetectors() []Detector {
	return []Detector{
		detectJournalImbalance,
		detectOpenItemMismatch,
		detectOverdueItems,
		detectDepreciation,
		detectVAT,
	}
}

func newIssue(scope Scope, code IssueCode, severity Severity, entityID uuid.UUID, title, description, explanation string) Issue {
	return Issue{
		ID:               StableID(scope.AdministrationID, scope.PeriodID, code, entityID.String()),
		AdministrationID: scope.AdministrationID,
		PeriodID:         scope.PeriodID,
		Code:             code,
		Severity:         severity,
		Title:            title,
		Description:      description,
		Explanation:      explanation,
		EntityID:         entityID,
	}
}

// detectJournalImbalance flags entries whose debits and credits do not net
// to zero.
func detectJournalImbalance(scope Scope, facts ledger.Facts) []Issue {
	var issues []Issue
	for _, entry := range facts.Journals {
		diff := entry.Imbalance()
		if diff.IsZero() {
			continue
		}
		entry := entry
		amount := diff.Abs()
		issue := newIssue(scope, CodeJournalImbalance, SeverityRed, entry.ID,
			fmt.Sprintf("Journal entry %d is out of balance", entry.Number),
			fmt.Sprintf("Debits and credits differ by %s.", amount.StringFixed(2)),
			"Every journal entry must balance. An imbalanced entry corrupts the trial balance and makes the period totals meaningless.")
		issue.JournalEntryID = &entry.ID
		issue.DocumentID = entry.DocumentID
		issue.Amount = &amount
		issues = append(issues, issue)
	}
	return issues
}

// detectOpenItemMismatch flags items allocated beyond their face amount.
func detectOpenItemMismatch(scope Scope, facts ledger.Facts) []Issue {
	var issues []Issue
	for _, item := range facts.OpenItems {
		outstanding := item.Outstanding()
		if !outstanding.IsNegative() {
			continue
		}
		item := item
		code := CodeAROpenItemMismatch
		side := "receivable"
		if item.Kind == ledger.OpenItemPayable {
			code = CodeAPOpenItemMismatch
			side = "payable"
		}
		amount := outstanding.Abs()
		issue := newIssue(scope, code, SeverityRed, item.ID,
			fmt.Sprintf("Open %s over-allocated", side),
			fmt.Sprintf("%s: allocated %s exceeds amount %s.", item.Description, item.Allocated.StringFixed(2), item.Amount.StringFixed(2)),
			"The subledger no longer reconciles with the general ledger for this item. The allocation must be corrected before the period can close.")
		issue.DocumentID = item.DocumentID
		issue.CounterpartyID = &item.CounterpartyID
		issue.Amount = &amount
		issues = append(issues, issue)
	}
	return issues
}

// detectOverdueItems flags items still outstanding past their due date at
// period end.
func detectOverdueItems(scope Scope, facts ledger.Facts) []Issue {
	var issues []Issue
	for _, item := range facts.OpenItems {
		outstanding := item.Outstanding()
		if !outstanding.IsPositive() || !item.DueDate.Before(scope.To) {
			continue
		}
		item := item
		code := CodeOverdueReceivable
		side := "receivable"
		if item.Kind == ledger.OpenItemPayable {
			code = CodeOverduePayable
			side = "payable"
		}
		issue := newIssue(scope, code, SeverityYellow, item.ID,
			fmt.Sprintf("Overdue %s", side),
			fmt.Sprintf("%s: %s outstanding, due %s.", item.Description, outstanding.StringFixed(2), item.DueDate.Format("2006-01-02")),
			"An overdue item at period end may need a write-down, a payment reminder or an allocation against a received payment.")
		issue.DocumentID = item.DocumentID
		issue.CounterpartyID = &item.CounterpartyID
		issue.Amount = &outstanding
		issues = append(issues, issue)
	}
	return issues
}

// detectDepreciation flags active schedules with no posting in the period
// and postings that drift from the scheduled monthly amount.
func detectDepreciation(scope Scope, facts ledger.Facts) []Issue {
	var issues []Issue
	for _, schedule := range facts.Depreciations {
		if !schedule.Active || schedule.StartDate.After(scope.To) {
			continue
		}
		if len(schedule.Entries) == 0 {
			expected := schedule.MonthlyAmount
			issue := newIssue(scope, CodeDepreciationMissing, SeverityRed, schedule.ID,
				fmt.Sprintf("Depreciation not posted for %s", schedule.AssetName),
				fmt.Sprintf("Schedule expects %s per month but nothing was posted this period.", expected.StringFixed(2)),
				"An active asset schedule must depreciate every period. Missing depreciation understates costs and overstates the asset value.")
			issue.Amount = &expected
			issues = append(issues, issue)
			continue
		}
		posted := decimal.Zero
		for _, entry := range schedule.Entries {
			posted = posted.Add(entry.Amount)
		}
		diff := posted.Sub(schedule.MonthlyAmount)
		if diff.IsZero() {
			continue
		}
		amount := diff.Abs()
		issue := newIssue(scope, CodeDepreciationMismatch, SeverityYellow, schedule.ID,
			fmt.Sprintf("Depreciation amount differs for %s", schedule.AssetName),
			fmt.Sprintf("Posted %s, schedule expects %s.", posted.StringFixed(2), schedule.MonthlyAmount.StringFixed(2)),
			"The posted depreciation does not match the schedule. Check whether the schedule changed mid-period or the posting is wrong.")
		issue.Amount = &amount
		issues = append(issues, issue)
	}
	return issues
}

// detectVAT flags lines where the applied rate differs from the code's
// declared rate, and negative VAT or base amounts.
func detectVAT(scope Scope, facts ledger.Facts) []Issue {
	var issues []Issue
	for _, line := range facts.VATLines {
		line := line
		if line.VATAmount.IsNegative() || line.BaseAmount.IsNegative() {
			amount := line.VATAmount
			issue := newIssue(scope, CodeVATNegative, SeverityRed, line.LineID,
				"Negative VAT amount",
				fmt.Sprintf("Line under code %s carries VAT %s on base %s.", line.VATCode, line.VATAmount.StringFixed(2), line.BaseAmount.StringFixed(2)),
				"Negative VAT on a regular line usually means a credit was booked as an invoice or the sign was flipped on entry. The VAT return would be wrong.")
			issue.JournalEntryID = &line.JournalEntryID
			issue.DocumentID = line.DocumentID
			issue.Amount = &amount
			issues = append(issues, issue)
			continue
		}
		if !line.AppliedRate.Equal(line.DeclaredRate) {
			amount := line.VATAmount
			issue := newIssue(scope, CodeVATRateMismatch, SeverityYellow, line.LineID,
				fmt.Sprintf("VAT rate differs from code %s", line.VATCode),
				fmt.Sprintf("Applied %s%%, code declares %s%%.", line.AppliedRate.StringFixed(1), line.DeclaredRate.StringFixed(1)),
				"The applied rate does not match the declared rate of the VAT code. Either the code or the rate on the line is wrong.")
			issue.JournalEntryID = &line.JournalEntryID
			issue.DocumentID = line.DocumentID
			issue.Amount = &amount
			issues = append(issues, issue)
		}
	}
	return issues
}
