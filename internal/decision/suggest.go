package decision

import (
	"sort"

	"github.com/periodic-erp/periodic/internal/validation"
)

type catalogEntry struct {
	actionType  ActionType
	confidence  float64
	explanation string
}

// catalog maps each issue code to its candidate corrective actions with a
// base confidence. Ranking is highest confidence first.
var catalog = map[validation.IssueCode][]catalogEntry{
	validation.CodeJournalImbalance: {
		{ActionCreateAdjustmentEntry, 0.85, "Post a balancing adjustment entry against the suspense account so the entry nets to zero."},
		{ActionReverseJournalEntry, 0.55, "Reverse the imbalanced entry entirely and re-enter it correctly."},
	},
	validation.CodeAROpenItemMismatch: {
		{ActionAllocateOpenItem, 0.75, "Correct the allocation so it no longer exceeds the receivable's face amount."},
		{ActionCreateAdjustmentEntry, 0.5, "Post an adjustment entry to realign the receivables subledger with the general ledger."},
	},
	validation.CodeAPOpenItemMismatch: {
		{ActionAllocateOpenItem, 0.75, "Correct the allocation so it no longer exceeds the payable's face amount."},
		{ActionCreateAdjustmentEntry, 0.5, "Post an adjustment entry to realign the payables subledger with the general ledger."},
	},
	validation.CodeOverdueReceivable: {
		{ActionAllocateOpenItem, 0.65, "Allocate a received payment against this overdue invoice if one exists."},
		{ActionFlagDocumentInvalid, 0.35, "Flag the source document as invalid if the invoice should never have been issued."},
	},
	validation.CodeOverduePayable: {
		{ActionAllocateOpenItem, 0.65, "Allocate an outgoing payment against this overdue bill if one exists."},
	},
	validation.CodeDepreciationMissing: {
		{ActionCreateDepreciation, 0.9, "Post the scheduled monthly depreciation amount for this asset."},
	},
	validation.CodeDepreciationMismatch: {
		{ActionCreateDepreciation, 0.7, "Post a corrective depreciation entry for the difference against the schedule."},
		{ActionCreateAdjustmentEntry, 0.45, "Post a manual adjustment if the schedule itself is the source of the difference."},
	},
	validation.CodeVATRateMismatch: {
		{ActionCorrectVATRate, 0.8, "Apply the declared rate of the VAT code to this line and recompute the VAT amount."},
		{ActionFlagDocumentInvalid, 0.3, "Flag the source document as invalid if the rate on the document is wrong."},
	},
	validation.CodeVATNegative: {
		{ActionCorrectVATRate, 0.6, "Recompute the VAT amount with the declared rate to remove the negative value."},
		{ActionReverseJournalEntry, 0.5, "Reverse the entry if a credit note was booked with the wrong sign."},
	},
}

// SuggestFor builds the ranked suggestion list for an issue. Action types the
// reviewer previously rejected for this issue lose the auto-suggested flag
// but stay available, so an earlier rejection never hides an option.
func SuggestFor(issue validation.Issue, rejectedTypes map[ActionType]bool) []SuggestedAction {
	entries := catalog[issue.Code]
	suggestions := make([]SuggestedAction, 0, len(entries))
	for _, entry := range entries {
		suggestions = append(suggestions, SuggestedAction{
			ID:             ActionID(issue.ID, entry.actionType),
			IssueID:        issue.ID,
			ActionType:     entry.actionType,
			Confidence:     entry.confidence,
			ConfidenceBand: ConfidenceBand(entry.confidence),
			Explanation:    entry.explanation,
			AutoSuggested:  !rejectedTypes[entry.actionType],
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].ActionType < suggestions[j].ActionType
	})
	return suggestions
}

// Supports reports whether an action type is a valid candidate for the issue.
func Supports(code validation.IssueCode, actionType ActionType) bool {
	for _, entry := range catalog[code] {
		if entry.actionType == actionType {
			return true
		}
	}
	return false
}
