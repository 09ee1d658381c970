// Package decision suggests corrective actions for detected issues and
// records human approve/reject decisions, executing approved actions against
// the ledger.
package decision

import (
	"time"

	"github.com/google/uuid"
)

// ActionType identifies a registered corrective capability.
type ActionType string

const (
	ActionReclassifyToAsset     ActionType = "reclassify-to-asset"
	ActionCreateDepreciation    ActionType = "create-depreciation"
	ActionCorrectVATRate        ActionType = "correct-VAT-rate"
	ActionAllocateOpenItem      ActionType = "allocate-open-item"
	ActionFlagDocumentInvalid   ActionType = "flag-document-invalid"
	ActionLockPeriod            ActionType = "lock-period"
	ActionReverseJournalEntry   ActionType = "reverse-journal-entry"
	ActionCreateAdjustmentEntry ActionType = "create-adjustment-entry"
)

// Verdict is the reviewer's call on a suggested action.
type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictRejected Verdict = "REJECTED"
)

// ExecutionStatus tracks what happened after an approval.
type ExecutionStatus string

const (
	// ExecutionNone marks rejections, which never execute.
	ExecutionNone     ExecutionStatus = "NONE"
	ExecutionPending  ExecutionStatus = "PENDING"
	ExecutionExecuted ExecutionStatus = "EXECUTED"
	ExecutionFailed   ExecutionStatus = "FAILED"
)

// SuggestedAction pairs an issue with a ranked corrective action.
type SuggestedAction struct {
	ID             uuid.UUID  `json:"id"`
	IssueID        uuid.UUID  `json:"issue_id"`
	ActionType     ActionType `json:"action_type"`
	Confidence     float64    `json:"confidence"`
	ConfidenceBand string     `json:"confidence_band"`
	Explanation    string     `json:"explanation"`
	AutoSuggested  bool       `json:"auto_suggested"`
}

// Decision is a recorded verdict on one suggested action.
type Decision struct {
	ID                uuid.UUID       `json:"id"`
	IssueID           uuid.UUID       `json:"issue_id"`
	SuggestedActionID uuid.UUID       `json:"suggested_action_id"`
	ActionType        ActionType      `json:"action_type"`
	Verdict           Verdict         `json:"verdict"`
	ExecutionStatus   ExecutionStatus `json:"execution_status"`
	ExecutionError    string          `json:"execution_error,omitempty"`
	DecidedBy         string          `json:"decided_by"`
	DecidedAt         time.Time       `json:"decided_at"`
	ExecutedAt        *time.Time      `json:"executed_at,omitempty"`
}

// actionNamespace seeds deterministic suggestion identity. The same issue and
// action type always map to the same suggested action id, which doubles as
// the idempotency key for decisions.
var actionNamespace = uuid.MustParse("a3d97b4e-2f61-4c8d-b05a-7e9c3f218d64")

// ActionID derives the suggestion identity from issue and action type.
func ActionID(issueID uuid.UUID, actionType ActionType) uuid.UUID {
	return uuid.NewSHA1(actionNamespace, []byte(issueID.String()+"|"+string(actionType)))
}

// ConfidenceBand maps a confidence score to a coarse label shown to the
// reviewer. The band is informational and gates nothing.
func ConfidenceBand(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "HIGH"
	case confidence >= 0.6:
		return "MEDIUM"
	case confidence >= 0.4:
		return "LOW"
	default:
		return "VERY_LOW"
	}
}
