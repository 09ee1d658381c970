package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates an unknown period, issue, or suggested action.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied indicates the capability check failed.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrStateConflict indicates a concurrent transition raced ahead.
	ErrStateConflict = errors.New("period state conflict")
	// ErrUnsupportedAction indicates no executor is registered for the action type.
	ErrUnsupportedAction = errors.New("unsupported action type")
	// ErrConfirmationRequired indicates the irreversible-lock flag was missing or false.
	ErrConfirmationRequired = errors.New("irreversible confirmation required")
	// ErrPeriodLocked indicates a write against a locked period's ledger facts.
	ErrPeriodLocked = errors.New("period is locked")
	// ErrLedgerUnavailable marks a retryable failure reading ledger facts.
	ErrLedgerUnavailable = errors.New("ledger facts unavailable")
)

// ValidationBlockedError is returned when open RED issues prevent finalize.
type ValidationBlockedError struct {
	RedIssueIDs []uuid.UUID
	Codes       []string
}

func (e *ValidationBlockedError) Error() string {
	return fmt.Sprintf("finalize blocked by %d open red issue(s): %s", len(e.RedIssueIDs), strings.Join(e.Codes, ", "))
}

// AcknowledgementMismatchError is returned when the acknowledged yellow set
// is not exactly the open yellow set.
type AcknowledgementMismatchError struct {
	Missing []uuid.UUID
	Extra   []uuid.UUID
}

func (e *AcknowledgementMismatchError) Error() string {
	return fmt.Sprintf("yellow acknowledgement mismatch: %d missing, %d unknown", len(e.Missing), len(e.Extra))
}
