package httpx

import (
	"errors"
	"net/http"

	"github.com/periodic-erp/periodic/internal/shared"
)

// ErrValidation marks malformed request input.
var ErrValidation = errors.New("validation failed")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var blocked *shared.ValidationBlockedError
	var ackMismatch *shared.AcknowledgementMismatchError
	switch {
	case errors.As(err, &blocked):
		ProblemWithMeta(w, http.StatusConflict, "Validation Blocked", err.Error(), map[string]any{
			"red_issue_ids": blocked.RedIssueIDs,
			"issue_codes":   blocked.Codes,
		})
	case errors.As(err, &ackMismatch):
		ProblemWithMeta(w, http.StatusConflict, "Acknowledgement Mismatch", err.Error(), map[string]any{
			"missing": ackMismatch.Missing,
			"extra":   ackMismatch.Extra,
		})
	case errors.Is(err, shared.ErrStateConflict):
		Problem(w, http.StatusConflict, "State Conflict", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrPermissionDenied):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrUnsupportedAction):
		Problem(w, http.StatusUnprocessableEntity, "Unsupported Action", err.Error())
	case errors.Is(err, shared.ErrConfirmationRequired):
		Problem(w, http.StatusBadRequest, "Confirmation Required", err.Error())
	case errors.Is(err, shared.ErrPeriodLocked):
		Problem(w, http.StatusConflict, "Period Locked", err.Error())
	case errors.Is(err, shared.ErrLedgerUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Ledger Unavailable", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
