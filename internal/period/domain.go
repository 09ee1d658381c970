// Package period owns the close lifecycle of a bookkeeping period: the
// OPEN, REVIEW, FINALIZED, LOCKED state machine and everything that guards
// its transitions.
package period

import (
	"time"

	"github.com/google/uuid"

	"github.com/periodic-erp/periodic/internal/validation"
)

// Status is the lifecycle state of a period. Transitions only ever move
// forward: OPEN to REVIEW to FINALIZED to LOCKED.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusReview    Status = "REVIEW"
	StatusFinalized Status = "FINALIZED"
	StatusLocked    Status = "LOCKED"
)

// Period is one bookkeeping month of an administration.
type Period struct {
	ID               uuid.UUID  `json:"id"`
	AdministrationID uuid.UUID  `json:"administration_id"`
	Year             int        `json:"year"`
	Month            int        `json:"month"`
	StartDate        time.Time  `json:"start_date"`
	EndDate          time.Time  `json:"end_date"`
	Status           Status     `json:"status"`
	ReviewStartedAt  *time.Time `json:"review_started_at,omitempty"`
	FinalizedAt      *time.Time `json:"finalized_at,omitempty"`
	LockedAt         *time.Time `json:"locked_at,omitempty"`
}

// Detail is a period with its open issues split by severity.
type Detail struct {
	Period       Period             `json:"period"`
	RedIssues    []validation.Issue `json:"red_issues"`
	YellowIssues []validation.Issue `json:"yellow_issues"`
}

// ReviewResult reports what a review run found.
type ReviewResult struct {
	Period       Period             `json:"period"`
	RedIssues    []validation.Issue `json:"red_issues"`
	YellowIssues []validation.Issue `json:"yellow_issues"`
	IssuesFound  int                `json:"issues_found"`
}

// FinalizeInput carries the reviewer's sign-off.
type FinalizeInput struct {
	AcknowledgedYellowIssueIDs []uuid.UUID
	Notes                      string
	Actor                      string
}

// LockInput carries the explicit irreversibility confirmation.
type LockInput struct {
	ConfirmIrreversible bool
	Actor               string
}
