// Package http exposes suggestions and decisions over REST.
package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/periodic-erp/periodic/internal/auth"
	"github.com/periodic-erp/periodic/internal/decision"
	"github.com/periodic-erp/periodic/internal/platform/httpx"
	"github.com/periodic-erp/periodic/internal/shared"
	"github.com/periodic-erp/periodic/internal/validation"
)

// DecisionService is the surface the handler needs.
type DecisionService interface {
	GetSuggestions(ctx context.Context, issueID uuid.UUID) ([]decision.SuggestedAction, error)
	ListDecisions(ctx context.Context, issueID uuid.UUID) ([]decision.Decision, error)
	Decide(ctx context.Context, in decision.DecideInput) (decision.Decision, error)
}

// IssueGetter looks up issues for administration scoping.
type IssueGetter interface {
	GetIssue(ctx context.Context, issueID uuid.UUID) (validation.Issue, error)
}

// Handler serves issue suggestion and decision endpoints.
type Handler struct {
	svc      DecisionService
	issues   IssueGetter
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(svc DecisionService, issues IssueGetter) *Handler {
	return &Handler{svc: svc, issues: issues, validate: validator.New()}
}

// Routes mounts the issue endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/issues/{issueID}", func(r chi.Router) {
		r.With(auth.RequireScope(auth.ScopePeriodRead)).Get("/suggestions", h.suggestions)
		r.With(auth.RequireScope(auth.ScopePeriodRead)).Get("/decisions", h.decisions)
		r.With(auth.RequireScope(auth.ScopeDecisionMake)).Post("/decisions", h.decide)
	})
}

// scopedIssue parses the issue id and checks the issue belongs to the
// caller's administration.
func (h *Handler) scopedIssue(r *http.Request) (uuid.UUID, error) {
	issueID, err := uuid.Parse(chi.URLParam(r, "issueID"))
	if err != nil {
		return uuid.Nil, httpx.ErrValidation
	}
	issue, err := h.issues.GetIssue(r.Context(), issueID)
	if err != nil {
		return uuid.Nil, err
	}
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok || principal.AdministrationID != issue.AdministrationID {
		return uuid.Nil, shared.ErrPermissionDenied
	}
	return issueID, nil
}

func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	issueID, err := h.scopedIssue(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	suggestions, err := h.svc.GetSuggestions(r.Context(), issueID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (h *Handler) decisions(w http.ResponseWriter, r *http.Request) {
	issueID, err := h.scopedIssue(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	history, err := h.svc.ListDecisions(r.Context(), issueID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"decisions": history})
}

type decideRequest struct {
	SuggestedActionID string `json:"suggested_action_id" validate:"required,uuid"`
	ActionType        string `json:"action_type" validate:"required"`
	Verdict           string `json:"verdict" validate:"required,oneof=APPROVED REJECTED"`
	Notes             string `json:"notes" validate:"max=2000"`
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	issueID, err := h.scopedIssue(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req decideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	// The suggested action id must be the one derived for this issue and
	// action type, anything else names a suggestion that does not exist.
	suggestedActionID, err := uuid.Parse(req.SuggestedActionID)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if suggestedActionID != decision.ActionID(issueID, decision.ActionType(req.ActionType)) {
		httpx.RespondError(w, fmt.Errorf("unknown suggested action %s: %w", suggestedActionID, shared.ErrNotFound))
		return
	}

	var actor string
	if principal, ok := auth.PrincipalFrom(r.Context()); ok {
		actor = principal.Name
	}
	d, err := h.svc.Decide(r.Context(), decision.DecideInput{
		IssueID:    issueID,
		ActionType: decision.ActionType(req.ActionType),
		Verdict:    decision.Verdict(req.Verdict),
		Actor:      actor,
		Notes:      req.Notes,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}
