// Package http exposes the period close lifecycle over REST.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/periodic-erp/periodic/internal/audit"
	"github.com/periodic-erp/periodic/internal/auth"
	"github.com/periodic-erp/periodic/internal/period"
	"github.com/periodic-erp/periodic/internal/platform/httpx"
	"github.com/periodic-erp/periodic/internal/shared"
	"github.com/periodic-erp/periodic/internal/snapshot"
)

// PeriodService is the lifecycle surface the handler needs.
type PeriodService interface {
	List(ctx context.Context, administrationID uuid.UUID) ([]period.Period, error)
	Get(ctx context.Context, periodID uuid.UUID) (period.Detail, error)
	StartReview(ctx context.Context, periodID uuid.UUID, actor string) (period.ReviewResult, error)
	Finalize(ctx context.Context, periodID uuid.UUID, in period.FinalizeInput) (period.Period, error)
	Lock(ctx context.Context, periodID uuid.UUID, in period.LockInput) (period.Period, error)
	IsLocked(ctx context.Context, periodID uuid.UUID) (bool, error)
}

// SnapshotGetter reads frozen snapshots.
type SnapshotGetter interface {
	Get(ctx context.Context, periodID uuid.UUID) (snapshot.Snapshot, error)
}

// AuditLister reads the audit trail of a period.
type AuditLister interface {
	List(ctx context.Context, periodID uuid.UUID) ([]audit.Entry, error)
}

// Handler serves period lifecycle endpoints.
type Handler struct {
	svc       PeriodService
	snapshots SnapshotGetter
	trail     AuditLister
	validate  *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(svc PeriodService, snapshots SnapshotGetter, trail AuditLister) *Handler {
	return &Handler{
		svc:       svc,
		snapshots: snapshots,
		trail:     trail,
		validate:  validator.New(),
	}
}

// Routes mounts the period endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/administrations/{administrationID}/periods", func(r chi.Router) {
		r.With(auth.RequireScope(auth.ScopePeriodRead)).Get("/", h.list)
		r.Route("/{periodID}", func(r chi.Router) {
			r.With(auth.RequireScope(auth.ScopePeriodRead)).Get("/", h.get)
			r.With(auth.RequireScope(auth.ScopePeriodReview)).Post("/review", h.startReview)
			r.With(auth.RequireScope(auth.ScopePeriodFinalize)).Post("/finalize", h.finalize)
			r.With(auth.RequireScope(auth.ScopePeriodLock)).Post("/lock", h.lock)
			r.With(auth.RequireScope(auth.ScopePeriodRead)).Get("/snapshot", h.getSnapshot)
			r.With(auth.RequireScope(auth.ScopePeriodRead)).Get("/audit-logs", h.auditLogs)
			r.With(auth.RequireScope(auth.ScopePeriodRead)).Get("/locked", h.locked)
		})
	})
}

// scopedPeriod resolves the route's period and checks it belongs to the
// route's administration and the caller's key.
func (h *Handler) scopedPeriod(r *http.Request) (uuid.UUID, error) {
	administrationID, err := uuid.Parse(chi.URLParam(r, "administrationID"))
	if err != nil {
		return uuid.Nil, httpx.ErrValidation
	}
	periodID, err := uuid.Parse(chi.URLParam(r, "periodID"))
	if err != nil {
		return uuid.Nil, httpx.ErrValidation
	}
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok || principal.AdministrationID != administrationID {
		return uuid.Nil, shared.ErrPermissionDenied
	}
	detail, err := h.svc.Get(r.Context(), periodID)
	if err != nil {
		return uuid.Nil, err
	}
	if detail.Period.AdministrationID != administrationID {
		return uuid.Nil, shared.ErrNotFound
	}
	return periodID, nil
}

func actor(r *http.Request) string {
	if principal, ok := auth.PrincipalFrom(r.Context()); ok {
		return principal.Name
	}
	return ""
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	administrationID, err := uuid.Parse(chi.URLParam(r, "administrationID"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok || principal.AdministrationID != administrationID {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	periods, err := h.svc.List(r.Context(), administrationID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": periods})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	periodID, err := h.scopedPeriod(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.svc.Get(r.Context(), periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) startReview(w http.ResponseWriter, r *http.Request) {
	periodID, err := h.scopedPeriod(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.svc.StartReview(r.Context(), periodID, actor(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type finalizeRequest struct {
	AcknowledgedYellowIssueIDs []string `json:"acknowledged_yellow_issue_ids" validate:"dive,uuid"`
	Notes                      string   `json:"notes" validate:"max=2000"`
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	periodID, err := h.scopedPeriod(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req finalizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	acked := make([]uuid.UUID, 0, len(req.AcknowledgedYellowIssueIDs))
	for _, raw := range req.AcknowledgedYellowIssueIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.RespondError(w, httpx.ErrValidation)
			return
		}
		acked = append(acked, id)
	}

	p, err := h.svc.Finalize(r.Context(), periodID, period.FinalizeInput{
		AcknowledgedYellowIssueIDs: acked,
		Notes:                      req.Notes,
		Actor:                      actor(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

type lockRequest struct {
	ConfirmIrreversible bool `json:"confirm_irreversible"`
}

func (h *Handler) lock(w http.ResponseWriter, r *http.Request) {
	periodID, err := h.scopedPeriod(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req lockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	p, err := h.svc.Lock(r.Context(), periodID, period.LockInput{
		ConfirmIrreversible: req.ConfirmIrreversible,
		Actor:               actor(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	periodID, err := h.scopedPeriod(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	snap, err := h.snapshots.Get(r.Context(), periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) auditLogs(w http.ResponseWriter, r *http.Request) {
	periodID, err := h.scopedPeriod(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.trail.List(r.Context(), periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) locked(w http.ResponseWriter, r *http.Request) {
	periodID, err := h.scopedPeriod(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	isLocked, err := h.svc.IsLocked(r.Context(), periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"period_id":  periodID,
		"locked":     isLocked,
		"checked_at": time.Now().UTC(),
	})
}
