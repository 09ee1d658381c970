package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/periodic-erp/periodic/internal/ledger"
	"github.com/periodic-erp/periodic/internal/shared"
	"github.com/periodic-erp/periodic/internal/validation"
)

// fixedAssetAccount receives reclassified costs.
const fixedAssetAccount = "0200"

// correctionAccount is the counter side of automatic balancing entries.
const correctionAccount = "4999"

// PeriodLocker locks a finalized period. Declared here so the executor does
// not depend on the period package directly.
type PeriodLocker interface {
	LockForDecision(ctx context.Context, administrationID, periodID uuid.UUID, actor string) error
}

// ExecutionRequest carries everything an executor needs to apply an action.
type ExecutionRequest struct {
	Issue       validation.Issue
	PostingDate time.Time
	Actor       string
}

// Executor applies one corrective action through the ledger writer.
type Executor func(ctx context.Context, writer ledger.Writer, req ExecutionRequest) error

// Registry maps action types to executors. Asking for an unregistered type
// is an unsupported-action error, never a silent no-op.
type Registry struct {
	executors map[ActionType]Executor
}

// NewRegistry builds the registry with every built-in executor.
func NewRegistry(locker PeriodLocker) *Registry {
	r := &Registry{executors: make(map[ActionType]Executor)}
	r.Register(ActionCreateAdjustmentEntry, executeCreateAdjustment)
	r.Register(ActionReverseJournalEntry, executeReverseJournalEntry)
	r.Register(ActionCreateDepreciation, executeCreateDepreciation)
	r.Register(ActionCorrectVATRate, executeCorrectVATRate)
	r.Register(ActionAllocateOpenItem, executeAllocateOpenItem)
	r.Register(ActionFlagDocumentInvalid, executeFlagDocumentInvalid)
	r.Register(ActionReclassifyToAsset, executeReclassifyToAsset)
	r.Register(ActionLockPeriod, func(ctx context.Context, _ ledger.Writer, req ExecutionRequest) error {
		return locker.LockForDecision(ctx, req.Issue.AdministrationID, req.Issue.PeriodID, req.Actor)
	})
	return r
}

// Register adds or replaces an executor.
func (r *Registry) Register(actionType ActionType, exec Executor) {
	r.executors[actionType] = exec
}

// Supported reports whether the type has an executor.
func (r *Registry) Supported(actionType ActionType) bool {
	_, ok := r.executors[actionType]
	return ok
}

// Execute runs the executor for the action type.
func (r *Registry) Execute(ctx context.Context, actionType ActionType, writer ledger.Writer, req ExecutionRequest) error {
	exec, ok := r.executors[actionType]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrUnsupportedAction, actionType)
	}
	return exec(ctx, writer, req)
}

func issueAmount(issue validation.Issue) (decimal.Decimal, error) {
	if issue.Amount == nil {
		return decimal.Decimal{}, fmt.Errorf("issue %s carries no amount: %w", issue.ID, shared.ErrUnsupportedAction)
	}
	return *issue.Amount, nil
}

func executeCreateAdjustment(ctx context.Context, writer ledger.Writer, req ExecutionRequest) error {
	amount, err := issueAmount(req.Issue)
	if err != nil {
		return err
	}
	_, err = writer.CreateAdjustmentEntry(ctx, ledger.AdjustmentInput{
		AdministrationID: req.Issue.AdministrationID,
		Date:             req.PostingDate,
		Memo:             fmt.Sprintf("Adjustment for %s: %s", req.Issue.Code, req.Issue.Title),
		DebitAccount:     ledger.SuspenseAccount,
		CreditAccount:    correctionAccount,
		Amount:           amount,
	})
	return err
}

func executeReverseJournalEntry(ctx context.Context, writer ledger.Writer, req ExecutionRequest) error {
	if req.Issue.JournalEntryID == nil {
		return fmt.Errorf("issue %s points at no journal entry: %w", req.Issue.ID, shared.ErrUnsupportedAction)
	}
	_, err := writer.ReverseJournalEntry(ctx, req.Issue.AdministrationID, *req.Issue.JournalEntryID)
	return err
}

func executeCreateDepreciation(ctx context.Context, writer ledger.Writer, req ExecutionRequest) error {
	amount, err := issueAmount(req.Issue)
	if err != nil {
		return err
	}
	_, err = writer.CreateDepreciationEntry(ctx, req.Issue.EntityID, req.PostingDate, amount)
	return err
}

func executeCorrectVATRate(ctx context.Context, writer ledger.Writer, req ExecutionRequest) error {
	if req.Issue.JournalEntryID == nil {
		return fmt.Errorf("issue %s points at no journal entry: %w", req.Issue.ID, shared.ErrUnsupportedAction)
	}
	return writer.CorrectVATRate(ctx, ledger.VATCorrectionInput{
		AdministrationID: req.Issue.AdministrationID,
		JournalEntryID:   *req.Issue.JournalEntryID,
		LineID:           req.Issue.EntityID,
	})
}

func executeAllocateOpenItem(ctx context.Context, writer ledger.Writer, req ExecutionRequest) error {
	amount, err := issueAmount(req.Issue)
	if err != nil {
		return err
	}
	return writer.AllocateOpenItem(ctx, ledger.AllocationInput{
		AdministrationID: req.Issue.AdministrationID,
		OpenItemID:       req.Issue.EntityID,
		Amount:           amount,
	})
}

func executeFlagDocumentInvalid(ctx context.Context, writer ledger.Writer, req ExecutionRequest) error {
	if req.Issue.DocumentID == nil {
		return fmt.Errorf("issue %s points at no document: %w", req.Issue.ID, shared.ErrUnsupportedAction)
	}
	return writer.FlagDocumentInvalid(ctx, req.Issue.AdministrationID, *req.Issue.DocumentID)
}

func executeReclassifyToAsset(ctx context.Context, writer ledger.Writer, req ExecutionRequest) error {
	amount, err := issueAmount(req.Issue)
	if err != nil {
		return err
	}
	_, err = writer.ReclassifyToAsset(ctx, ledger.AdjustmentInput{
		AdministrationID: req.Issue.AdministrationID,
		Date:             req.PostingDate,
		Memo:             fmt.Sprintf("Reclassification to asset for %s", req.Issue.Title),
		DebitAccount:     fixedAssetAccount,
		CreditAccount:    ledger.SuspenseAccount,
		Amount:           amount,
	})
	return err
}
