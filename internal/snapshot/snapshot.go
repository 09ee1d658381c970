// Package snapshot freezes a period's financial totals at finalization time.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/periodic-erp/periodic/internal/ledger"
	"github.com/periodic-erp/periodic/internal/shared"
)

// Totals are the frozen aggregates of a finalized period.
type Totals struct {
	Assets             decimal.Decimal `json:"assets"`
	Liabilities        decimal.Decimal `json:"liabilities"`
	Equity             decimal.Decimal `json:"equity"`
	NetIncome          decimal.Decimal `json:"net_income"`
	AccountsReceivable decimal.Decimal `json:"accounts_receivable"`
	AccountsPayable    decimal.Decimal `json:"accounts_payable"`
	VATPayable         decimal.Decimal `json:"vat_payable"`
	VATReceivable      decimal.Decimal `json:"vat_receivable"`
}

// Snapshot is the stored record. Once written it never changes.
type Snapshot struct {
	ID               uuid.UUID `json:"id"`
	PeriodID         uuid.UUID `json:"period_id"`
	AdministrationID uuid.UUID `json:"administration_id"`
	Totals           Totals    `json:"totals"`
	CreatedAt        time.Time `json:"created_at"`
}

// Builder computes totals from ledger facts.
type Builder struct {
	reader ledger.Reader
}

// NewBuilder constructs Builder.
func NewBuilder(reader ledger.Reader) *Builder {
	return &Builder{reader: reader}
}

// Build computes the totals for an administration over the period range.
// Assets, liabilities and equity come from the trial balance by account type.
// Net income is revenue minus expense. Receivable and payable totals sum the
// outstanding open items. VAT nets per sign: a positive sum is payable, a
// negative sum is receivable.
func (b *Builder) Build(ctx context.Context, administrationID uuid.UUID, from, to time.Time) (Totals, error) {
	balances, err := b.reader.TrialBalance(ctx, administrationID, from, to)
	if err != nil {
		return Totals{}, fmt.Errorf("%w: %v", shared.ErrLedgerUnavailable, err)
	}
	items, err := b.reader.OpenItems(ctx, administrationID, to)
	if err != nil {
		return Totals{}, fmt.Errorf("%w: %v", shared.ErrLedgerUnavailable, err)
	}
	vatLines, err := b.reader.VATLines(ctx, administrationID, from, to)
	if err != nil {
		return Totals{}, fmt.Errorf("%w: %v", shared.ErrLedgerUnavailable, err)
	}

	var totals Totals
	var revenue, expense decimal.Decimal
	for _, balance := range balances {
		switch balance.Type {
		case ledger.AccountAsset:
			totals.Assets = totals.Assets.Add(balance.Balance)
		case ledger.AccountLiability:
			// Liabilities carry credit balances, stored as negative
			// debit-minus-credit. Report them positive.
			totals.Liabilities = totals.Liabilities.Add(balance.Balance.Neg())
		case ledger.AccountEquity:
			totals.Equity = totals.Equity.Add(balance.Balance.Neg())
		case ledger.AccountRevenue:
			revenue = revenue.Add(balance.Balance.Neg())
		case ledger.AccountExpense:
			expense = expense.Add(balance.Balance)
		}
	}
	totals.NetIncome = revenue.Sub(expense)

	for _, item := range items {
		outstanding := item.Outstanding()
		switch item.Kind {
		case ledger.OpenItemReceivable:
			totals.AccountsReceivable = totals.AccountsReceivable.Add(outstanding)
		case ledger.OpenItemPayable:
			totals.AccountsPayable = totals.AccountsPayable.Add(outstanding)
		}
	}

	vat := decimal.Zero
	for _, line := range vatLines {
		vat = vat.Add(line.VATAmount)
	}
	if vat.IsNegative() {
		totals.VATReceivable = vat.Abs()
	} else {
		totals.VATPayable = vat
	}
	return totals, nil
}

// Repository reads stored snapshots. Writing happens inside the finalize
// transaction of the period repository.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the snapshot of a period.
func (r *Repository) Get(ctx context.Context, periodID uuid.UUID) (Snapshot, error) {
	var s Snapshot
	err := r.pool.QueryRow(ctx, `SELECT id, period_id, administration_id,
assets, liabilities, equity, net_income, accounts_receivable, accounts_payable, vat_payable, vat_receivable, created_at
FROM snapshots WHERE period_id=$1`, periodID).Scan(
		&s.ID, &s.PeriodID, &s.AdministrationID,
		&s.Totals.Assets, &s.Totals.Liabilities, &s.Totals.Equity, &s.Totals.NetIncome,
		&s.Totals.AccountsReceivable, &s.Totals.AccountsPayable, &s.Totals.VATPayable, &s.Totals.VATReceivable,
		&s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, shared.ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: get: %w", err)
	}
	return s, nil
}
