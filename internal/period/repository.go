package period

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/periodic-erp/periodic/internal/audit"
	"github.com/periodic-erp/periodic/internal/platform/db"
	"github.com/periodic-erp/periodic/internal/shared"
	"github.com/periodic-erp/periodic/internal/snapshot"
)

// PgRepository is the PostgreSQL Repository.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs PgRepository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Repository = (*PgRepository)(nil)

const periodColumns = `id, administration_id, year, month, start_date, end_date, status,
review_started_at, finalized_at, locked_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.AdministrationID, &p.Year, &p.Month, &p.StartDate, &p.EndDate,
		&p.Status, &p.ReviewStartedAt, &p.FinalizedAt, &p.LockedAt)
	return p, err
}

// WithTx runs fn in one transaction with a tx-scoped repository.
func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

// ListPeriods returns the periods of an administration, newest first.
func (r *PgRepository) ListPeriods(ctx context.Context, administrationID uuid.UUID) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM periods
WHERE administration_id=$1 ORDER BY year DESC, month DESC`, administrationID)
	if err != nil {
		return nil, fmt.Errorf("period: list: %w", err)
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// GetPeriod returns one period.
func (r *PgRepository) GetPeriod(ctx context.Context, periodID uuid.UUID) (Period, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1`, periodID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.ErrNotFound
	}
	if err != nil {
		return Period{}, fmt.Errorf("period: get: %w", err)
	}
	return p, nil
}

// ListByStatus returns every period in the given status across
// administrations.
func (r *PgRepository) ListByStatus(ctx context.Context, status Status) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM periods
WHERE status=$1 ORDER BY year ASC, month ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("period: list by status: %w", err)
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) GetPeriodForUpdate(ctx context.Context, periodID uuid.UUID) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id=$1 FOR UPDATE`, periodID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.ErrNotFound
	}
	if err != nil {
		return Period{}, fmt.Errorf("period: get for update: %w", err)
	}
	return p, nil
}

// Transition is the compare-and-swap at the heart of the state machine. The
// WHERE clause carries the expected current status, so of two racing
// transitions exactly one updates a row and the other sees zero rows.
func (r *pgTxRepository) Transition(ctx context.Context, periodID uuid.UUID, from, to Status, at time.Time) error {
	var column string
	switch to {
	case StatusReview:
		column = "review_started_at"
	case StatusFinalized:
		column = "finalized_at"
	case StatusLocked:
		column = "locked_at"
	default:
		return fmt.Errorf("period: no transition to %s: %w", to, shared.ErrStateConflict)
	}
	tag, err := r.tx.Exec(ctx, `UPDATE periods SET status=$2, `+column+`=$3 WHERE id=$1 AND status=$4`,
		periodID, to, at, from)
	if err != nil {
		return fmt.Errorf("period: transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("period %s is no longer %s: %w", periodID, from, shared.ErrStateConflict)
	}
	return nil
}

func (r *pgTxRepository) InsertSnapshot(ctx context.Context, snap snapshot.Snapshot) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO snapshots
(id, period_id, administration_id, assets, liabilities, equity, net_income,
accounts_receivable, accounts_payable, vat_payable, vat_receivable, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		snap.ID, snap.PeriodID, snap.AdministrationID,
		snap.Totals.Assets, snap.Totals.Liabilities, snap.Totals.Equity, snap.Totals.NetIncome,
		snap.Totals.AccountsReceivable, snap.Totals.AccountsPayable,
		snap.Totals.VATPayable, snap.Totals.VATReceivable, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("period: insert snapshot: %w", err)
	}
	return nil
}

func (r *pgTxRepository) AppendAudit(ctx context.Context, entry audit.Entry) error {
	return audit.AppendTx(ctx, r.tx, entry)
}
