package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/periodic-erp/periodic/internal/ledger"
	"github.com/periodic-erp/periodic/internal/platform/db"
)

// TxRepository is the transactional surface a decision executes against. The
// decision row, the issue resolution and the ledger side effect commit or
// roll back together.
type TxRepository interface {
	// GetForUpdate locks the decision row for the suggested action, if any.
	GetForUpdate(ctx context.Context, suggestedActionID uuid.UUID) (Decision, bool, error)
	Upsert(ctx context.Context, d Decision) error
	ResolveIssue(ctx context.Context, issueID uuid.UUID, at time.Time) error
	Ledger() ledger.Writer
}

// Repository persists decisions.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error
	// RecordOutcome writes a decision row outside any execution transaction.
	// Used for marking a rolled-back execution FAILED.
	RecordOutcome(ctx context.Context, d Decision) error
	RejectedActionTypes(ctx context.Context, issueID uuid.UUID) (map[ActionType]bool, error)
	ListByIssue(ctx context.Context, issueID uuid.UUID) ([]Decision, error)
}

// PgRepository is the PostgreSQL Repository.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs PgRepository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Repository = (*PgRepository)(nil)

const decisionColumns = `id, issue_id, suggested_action_id, action_type, verdict, execution_status,
COALESCE(execution_error, ''), decided_by, decided_at, executed_at`

func scanDecision(row pgx.Row) (Decision, error) {
	var d Decision
	err := row.Scan(&d.ID, &d.IssueID, &d.SuggestedActionID, &d.ActionType, &d.Verdict,
		&d.ExecutionStatus, &d.ExecutionError, &d.DecidedBy, &d.DecidedAt, &d.ExecutedAt)
	return d, err
}

const upsertDecisionSQL = `INSERT INTO decisions
(id, issue_id, suggested_action_id, action_type, verdict, execution_status, execution_error, decided_by, decided_at, executed_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)
ON CONFLICT (suggested_action_id) DO UPDATE SET
verdict = EXCLUDED.verdict,
execution_status = EXCLUDED.execution_status,
execution_error = EXCLUDED.execution_error,
decided_by = EXCLUDED.decided_by,
decided_at = EXCLUDED.decided_at,
executed_at = EXCLUDED.executed_at`

// WithTx runs fn in one transaction with a tx-scoped repository.
func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, repo TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

// RecordOutcome upserts a decision row in its own short transaction.
func (r *PgRepository) RecordOutcome(ctx context.Context, d Decision) error {
	_, err := r.pool.Exec(ctx, upsertDecisionSQL,
		d.ID, d.IssueID, d.SuggestedActionID, d.ActionType, d.Verdict,
		d.ExecutionStatus, d.ExecutionError, d.DecidedBy, d.DecidedAt, d.ExecutedAt)
	if err != nil {
		return fmt.Errorf("decision: record outcome: %w", err)
	}
	return nil
}

// RejectedActionTypes returns the action types the reviewer rejected for an
// issue.
func (r *PgRepository) RejectedActionTypes(ctx context.Context, issueID uuid.UUID) (map[ActionType]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT action_type FROM decisions
WHERE issue_id=$1 AND verdict='REJECTED'`, issueID)
	if err != nil {
		return nil, fmt.Errorf("decision: rejected types: %w", err)
	}
	defer rows.Close()
	rejected := make(map[ActionType]bool)
	for rows.Next() {
		var actionType ActionType
		if err := rows.Scan(&actionType); err != nil {
			return nil, err
		}
		rejected[actionType] = true
	}
	return rejected, rows.Err()
}

// ListByIssue returns the decision history of an issue, newest first.
func (r *PgRepository) ListByIssue(ctx context.Context, issueID uuid.UUID) ([]Decision, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+decisionColumns+` FROM decisions
WHERE issue_id=$1 ORDER BY decided_at DESC`, issueID)
	if err != nil {
		return nil, fmt.Errorf("decision: list by issue: %w", err)
	}
	defer rows.Close()
	var decisions []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) GetForUpdate(ctx context.Context, suggestedActionID uuid.UUID) (Decision, bool, error) {
	d, err := scanDecision(r.tx.QueryRow(ctx, `SELECT `+decisionColumns+` FROM decisions
WHERE suggested_action_id=$1 FOR UPDATE`, suggestedActionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, fmt.Errorf("decision: get for update: %w", err)
	}
	return d, true, nil
}

func (r *pgTxRepository) Upsert(ctx context.Context, d Decision) error {
	_, err := r.tx.Exec(ctx, upsertDecisionSQL,
		d.ID, d.IssueID, d.SuggestedActionID, d.ActionType, d.Verdict,
		d.ExecutionStatus, d.ExecutionError, d.DecidedBy, d.DecidedAt, d.ExecutedAt)
	if err != nil {
		return fmt.Errorf("decision: upsert: %w", err)
	}
	return nil
}

func (r *pgTxRepository) ResolveIssue(ctx context.Context, issueID uuid.UUID, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE issues SET resolved = TRUE, resolved_at=$2 WHERE id=$1`, issueID, at)
	if err != nil {
		return fmt.Errorf("decision: resolve issue: %w", err)
	}
	return nil
}

func (r *pgTxRepository) Ledger() ledger.Writer {
	return ledger.NewTxWriter(r.tx)
}
