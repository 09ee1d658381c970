// Package audit records the immutable trail of period lifecycle events.
// Entries are append only. There is no update or delete path.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Action names a recorded lifecycle event.
type Action string

const (
	ActionReviewStart Action = "REVIEW_START"
	ActionFinalize    Action = "FINALIZE"
	ActionLock        Action = "LOCK"
	ActionDecision    Action = "DECISION"
)

// Entry is one audit trail record.
type Entry struct {
	ID               uuid.UUID      `json:"id"`
	PeriodID         uuid.UUID      `json:"period_id"`
	AdministrationID uuid.UUID      `json:"administration_id"`
	Action           Action         `json:"action"`
	FromStatus       string         `json:"from_status,omitempty"`
	ToStatus         string         `json:"to_status,omitempty"`
	Actor            string         `json:"actor"`
	Meta             map[string]any `json:"meta,omitempty"`
	OccurredAt       time.Time      `json:"occurred_at"`
}

// Logger appends and reads audit entries.
type Logger struct {
	pool *pgxpool.Pool
}

// NewLogger constructs Logger.
func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{pool: pool}
}

// Record appends one entry.
func (l *Logger) Record(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("audit: marshal meta: %w", err)
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO period_audit_logs
(id, period_id, administration_id, action, from_status, to_status, actor, meta, occurred_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)`,
		entry.ID, entry.PeriodID, entry.AdministrationID, entry.Action,
		entry.FromStatus, entry.ToStatus, entry.Actor, meta, entry.OccurredAt)
	if err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return nil
}

// AppendTx appends one entry within an existing transaction, so the audit
// record commits or rolls back with the state change it describes.
func AppendTx(ctx context.Context, tx pgx.Tx, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("audit: marshal meta: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO period_audit_logs
(id, period_id, administration_id, action, from_status, to_status, actor, meta, occurred_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9)`,
		entry.ID, entry.PeriodID, entry.AdministrationID, entry.Action,
		entry.FromStatus, entry.ToStatus, entry.Actor, meta, entry.OccurredAt)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

// List returns the trail of a period in chronological order.
func (l *Logger) List(ctx context.Context, periodID uuid.UUID) ([]Entry, error) {
	rows, err := l.pool.Query(ctx, `SELECT id, period_id, administration_id, action,
COALESCE(from_status, ''), COALESCE(to_status, ''), actor, meta, occurred_at
FROM period_audit_logs WHERE period_id=$1 ORDER BY occurred_at ASC, id ASC`, periodID)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var entry Entry
		var meta []byte
		if err := rows.Scan(&entry.ID, &entry.PeriodID, &entry.AdministrationID, &entry.Action,
			&entry.FromStatus, &entry.ToStatus, &entry.Actor, &meta, &entry.OccurredAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &entry.Meta); err != nil {
				return nil, fmt.Errorf("audit: unmarshal meta: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
