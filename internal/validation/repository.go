package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/periodic-erp/periodic/internal/platform/db"
	"github.com/periodic-erp/periodic/internal/shared"
)

// Store persists issues in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const issueColumns = `id, administration_id, period_id, code, severity, title, description, explanation,
entity_id, document_id, journal_entry_id, counterparty_id, amount, resolved, resolved_at, detected_at, position`

func scanIssue(row pgx.Row) (Issue, error) {
	var issue Issue
	err := row.Scan(&issue.ID, &issue.AdministrationID, &issue.PeriodID, &issue.Code, &issue.Severity,
		&issue.Title, &issue.Description, &issue.Explanation,
		&issue.EntityID, &issue.DocumentID, &issue.JournalEntryID, &issue.CounterpartyID, &issue.Amount,
		&issue.Resolved, &issue.ResolvedAt, &issue.DetectedAt, &issue.Position)
	return issue, err
}

// Replace swaps the open issue set of a period in one transaction. A reader
// never observes a half-replaced set. Issues no longer detected are deleted,
// except those with decision history attached, which are closed instead so
// the decisions keep a row to point at. Re-detected issues reopen.
func (s *Store) Replace(ctx context.Context, periodID uuid.UUID, issues []Issue) error {
	detected := make([]uuid.UUID, len(issues))
	for i, issue := range issues {
		detected[i] = issue.ID
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE issues SET resolved = TRUE, resolved_at = now()
WHERE period_id=$1 AND NOT (id = ANY($2)) AND id IN (SELECT issue_id FROM decisions)`, periodID, detected); err != nil {
			return fmt.Errorf("validation: close stale issues: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM issues
WHERE period_id=$1 AND NOT (id = ANY($2)) AND id NOT IN (SELECT issue_id FROM decisions)`, periodID, detected); err != nil {
			return fmt.Errorf("validation: clear issues: %w", err)
		}
		for _, issue := range issues {
			_, err := tx.Exec(ctx, `INSERT INTO issues (`+issueColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
severity = EXCLUDED.severity,
title = EXCLUDED.title,
description = EXCLUDED.description,
explanation = EXCLUDED.explanation,
amount = EXCLUDED.amount,
resolved = FALSE,
resolved_at = NULL,
detected_at = EXCLUDED.detected_at,
position = EXCLUDED.position`,
				issue.ID, issue.AdministrationID, issue.PeriodID, issue.Code, issue.Severity,
				issue.Title, issue.Description, issue.Explanation,
				issue.EntityID, issue.DocumentID, issue.JournalEntryID, issue.CounterpartyID, issue.Amount,
				issue.Resolved, issue.ResolvedAt, issue.DetectedAt, issue.Position)
			if err != nil {
				return fmt.Errorf("validation: insert issue: %w", err)
			}
		}
		return nil
	})
}

// OpenIssues returns unresolved issues of a period in detection order.
func (s *Store) OpenIssues(ctx context.Context, periodID uuid.UUID) ([]Issue, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+issueColumns+` FROM issues
WHERE period_id=$1 AND resolved = FALSE ORDER BY position ASC`, periodID)
	if err != nil {
		return nil, fmt.Errorf("validation: open issues: %w", err)
	}
	defer rows.Close()
	var issues []Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// GetIssue returns a single issue by id.
func (s *Store) GetIssue(ctx context.Context, issueID uuid.UUID) (Issue, error) {
	issue, err := scanIssue(s.pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM issues WHERE id=$1`, issueID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Issue{}, shared.ErrNotFound
	}
	if err != nil {
		return Issue{}, fmt.Errorf("validation: get issue: %w", err)
	}
	return issue, nil
}
