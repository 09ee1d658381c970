package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads ledger facts from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Reader = (*Repository)(nil)

// JournalEntries returns entries with lines for the administration and range.
func (r *Repository) JournalEntries(ctx context.Context, administrationID uuid.UUID, from, to time.Time) ([]JournalEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, administration_id, number, date, memo, document_id
FROM journal_entries WHERE administration_id=$1 AND date BETWEEN $2 AND $3 ORDER BY number ASC`, administrationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ledger: journal entries: %w", err)
	}
	defer rows.Close()
	var entries []JournalEntry
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.AdministrationID, &e.Number, &e.Date, &e.Memo, &e.DocumentID); err != nil {
			return nil, err
		}
		index[e.ID] = len(entries)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lineRows, err := r.pool.Query(ctx, `SELECT l.id, l.journal_entry_id, l.account_code, l.description, l.debit, l.credit, COALESCE(l.vat_code, '')
FROM journal_lines l
JOIN journal_entries e ON e.id = l.journal_entry_id
WHERE e.administration_id=$1 AND e.date BETWEEN $2 AND $3 ORDER BY l.id ASC`, administrationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ledger: journal lines: %w", err)
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var line JournalLine
		var entryID uuid.UUID
		if err := lineRows.Scan(&line.ID, &entryID, &line.AccountCode, &line.Description, &line.Debit, &line.Credit, &line.VATCode); err != nil {
			return nil, err
		}
		if i, ok := index[entryID]; ok {
			entries[i].Lines = append(entries[i].Lines, line)
		}
	}
	return entries, lineRows.Err()
}

// OpenItems returns unsettled receivables and payables as of the given date.
func (r *Repository) OpenItems(ctx context.Context, administrationID uuid.UUID, asOf time.Time) ([]OpenItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, administration_id, kind, counterparty_id, document_id, description, amount, allocated, due_date
FROM open_items WHERE administration_id=$1 AND amount <> allocated AND created_at <= $2 ORDER BY due_date ASC, id ASC`, administrationID, asOf)
	if err != nil {
		return nil, fmt.Errorf("ledger: open items: %w", err)
	}
	defer rows.Close()
	var items []OpenItem
	for rows.Next() {
		var item OpenItem
		if err := rows.Scan(&item.ID, &item.AdministrationID, &item.Kind, &item.CounterpartyID, &item.DocumentID, &item.Description, &item.Amount, &item.Allocated, &item.DueDate); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DepreciationSchedules returns schedules started by the end of the range,
// with their entries posted inside the range.
func (r *Repository) DepreciationSchedules(ctx context.Context, administrationID uuid.UUID, from, to time.Time) ([]DepreciationSchedule, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, administration_id, asset_name, active, start_date, monthly_amount
FROM depreciation_schedules WHERE administration_id=$1 AND start_date <= $2 ORDER BY asset_name ASC, id ASC`, administrationID, to)
	if err != nil {
		return nil, fmt.Errorf("ledger: depreciation schedules: %w", err)
	}
	defer rows.Close()
	var schedules []DepreciationSchedule
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var s DepreciationSchedule
		if err := rows.Scan(&s.ID, &s.AdministrationID, &s.AssetName, &s.Active, &s.StartDate, &s.MonthlyAmount); err != nil {
			return nil, err
		}
		index[s.ID] = len(schedules)
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entryRows, err := r.pool.Query(ctx, `SELECT d.id, d.schedule_id, d.journal_entry_id, d.posted_on, d.amount
FROM depreciation_entries d
JOIN depreciation_schedules s ON s.id = d.schedule_id
WHERE s.administration_id=$1 AND d.posted_on BETWEEN $2 AND $3 ORDER BY d.posted_on ASC`, administrationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ledger: depreciation entries: %w", err)
	}
	defer entryRows.Close()
	for entryRows.Next() {
		var entry DepreciationEntry
		var scheduleID uuid.UUID
		if err := entryRows.Scan(&entry.ID, &scheduleID, &entry.JournalEntryID, &entry.PostedOn, &entry.Amount); err != nil {
			return nil, err
		}
		if i, ok := index[scheduleID]; ok {
			schedules[i].Entries = append(schedules[i].Entries, entry)
		}
	}
	return schedules, entryRows.Err()
}

// VATLines returns VAT-coded lines joined with the declared rate of their code.
func (r *Repository) VATLines(ctx context.Context, administrationID uuid.UUID, from, to time.Time) ([]VATLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.journal_entry_id, l.id, e.document_id, l.vat_code, c.declared_rate, l.vat_rate, l.vat_base, l.vat_amount
FROM journal_lines l
JOIN journal_entries e ON e.id = l.journal_entry_id
JOIN vat_codes c ON c.administration_id = e.administration_id AND c.code = l.vat_code
WHERE e.administration_id=$1 AND e.date BETWEEN $2 AND $3 AND l.vat_code IS NOT NULL
ORDER BY e.number ASC, l.id ASC`, administrationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ledger: vat lines: %w", err)
	}
	defer rows.Close()
	var lines []VATLine
	for rows.Next() {
		var line VATLine
		if err := rows.Scan(&line.JournalEntryID, &line.LineID, &line.DocumentID, &line.VATCode, &line.DeclaredRate, &line.AppliedRate, &line.BaseAmount, &line.VATAmount); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// TrialBalance aggregates debit minus credit per account over the range.
func (r *Repository) TrialBalance(ctx context.Context, administrationID uuid.UUID, from, to time.Time) ([]AccountBalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.code, a.name, a.type, COALESCE(SUM(l.debit - l.credit), 0)
FROM accounts a
LEFT JOIN (journal_entries e JOIN journal_lines l ON l.journal_entry_id = e.id)
ON l.account_code = a.code AND e.administration_id = a.administration_id AND e.date BETWEEN $2 AND $3
WHERE a.administration_id=$1
GROUP BY a.code, a.name, a.type ORDER BY a.code ASC`, administrationID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ledger: trial balance: %w", err)
	}
	defer rows.Close()
	var balances []AccountBalance
	for rows.Next() {
		var b AccountBalance
		if err := rows.Scan(&b.Code, &b.Name, &b.Type, &b.Balance); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}
