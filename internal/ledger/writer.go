package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/periodic-erp/periodic/internal/shared"
)

// SuspenseAccount receives the balancing side of automatic corrections when
// no better account is known.
const SuspenseAccount = "9999"

// TxWriter applies corrective actions inside an existing transaction. Every
// posting first checks that the target date does not fall into a locked
// period.
type TxWriter struct {
	tx pgx.Tx
}

// NewTxWriter wraps a transaction as a Writer.
func NewTxWriter(tx pgx.Tx) *TxWriter {
	return &TxWriter{tx: tx}
}

var _ Writer = (*TxWriter)(nil)

func (w *TxWriter) ensureUnlocked(ctx context.Context, administrationID uuid.UUID, date time.Time) error {
	var status string
	err := w.tx.QueryRow(ctx, `SELECT status FROM periods
WHERE administration_id=$1 AND $2::date BETWEEN start_date AND end_date`, administrationID, date).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger: period status: %w", err)
	}
	if status == "LOCKED" {
		return shared.ErrPeriodLocked
	}
	return nil
}

func (w *TxWriter) nextEntryNumber(ctx context.Context, administrationID uuid.UUID) (int64, error) {
	var number int64
	err := w.tx.QueryRow(ctx, `SELECT COALESCE(MAX(number), 0) + 1 FROM journal_entries WHERE administration_id=$1`, administrationID).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("ledger: next entry number: %w", err)
	}
	return number, nil
}

func (w *TxWriter) insertEntry(ctx context.Context, administrationID uuid.UUID, date time.Time, memo string, lines []JournalLine) (uuid.UUID, error) {
	number, err := w.nextEntryNumber(ctx, administrationID)
	if err != nil {
		return uuid.Nil, err
	}
	entryID := uuid.New()
	_, err = w.tx.Exec(ctx, `INSERT INTO journal_entries (id, administration_id, number, date, memo)
VALUES ($1, $2, $3, $4, $5)`, entryID, administrationID, number, date, memo)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ledger: insert entry: %w", err)
	}
	for _, line := range lines {
		var vatCode *string
		if line.VATCode != "" {
			vatCode = &line.VATCode
		}
		_, err = w.tx.Exec(ctx, `INSERT INTO journal_lines (id, journal_entry_id, account_code, description, debit, credit, vat_code)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, uuid.New(), entryID, line.AccountCode, line.Description, line.Debit, line.Credit, vatCode)
		if err != nil {
			return uuid.Nil, fmt.Errorf("ledger: insert line: %w", err)
		}
	}
	return entryID, nil
}

// CreateAdjustmentEntry posts a balanced two-line correction entry.
func (w *TxWriter) CreateAdjustmentEntry(ctx context.Context, in AdjustmentInput) (uuid.UUID, error) {
	if err := w.ensureUnlocked(ctx, in.AdministrationID, in.Date); err != nil {
		return uuid.Nil, err
	}
	debit := in.DebitAccount
	credit := in.CreditAccount
	if debit == "" {
		debit = SuspenseAccount
	}
	if credit == "" {
		credit = SuspenseAccount
	}
	return w.insertEntry(ctx, in.AdministrationID, in.Date, in.Memo, []JournalLine{
		{AccountCode: debit, Description: in.Memo, Debit: in.Amount},
		{AccountCode: credit, Description: in.Memo, Credit: in.Amount},
	})
}

// CreateDepreciationEntry posts a missing or corrective depreciation amount
// against the schedule's administration.
func (w *TxWriter) CreateDepreciationEntry(ctx context.Context, scheduleID uuid.UUID, postedOn time.Time, amount decimal.Decimal) (uuid.UUID, error) {
	var administrationID uuid.UUID
	var assetName string
	err := w.tx.QueryRow(ctx, `SELECT administration_id, asset_name FROM depreciation_schedules WHERE id=$1`, scheduleID).
		Scan(&administrationID, &assetName)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, shared.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("ledger: load schedule: %w", err)
	}
	if err := w.ensureUnlocked(ctx, administrationID, postedOn); err != nil {
		return uuid.Nil, err
	}

	memo := fmt.Sprintf("Depreciation %s", assetName)
	entryID, err := w.insertEntry(ctx, administrationID, postedOn, memo, []JournalLine{
		{AccountCode: "4800", Description: memo, Debit: amount},
		{AccountCode: "0210", Description: memo, Credit: amount},
	})
	if err != nil {
		return uuid.Nil, err
	}
	_, err = w.tx.Exec(ctx, `INSERT INTO depreciation_entries (id, schedule_id, journal_entry_id, posted_on, amount)
VALUES ($1, $2, $3, $4, $5)`, uuid.New(), scheduleID, entryID, postedOn, amount)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ledger: insert depreciation entry: %w", err)
	}
	return entryID, nil
}

// ReclassifyToAsset moves a cost posting from an expense account onto a
// balance sheet asset account.
func (w *TxWriter) ReclassifyToAsset(ctx context.Context, in AdjustmentInput) (uuid.UUID, error) {
	if err := w.ensureUnlocked(ctx, in.AdministrationID, in.Date); err != nil {
		return uuid.Nil, err
	}
	if in.DebitAccount == "" || in.CreditAccount == "" {
		return uuid.Nil, fmt.Errorf("ledger: reclassification needs both accounts: %w", shared.ErrUnsupportedAction)
	}
	return w.insertEntry(ctx, in.AdministrationID, in.Date, in.Memo, []JournalLine{
		{AccountCode: in.DebitAccount, Description: in.Memo, Debit: in.Amount},
		{AccountCode: in.CreditAccount, Description: in.Memo, Credit: in.Amount},
	})
}

// ReverseJournalEntry posts a mirror entry with debits and credits swapped.
// The reversal lands on the original entry date so both net to zero in the
// same period.
func (w *TxWriter) ReverseJournalEntry(ctx context.Context, administrationID, journalEntryID uuid.UUID) (uuid.UUID, error) {
	var date time.Time
	var memo string
	err := w.tx.QueryRow(ctx, `SELECT date, memo FROM journal_entries WHERE id=$1 AND administration_id=$2`,
		journalEntryID, administrationID).Scan(&date, &memo)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, shared.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("ledger: load entry: %w", err)
	}
	if err := w.ensureUnlocked(ctx, administrationID, date); err != nil {
		return uuid.Nil, err
	}

	rows, err := w.tx.Query(ctx, `SELECT account_code, description, debit, credit, COALESCE(vat_code, '')
FROM journal_lines WHERE journal_entry_id=$1 ORDER BY id ASC`, journalEntryID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ledger: load lines: %w", err)
	}
	defer rows.Close()
	var reversed []JournalLine
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.AccountCode, &line.Description, &line.Debit, &line.Credit, &line.VATCode); err != nil {
			return uuid.Nil, err
		}
		line.Debit, line.Credit = line.Credit, line.Debit
		reversed = append(reversed, line)
	}
	if err := rows.Err(); err != nil {
		return uuid.Nil, err
	}
	return w.insertEntry(ctx, administrationID, date, "Reversal of: "+memo, reversed)
}

// CorrectVATRate reapplies the declared rate of the line's VAT code and
// recomputes the VAT amount.
func (w *TxWriter) CorrectVATRate(ctx context.Context, in VATCorrectionInput) error {
	var date time.Time
	err := w.tx.QueryRow(ctx, `SELECT e.date FROM journal_entries e
JOIN journal_lines l ON l.journal_entry_id = e.id
WHERE e.id=$1 AND e.administration_id=$2 AND l.id=$3`, in.JournalEntryID, in.AdministrationID, in.LineID).Scan(&date)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ledger: load vat line: %w", err)
	}
	if err := w.ensureUnlocked(ctx, in.AdministrationID, date); err != nil {
		return err
	}
	_, err = w.tx.Exec(ctx, `UPDATE journal_lines l
SET vat_rate = c.declared_rate, vat_amount = ROUND(l.vat_base * c.declared_rate / 100, 2)
FROM vat_codes c
WHERE l.id=$1 AND c.administration_id=$2 AND c.code = l.vat_code`, in.LineID, in.AdministrationID)
	if err != nil {
		return fmt.Errorf("ledger: correct vat rate: %w", err)
	}
	return nil
}

// AllocateOpenItem raises the allocated amount on an open item, capped at the
// item's face amount.
func (w *TxWriter) AllocateOpenItem(ctx context.Context, in AllocationInput) error {
	tag, err := w.tx.Exec(ctx, `UPDATE open_items SET allocated = LEAST(amount, allocated + $3)
WHERE id=$1 AND administration_id=$2`, in.OpenItemID, in.AdministrationID, in.Amount)
	if err != nil {
		return fmt.Errorf("ledger: allocate open item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FlagDocumentInvalid marks a source document as invalid for follow up.
func (w *TxWriter) FlagDocumentInvalid(ctx context.Context, administrationID, documentID uuid.UUID) error {
	tag, err := w.tx.Exec(ctx, `UPDATE documents SET invalid = TRUE, invalidated_at = now()
WHERE id=$1 AND administration_id=$2`, documentID, administrationID)
	if err != nil {
		return fmt.Errorf("ledger: flag document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
