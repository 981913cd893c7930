package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const transactionColumns = `t.id, t.date, t.description, t.reference, t.notes, t.is_balanced, t.version, t.created_at, t.updated_at`

// GetTransaction retrieves a transaction with its entries and applied rules.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions t WHERE t.id = ?`, id)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NewNotFoundError("transaction", id)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	if err := s.hydrate(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// FindTransactionByReference returns the first transaction carrying the
// given external reference, either as its own or absorbed through a merge.
func (s *SQLiteStorage) FindTransactionByReference(ctx context.Context, reference string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(reference, "reference"); err != nil {
		return nil, err
	}

	var id string
	err := s.q.QueryRowContext(ctx, `
		SELECT t.id FROM transactions t
		WHERE t.reference = ?
			OR EXISTS (SELECT 1 FROM absorbed_references a WHERE a.transaction_id = t.id AND a.reference = ?)
		ORDER BY t.date, t.id LIMIT 1`, reference, reference).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NewNotFoundError("transaction with reference", reference)
		}
		return nil, fmt.Errorf("failed to find transaction by reference: %w", err)
	}
	return s.GetTransaction(ctx, id)
}

// FindTransactions returns transactions matching the filter ordered by date and id.
func (s *SQLiteStorage) FindTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	where, args := buildTransactionWhere(filter)
	query := `SELECT ` + transactionColumns + ` FROM transactions t` + where + ` ORDER BY t.date ASC, t.id ASC`
	query, args = appendLimit(query, args, filter.Limit, filter.Offset)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find transactions: %w", err)
	}

	var txns []model.Transaction
	for rows.Next() {
		txn, scanErr := scanTransaction(rows)
		if scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan transaction: %w", scanErr)
		}
		txns = append(txns, *txn)
	}
	iterErr := rows.Err()
	_ = rows.Close()
	if iterErr != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", iterErr)
	}

	// Rows must be closed before hydrating: the pool holds a single connection.
	for i := range txns {
		if err := s.hydrate(ctx, &txns[i]); err != nil {
			return nil, err
		}
	}
	return txns, nil
}

// SaveTransaction inserts or updates a transaction together with its entries
// and applied rules in one database transaction.
//
// A transaction with Version 0 is inserted. Otherwise the stored row is only
// updated when its version still equals txn.Version; a stale version yields
// common.ErrConflict. On success txn.Version holds the new version.
func (s *SQLiteStorage) SaveTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}

	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	for i := range txn.Entries {
		if txn.Entries[i].ID == "" {
			txn.Entries[i].ID = uuid.NewString()
		}
	}

	now := time.Now().UTC()
	var newVersion int64
	err := s.withTx(ctx, func(st *SQLiteStorage) error {
		if err := st.resolveEntryUnits(ctx, txn.Entries); err != nil {
			return err
		}

		if txn.Version == 0 {
			_, err := st.q.ExecContext(ctx, `
				INSERT INTO transactions (id, date, description, reference, notes, is_balanced, version, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
				txn.ID, formatTime(txn.Date), txn.Description, txn.Reference, txn.Notes, txn.IsBalanced,
				formatTime(now), formatTime(now),
			)
			if err != nil {
				if strings.Contains(err.Error(), "UNIQUE constraint failed") {
					return fmt.Errorf("%w: transaction %q", common.ErrDuplicateEntry, txn.ID)
				}
				return fmt.Errorf("failed to insert transaction: %w", err)
			}
			newVersion = 1
		} else {
			result, err := st.q.ExecContext(ctx, `
				UPDATE transactions SET
					date = ?, description = ?, reference = ?, notes = ?, is_balanced = ?,
					version = version + 1, updated_at = ?
				WHERE id = ? AND version = ?`,
				formatTime(txn.Date), txn.Description, txn.Reference, txn.Notes, txn.IsBalanced,
				formatTime(now), txn.ID, txn.Version,
			)
			if err != nil {
				return fmt.Errorf("failed to update transaction: %w", err)
			}
			rowsAffected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			if rowsAffected == 0 {
				return st.missingOrConflict(ctx, txn.ID, txn.Version)
			}
			newVersion = txn.Version + 1
		}

		if err := st.replaceEntries(ctx, txn.ID, txn.Entries); err != nil {
			return err
		}
		if err := st.replaceAppliedRules(ctx, txn.ID, txn.AppliedRules); err != nil {
			return err
		}
		return st.replaceAbsorbedReferences(ctx, txn.ID, txn.AbsorbedReferences)
	})
	if err != nil {
		return err
	}

	if txn.Version == 0 {
		txn.CreatedAt = now.Truncate(time.Second)
	}
	txn.Version = newVersion
	txn.UpdatedAt = now.Truncate(time.Second)
	return nil
}

// DeleteTransaction removes a transaction; entries and applied rules cascade.
func (s *SQLiteStorage) DeleteTransaction(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return common.NewNotFoundError("transaction", id)
	}
	return nil
}

// DeleteTransactions removes every transaction matching the filter and
// returns how many were deleted.
func (s *SQLiteStorage) DeleteTransactions(ctx context.Context, filter service.TransactionFilter) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	where, args := buildTransactionWhere(filter)
	inner := `SELECT t.id FROM transactions t` + where + ` ORDER BY t.date ASC, t.id ASC`
	inner, args = appendLimit(inner, args, filter.Limit, filter.Offset)

	result, err := s.q.ExecContext(ctx, `DELETE FROM transactions WHERE id IN (`+inner+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

func (s *SQLiteStorage) missingOrConflict(ctx context.Context, id string, version int64) error {
	var stored int64
	err := s.q.QueryRowContext(ctx, `SELECT version FROM transactions WHERE id = ?`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return common.NewNotFoundError("transaction", id)
	}
	if err != nil {
		return fmt.Errorf("failed to read transaction version: %w", err)
	}
	return fmt.Errorf("%w: transaction %q at version %d, saved from version %d", common.ErrConflict, id, stored, version)
}

// resolveEntryUnits fills missing units from the referenced account and
// rejects entries whose unit differs from it.
func (s *SQLiteStorage) resolveEntryUnits(ctx context.Context, entries []model.EntryLine) error {
	if len(entries) == 0 {
		return nil
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.AccountID)
	}
	accounts, err := s.GetAccounts(ctx, ids)
	if err != nil {
		return err
	}

	for i := range entries {
		account, ok := accounts[entries[i].AccountID]
		if !ok {
			return common.NewValidationError(fmt.Sprintf("entries[%d].account", i),
				fmt.Sprintf("unknown account %q", entries[i].AccountID))
		}
		if entries[i].Unit == "" {
			entries[i].Unit = account.Unit
			continue
		}
		if entries[i].Unit != account.Unit {
			return common.NewValidationError(fmt.Sprintf("entries[%d].unit", i),
				fmt.Sprintf("unit %q does not match account unit %q", entries[i].Unit, account.Unit))
		}
	}
	return nil
}

func (s *SQLiteStorage) replaceEntries(ctx context.Context, txnID string, entries []model.EntryLine) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM entry_lines WHERE transaction_id = ?`, txnID); err != nil {
		return fmt.Errorf("failed to clear entry lines: %w", err)
	}

	for i, e := range entries {
		var quantity decimal.NullDecimal
		if e.Quantity != nil {
			quantity = decimal.NewNullDecimal(*e.Quantity)
		}
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO entry_lines (id, transaction_id, position, account_id, amount, type, unit, quantity, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, txnID, i, e.AccountID, e.Amount.String(), string(e.Type), e.Unit, quantity, e.Description,
		)
		if err != nil {
			return fmt.Errorf("failed to insert entry line %d: %w", i, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) replaceAppliedRules(ctx context.Context, txnID string, applied []model.AppliedRule) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM applied_rules WHERE transaction_id = ?`, txnID); err != nil {
		return fmt.Errorf("failed to clear applied rules: %w", err)
	}

	for _, ar := range applied {
		appliedAt := ar.AppliedAt
		if appliedAt.IsZero() {
			appliedAt = time.Now()
		}
		_, err := s.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO applied_rules (transaction_id, rule_id, applied_at) VALUES (?, ?, ?)`,
			txnID, ar.RuleID, formatTime(appliedAt))
		if err != nil {
			return fmt.Errorf("failed to record applied rule %d: %w", ar.RuleID, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) replaceAbsorbedReferences(ctx context.Context, txnID string, refs []string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM absorbed_references WHERE transaction_id = ?`, txnID); err != nil {
		return fmt.Errorf("failed to clear absorbed references: %w", err)
	}

	for _, ref := range refs {
		if ref == "" {
			continue
		}
		_, err := s.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO absorbed_references (transaction_id, reference) VALUES (?, ?)`, txnID, ref)
		if err != nil {
			return fmt.Errorf("failed to record absorbed reference %s: %w", ref, err)
		}
	}
	return nil
}

// hydrate loads entries, applied rules and absorbed references into txn.
func (s *SQLiteStorage) hydrate(ctx context.Context, txn *model.Transaction) error {
	entries, err := s.loadEntries(ctx, txn.ID)
	if err != nil {
		return err
	}
	txn.Entries = entries

	applied, err := s.loadAppliedRules(ctx, txn.ID)
	if err != nil {
		return err
	}
	txn.AppliedRules = applied

	refs, err := s.loadAbsorbedReferences(ctx, txn.ID)
	if err != nil {
		return err
	}
	txn.AbsorbedReferences = refs
	return nil
}

func (s *SQLiteStorage) loadEntries(ctx context.Context, txnID string) ([]model.EntryLine, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, account_id, amount, type, unit, quantity, description
		FROM entry_lines
		WHERE transaction_id = ?
		ORDER BY position ASC`, txnID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entry lines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.EntryLine
	for rows.Next() {
		var (
			e        model.EntryLine
			typ      string
			quantity decimal.NullDecimal
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &typ, &e.Unit, &quantity, &e.Description); err != nil {
			return nil, fmt.Errorf("failed to scan entry line: %w", err)
		}
		e.Type = model.EntryType(typ)
		if quantity.Valid {
			q := quantity.Decimal
			e.Quantity = &q
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry lines: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStorage) loadAppliedRules(ctx context.Context, txnID string) ([]model.AppliedRule, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT rule_id, applied_at FROM applied_rules
		WHERE transaction_id = ?
		ORDER BY applied_at ASC, rule_id ASC`, txnID)
	if err != nil {
		return nil, fmt.Errorf("failed to load applied rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var applied []model.AppliedRule
	for rows.Next() {
		var (
			ar        model.AppliedRule
			appliedAt string
		)
		if err := rows.Scan(&ar.RuleID, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan applied rule: %w", err)
		}
		t, err := parseTime(appliedAt)
		if err != nil {
			return nil, err
		}
		ar.AppliedAt = t
		applied = append(applied, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating applied rules: %w", err)
	}
	return applied, nil
}

func (s *SQLiteStorage) loadAbsorbedReferences(ctx context.Context, txnID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT reference FROM absorbed_references WHERE transaction_id = ? ORDER BY reference ASC`, txnID)
	if err != nil {
		return nil, fmt.Errorf("failed to load absorbed references: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("failed to scan absorbed reference: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating absorbed references: %w", err)
	}
	return refs, nil
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var (
		txn                        model.Transaction
		date, createdAt, updatedAt string
	)
	err := row.Scan(&txn.ID, &date, &txn.Description, &txn.Reference, &txn.Notes,
		&txn.IsBalanced, &txn.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if txn.Date, err = parseTime(date); err != nil {
		return nil, err
	}
	if txn.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if txn.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &txn, nil
}

func buildTransactionWhere(filter service.TransactionFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if filter.StartDate != nil {
		clauses = append(clauses, "t.date >= ?")
		args = append(args, formatTime(*filter.StartDate))
	}
	if filter.EndDate != nil {
		clauses = append(clauses, "t.date <= ?")
		args = append(args, formatTime(*filter.EndDate))
	}
	if filter.Unbalanced != nil {
		clauses = append(clauses, "t.is_balanced = ?")
		args = append(args, !*filter.Unbalanced)
	}
	if len(filter.AccountIDs) > 0 {
		clauses = append(clauses, `EXISTS (SELECT 1 FROM entry_lines e
			WHERE e.transaction_id = t.id AND e.account_id IN (`+placeholders(len(filter.AccountIDs))+`))`)
		args = append(args, stringArgs(filter.AccountIDs)...)
	}
	if len(filter.ExcludeIDs) > 0 {
		clauses = append(clauses, "t.id NOT IN ("+placeholders(len(filter.ExcludeIDs))+")")
		args = append(args, stringArgs(filter.ExcludeIDs)...)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// appendLimit adds LIMIT/OFFSET. SQLite needs a LIMIT for OFFSET, so -1 stands in.
func appendLimit(query string, args []any, limit, offset int) (string, []any) {
	switch {
	case limit > 0:
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, max(offset, 0))
	case offset > 0:
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}
