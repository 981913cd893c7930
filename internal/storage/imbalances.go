package storage

import (
	"context"
	"fmt"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/shopspring/decimal"
)

// amountScale is the number of decimal places kept when amounts are summed
// as integers inside SQLite.
const amountScale = 8

// imbalanceCTE joins entry lines to their transaction inside the date window,
// sums debits and credits per transaction and derives the signed imbalance.
// Sums are integers in units of 1e-8 so the tolerance comparison is exact.
const imbalanceCTE = `
	WITH totals AS (
		SELECT
			t.id AS id,
			t.date AS date,
			COALESCE(SUM(CASE WHEN e.type = 'debit' THEN CAST(ROUND(CAST(e.amount AS REAL) * 100000000) AS INTEGER) ELSE 0 END), 0) AS total_debit,
			COALESCE(SUM(CASE WHEN e.type = 'credit' THEN CAST(ROUND(CAST(e.amount AS REAL) * 100000000) AS INTEGER) ELSE 0 END), 0) AS total_credit
		FROM transactions t
		LEFT JOIN entry_lines e ON e.transaction_id = t.id
		WHERE t.date >= ? AND t.date <= ? AND t.id != ?
		GROUP BY t.id, t.date
	),
	imbalances AS (
		SELECT id, date, total_debit, total_credit, total_debit - total_credit AS imbalance
		FROM totals
	)`

// imbalanceFilter keeps transactions whose excess is on the requested side and
// within tolerance of the requested amount.
func imbalanceFilter(typ model.EntryType) (string, error) {
	switch typ {
	case model.Debit:
		return ` WHERE imbalance > 0 AND ABS(imbalance - ?) < ?`, nil
	case model.Credit:
		return ` WHERE imbalance < 0 AND ABS(imbalance + ?) < ?`, nil
	default:
		return "", common.NewValidationError("type", fmt.Sprintf("must be debit or credit, got %q", typ))
	}
}

// FindImbalances returns one page of transactions whose aggregate imbalance
// matches the query, newest first, along with the total number of matches.
func (s *SQLiteStorage) FindImbalances(ctx context.Context, query service.ImbalanceQuery) ([]service.ImbalanceRow, int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, 0, err
	}
	if query.End.Before(query.Start) {
		return nil, 0, common.NewValidationError("date range", "end is before start")
	}

	filter, err := imbalanceFilter(query.Type)
	if err != nil {
		return nil, 0, err
	}

	amount := toScaled(query.Amount)
	tolerance := toScaled(query.Tolerance)
	args := []any{formatTime(query.Start), formatTime(query.End), query.ExcludeTransactionID, amount, tolerance}

	var total int
	if err := s.q.QueryRowContext(ctx, imbalanceCTE+` SELECT COUNT(*) FROM imbalances`+filter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count imbalance candidates: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	pageQuery := imbalanceCTE + ` SELECT id, date, total_debit, total_credit FROM imbalances` + filter +
		` ORDER BY date DESC, id ASC`
	pageQuery, pageArgs := appendLimit(pageQuery, args, query.Limit, query.Offset)

	rows, err := s.q.QueryContext(ctx, pageQuery, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find imbalance candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []service.ImbalanceRow
	for rows.Next() {
		var (
			row                     service.ImbalanceRow
			date                    string
			totalDebit, totalCredit int64
		)
		if err := rows.Scan(&row.TransactionID, &date, &totalDebit, &totalCredit); err != nil {
			return nil, 0, fmt.Errorf("failed to scan imbalance candidate: %w", err)
		}
		if row.Date, err = parseTime(date); err != nil {
			return nil, 0, err
		}
		row.TotalDebit = fromScaled(totalDebit)
		row.TotalCredit = fromScaled(totalCredit)
		row.Imbalance = row.TotalDebit.Sub(row.TotalCredit)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating imbalance candidates: %w", err)
	}

	return result, total, nil
}

func toScaled(d decimal.Decimal) int64 {
	return d.Shift(amountScale).Round(0).IntPart()
}

func fromScaled(v int64) decimal.Decimal {
	return decimal.New(v, -amountScale)
}
