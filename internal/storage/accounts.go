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
	"github.com/google/uuid"
)

const accountColumns = `id, name, type, unit, parent_id, created_at`

// CreateAccount inserts a new account, generating an id when none is set.
func (s *SQLiteStorage) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAccount(account); err != nil {
		return err
	}

	if account.ParentID != nil {
		if _, err := s.GetAccount(ctx, *account.ParentID); err != nil {
			return fmt.Errorf("failed to verify parent account: %w", err)
		}
	}

	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		account.ID, account.Name, string(account.Type), account.Unit, account.ParentID, formatTime(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: account %q", common.ErrDuplicateEntry, account.ID)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	account.CreatedAt = now.Truncate(time.Second)
	return nil
}

// GetAccount retrieves an account by id.
func (s *SQLiteStorage) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NewNotFoundError("account", id)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetAccounts resolves a set of account ids. Unknown ids are absent from the result.
func (s *SQLiteStorage) GetAccounts(ctx context.Context, ids []string) (map[string]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	result := make(map[string]model.Account, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id IN (` + placeholders(len(ids)) + `)`
	accounts, err := s.queryAccounts(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		result[a.ID] = a
	}
	return result, nil
}

// ListAccounts returns every account ordered by name.
func (s *SQLiteStorage) ListAccounts(ctx context.Context) ([]model.Account, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY name, id`)
}

// DeleteAccount removes an account that no entry line, rule or child account references.
func (s *SQLiteStorage) DeleteAccount(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	return s.withTx(ctx, func(st *SQLiteStorage) error {
		var refs int
		err := st.q.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM entry_lines WHERE account_id = ?) +
				(SELECT COUNT(*) FROM accounts WHERE parent_id = ?) +
				(SELECT COUNT(*) FROM rule_source_accounts WHERE account_id = ?) +
				(SELECT COUNT(*) FROM rule_destinations WHERE account_id = ?)`,
			id, id, id, id).Scan(&refs)
		if err != nil {
			return fmt.Errorf("failed to count account references: %w", err)
		}
		if refs > 0 {
			return fmt.Errorf("%w: account %q has %d references", common.ErrInUse, id, refs)
		}

		result, err := st.q.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return common.NewNotFoundError("account", id)
		}
		return nil
	})
}

func (s *SQLiteStorage) queryAccounts(ctx context.Context, query string, args ...any) ([]model.Account, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var (
		account   model.Account
		typ       string
		parentID  sql.NullString
		createdAt string
	)
	if err := row.Scan(&account.ID, &account.Name, &typ, &account.Unit, &parentID, &createdAt); err != nil {
		return nil, err
	}
	account.Type = model.AccountType(typ)
	if parentID.Valid {
		account.ParentID = &parentID.String
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	account.CreatedAt = t
	return &account, nil
}
