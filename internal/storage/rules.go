package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
)

const ruleColumns = `id, name, type, pattern, new_description, max_date_difference, priority, auto_apply, created_at, updated_at`

// CreateRule creates a new rule with its source accounts and destinations.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	now := time.Now().UTC()
	return s.withTx(ctx, func(st *SQLiteStorage) error {
		result, err := st.q.ExecContext(ctx, `
			INSERT INTO rules (
				name, type, pattern, new_description, max_date_difference,
				priority, auto_apply, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.Name, string(rule.Type), rule.Pattern, rule.NewDescription, rule.MaxDateDifference,
			rule.Priority, rule.AutoApply, formatTime(now), formatTime(now),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("%w: rule named %q", common.ErrDuplicateEntry, rule.Name)
			}
			return fmt.Errorf("failed to create rule: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get rule ID: %w", err)
		}

		if err := st.replaceRuleChildren(ctx, id, rule); err != nil {
			return err
		}

		rule.ID = id
		rule.CreatedAt = now.Truncate(time.Second)
		rule.UpdatedAt = rule.CreatedAt
		return nil
	})
}

// GetRule retrieves a rule by ID.
func (s *SQLiteStorage) GetRule(ctx context.Context, id int64) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NewNotFoundError("rule", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	if err := s.hydrateRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules retrieves every rule in creation order.
func (s *SQLiteStorage) ListRules(ctx context.Context) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY id ASC`)
}

// GetAutoApplyRules retrieves rules flagged for automatic application in
// creation order. Priority ordering is left to the caller.
func (s *SQLiteStorage) GetAutoApplyRules(ctx context.Context) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE auto_apply = 1 ORDER BY id ASC`)
}

// UpdateRule updates an existing rule, replacing its source accounts and destinations.
func (s *SQLiteStorage) UpdateRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	now := time.Now().UTC()
	return s.withTx(ctx, func(st *SQLiteStorage) error {
		result, err := st.q.ExecContext(ctx, `
			UPDATE rules SET
				name = ?, type = ?, pattern = ?, new_description = ?, max_date_difference = ?,
				priority = ?, auto_apply = ?, updated_at = ?
			WHERE id = ?`,
			rule.Name, string(rule.Type), rule.Pattern, rule.NewDescription, rule.MaxDateDifference,
			rule.Priority, rule.AutoApply, formatTime(now), rule.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update rule: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return common.NewNotFoundError("rule", strconv.FormatInt(rule.ID, 10))
		}

		if err := st.replaceRuleChildren(ctx, rule.ID, rule); err != nil {
			return err
		}
		rule.UpdatedAt = now.Truncate(time.Second)
		return nil
	})
}

// DeleteRule deletes a rule. Applied-rule records referencing it are kept.
func (s *SQLiteStorage) DeleteRule(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.q.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return common.NewNotFoundError("rule", strconv.FormatInt(id, 10))
	}

	return nil
}

func (s *SQLiteStorage) replaceRuleChildren(ctx context.Context, ruleID int64, rule *model.Rule) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM rule_source_accounts WHERE rule_id = ?`, ruleID); err != nil {
		return fmt.Errorf("failed to clear rule source accounts: %w", err)
	}
	for _, accountID := range rule.SourceAccounts {
		_, err := s.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO rule_source_accounts (rule_id, account_id) VALUES (?, ?)`, ruleID, accountID)
		if err != nil {
			return fmt.Errorf("failed to save rule source account: %w", err)
		}
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM rule_destinations WHERE rule_id = ?`, ruleID); err != nil {
		return fmt.Errorf("failed to clear rule destinations: %w", err)
	}
	for i, dest := range rule.Destinations {
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO rule_destinations (rule_id, position, account_id, ratio) VALUES (?, ?, ?, ?)`,
			ruleID, i, dest.AccountID, dest.Ratio.String())
		if err != nil {
			return fmt.Errorf("failed to save rule destination: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) queryRules(ctx context.Context, query string, args ...any) ([]model.Rule, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	var rules []model.Rule
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan rule: %w", scanErr)
		}
		rules = append(rules, *rule)
	}
	iterErr := rows.Err()
	_ = rows.Close()
	if iterErr != nil {
		return nil, fmt.Errorf("error iterating rules: %w", iterErr)
	}

	for i := range rules {
		if err := s.hydrateRule(ctx, &rules[i]); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

func (s *SQLiteStorage) hydrateRule(ctx context.Context, rule *model.Rule) error {
	rows, err := s.q.QueryContext(ctx,
		`SELECT account_id FROM rule_source_accounts WHERE rule_id = ? ORDER BY account_id`, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to load rule source accounts: %w", err)
	}
	rule.SourceAccounts = nil
	for rows.Next() {
		var accountID string
		if err := rows.Scan(&accountID); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan rule source account: %w", err)
		}
		rule.SourceAccounts = append(rule.SourceAccounts, accountID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("error iterating rule source accounts: %w", err)
	}
	_ = rows.Close()

	rows, err = s.q.QueryContext(ctx,
		`SELECT account_id, ratio FROM rule_destinations WHERE rule_id = ? ORDER BY position`, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to load rule destinations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	rule.Destinations = nil
	for rows.Next() {
		var dest model.Destination
		if err := rows.Scan(&dest.AccountID, &dest.Ratio); err != nil {
			return fmt.Errorf("failed to scan rule destination: %w", err)
		}
		rule.Destinations = append(rule.Destinations, dest)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rule destinations: %w", err)
	}
	return nil
}

func scanRule(row rowScanner) (*model.Rule, error) {
	var (
		rule                 model.Rule
		typ                  string
		createdAt, updatedAt string
	)
	err := row.Scan(&rule.ID, &rule.Name, &typ, &rule.Pattern, &rule.NewDescription,
		&rule.MaxDateDifference, &rule.Priority, &rule.AutoApply, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rule.Type = model.RuleType(typ)

	if rule.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rule.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rule, nil
}
