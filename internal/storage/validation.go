// Package storage provides the data persistence layer for the ledger.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateAccount validates an account before it is written.
func validateAccount(account *model.Account) error {
	if account == nil {
		return fmt.Errorf("%w: account", ErrNilParameter)
	}
	if strings.TrimSpace(account.Name) == "" {
		return common.NewValidationError("account.name", "must not be empty")
	}
	if !account.Type.Valid() {
		return common.NewValidationError("account.type", fmt.Sprintf("unknown type %q", account.Type))
	}
	if strings.TrimSpace(account.Unit) == "" {
		return common.NewValidationError("account.unit", "must not be empty")
	}
	return nil
}

// validateTransaction validates a transaction and its entry lines.
// Unbalanced transactions are valid.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.Date.IsZero() {
		return common.NewValidationError("transaction.date", "must be set")
	}
	for i := range txn.Entries {
		if err := validateEntry(&txn.Entries[i]); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// validateEntry checks the invariants of a single entry line.
func validateEntry(entry *model.EntryLine) error {
	if strings.TrimSpace(entry.AccountID) == "" {
		return common.NewValidationError("entry.account", "must not be empty")
	}
	if !entry.Amount.IsPositive() {
		return common.NewValidationError("entry.amount", fmt.Sprintf("must be greater than zero, got %s", entry.Amount))
	}
	if !entry.Type.Valid() {
		return common.NewValidationError("entry.type", fmt.Sprintf("must be debit or credit, got %q", entry.Type))
	}
	if entry.Quantity != nil && entry.Quantity.IsNegative() {
		return common.NewValidationError("entry.quantity", "must not be negative")
	}
	return nil
}

// validateRule validates a rule and its type-specific fields. Pattern syntax
// is checked at match time so that a broken rule only skips itself.
func validateRule(rule *model.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if strings.TrimSpace(rule.Name) == "" {
		return common.NewValidationError("rule.name", "must not be empty")
	}
	if !rule.Type.Valid() {
		return common.NewValidationError("rule.type", fmt.Sprintf("unknown type %q", rule.Type))
	}
	if rule.Pattern == "" {
		return common.NewValidationError("rule.pattern", "must not be empty")
	}

	switch rule.Type {
	case model.RuleTypeEdit:
		if strings.TrimSpace(rule.NewDescription) == "" {
			return common.NewValidationError("rule.new_description", "required for edit rules")
		}
	case model.RuleTypeMerge:
		if rule.MaxDateDifference < 0 {
			return common.NewValidationError("rule.max_date_difference", "must not be negative")
		}
	case model.RuleTypeComplementary:
		if len(rule.Destinations) == 0 {
			return common.NewValidationError("rule.destinations", "complementary rules need at least one destination")
		}
		for i, dest := range rule.Destinations {
			if strings.TrimSpace(dest.AccountID) == "" {
				return common.NewValidationError(fmt.Sprintf("rule.destinations[%d].account", i), "must not be empty")
			}
			if !dest.Ratio.IsPositive() {
				return common.NewValidationError(fmt.Sprintf("rule.destinations[%d].ratio", i), "must be greater than zero")
			}
		}
	}

	return nil
}
