package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/engine"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/shopspring/decimal"
)

// RuleRunner applies rules to stored transactions.
type RuleRunner interface {
	ApplyRulesToTransaction(ctx context.Context, transactionID string) (*engine.Outcome, error)
	ApplyRule(ctx context.Context, ruleID int64, transactionID string) (engine.Result, error)
}

// TransactionUpdate holds the header fields to change. Nil fields are kept.
type TransactionUpdate struct {
	Date        *time.Time
	Description *string
	Reference   *string
	Notes       *string
}

// Service implements the transaction write operations. Every write persists
// the change, runs the auto-apply rules and then refreshes the cached
// balanced flag.
type Service struct {
	storage    service.Storage
	rules      RuleRunner
	calculator *Calculator
	retry      common.RetryOptions
}

// NewService creates a ledger write service.
func NewService(storage service.Storage, rules RuleRunner, calculator *Calculator, retry common.RetryOptions) *Service {
	return &Service{
		storage:    storage,
		rules:      rules,
		calculator: calculator,
		retry:      retry,
	}
}

// Balance loads a transaction and computes its balance.
func (s *Service) Balance(ctx context.Context, id string) (*model.Transaction, Balance, error) {
	txn, err := s.storage.GetTransaction(ctx, id)
	if err != nil {
		return nil, Balance{}, err
	}
	return txn, s.calculator.ComputeBalance(txn), nil
}

// CreateTransaction stores a new transaction and returns it as it stands
// after rule application, which may be a different transaction when a merge
// rule consumed it.
func (s *Service) CreateTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if txn == nil {
		return nil, common.NewValidationError("transaction", "must not be nil")
	}
	txn.ID = ""
	txn.Version = 0
	txn.AppliedRules = nil
	txn.Date = txn.Date.UTC()
	txn.IsBalanced = s.calculator.ComputeBalance(txn).IsBalanced

	if err := s.storage.SaveTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	common.LogDebug(ctx, "Transaction created", common.Fields{
		"transaction_id": txn.ID,
		"entries":        len(txn.Entries),
	})
	return s.afterWrite(ctx, txn.ID)
}

// UpdateTransaction changes the header fields of a transaction.
func (s *Service) UpdateTransaction(ctx context.Context, id string, update TransactionUpdate) (*model.Transaction, error) {
	return s.mutate(ctx, id, func(txn *model.Transaction) error {
		if update.Date != nil {
			if update.Date.IsZero() {
				return common.NewValidationError("date", "must be set")
			}
			txn.Date = update.Date.UTC()
		}
		if update.Description != nil {
			txn.Description = *update.Description
		}
		if update.Reference != nil {
			txn.Reference = *update.Reference
		}
		if update.Notes != nil {
			txn.Notes = *update.Notes
		}
		return nil
	})
}

// AddEntry appends an entry line to a transaction.
func (s *Service) AddEntry(ctx context.Context, id string, entry model.EntryLine) (*model.Transaction, error) {
	return s.mutate(ctx, id, func(txn *model.Transaction) error {
		entry.ID = ""
		txn.Entries = append(txn.Entries, entry)
		return nil
	})
}

// UpdateEntry replaces the entry at index, keeping its identity.
func (s *Service) UpdateEntry(ctx context.Context, id string, index int, entry model.EntryLine) (*model.Transaction, error) {
	return s.mutate(ctx, id, func(txn *model.Transaction) error {
		if err := checkIndex(txn, index); err != nil {
			return err
		}
		entry.ID = txn.Entries[index].ID
		txn.Entries[index] = entry
		return nil
	})
}

// DeleteEntry removes the entry at index.
func (s *Service) DeleteEntry(ctx context.Context, id string, index int) (*model.Transaction, error) {
	return s.mutate(ctx, id, func(txn *model.Transaction) error {
		if err := checkIndex(txn, index); err != nil {
			return err
		}
		txn.Entries = append(txn.Entries[:index], txn.Entries[index+1:]...)
		return nil
	})
}

// SplitEntry splits the entry at index in two: the original keeps its amount
// minus amount and a new entry with the same account, side and unit is
// inserted after it carrying amount.
func (s *Service) SplitEntry(ctx context.Context, id string, index int, amount decimal.Decimal) (*model.Transaction, error) {
	return s.mutate(ctx, id, func(txn *model.Transaction) error {
		if err := checkIndex(txn, index); err != nil {
			return err
		}
		orig := txn.Entries[index]
		if orig.Quantity != nil {
			return common.NewValidationError("entry", "entries with a quantity cannot be split")
		}
		if !amount.IsPositive() || !amount.LessThan(orig.Amount) {
			return common.NewValidationError("amount",
				fmt.Sprintf("must be between 0 and %s exclusive", orig.Amount.StringFixed(2)))
		}

		part := orig
		part.ID = ""
		part.Amount = amount
		txn.Entries[index].Amount = orig.Amount.Sub(amount)

		entries := make([]model.EntryLine, 0, len(txn.Entries)+1)
		entries = append(entries, txn.Entries[:index+1]...)
		entries = append(entries, part)
		entries = append(entries, txn.Entries[index+1:]...)
		txn.Entries = entries
		return nil
	})
}

// MoveEntry moves the entry at index from one transaction to another. The
// source is deleted when its last entry leaves. The target is returned.
func (s *Service) MoveEntry(ctx context.Context, fromID string, index int, toID string) (*model.Transaction, error) {
	if fromID == toID {
		return nil, common.NewValidationError("target", "must differ from the source transaction")
	}

	var sourceDeleted bool
	err := common.WithRetry(ctx, func() error {
		return s.storage.InTx(ctx, func(st service.Storage) error {
			from, err := st.GetTransaction(ctx, fromID)
			if err != nil {
				return err
			}
			to, err := st.GetTransaction(ctx, toID)
			if err != nil {
				return err
			}
			if err := checkIndex(from, index); err != nil {
				return err
			}

			entry := from.Entries[index]
			from.Entries = append(from.Entries[:index], from.Entries[index+1:]...)
			entry.ID = ""
			to.Entries = append(to.Entries, entry)

			sourceDeleted = len(from.Entries) == 0
			if sourceDeleted {
				to.AbsorbReferences(from)
				if err := st.DeleteTransaction(ctx, from.ID); err != nil {
					return err
				}
			} else {
				from.IsBalanced = s.calculator.ComputeBalance(from).IsBalanced
				if err := st.SaveTransaction(ctx, from); err != nil {
					return err
				}
			}
			to.IsBalanced = s.calculator.ComputeBalance(to).IsBalanced
			return st.SaveTransaction(ctx, to)
		})
	}, s.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to move entry: %w", err)
	}

	common.LogInfo(ctx, "Entry moved", common.Fields{
		"from":           fromID,
		"to":             toID,
		"source_deleted": sourceDeleted,
	})
	if !sourceDeleted {
		if _, err := s.afterWrite(ctx, fromID); err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
	}
	return s.afterWrite(ctx, toID)
}

// MergeTransactions folds source into target: entries, applied rules and
// references are carried over and source is deleted. The target is returned.
func (s *Service) MergeTransactions(ctx context.Context, sourceID, targetID string) (*model.Transaction, error) {
	if sourceID == targetID {
		return nil, common.NewValidationError("target", "must differ from the source transaction")
	}

	err := common.WithRetry(ctx, func() error {
		return s.storage.InTx(ctx, func(st service.Storage) error {
			source, err := st.GetTransaction(ctx, sourceID)
			if err != nil {
				return err
			}
			target, err := st.GetTransaction(ctx, targetID)
			if err != nil {
				return err
			}

			target.Absorb(source)
			target.IsBalanced = s.calculator.ComputeBalance(target).IsBalanced

			if err := st.DeleteTransaction(ctx, source.ID); err != nil {
				return err
			}
			return st.SaveTransaction(ctx, target)
		})
	}, s.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to merge transactions: %w", err)
	}

	common.LogInfo(ctx, "Transactions merged", common.Fields{
		"source": sourceID,
		"target": targetID,
	})
	return s.afterWrite(ctx, targetID)
}

// ApplyRules runs the auto-apply rules against an existing transaction and
// refreshes its balanced flag.
func (s *Service) ApplyRules(ctx context.Context, id string) (*model.Transaction, error) {
	return s.afterWrite(ctx, id)
}

// RunRule applies one rule regardless of its auto-apply flag and refreshes
// the balanced flag of the surviving transaction.
func (s *Service) RunRule(ctx context.Context, ruleID int64, id string) (engine.Result, error) {
	var result engine.Result
	err := common.WithRetry(ctx, func() error {
		var runErr error
		result, runErr = s.rules.ApplyRule(ctx, ruleID, id)
		return runErr
	}, s.retry)
	if err != nil {
		return engine.Result{}, err
	}
	if !result.Applied {
		return result, nil
	}

	txn, err := s.refreshBalance(ctx, result.Transaction.ID)
	if err != nil {
		return engine.Result{}, err
	}
	result.Transaction = txn
	return result, nil
}

// mutate loads a transaction, applies fn and saves it, reloading and
// retrying when the save loses a version race.
func (s *Service) mutate(ctx context.Context, id string, fn func(*model.Transaction) error) (*model.Transaction, error) {
	err := common.WithRetry(ctx, func() error {
		txn, err := s.storage.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(txn); err != nil {
			return err
		}
		txn.IsBalanced = s.calculator.ComputeBalance(txn).IsBalanced
		return s.storage.SaveTransaction(ctx, txn)
	}, s.retry)
	if err != nil {
		return nil, err
	}
	return s.afterWrite(ctx, id)
}

// afterWrite runs the rule pass and refreshes the balanced flag of the
// transaction that survives it.
func (s *Service) afterWrite(ctx context.Context, id string) (*model.Transaction, error) {
	var outcome *engine.Outcome
	err := common.WithRetry(ctx, func() error {
		var runErr error
		outcome, runErr = s.rules.ApplyRulesToTransaction(ctx, id)
		return runErr
	}, s.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to apply rules: %w", err)
	}
	return s.refreshBalance(ctx, outcome.TransactionID)
}

func (s *Service) refreshBalance(ctx context.Context, id string) (*model.Transaction, error) {
	var txn *model.Transaction
	err := common.WithRetry(ctx, func() error {
		var err error
		txn, err = s.storage.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		balanced := s.calculator.ComputeBalance(txn).IsBalanced
		if balanced == txn.IsBalanced {
			return nil
		}
		txn.IsBalanced = balanced
		return s.storage.SaveTransaction(ctx, txn)
	}, s.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh balance: %w", err)
	}
	return txn, nil
}

func checkIndex(txn *model.Transaction, index int) error {
	if index < 0 || index >= len(txn.Entries) {
		return common.NewValidationError("entry index",
			fmt.Sprintf("%d out of range, transaction has %d entries", index, len(txn.Entries)))
	}
	return nil
}
