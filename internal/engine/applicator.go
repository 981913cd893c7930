package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/pattern"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/shopspring/decimal"
)

// Result describes the effect of applying one rule.
type Result struct {
	// Transaction is the transaction later rules should see. After a merge
	// it is the merge target, not the transaction the rule was applied to.
	Transaction *model.Transaction
	Reason      string // why the rule was not applied
	Consumed    string // id of a transaction deleted by a merge
	Applied     bool
}

// Applicator mutates transactions according to a single rule.
type Applicator struct {
	storage service.Storage
	matcher pattern.RuleMatcher
	now     func() time.Time
}

// NewApplicator creates an applicator writing through storage.
func NewApplicator(storage service.Storage, matcher pattern.RuleMatcher) *Applicator {
	return &Applicator{
		storage: storage,
		matcher: matcher,
		now:     time.Now,
	}
}

// Apply runs rule against txn. A rule already recorded on the transaction is
// never applied again. txn itself is not modified; the mutated copy is
// returned in Result.Transaction.
func (a *Applicator) Apply(ctx context.Context, rule model.Rule, txn *model.Transaction) (Result, error) {
	if txn.HasAppliedRule(rule.ID) {
		return notApplied(txn, "already applied"), nil
	}

	ok, err := a.matcher.Matches(rule, *txn)
	if err != nil {
		return notApplied(txn, "invalid pattern"), err
	}
	if !ok {
		return notApplied(txn, "no match"), nil
	}

	switch rule.Type {
	case model.RuleTypeEdit:
		return a.applyEdit(ctx, rule, txn)
	case model.RuleTypeMerge:
		return a.applyMerge(ctx, rule, txn)
	case model.RuleTypeComplementary:
		return a.applyComplementary(ctx, rule, txn)
	default:
		return notApplied(txn, "unknown rule type"),
			fmt.Errorf("%w: rule %d has unknown type %q", common.ErrRuleConfiguration, rule.ID, rule.Type)
	}
}

// applyEdit replaces the whole description with the rule's new description.
func (a *Applicator) applyEdit(ctx context.Context, rule model.Rule, txn *model.Transaction) (Result, error) {
	updated := cloneTransaction(txn)
	updated.Description = rule.NewDescription
	updated.MarkRuleApplied(rule.ID, a.now())

	if err := a.storage.SaveTransaction(ctx, updated); err != nil {
		return notApplied(txn, "save failed"), fmt.Errorf("failed to save edited transaction: %w", err)
	}
	return Result{Transaction: updated, Applied: true}, nil
}

// applyMerge folds txn into the single other transaction that matches the
// rule within [txn.Date, txn.Date + MaxDateDifference days]. Zero or several
// candidates leave everything untouched.
func (a *Applicator) applyMerge(ctx context.Context, rule model.Rule, txn *model.Transaction) (Result, error) {
	start := txn.Date
	end := txn.Date.AddDate(0, 0, rule.MaxDateDifference)

	candidates, err := a.storage.FindTransactions(ctx, service.TransactionFilter{
		StartDate:  &start,
		EndDate:    &end,
		AccountIDs: rule.SourceAccounts,
		ExcludeIDs: []string{txn.ID},
	})
	if err != nil {
		return notApplied(txn, "candidate lookup failed"), fmt.Errorf("failed to find merge candidates: %w", err)
	}

	var matched []model.Transaction
	for _, c := range candidates {
		ok, err := a.matcher.MatchesDescription(rule, c.Description)
		if err != nil {
			return notApplied(txn, "invalid pattern"), err
		}
		if ok {
			matched = append(matched, c)
		}
	}

	if len(matched) != 1 {
		return notApplied(txn, "ambiguous merge"),
			fmt.Errorf("%w: rule %d found %d candidates for transaction %s", common.ErrAmbiguousMerge, rule.ID, len(matched), txn.ID)
	}

	target := cloneTransaction(&matched[0])
	target.Absorb(txn)
	target.MarkRuleApplied(rule.ID, a.now())

	err = a.storage.InTx(ctx, func(st service.Storage) error {
		if err := st.SaveTransaction(ctx, target); err != nil {
			return fmt.Errorf("failed to save merge target: %w", err)
		}
		if err := st.DeleteTransaction(ctx, txn.ID); err != nil {
			return fmt.Errorf("failed to delete merged transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return notApplied(txn, "merge failed"), err
	}

	slog.Debug("Merged transaction",
		"rule_id", rule.ID,
		"from", txn.ID,
		"into", target.ID,
		"entries_moved", len(txn.Entries))

	return Result{Transaction: target, Applied: true, Consumed: txn.ID}, nil
}

// applyComplementary allocates the first positive source entry across the
// rule's destinations as credit entries rounded to two decimal places.
func (a *Applicator) applyComplementary(ctx context.Context, rule model.Rule, txn *model.Transaction) (Result, error) {
	idx := pattern.SourceEntryIndex(rule, *txn)
	if idx < 0 {
		return notApplied(txn, "no positive source entry"), nil
	}

	marker := rule.MarkerDescription()
	for _, e := range txn.Entries {
		if e.Description == marker {
			return notApplied(txn, "generated entries already present"), nil
		}
	}

	destIDs := make([]string, 0, len(rule.Destinations))
	for _, d := range rule.Destinations {
		destIDs = append(destIDs, d.AccountID)
	}
	accounts, err := a.storage.GetAccounts(ctx, destIDs)
	if err != nil {
		return notApplied(txn, "destination lookup failed"), fmt.Errorf("failed to load destination accounts: %w", err)
	}

	source := txn.Entries[idx]
	updated := cloneTransaction(txn)
	added := 0
	for _, d := range rule.Destinations {
		account, ok := accounts[d.AccountID]
		if !ok {
			return notApplied(txn, "unknown destination"), common.NewNotFoundError("account", d.AccountID)
		}

		amount := Allocate(source.Amount, d.Ratio)
		if !amount.IsPositive() {
			slog.Debug("Skipping zero allocation",
				"rule_id", rule.ID,
				"account_id", d.AccountID,
				"ratio", d.Ratio.String())
			continue
		}

		updated.Entries = append(updated.Entries, model.EntryLine{
			AccountID:   d.AccountID,
			Amount:      amount,
			Type:        model.Credit,
			Unit:        account.Unit,
			Description: marker,
		})
		added++
	}
	if added == 0 {
		return notApplied(txn, "allocations round to zero"), nil
	}

	updated.MarkRuleApplied(rule.ID, a.now())
	if err := a.storage.SaveTransaction(ctx, updated); err != nil {
		return notApplied(txn, "save failed"), fmt.Errorf("failed to save complementary entries: %w", err)
	}
	return Result{Transaction: updated, Applied: true}, nil
}

// Allocate returns amount * ratio rounded half away from zero to two places.
func Allocate(amount, ratio decimal.Decimal) decimal.Decimal {
	return amount.Mul(ratio).Round(2)
}

func notApplied(txn *model.Transaction, reason string) Result {
	return Result{Transaction: txn, Reason: reason}
}

func cloneTransaction(txn *model.Transaction) *model.Transaction {
	c := *txn
	c.Entries = append([]model.EntryLine(nil), txn.Entries...)
	c.AppliedRules = append([]model.AppliedRule(nil), txn.AppliedRules...)
	c.AbsorbedReferences = append([]string(nil), txn.AbsorbedReferences...)
	return &c
}
