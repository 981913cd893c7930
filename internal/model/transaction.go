// Package model defines the core data structures for the ledger.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType is the side of the ledger an entry line posts to.
type EntryType string

const (
	// Debit increases asset and expense accounts.
	Debit EntryType = "debit"
	// Credit increases liability, income and equity accounts.
	Credit EntryType = "credit"
)

// Valid reports whether the entry type is debit or credit.
func (t EntryType) Valid() bool {
	return t == Debit || t == Credit
}

// EntryLine is one debit or credit row of a transaction.
type EntryLine struct {
	Quantity    *decimal.Decimal // set for non-currency units (shares, coins)
	Amount      decimal.Decimal
	ID          string
	AccountID   string
	Type        EntryType
	Unit        string
	Description string
}

// AppliedRule records that a rule has already mutated a transaction.
type AppliedRule struct {
	AppliedAt time.Time
	RuleID    int64
}

// Transaction is a dated set of entry lines. It may be unbalanced; balancing
// is a workflow rather than a write-time constraint.
type Transaction struct {
	Date         time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ID           string
	Description  string
	Reference    string
	Notes        string
	Entries      []EntryLine
	AppliedRules []AppliedRule
	// AbsorbedReferences holds the references of transactions merged into
	// this one, so imports still recognise their lines.
	AbsorbedReferences []string
	Version            int64
	IsBalanced         bool
}

// HasAppliedRule reports whether the rule has already been applied.
func (t *Transaction) HasAppliedRule(ruleID int64) bool {
	for _, ar := range t.AppliedRules {
		if ar.RuleID == ruleID {
			return true
		}
	}
	return false
}

// MarkRuleApplied records a rule application. Recording the same rule twice is a no-op.
func (t *Transaction) MarkRuleApplied(ruleID int64, at time.Time) {
	if t.HasAppliedRule(ruleID) {
		return
	}
	t.AppliedRules = append(t.AppliedRules, AppliedRule{RuleID: ruleID, AppliedAt: at})
}

// AccountIDs returns the distinct account ids referenced by the entries, in entry order.
func (t *Transaction) AccountIDs() []string {
	seen := make(map[string]bool, len(t.Entries))
	ids := make([]string, 0, len(t.Entries))
	for _, e := range t.Entries {
		if seen[e.AccountID] {
			continue
		}
		seen[e.AccountID] = true
		ids = append(ids, e.AccountID)
	}
	return ids
}

// HasReference reports whether ref is the transaction's own reference or one
// it absorbed.
func (t *Transaction) HasReference(ref string) bool {
	if ref == "" {
		return false
	}
	if t.Reference == ref {
		return true
	}
	for _, r := range t.AbsorbedReferences {
		if r == ref {
			return true
		}
	}
	return false
}

// AbsorbReferences records other's reference and everything it absorbed.
func (t *Transaction) AbsorbReferences(other *Transaction) {
	refs := append([]string{other.Reference}, other.AbsorbedReferences...)
	for _, ref := range refs {
		if ref == "" || t.HasReference(ref) {
			continue
		}
		t.AbsorbedReferences = append(t.AbsorbedReferences, ref)
	}
}

// Absorb folds other into t: its entries are appended with cleared ids, and
// its applied rules and references are carried over.
func (t *Transaction) Absorb(other *Transaction) {
	for _, e := range other.Entries {
		e.ID = ""
		t.Entries = append(t.Entries, e)
	}
	for _, ar := range other.AppliedRules {
		t.MarkRuleApplied(ar.RuleID, ar.AppliedAt)
	}
	t.AbsorbReferences(other)
}
