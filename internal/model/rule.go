package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleType selects how a rule mutates a matching transaction.
type RuleType string

const (
	// RuleTypeEdit replaces the transaction description.
	RuleTypeEdit RuleType = "edit"
	// RuleTypeMerge folds the transaction into a single matching sibling.
	RuleTypeMerge RuleType = "merge"
	// RuleTypeComplementary allocates a source entry across destination accounts.
	RuleTypeComplementary RuleType = "complementary"
)

// Valid reports whether the rule type is known.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeEdit, RuleTypeMerge, RuleTypeComplementary:
		return true
	}
	return false
}

// Destination is one allocation target of a complementary rule. Ratios across
// destinations need not sum to one.
type Destination struct {
	AccountID string          `json:"account_id" yaml:"account"`
	Ratio     decimal.Decimal `json:"ratio" yaml:"ratio"`
}

// Rule describes an automatic rewrite of transactions whose description
// matches Pattern.
type Rule struct {
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	Name              string        `json:"name"`
	Type              RuleType      `json:"type"`
	Pattern           string        `json:"pattern"`
	NewDescription    string        `json:"new_description,omitempty"`
	SourceAccounts    []string      `json:"source_accounts,omitempty"`
	Destinations      []Destination `json:"destinations,omitempty"`
	ID                int64         `json:"id"`
	Priority          int           `json:"priority"`
	MaxDateDifference int           `json:"max_date_difference,omitempty"` // days
	AutoApply         bool          `json:"auto_apply"`
}

// HasSourceAccount reports whether the account is in the rule's source set.
// An empty set accepts every account.
func (r *Rule) HasSourceAccount(accountID string) bool {
	if len(r.SourceAccounts) == 0 {
		return true
	}
	for _, id := range r.SourceAccounts {
		if id == accountID {
			return true
		}
	}
	return false
}

// MarkerDescription is the description stamped on entries generated by a
// complementary rule.
func (r *Rule) MarkerDescription() string {
	return "Auto-generated by rule: " + r.Name
}
