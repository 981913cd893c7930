// Package pattern decides whether reconciliation rules apply to transactions.
package pattern

import "github.com/Veraticus/ledgerflow/internal/model"

// TextMatcher tests free text against one compiled rule pattern.
type TextMatcher interface {
	MatchString(text string) bool
}

// Compiler turns a user-authored pattern into a TextMatcher. Implementations
// may cache, sandbox or time-limit evaluation.
type Compiler interface {
	Compile(pattern string) (TextMatcher, error)
}

// RuleMatcher evaluates whether a rule applies to a transaction.
type RuleMatcher interface {
	// Matches returns a *common.RuleConfigurationError when the rule pattern is malformed.
	Matches(rule model.Rule, txn model.Transaction) (bool, error)
	// MatchesDescription applies only the rule's pattern.
	MatchesDescription(rule model.Rule, description string) (bool, error)
}
