package pattern

import (
	"regexp"
	"sync"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
)

// RegexCompiler compiles case-insensitive RE2 patterns and memoizes them.
type RegexCompiler struct {
	cache map[string]*regexp.Regexp
	mu    sync.Mutex
}

// NewRegexCompiler creates an empty compiler cache.
func NewRegexCompiler() *RegexCompiler {
	return &RegexCompiler{cache: make(map[string]*regexp.Regexp)}
}

// Compile returns the cached regexp for pattern, compiling it on first use.
func (c *RegexCompiler) Compile(pattern string) (TextMatcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if re, ok := c.cache[pattern]; ok {
		return re, nil
	}
	re, err := common.CompileInsensitive(pattern)
	if err != nil {
		return nil, err
	}
	c.cache[pattern] = re
	return re, nil
}

// MatcherImpl implements RuleMatcher.
type MatcherImpl struct {
	compiler Compiler
}

// NewMatcher creates a rule matcher. A nil compiler uses a fresh RegexCompiler.
func NewMatcher(compiler Compiler) *MatcherImpl {
	if compiler == nil {
		compiler = NewRegexCompiler()
	}
	return &MatcherImpl{compiler: compiler}
}

// Matches checks the pattern, the source-account filter and, for
// complementary rules, that a positive source entry exists.
func (m *MatcherImpl) Matches(rule model.Rule, txn model.Transaction) (bool, error) {
	ok, err := m.MatchesDescription(rule, txn.Description)
	if err != nil || !ok {
		return false, err
	}

	if !matchesSourceAccounts(rule, txn) {
		return false, nil
	}

	if rule.Type == model.RuleTypeComplementary {
		return SourceEntryIndex(rule, txn) >= 0, nil
	}
	return true, nil
}

// MatchesDescription tests the rule pattern against a description.
func (m *MatcherImpl) MatchesDescription(rule model.Rule, description string) (bool, error) {
	tm, err := m.compiler.Compile(rule.Pattern)
	if err != nil {
		return false, &common.RuleConfigurationError{RuleID: rule.ID, Pattern: rule.Pattern, Err: err}
	}
	return tm.MatchString(description), nil
}

// matchesSourceAccounts requires one entry on a source account. An empty
// source set matches unconditionally, including transactions without entries.
func matchesSourceAccounts(rule model.Rule, txn model.Transaction) bool {
	if len(rule.SourceAccounts) == 0 {
		return true
	}
	for _, e := range txn.Entries {
		if rule.HasSourceAccount(e.AccountID) {
			return true
		}
	}
	return false
}

// SourceEntryIndex returns the index of the first entry on one of the rule's
// source accounts with a positive amount, or -1.
func SourceEntryIndex(rule model.Rule, txn model.Transaction) int {
	for i, e := range txn.Entries {
		if rule.HasSourceAccount(e.AccountID) && e.Amount.IsPositive() {
			return i
		}
	}
	return -1
}
