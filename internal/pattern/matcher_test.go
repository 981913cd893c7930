package pattern

import (
	"testing"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Matches(t *testing.T) {
	entry := func(account string, typ model.EntryType, amount string) model.EntryLine {
		return model.EntryLine{AccountID: account, Type: typ, Amount: decimal.RequireFromString(amount)}
	}

	tests := []struct {
		name string
		rule model.Rule
		txn  model.Transaction
		want bool
	}{
		{
			name: "case insensitive description",
			rule: model.Rule{Type: model.RuleTypeEdit, Pattern: "grocery"},
			txn:  model.Transaction{Description: "GROCERY SHOPPING"},
			want: true,
		},
		{
			name: "anchored pattern",
			rule: model.Rule{Type: model.RuleTypeEdit, Pattern: "^shop"},
			txn:  model.Transaction{Description: "GROCERY SHOPPING"},
			want: false,
		},
		{
			name: "empty source set ignores entries",
			rule: model.Rule{Type: model.RuleTypeMerge, Pattern: "transfer"},
			txn:  model.Transaction{Description: "Transfer"},
			want: true,
		},
		{
			name: "entry on source account",
			rule: model.Rule{Type: model.RuleTypeEdit, Pattern: ".", SourceAccounts: []string{"checking"}},
			txn:  model.Transaction{Description: "x", Entries: []model.EntryLine{entry("checking", model.Credit, "5")}},
			want: true,
		},
		{
			name: "no entry on source account",
			rule: model.Rule{Type: model.RuleTypeEdit, Pattern: ".", SourceAccounts: []string{"checking"}},
			txn:  model.Transaction{Description: "x", Entries: []model.EntryLine{entry("savings", model.Credit, "5")}},
			want: false,
		},
		{
			name: "complementary needs a positive source entry",
			rule: model.Rule{Type: model.RuleTypeComplementary, Pattern: "costco"},
			txn:  model.Transaction{Description: "COSTCO"},
			want: false,
		},
		{
			name: "complementary with source entry",
			rule: model.Rule{Type: model.RuleTypeComplementary, Pattern: "costco", SourceAccounts: []string{"card"}},
			txn: model.Transaction{Description: "COSTCO #12", Entries: []model.EntryLine{
				entry("groceries", model.Debit, "10"), entry("card", model.Debit, "100"),
			}},
			want: true,
		},
	}

	m := NewMatcher(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Matches(tt.rule, tt.txn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatcher_InvalidPattern(t *testing.T) {
	m := NewMatcher(nil)
	rule := model.Rule{ID: 4, Type: model.RuleTypeEdit, Pattern: "(unclosed"}

	ok, err := m.Matches(rule, model.Transaction{Description: "anything"})
	assert.False(t, ok)
	require.ErrorIs(t, err, common.ErrRuleConfiguration)

	var cfgErr *common.RuleConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, int64(4), cfgErr.RuleID)
	assert.Equal(t, "(unclosed", cfgErr.Pattern)
}

func TestRegexCompiler_Caches(t *testing.T) {
	c := NewRegexCompiler()
	first, err := c.Compile("coffee")
	require.NoError(t, err)
	second, err := c.Compile("coffee")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.True(t, first.MatchString("COFFEE SHOP"))
}

func TestSourceEntryIndex(t *testing.T) {
	rule := model.Rule{SourceAccounts: []string{"card"}}
	txn := model.Transaction{Entries: []model.EntryLine{
		{AccountID: "groceries", Amount: decimal.NewFromInt(5)},
		{AccountID: "card", Amount: decimal.NewFromInt(100)},
	}}
	assert.Equal(t, 1, SourceEntryIndex(rule, txn))
	assert.Equal(t, 0, SourceEntryIndex(model.Rule{}, txn))
	assert.Equal(t, -1, SourceEntryIndex(rule, model.Transaction{}))
}
