package engine

import (
	"context"
	"testing"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/pattern"
	"github.com/Veraticus/ledgerflow/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicator_Complementary(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	ctx := context.Background()

	groceries := db.ID(testutil.AccountGroceries)
	household := db.ID(testutil.AccountHousehold)
	rule := db.MustCreateRule(model.Rule{
		Name:           "Costco split",
		Type:           model.RuleTypeComplementary,
		Pattern:        "costco",
		SourceAccounts: []string{db.ID(testutil.AccountCreditCard)},
		Destinations: []model.Destination{
			{AccountID: groceries, Ratio: decimal.RequireFromString("0.6")},
			{AccountID: household, Ratio: decimal.RequireFromString("0.4")},
		},
	})
	txn := db.MustSaveTransaction(testutil.Day(2024, 7, 1), "COSTCO WHOLESALE",
		db.Debit(testutil.AccountCreditCard, "100"))

	app := NewApplicator(db.Storage, pattern.NewMatcher(nil))
	result, err := app.Apply(ctx, *rule, txn)
	require.NoError(t, err)
	require.True(t, result.Applied)
	assert.Len(t, txn.Entries, 1, "input transaction must not be modified")

	got, err := db.Storage.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, got.Entries, 3)

	want := []struct {
		account string
		amount  string
	}{
		{account: groceries, amount: "60.00"},
		{account: household, amount: "40.00"},
	}
	for i, w := range want {
		e := got.Entries[i+1]
		assert.Equal(t, w.account, e.AccountID)
		assert.Equal(t, model.Credit, e.Type)
		assert.True(t, e.Amount.Equal(decimal.RequireFromString(w.amount)), "entry %d amount %s", i, e.Amount)
		assert.Equal(t, "USD", e.Unit)
		assert.Equal(t, "Auto-generated by rule: Costco split", e.Description)
	}
	assert.True(t, got.HasAppliedRule(rule.ID))

	t.Run("already applied", func(t *testing.T) {
		again, err := app.Apply(ctx, *rule, got)
		require.NoError(t, err)
		assert.False(t, again.Applied)
		assert.Equal(t, "already applied", again.Reason)
	})
}

func TestApplicator_ComplementaryGeneratedEntriesPresent(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	ctx := context.Background()

	rule := db.MustCreateRule(model.Rule{
		Name:    "Costco split",
		Type:    model.RuleTypeComplementary,
		Pattern: "costco",
		Destinations: []model.Destination{
			{AccountID: db.ID(testutil.AccountGroceries), Ratio: decimal.RequireFromString("1")},
		},
	})
	generated := db.Credit(testutil.AccountGroceries, "100")
	generated.Description = rule.MarkerDescription()
	txn := db.MustSaveTransaction(testutil.Day(2024, 7, 1), "COSTCO WHOLESALE",
		db.Debit(testutil.AccountCreditCard, "100"), generated)
	require.False(t, txn.HasAppliedRule(rule.ID))

	result, err := NewApplicator(db.Storage, pattern.NewMatcher(nil)).Apply(ctx, *rule, txn)
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, "generated entries already present", result.Reason)

	got, err := db.Storage.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Len(t, got.Entries, 2)
	assert.Empty(t, got.AppliedRules)
	assert.Equal(t, txn.Version, got.Version)
}

func TestApplicator_ComplementaryZeroAllocations(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	ctx := context.Background()

	rule := db.MustCreateRule(model.Rule{
		Name:    "tiny",
		Type:    model.RuleTypeComplementary,
		Pattern: "fee",
		Destinations: []model.Destination{
			{AccountID: db.ID(testutil.AccountHousehold), Ratio: decimal.RequireFromString("0.1")},
		},
	})
	txn := db.MustSaveTransaction(testutil.Day(2024, 7, 2), "FEE",
		db.Debit(testutil.AccountChecking, "0.01"))

	result, err := NewApplicator(db.Storage, pattern.NewMatcher(nil)).Apply(ctx, *rule, txn)
	require.NoError(t, err)
	assert.False(t, result.Applied)

	got, err := db.Storage.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Len(t, got.Entries, 1)
	assert.Empty(t, got.AppliedRules)
}

func TestApplicator_Merge(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	ctx := context.Background()

	checking := db.ID(testutil.AccountChecking)
	savings := db.ID(testutil.AccountSavings)
	rule := db.MustCreateRule(model.Rule{
		Name:              "transfers",
		Type:              model.RuleTypeMerge,
		Pattern:           "transfer",
		SourceAccounts:    []string{checking, savings},
		MaxDateDifference: 3,
	})

	trigger := db.MustSaveTransaction(testutil.Day(2024, 8, 1), "TRANSFER TO SAVINGS",
		db.Credit(testutil.AccountChecking, "500"))
	first := db.MustSaveTransaction(testutil.Day(2024, 8, 2), "Transfer from checking",
		db.Debit(testutil.AccountSavings, "500"))
	second := db.MustSaveTransaction(testutil.Day(2024, 8, 3), "TRANSFER IN",
		db.Debit(testutil.AccountSavings, "500"))
	// Outside the window and before the trigger: never candidates.
	db.MustSaveTransaction(testutil.Day(2024, 8, 9), "TRANSFER LATE", db.Debit(testutil.AccountSavings, "500"))
	db.MustSaveTransaction(testutil.Day(2024, 7, 31), "TRANSFER EARLY", db.Debit(testutil.AccountSavings, "500"))

	app := NewApplicator(db.Storage, pattern.NewMatcher(nil))

	t.Run("ambiguous leaves everything untouched", func(t *testing.T) {
		result, err := app.Apply(ctx, *rule, trigger)
		require.ErrorIs(t, err, common.ErrAmbiguousMerge)
		assert.False(t, result.Applied)

		_, err = db.Storage.GetTransaction(ctx, trigger.ID)
		assert.NoError(t, err)
	})

	require.NoError(t, db.Storage.DeleteTransaction(ctx, second.ID))

	t.Run("single candidate absorbs the trigger", func(t *testing.T) {
		trigger.MarkRuleApplied(999, testutil.Day(2024, 8, 1))

		result, err := app.Apply(ctx, *rule, trigger)
		require.NoError(t, err)
		require.True(t, result.Applied)
		assert.Equal(t, trigger.ID, result.Consumed)
		assert.Equal(t, first.ID, result.Transaction.ID)

		_, err = db.Storage.GetTransaction(ctx, trigger.ID)
		assert.ErrorIs(t, err, common.ErrNotFound)

		target, err := db.Storage.GetTransaction(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "Transfer from checking", target.Description)
		require.Len(t, target.Entries, 2)
		assert.Equal(t, checking, target.Entries[1].AccountID)
		assert.Equal(t, model.Credit, target.Entries[1].Type)
		assert.True(t, target.HasAppliedRule(rule.ID))
		assert.True(t, target.HasAppliedRule(999))
	})
}

func TestApplicator_MergeWithoutCandidates(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	ctx := context.Background()

	rule := db.MustCreateRule(model.Rule{
		Name: "merge", Type: model.RuleTypeMerge, Pattern: "payment", MaxDateDifference: 1,
	})
	trigger := db.MustSaveTransaction(testutil.Day(2024, 9, 1), "CARD PAYMENT",
		db.Credit(testutil.AccountChecking, "250"))

	result, err := NewApplicator(db.Storage, pattern.NewMatcher(nil)).Apply(ctx, *rule, trigger)
	assert.ErrorIs(t, err, common.ErrAmbiguousMerge)
	assert.False(t, result.Applied)
}

func TestApplicator_NoMatch(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	rule := db.MustCreateRule(model.Rule{
		Name: "edit", Type: model.RuleTypeEdit, Pattern: "netflix", NewDescription: "Netflix",
	})
	txn := db.MustSaveTransaction(testutil.Day(2024, 9, 2), "SPOTIFY", db.Credit(testutil.AccountCreditCard, "9.99"))

	result, err := NewApplicator(db.Storage, pattern.NewMatcher(nil)).Apply(context.Background(), *rule, txn)
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, "no match", result.Reason)
	assert.Same(t, txn, result.Transaction)
}
