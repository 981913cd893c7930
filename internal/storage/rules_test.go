package storage

import (
	"context"
	"sort"
	"testing"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStorage_RuleCRUD(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	checking := createTestAccount(t, store, "Checking", model.AccountTypeAsset)
	savings := createTestAccount(t, store, "Savings", model.AccountTypeAsset)
	groceries := createTestAccount(t, store, "Groceries", model.AccountTypeExpense)
	household := createTestAccount(t, store, "Household", model.AccountTypeExpense)

	rule := &model.Rule{
		Name:           "Costco split",
		Type:           model.RuleTypeComplementary,
		Pattern:        "(?i)costco",
		SourceAccounts: []string{checking, savings},
		Destinations: []model.Destination{
			{AccountID: groceries, Ratio: decimal.RequireFromString("0.6")},
			{AccountID: household, Ratio: decimal.RequireFromString("0.4")},
		},
		Priority:  5,
		AutoApply: true,
	}
	require.NoError(t, store.CreateRule(ctx, rule))
	assert.NotZero(t, rule.ID)

	got, err := store.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "Costco split", got.Name)
	assert.Equal(t, model.RuleTypeComplementary, got.Type)
	assert.Equal(t, 5, got.Priority)
	assert.True(t, got.AutoApply)

	wantSources := []string{checking, savings}
	sort.Strings(wantSources)
	assert.Equal(t, wantSources, got.SourceAccounts)

	require.Len(t, got.Destinations, 2)
	assert.Equal(t, groceries, got.Destinations[0].AccountID)
	assert.True(t, got.Destinations[0].Ratio.Equal(decimal.RequireFromString("0.6")))
	assert.Equal(t, household, got.Destinations[1].AccountID)

	t.Run("update replaces children", func(t *testing.T) {
		got.Destinations = got.Destinations[:1]
		got.SourceAccounts = nil
		got.AutoApply = false
		require.NoError(t, store.UpdateRule(ctx, got))

		reloaded, err := store.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		assert.Len(t, reloaded.Destinations, 1)
		assert.Empty(t, reloaded.SourceAccounts)
		assert.False(t, reloaded.AutoApply)
	})

	t.Run("update missing rule", func(t *testing.T) {
		missing := *got
		missing.ID = 9999
		assert.ErrorIs(t, store.UpdateRule(ctx, &missing), common.ErrNotFound)
	})

	t.Run("duplicate name", func(t *testing.T) {
		dup := &model.Rule{Name: "Costco split", Type: model.RuleTypeEdit, Pattern: "x", NewDescription: "y"}
		assert.ErrorIs(t, store.CreateRule(ctx, dup), common.ErrDuplicateEntry)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteRule(ctx, rule.ID))
		_, err := store.GetRule(ctx, rule.ID)
		assert.ErrorIs(t, err, common.ErrNotFound)
		assert.ErrorIs(t, store.DeleteRule(ctx, rule.ID), common.ErrNotFound)
	})
}

func TestSQLiteStorage_RuleValidation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tests := []struct {
		rule *model.Rule
		name string
	}{
		{name: "nil rule"},
		{name: "missing name", rule: &model.Rule{Type: model.RuleTypeEdit, Pattern: "a", NewDescription: "b"}},
		{name: "unknown type", rule: &model.Rule{Name: "r", Type: "rename", Pattern: "a"}},
		{name: "missing pattern", rule: &model.Rule{Name: "r", Type: model.RuleTypeEdit, NewDescription: "b"}},
		{name: "edit without description", rule: &model.Rule{Name: "r", Type: model.RuleTypeEdit, Pattern: "a"}},
		{name: "merge with negative window", rule: &model.Rule{Name: "r", Type: model.RuleTypeMerge, Pattern: "a", MaxDateDifference: -1}},
		{name: "complementary without destinations", rule: &model.Rule{Name: "r", Type: model.RuleTypeComplementary, Pattern: "a"}},
		{
			name: "complementary with zero ratio",
			rule: &model.Rule{Name: "r", Type: model.RuleTypeComplementary, Pattern: "a",
				Destinations: []model.Destination{{AccountID: "x", Ratio: decimal.Zero}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, store.CreateRule(ctx, tt.rule))
		})
	}

	t.Run("invalid regex is accepted", func(t *testing.T) {
		rule := &model.Rule{Name: "broken", Type: model.RuleTypeEdit, Pattern: "([", NewDescription: "x"}
		assert.NoError(t, store.CreateRule(ctx, rule))
	})
}

func TestSQLiteStorage_GetAutoApplyRules(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	for _, r := range []*model.Rule{
		{Name: "first", Type: model.RuleTypeEdit, Pattern: "a", NewDescription: "A", AutoApply: true, Priority: 1},
		{Name: "manual", Type: model.RuleTypeEdit, Pattern: "b", NewDescription: "B"},
		{Name: "second", Type: model.RuleTypeMerge, Pattern: "c", AutoApply: true, Priority: 9, MaxDateDifference: 3},
	} {
		require.NoError(t, store.CreateRule(ctx, r))
	}

	auto, err := store.GetAutoApplyRules(ctx)
	require.NoError(t, err)
	require.Len(t, auto, 2)
	assert.Equal(t, "first", auto[0].Name)
	assert.Equal(t, "second", auto[1].Name)
	assert.Equal(t, 3, auto[1].MaxDateDifference)

	all, err := store.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
