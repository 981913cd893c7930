package main

import (
	"context"
	"testing"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntrySpec(t *testing.T) {
	tests := []struct {
		name        string
		spec        string
		wantAccount string
		wantType    model.EntryType
		wantAmount  string
		wantQty     string
		wantDesc    string
		wantErr     bool
	}{
		{name: "minimal", spec: "Checking:credit:42.10", wantAccount: "Checking", wantType: model.Credit, wantAmount: "42.1"},
		{name: "case insensitive type", spec: "Dining:DEBIT:5", wantAccount: "Dining", wantType: model.Debit, wantAmount: "5"},
		{
			name: "quantity and description", spec: "Brokerage:debit:450:3:AAPL buy",
			wantAccount: "Brokerage", wantType: model.Debit, wantAmount: "450", wantQty: "3", wantDesc: "AAPL buy",
		},
		{
			name: "description may contain colons", spec: "Dining:debit:12::lunch: tacos",
			wantAccount: "Dining", wantType: model.Debit, wantAmount: "12", wantDesc: "lunch: tacos",
		},
		{name: "too few parts", spec: "Checking:credit", wantErr: true},
		{name: "empty account", spec: ":credit:5", wantErr: true},
		{name: "bad type", spec: "Checking:sideways:5", wantErr: true},
		{name: "zero amount", spec: "Checking:credit:0", wantErr: true},
		{name: "bad amount", spec: "Checking:credit:lots", wantErr: true},
		{name: "negative quantity", spec: "Checking:credit:5:-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account, entry, err := parseEntrySpec(tt.spec)
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAccount, account)
			assert.Equal(t, tt.wantType, entry.Type)
			assert.True(t, entry.Amount.Equal(decimal.RequireFromString(tt.wantAmount)))
			if tt.wantQty == "" {
				assert.Nil(t, entry.Quantity)
			} else {
				require.NotNil(t, entry.Quantity)
				assert.True(t, entry.Quantity.Equal(decimal.RequireFromString(tt.wantQty)))
			}
			assert.Equal(t, tt.wantDesc, entry.Description)
		})
	}
}

func TestParseDestination(t *testing.T) {
	name, ratio, err := parseDestination("Groceries=0.6")
	require.NoError(t, err)
	assert.Equal(t, "Groceries", name)
	assert.True(t, ratio.Equal(decimal.RequireFromString("0.6")))

	for _, spec := range []string{"Groceries", "=0.5", "Groceries=0", "Groceries=half"} {
		_, _, err := parseDestination(spec)
		assert.ErrorIs(t, err, common.ErrValidation, spec)
	}
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2024-03-15")
	require.NoError(t, err)
	assert.True(t, got.Equal(testutil.Day(2024, 3, 15)))

	today, err := parseDate("")
	require.NoError(t, err)
	assert.Zero(t, today.Hour())
	assert.Zero(t, today.Minute())

	_, err = parseDate("15/03/2024")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestParseIndexAndRuleID(t *testing.T) {
	i, err := parseIndex("2")
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	_, err = parseIndex("-1")
	assert.ErrorIs(t, err, common.ErrValidation)

	id, err := parseRuleID("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	_, err = parseRuleID("0")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestResolveAccount(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	ctx := context.Background()

	byID, err := resolveAccount(ctx, db.Storage, db.ID(testutil.AccountDining))
	require.NoError(t, err)
	assert.Equal(t, "Dining", byID.Name)

	byName, err := resolveAccount(ctx, db.Storage, "credit card")
	require.NoError(t, err)
	assert.Equal(t, db.ID(testutil.AccountCreditCard), byName.ID)

	_, err = resolveAccount(ctx, db.Storage, "Crypto")
	require.ErrorIs(t, err, common.ErrNotFound)
	var userErr *common.UserError
	assert.ErrorAs(t, err, &userErr)

	entries, err := buildEntries(ctx, db.Storage, []string{"Dining:debit:20", "checking:credit:20"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, db.ID(testutil.AccountChecking), entries[1].AccountID)
}
