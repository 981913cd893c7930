package rulefile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRules = `rules:
  - name: Groceries
    type: edit
    pattern: grocery
    new_description: GROCERIES
    priority: 10
    auto_apply: true
  - name: Costco split
    type: complementary
    pattern: costco
    source_accounts: [Credit Card]
    destinations:
      - account: Groceries
        ratio: "0.6"
      - account: Household
        ratio: "0.4"
    priority: 5
    auto_apply: true
  - name: Transfers
    type: merge
    pattern: transfer
    source_accounts: [Checking, Savings]
    max_date_difference: 3
    priority: 0
    auto_apply: false
`

func TestDecode(t *testing.T) {
	f, err := Decode(strings.NewReader(sampleRules))
	require.NoError(t, err)
	require.Len(t, f.Rules, 3)

	costco := f.Rules[1]
	assert.Equal(t, "complementary", costco.Type)
	assert.Equal(t, []string{"Credit Card"}, costco.SourceAccounts)
	require.Len(t, costco.Destinations, 2)
	assert.Equal(t, DestinationSpec{Account: "Household", Ratio: "0.4"}, costco.Destinations[1])

	assert.Equal(t, 3, f.Rules[2].MaxDateDifference)
	assert.False(t, f.Rules[2].AutoApply)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "empty document", input: ""},
		{name: "unknown field", input: "rules:\n  - name: x\n    colour: blue\n", wantErr: true},
		{name: "malformed yaml", input: "rules: [\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, f.Rules)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	f, err := Decode(strings.NewReader(sampleRules))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, f))
	assert.Contains(t, buf.String(), "new_description: GROCERIES")

	again, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, f, again)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Rules, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestToRules_Errors(t *testing.T) {
	byName := map[string]model.Account{
		"Groceries": {ID: "g", Name: "Groceries"},
	}

	tests := []struct {
		wantErr error
		name    string
		spec    RuleSpec
	}{
		{
			name:    "unknown source account",
			spec:    RuleSpec{Name: "r", SourceAccounts: []string{"Nope"}},
			wantErr: common.ErrNotFound,
		},
		{
			name:    "unknown destination",
			spec:    RuleSpec{Name: "r", Destinations: []DestinationSpec{{Account: "Nope", Ratio: "1"}}},
			wantErr: common.ErrNotFound,
		},
		{
			name:    "bad ratio",
			spec:    RuleSpec{Name: "r", Destinations: []DestinationSpec{{Account: "Groceries", Ratio: "most"}}},
			wantErr: common.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&File{Rules: []RuleSpec{tt.spec}}).ToRules(byName)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestImportExport(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	ctx := context.Background()

	f, err := Decode(strings.NewReader(sampleRules))
	require.NoError(t, err)

	result, err := Import(ctx, db.Storage, f)
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{Created: 3}, result)

	rules, err := db.Storage.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	costco := rules[1]
	assert.Equal(t, []string{db.ID(testutil.AccountCreditCard)}, costco.SourceAccounts)
	require.Len(t, costco.Destinations, 2)
	assert.Equal(t, db.ID(testutil.AccountGroceries), costco.Destinations[0].AccountID)
	assert.True(t, costco.Destinations[0].Ratio.Equal(decimal.RequireFromString("0.6")))

	t.Run("reimport updates by name", func(t *testing.T) {
		f.Rules[0].NewDescription = "Groceries"
		result, err := Import(ctx, db.Storage, f)
		require.NoError(t, err)
		assert.Equal(t, &ImportResult{Updated: 3}, result)

		rule, err := db.Storage.GetRule(ctx, rules[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "Groceries", rule.NewDescription)
	})

	t.Run("failed import writes nothing", func(t *testing.T) {
		bad := &File{Rules: []RuleSpec{
			{Name: "fresh", Type: "edit", Pattern: "x", NewDescription: "y"},
			{Name: "broken", Type: "edit", Pattern: "x"}, // edit without new_description
		}}
		_, err := Import(ctx, db.Storage, bad)
		require.Error(t, err)

		all, err := db.Storage.ListRules(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("export resolves account names", func(t *testing.T) {
		exported, err := Export(ctx, db.Storage)
		require.NoError(t, err)
		require.Len(t, exported.Rules, 3)
		assert.Equal(t, []string{"Credit Card"}, exported.Rules[1].SourceAccounts)
		assert.Equal(t, "Groceries", exported.Rules[1].Destinations[0].Account)
		assert.Equal(t, "0.6", exported.Rules[1].Destinations[0].Ratio)
	})
}
