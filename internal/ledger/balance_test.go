package ledger

import (
	"testing"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculator_ComputeBalance(t *testing.T) {
	shares := d("3")

	tests := []struct {
		name         string
		entries      []model.EntryLine
		wantDebit    string
		wantCredit   string
		wantImb      string
		wantFix      model.EntryType
		wantFixAmt   string
		wantUnit     string
		wantBalanced bool
	}{
		{
			name:         "empty transaction",
			wantDebit:    "0",
			wantCredit:   "0",
			wantImb:      "0",
			wantFix:      model.Debit,
			wantFixAmt:   "0",
			wantUnit:     "USD",
			wantBalanced: true,
		},
		{
			name: "balanced",
			entries: []model.EntryLine{
				{Type: model.Debit, Amount: d("42.10"), Unit: "USD"},
				{Type: model.Credit, Amount: d("42.10"), Unit: "USD"},
			},
			wantDebit: "42.10", wantCredit: "42.10", wantImb: "0",
			wantFix: model.Debit, wantFixAmt: "0", wantUnit: "USD", wantBalanced: true,
		},
		{
			name: "debit heavy needs a credit",
			entries: []model.EntryLine{
				{Type: model.Debit, Amount: d("100"), Unit: "EUR"},
				{Type: model.Credit, Amount: d("60"), Unit: "EUR"},
			},
			wantDebit: "100", wantCredit: "60", wantImb: "40",
			wantFix: model.Credit, wantFixAmt: "40", wantUnit: "EUR",
		},
		{
			name: "credit heavy needs a debit",
			entries: []model.EntryLine{
				{Type: model.Credit, Amount: d("25.50"), Unit: "USD"},
			},
			wantDebit: "0", wantCredit: "25.50", wantImb: "-25.50",
			wantFix: model.Debit, wantFixAmt: "25.50", wantUnit: "USD",
		},
		{
			name: "sub-cent imbalance counts as balanced",
			entries: []model.EntryLine{
				{Type: model.Debit, Amount: d("10.005"), Unit: "USD"},
				{Type: model.Credit, Amount: d("10"), Unit: "USD"},
			},
			wantDebit: "10.005", wantCredit: "10", wantImb: "0.005",
			wantFix: model.Credit, wantFixAmt: "0.005", wantUnit: "USD", wantBalanced: true,
		},
		{
			name: "exactly one cent is unbalanced",
			entries: []model.EntryLine{
				{Type: model.Debit, Amount: d("10.01"), Unit: "USD"},
				{Type: model.Credit, Amount: d("10"), Unit: "USD"},
			},
			wantDebit: "10.01", wantCredit: "10", wantImb: "0.01",
			wantFix: model.Credit, wantFixAmt: "0.01", wantUnit: "USD",
		},
		{
			name: "quantity entries use the currency entry as reference",
			entries: []model.EntryLine{
				{Type: model.Debit, Amount: d("450"), Quantity: &shares, Unit: "AAPL"},
				{Type: model.Credit, Amount: d("450"), Unit: "USD"},
			},
			wantDebit: "450", wantCredit: "450", wantImb: "0",
			wantFix: model.Debit, wantFixAmt: "0", wantUnit: "USD", wantBalanced: true,
		},
	}

	calc := NewCalculator("USD")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := calc.ComputeBalance(&model.Transaction{Entries: tt.entries})

			assert.True(t, b.TotalDebit.Equal(d(tt.wantDebit)), "debit %s", b.TotalDebit)
			assert.True(t, b.TotalCredit.Equal(d(tt.wantCredit)), "credit %s", b.TotalCredit)
			assert.True(t, b.Imbalance.Equal(d(tt.wantImb)), "imbalance %s", b.Imbalance)
			assert.Equal(t, tt.wantBalanced, b.IsBalanced)
			assert.Equal(t, tt.wantFix, b.SuggestedFix.Type)
			assert.True(t, b.SuggestedFix.Amount.Equal(d(tt.wantFixAmt)), "fix %s", b.SuggestedFix.Amount)
			assert.Equal(t, tt.wantUnit, b.Unit)
			assert.Equal(t, tt.wantUnit, b.SuggestedFix.Unit)
		})
	}
}

func TestCalculator_ByUnit(t *testing.T) {
	shares := d("3")
	txn := &model.Transaction{Entries: []model.EntryLine{
		{Type: model.Debit, Amount: d("450"), Quantity: &shares, Unit: "AAPL"},
		{Type: model.Credit, Amount: d("450"), Unit: "USD"},
	}}

	b := NewCalculator("USD").ComputeBalance(txn)
	require.Len(t, b.ByUnit, 2)

	assert.Equal(t, "AAPL", b.ByUnit[0].Unit)
	assert.True(t, b.ByUnit[0].Debit.Equal(d("3")))
	assert.True(t, b.ByUnit[0].Net().Equal(d("3")))

	assert.Equal(t, "USD", b.ByUnit[1].Unit)
	assert.True(t, b.ByUnit[1].Net().Equal(d("-450")))
}

func TestSuggestFix(t *testing.T) {
	fix := SuggestFix(d("-12.34"), "USD")
	assert.Equal(t, model.Debit, fix.Type)
	assert.True(t, fix.Amount.Equal(d("12.34")))

	fix = SuggestFix(d("12.34"), "USD")
	assert.Equal(t, model.Credit, fix.Type)
}
