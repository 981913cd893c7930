package matching

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/ledger"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "50", want: "50"},
		{raw: " 12.34 ", want: "12.34"},
		{raw: "0", wantErr: true},
		{raw: "-5", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAmount(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)))
		})
	}
}

func TestWindow(t *testing.T) {
	ref := testutil.Day(2024, 3, 15)

	tests := []struct {
		wantStart time.Time
		wantEnd   time.Time
		name      string
		dateRange int
	}{
		{name: "even", dateRange: 30, wantStart: testutil.Day(2024, 2, 29), wantEnd: testutil.Day(2024, 3, 30)},
		{name: "odd loses a day", dateRange: 5, wantStart: testutil.Day(2024, 3, 13), wantEnd: testutil.Day(2024, 3, 17)},
		{name: "one day is the reference only", dateRange: 1, wantStart: ref, wantEnd: ref},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := Window(ref, tt.dateRange)
			assert.True(t, start.Equal(tt.wantStart), "start %s", start)
			assert.True(t, end.Equal(tt.wantEnd), "end %s", end)
		})
	}
}

func TestFinder_Search(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	ctx := context.Background()
	finder := NewFinder(db.Storage, ledger.NewCalculator("USD"), Options{})

	// Debit-heavy candidates, oldest to newest.
	older := db.MustSaveTransaction(testutil.Day(2024, 6, 5), "dinner", db.Debit(testutil.AccountDining, "50"))
	withinCent := db.MustSaveTransaction(testutil.Day(2024, 6, 9), "groceries",
		db.Debit(testutil.AccountGroceries, "60.005"), db.Credit(testutil.AccountChecking, "10"))
	newest := db.MustSaveTransaction(testutil.Day(2024, 6, 12), "hardware", db.Debit(testutil.AccountHousehold, "50"))
	// Credit-heavy by the same amount.
	creditHeavy := db.MustSaveTransaction(testutil.Day(2024, 6, 10), "refund", db.Credit(testutil.AccountCreditCard, "50"))
	// Outside the default window.
	db.MustSaveTransaction(testutil.Day(2024, 8, 1), "late", db.Debit(testutil.AccountDining, "50"))

	base := Query{
		ReferenceDate: testutil.Day(2024, 6, 10),
		Amount:        decimal.NewFromInt(50),
		Type:          model.Debit,
	}

	t.Run("debit side newest first", func(t *testing.T) {
		page, err := finder.Search(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, 10, page.Limit)
		assert.Equal(t, 1, page.Pages)

		ids := make([]string, 0, len(page.Items))
		for _, m := range page.Items {
			ids = append(ids, m.Transaction.ID)
		}
		assert.Equal(t, []string{newest.ID, withinCent.ID, older.ID}, ids)

		m := page.Items[1]
		assert.True(t, m.Imbalance.Equal(decimal.RequireFromString("50.005")), m.Imbalance.String())
		assert.Len(t, m.Accounts, 2)
		assert.Equal(t, "Groceries", m.Accounts[db.ID(testutil.AccountGroceries)].Name)
	})

	t.Run("type is not inverted", func(t *testing.T) {
		q := base
		q.Type = model.Credit
		page, err := finder.Search(ctx, q)
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, creditHeavy.ID, page.Items[0].Transaction.ID)
	})

	t.Run("paging", func(t *testing.T) {
		q := base
		q.Limit = 2
		q.Page = 2
		page, err := finder.Search(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Equal(t, 2, page.Pages)
		require.Len(t, page.Items, 1)
		assert.Equal(t, older.ID, page.Items[0].Transaction.ID)
	})

	t.Run("page beyond the end is empty", func(t *testing.T) {
		q := base
		q.Page = 5
		page, err := finder.Search(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		assert.Empty(t, page.Items)
	})

	t.Run("narrow window", func(t *testing.T) {
		q := base
		q.DateRange = 4
		page, err := finder.Search(ctx, q)
		require.NoError(t, err)
		require.Len(t, page.Items, 2)
		assert.Equal(t, newest.ID, page.Items[0].Transaction.ID)
		assert.Equal(t, withinCent.ID, page.Items[1].Transaction.ID)
	})

	t.Run("limit is clamped", func(t *testing.T) {
		q := base
		q.Limit = 1000
		page, err := finder.Search(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, 100, page.Limit)
	})

	t.Run("no matches", func(t *testing.T) {
		q := base
		q.Amount = decimal.NewFromInt(7)
		page, err := finder.Search(ctx, q)
		require.NoError(t, err)
		assert.Zero(t, page.Total)
		assert.Zero(t, page.Pages)
		assert.Empty(t, page.Items)
	})
}

func TestFinder_SearchTolerance(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	finder := NewFinder(db.Storage, ledger.NewCalculator("USD"), Options{})
	ref := testutil.Day(2024, 6, 10)

	db.MustSaveTransaction(ref, "one cent over", db.Debit(testutil.AccountDining, "50.01"))
	db.MustSaveTransaction(ref, "one cent under", db.Debit(testutil.AccountDining, "49.99"))
	inside := db.MustSaveTransaction(ref, "sub-cent", db.Debit(testutil.AccountDining, "50.004"))

	page, err := finder.Search(context.Background(), Query{
		ReferenceDate: ref,
		Amount:        decimal.NewFromInt(50),
		Type:          model.Debit,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, inside.ID, page.Items[0].Transaction.ID)

	// The finder and the calculator agree on the boundary.
	for _, m := range page.Items {
		assert.True(t, m.Imbalance.Sub(decimal.NewFromInt(50)).Abs().LessThan(ledger.Epsilon))
	}
}

func TestFinder_SearchValidation(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	finder := NewFinder(db.Storage, ledger.NewCalculator("USD"), DefaultOptions())
	ref := testutil.Day(2024, 1, 1)

	tests := []struct {
		name  string
		query Query
	}{
		{name: "zero amount", query: Query{ReferenceDate: ref, Type: model.Debit}},
		{name: "negative amount", query: Query{ReferenceDate: ref, Type: model.Debit, Amount: decimal.NewFromInt(-1)}},
		{name: "bad type", query: Query{ReferenceDate: ref, Type: "both", Amount: decimal.NewFromInt(1)}},
		{name: "missing date", query: Query{Type: model.Debit, Amount: decimal.NewFromInt(1)}},
		{name: "negative range", query: Query{ReferenceDate: ref, Type: model.Debit, Amount: decimal.NewFromInt(1), DateRange: -2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := finder.Search(context.Background(), tt.query)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestFinder_SearchForTransaction(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	ctx := context.Background()
	finder := NewFinder(db.Storage, ledger.NewCalculator("USD"), Options{})

	// Debit-heavy by 75: needs a credit-heavy counterpart.
	charge := db.MustSaveTransaction(testutil.Day(2024, 4, 10), "dinner", db.Debit(testutil.AccountDining, "75"))
	payment := db.MustSaveTransaction(testutil.Day(2024, 4, 11), "card", db.Credit(testutil.AccountCreditCard, "75"))
	db.MustSaveTransaction(testutil.Day(2024, 4, 12), "other dinner", db.Debit(testutil.AccountDining, "75"))

	page, err := finder.SearchForTransaction(ctx, charge.ID, 0, 1, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, payment.ID, page.Items[0].Transaction.ID)

	t.Run("balanced transaction yields an empty page", func(t *testing.T) {
		balanced := db.MustSaveTransaction(testutil.Day(2024, 4, 10), "balanced",
			db.Debit(testutil.AccountDining, "10"), db.Credit(testutil.AccountChecking, "10"))
		page, err := finder.SearchForTransaction(ctx, balanced.ID, 0, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, 10, page.Limit)
	})

	t.Run("missing transaction", func(t *testing.T) {
		_, err := finder.SearchForTransaction(ctx, "missing", 0, 1, 0)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}
