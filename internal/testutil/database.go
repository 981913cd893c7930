// Package testutil provides test databases seeded with a chart of accounts
// and small builders for ledger test data.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/Veraticus/ledgerflow/internal/storage"
	"github.com/shopspring/decimal"
)

// TestDB is a migrated in-memory database and the accounts seeded into it.
type TestDB struct {
	Storage  service.Storage
	Accounts Accounts
	t        *testing.T
}

// SetupTestDB creates a migrated in-memory database seeded by builder. A nil
// builder seeds the basic accounts.
//
// Example:
//
//	db := testutil.SetupTestDB(t, testutil.NewAccountBuilder().
//		WithBasicAccounts().
//		WithAccount(testutil.AccountBrokerage, model.AccountTypeAsset, "AAPL"))
func SetupTestDB(t *testing.T, builder *AccountBuilder) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	if builder == nil {
		builder = NewAccountBuilder().WithBasicAccounts()
	}
	accounts, err := builder.Build(ctx, store)
	if err != nil {
		t.Fatalf("failed to seed accounts: %v", err)
	}

	return &TestDB{
		Storage:  store,
		Accounts: accounts,
		t:        t,
	}
}

// ID returns the id of a seeded account.
func (db *TestDB) ID(name AccountName) string {
	db.t.Helper()
	return db.Accounts.ID(db.t, name)
}

// Debit builds a debit entry on the named account.
func (db *TestDB) Debit(name AccountName, amount string) model.EntryLine {
	db.t.Helper()
	return model.EntryLine{AccountID: db.ID(name), Type: model.Debit, Amount: decimal.RequireFromString(amount)}
}

// Credit builds a credit entry on the named account.
func (db *TestDB) Credit(name AccountName, amount string) model.EntryLine {
	db.t.Helper()
	return model.EntryLine{AccountID: db.ID(name), Type: model.Credit, Amount: decimal.RequireFromString(amount)}
}

// MustSaveTransaction stores a new transaction and returns it.
func (db *TestDB) MustSaveTransaction(date time.Time, description string, entries ...model.EntryLine) *model.Transaction {
	db.t.Helper()
	txn := &model.Transaction{
		Date:        date,
		Description: description,
		Entries:     entries,
	}
	if err := db.Storage.SaveTransaction(context.Background(), txn); err != nil {
		db.t.Fatalf("failed to save transaction %q: %v", description, err)
	}
	return txn
}

// MustCreateRule stores a rule and returns it.
func (db *TestDB) MustCreateRule(rule model.Rule) *model.Rule {
	db.t.Helper()
	if err := db.Storage.CreateRule(context.Background(), &rule); err != nil {
		db.t.Fatalf("failed to create rule %q: %v", rule.Name, err)
	}
	return &rule
}

// Day returns midnight UTC of the given day.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
