package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
)

// AccountName is a strongly-typed test account name.
type AccountName string

// Common account names used across tests.
const (
	AccountChecking   AccountName = "Checking"
	AccountSavings    AccountName = "Savings"
	AccountCreditCard AccountName = "Credit Card"
	AccountGroceries  AccountName = "Groceries"
	AccountDining     AccountName = "Dining"
	AccountHousehold  AccountName = "Household"
	AccountSalary     AccountName = "Salary"
	AccountBrokerage  AccountName = "Brokerage"
)

// AccountSpec describes one account to seed.
type AccountSpec struct {
	Name AccountName
	Type model.AccountType
	Unit string
}

var basicAccounts = []AccountSpec{
	{Name: AccountChecking, Type: model.AccountTypeAsset, Unit: "USD"},
	{Name: AccountSavings, Type: model.AccountTypeAsset, Unit: "USD"},
	{Name: AccountCreditCard, Type: model.AccountTypeLiability, Unit: "USD"},
	{Name: AccountGroceries, Type: model.AccountTypeExpense, Unit: "USD"},
	{Name: AccountDining, Type: model.AccountTypeExpense, Unit: "USD"},
	{Name: AccountHousehold, Type: model.AccountTypeExpense, Unit: "USD"},
	{Name: AccountSalary, Type: model.AccountTypeIncome, Unit: "USD"},
}

// Accounts maps seeded account names to the stored accounts.
type Accounts map[AccountName]model.Account

// ID returns the id of the named account or fails the test.
func (a Accounts) ID(t *testing.T, name AccountName) string {
	t.Helper()
	acct, ok := a[name]
	if !ok {
		t.Fatalf("account %q not found in test data", name)
	}
	return acct.ID
}

// AccountBuilder collects accounts to seed into a test database.
type AccountBuilder struct {
	specs []AccountSpec
	seen  map[AccountName]struct{}
}

// NewAccountBuilder creates an empty builder.
func NewAccountBuilder() *AccountBuilder {
	return &AccountBuilder{seen: make(map[AccountName]struct{})}
}

// WithAccount adds one account. Later duplicates of a name are ignored.
func (b *AccountBuilder) WithAccount(name AccountName, typ model.AccountType, unit string) *AccountBuilder {
	if _, ok := b.seen[name]; ok {
		return b
	}
	b.seen[name] = struct{}{}
	b.specs = append(b.specs, AccountSpec{Name: name, Type: typ, Unit: unit})
	return b
}

// WithBasicAccounts adds the USD chart of accounts most tests need.
func (b *AccountBuilder) WithBasicAccounts() *AccountBuilder {
	for _, spec := range basicAccounts {
		b.WithAccount(spec.Name, spec.Type, spec.Unit)
	}
	return b
}

// Build creates the accounts in storage.
func (b *AccountBuilder) Build(ctx context.Context, storage service.Storage) (Accounts, error) {
	accounts := make(Accounts, len(b.specs))
	for _, spec := range b.specs {
		acct := &model.Account{
			Name: string(spec.Name),
			Type: spec.Type,
			Unit: spec.Unit,
		}
		if err := storage.CreateAccount(ctx, acct); err != nil {
			return nil, fmt.Errorf("failed to seed account %q: %w", spec.Name, err)
		}
		accounts[spec.Name] = *acct
	}
	return accounts, nil
}
