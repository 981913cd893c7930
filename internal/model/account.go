package model

import "time"

// AccountType classifies an account within the chart of accounts.
type AccountType string

const (
	// AccountTypeAsset represents things the ledger owner holds.
	AccountTypeAsset AccountType = "asset"
	// AccountTypeLiability represents amounts owed to others.
	AccountTypeLiability AccountType = "liability"
	// AccountTypeIncome represents revenue sources.
	AccountTypeIncome AccountType = "income"
	// AccountTypeExpense represents spending categories.
	AccountTypeExpense AccountType = "expense"
	// AccountTypeEquity represents opening balances and owner equity.
	AccountTypeEquity AccountType = "equity"
)

// Valid reports whether the account type is one of the known types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeIncome, AccountTypeExpense, AccountTypeEquity:
		return true
	}
	return false
}

// Account is a node in the chart of accounts. Unit is the currency or asset
// identifier entries against this account are denominated in.
type Account struct {
	CreatedAt time.Time
	ParentID  *string
	ID        string
	Name      string
	Type      AccountType
	Unit      string
}
