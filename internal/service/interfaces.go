// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/shopspring/decimal"
)

// TransactionFilter defines filtering options for transaction queries.
// Results are ordered by date then id, ascending.
type TransactionFilter struct {
	StartDate  *time.Time
	EndDate    *time.Time
	Unbalanced *bool
	AccountIDs []string // any entry on one of these accounts
	ExcludeIDs []string
	Limit      int
	Offset     int
}

// ImbalanceQuery selects transactions by their aggregate imbalance.
//
// With Type == model.Debit only transactions with a positive imbalance within
// Tolerance of Amount are returned; with model.Credit only negative imbalances
// within Tolerance of -Amount.
type ImbalanceQuery struct {
	Start                time.Time
	End                  time.Time
	Amount               decimal.Decimal
	Tolerance            decimal.Decimal
	ExcludeTransactionID string
	Type                 model.EntryType
	Limit                int
	Offset               int
}

// ImbalanceRow is one aggregated transaction returned by FindImbalances.
type ImbalanceRow struct {
	Date          time.Time
	TransactionID string
	TotalDebit    decimal.Decimal
	TotalCredit   decimal.Decimal
	Imbalance     decimal.Decimal
}

// Storage defines the contract for the ledger persistence layer.
type Storage interface {
	// Account operations
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccounts(ctx context.Context, ids []string) (map[string]model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	DeleteAccount(ctx context.Context, id string) error

	// Transaction operations
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	FindTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	FindTransactionByReference(ctx context.Context, reference string) (*model.Transaction, error)
	SaveTransaction(ctx context.Context, txn *model.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
	DeleteTransactions(ctx context.Context, filter TransactionFilter) (int, error)

	// Rule operations
	CreateRule(ctx context.Context, rule *model.Rule) error
	GetRule(ctx context.Context, id int64) (*model.Rule, error)
	ListRules(ctx context.Context) ([]model.Rule, error)
	GetAutoApplyRules(ctx context.Context) ([]model.Rule, error)
	UpdateRule(ctx context.Context, rule *model.Rule) error
	DeleteRule(ctx context.Context, id int64) error

	// Aggregation
	FindImbalances(ctx context.Context, query ImbalanceQuery) ([]ImbalanceRow, int, error)

	// Database management
	InTx(ctx context.Context, fn func(Storage) error) error
	Migrate(ctx context.Context) error
	Close() error
}
