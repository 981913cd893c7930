// Package matching finds transactions whose imbalance complements another's.
package matching

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/ledger"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/shopspring/decimal"
)

// Options holds the finder defaults.
type Options struct {
	DefaultDateRange int // days
	DefaultLimit     int
	MaxLimit         int
}

// DefaultOptions returns the default finder options.
func DefaultOptions() Options {
	return Options{
		DefaultDateRange: 30,
		DefaultLimit:     10,
		MaxLimit:         100,
	}
}

// Query describes the imbalance to complement.
//
// Type is matched directly against the candidate's excess: Debit returns
// transactions whose debits exceed their credits by Amount, Credit returns
// transactions whose credits exceed their debits by Amount.
type Query struct {
	ReferenceDate        time.Time
	Amount               decimal.Decimal
	Type                 model.EntryType
	ExcludeTransactionID string
	DateRange            int // days, split evenly around ReferenceDate
	Page                 int // 1-based
	Limit                int
}

// Match is one candidate transaction with its totals and resolved accounts.
type Match struct {
	Accounts    map[string]model.Account
	Transaction model.Transaction
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	Imbalance   decimal.Decimal
}

// Page is one page of matches plus pagination metadata.
type Page struct {
	Items []Match
	Total int
	Page  int
	Limit int
	Pages int
}

// Finder searches the store for complementary transactions.
type Finder struct {
	storage    service.Storage
	calculator *ledger.Calculator
	opts       Options
}

// NewFinder creates a finder. Zero option fields fall back to DefaultOptions.
func NewFinder(storage service.Storage, calculator *ledger.Calculator, opts Options) *Finder {
	def := DefaultOptions()
	if opts.DefaultDateRange <= 0 {
		opts.DefaultDateRange = def.DefaultDateRange
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = def.DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = def.MaxLimit
	}
	return &Finder{storage: storage, calculator: calculator, opts: opts}
}

// ParseAmount parses a user-supplied amount, which must be a finite positive number.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, common.NewValidationError("amount", fmt.Sprintf("%q is not a number", raw))
	}
	if !amount.IsPositive() {
		return decimal.Zero, common.NewValidationError("amount", "must be greater than zero")
	}
	return amount, nil
}

// Window returns the inclusive date window searched for a reference date.
// The range is halved with integer division, so odd ranges lose a day.
func Window(reference time.Time, dateRange int) (time.Time, time.Time) {
	half := dateRange / 2
	return reference.AddDate(0, 0, -half), reference.AddDate(0, 0, half)
}

// Search returns the requested page of transactions whose imbalance is
// within ledger.Epsilon of the query amount on the query side, newest first.
func (f *Finder) Search(ctx context.Context, q Query) (*Page, error) {
	q, err := f.normalize(q)
	if err != nil {
		return nil, err
	}

	start, end := Window(q.ReferenceDate, q.DateRange)
	rows, total, err := f.storage.FindImbalances(ctx, service.ImbalanceQuery{
		Start:                start,
		End:                  end,
		Amount:               q.Amount,
		Tolerance:            ledger.Epsilon,
		ExcludeTransactionID: q.ExcludeTransactionID,
		Type:                 q.Type,
		Limit:                q.Limit,
		Offset:               (q.Page - 1) * q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search imbalances: %w", err)
	}

	page := &Page{
		Total: total,
		Page:  q.Page,
		Limit: q.Limit,
		Pages: (total + q.Limit - 1) / q.Limit,
	}
	if len(rows) == 0 {
		return page, nil
	}

	matches := make([]Match, 0, len(rows))
	var accountIDs []string
	for _, row := range rows {
		txn, err := f.storage.GetTransaction(ctx, row.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load candidate %s: %w", row.TransactionID, err)
		}
		accountIDs = append(accountIDs, txn.AccountIDs()...)
		matches = append(matches, Match{
			Transaction: *txn,
			TotalDebit:  row.TotalDebit,
			TotalCredit: row.TotalCredit,
			Imbalance:   row.Imbalance,
		})
	}

	accounts, err := f.storage.GetAccounts(ctx, accountIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve accounts: %w", err)
	}
	for i := range matches {
		matches[i].Accounts = make(map[string]model.Account)
		for _, id := range matches[i].Transaction.AccountIDs() {
			if a, ok := accounts[id]; ok {
				matches[i].Accounts[id] = a
			}
		}
	}

	page.Items = matches
	return page, nil
}

// SearchForTransaction searches with the suggested fix of a transaction,
// anchored on its date and excluding itself. A balanced transaction yields
// an empty page.
func (f *Finder) SearchForTransaction(ctx context.Context, transactionID string, dateRange, pageNum, limit int) (*Page, error) {
	txn, err := f.storage.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	balance := f.calculator.ComputeBalance(txn)
	if balance.IsBalanced {
		return &Page{Page: max(pageNum, 1), Limit: f.limit(limit)}, nil
	}

	return f.Search(ctx, Query{
		ReferenceDate:        txn.Date,
		Amount:               balance.SuggestedFix.Amount,
		Type:                 balance.SuggestedFix.Type,
		ExcludeTransactionID: txn.ID,
		DateRange:            dateRange,
		Page:                 pageNum,
		Limit:                limit,
	})
}

func (f *Finder) normalize(q Query) (Query, error) {
	if !q.Amount.IsPositive() {
		return q, common.NewValidationError("amount", "must be greater than zero")
	}
	if !q.Type.Valid() {
		return q, common.NewValidationError("type", fmt.Sprintf("must be debit or credit, got %q", q.Type))
	}
	if q.ReferenceDate.IsZero() {
		return q, common.NewValidationError("reference date", "must be set")
	}
	if q.DateRange < 0 {
		return q, common.NewValidationError("date range", "must not be negative")
	}
	if q.DateRange == 0 {
		q.DateRange = f.opts.DefaultDateRange
	}
	if q.Page < 1 {
		q.Page = 1
	}
	q.Limit = f.limit(q.Limit)
	return q, nil
}

func (f *Finder) limit(limit int) int {
	if limit <= 0 {
		return f.opts.DefaultLimit
	}
	return min(limit, f.opts.MaxLimit)
}
