package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/engine"
	"github.com/Veraticus/ledgerflow/internal/ledger"
	"github.com/Veraticus/ledgerflow/internal/matching"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/pattern"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/Veraticus/ledgerflow/internal/storage"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// app wires the ledger components for one command invocation.
type app struct {
	store      *storage.SQLiteStorage
	engine     *engine.Engine
	ledger     *ledger.Service
	finder     *matching.Finder
	calculator *ledger.Calculator
}

// initApp opens the configured database, migrates it and builds the services.
func initApp(ctx context.Context) (*app, error) {
	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	calc := ledger.NewCalculator(cfg.BaseUnit)
	eng := engine.New(store, pattern.NewMatcher(nil))
	return &app{
		store:      store,
		engine:     eng,
		ledger:     ledger.NewService(store, eng, calc, cfg.Retry),
		finder:     matching.NewFinder(store, calc, cfg.Matching),
		calculator: calc,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// resolveAccount accepts an account id or an exact account name.
func resolveAccount(ctx context.Context, store service.Storage, ref string) (*model.Account, error) {
	acct, err := store.GetAccount(ctx, ref)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if strings.EqualFold(accounts[i].Name, ref) {
			return &accounts[i], nil
		}
	}
	return nil, common.NewUserError(fmt.Sprintf("No account named or identified by %q", ref),
		common.NewNotFoundError("account", ref))
}

func resolveAccounts(ctx context.Context, store service.Storage, refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		acct, err := resolveAccount(ctx, store, ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, acct.ID)
	}
	return ids, nil
}

// parseEntrySpec parses ACCOUNT:TYPE:AMOUNT[:QUANTITY[:DESCRIPTION]].
// The account part is returned unresolved.
func parseEntrySpec(spec string) (string, model.EntryLine, error) {
	parts := strings.SplitN(spec, ":", 5)
	if len(parts) < 3 {
		return "", model.EntryLine{}, common.NewValidationError("entry",
			fmt.Sprintf("%q must look like ACCOUNT:debit|credit:AMOUNT[:QUANTITY[:DESCRIPTION]]", spec))
	}

	account := strings.TrimSpace(parts[0])
	if account == "" {
		return "", model.EntryLine{}, common.NewValidationError("entry", "account is empty")
	}

	entry := model.EntryLine{Type: model.EntryType(strings.ToLower(strings.TrimSpace(parts[1])))}
	if !entry.Type.Valid() {
		return "", model.EntryLine{}, common.NewValidationError("entry", fmt.Sprintf("type %q must be debit or credit", parts[1]))
	}

	amount, err := matching.ParseAmount(parts[2])
	if err != nil {
		return "", model.EntryLine{}, err
	}
	entry.Amount = amount

	if len(parts) > 3 && strings.TrimSpace(parts[3]) != "" {
		qty, err := decimal.NewFromString(strings.TrimSpace(parts[3]))
		if err != nil || qty.IsNegative() {
			return "", model.EntryLine{}, common.NewValidationError("entry", fmt.Sprintf("quantity %q is not a non-negative number", parts[3]))
		}
		entry.Quantity = &qty
	}
	if len(parts) > 4 {
		entry.Description = strings.TrimSpace(parts[4])
	}
	return account, entry, nil
}

func buildEntries(ctx context.Context, store service.Storage, specs []string) ([]model.EntryLine, error) {
	entries := make([]model.EntryLine, 0, len(specs))
	for _, spec := range specs {
		ref, entry, err := parseEntrySpec(spec)
		if err != nil {
			return nil, err
		}
		acct, err := resolveAccount(ctx, store, ref)
		if err != nil {
			return nil, err
		}
		entry.AccountID = acct.ID
		entries = append(entries, entry)
	}
	return entries, nil
}

// parseDestination parses ACCOUNT=RATIO.
func parseDestination(spec string) (string, decimal.Decimal, error) {
	name, raw, ok := strings.Cut(spec, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return "", decimal.Zero, common.NewValidationError("destination", fmt.Sprintf("%q must look like ACCOUNT=RATIO", spec))
	}
	ratio, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !ratio.IsPositive() {
		return "", decimal.Zero, common.NewValidationError("destination", fmt.Sprintf("ratio %q must be a positive number", raw))
	}
	return strings.TrimSpace(name), ratio, nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, common.NewValidationError("date", fmt.Sprintf("%q must be YYYY-MM-DD", raw))
	}
	return t, nil
}

func parseIndex(raw string) (int, error) {
	i, err := strconv.Atoi(raw)
	if err != nil || i < 0 {
		return 0, common.NewValidationError("entry index", fmt.Sprintf("%q must be a non-negative integer", raw))
	}
	return i, nil
}

func parseRuleID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, common.NewValidationError("rule id", fmt.Sprintf("%q must be a positive integer", raw))
	}
	return id, nil
}

// accountsFor loads every account a set of transactions references.
func accountsFor(ctx context.Context, store service.Storage, txns ...*model.Transaction) (map[string]model.Account, error) {
	var ids []string
	for _, t := range txns {
		ids = append(ids, t.AccountIDs()...)
	}
	return store.GetAccounts(ctx, ids)
}

func allAccounts(ctx context.Context, store service.Storage) (map[string]model.Account, error) {
	accounts, err := store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	return byID, nil
}
