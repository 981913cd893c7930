package ofx

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
)

// Creator stores a new transaction and runs the auto-apply rules on it.
type Creator interface {
	CreateTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
}

// Mapping resolves external statement accounts to ledger account ids.
// Default is used for accounts missing from ByExternal.
type Mapping struct {
	ByExternal map[string]string
	Default    string
}

func (m Mapping) resolve(external string) (string, bool) {
	if id, ok := m.ByExternal[external]; ok && id != "" {
		return id, true
	}
	return m.Default, m.Default != ""
}

// Result summarizes an import.
type Result struct {
	TransactionIDs []string
	Imported       int
	Duplicates     int
	Skipped        int
}

// Importer turns statement lines into unbalanced single-entry transactions.
type Importer struct {
	parser  *Parser
	storage service.Storage
	creator Creator
}

// NewImporter creates an importer writing through creator.
func NewImporter(storage service.Storage, creator Creator) *Importer {
	return &Importer{
		parser:  NewParser(),
		storage: storage,
		creator: creator,
	}
}

// Import parses an OFX document and creates one transaction per new line.
// Money leaving the account becomes a credit on the mapped ledger account,
// money arriving becomes a debit. Lines whose FITID is already stored as a
// transaction reference are counted as duplicates.
func (i *Importer) Import(ctx context.Context, reader io.Reader, mapping Mapping) (*Result, error) {
	statements, err := i.parser.Parse(ctx, reader)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, stmt := range statements {
		accountID, ok := mapping.resolve(stmt.AccountID)
		if !ok {
			return result, common.NewValidationError("account",
				fmt.Sprintf("no ledger account mapped for statement account %q", stmt.AccountID))
		}
		if _, err := i.storage.GetAccount(ctx, accountID); err != nil {
			return result, err
		}

		for _, line := range stmt.Lines {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if line.Amount.IsZero() {
				result.Skipped++
				continue
			}

			if line.FITID != "" {
				_, err := i.storage.FindTransactionByReference(ctx, line.FITID)
				if err == nil {
					result.Duplicates++
					continue
				}
				if !errors.Is(err, common.ErrNotFound) {
					return result, fmt.Errorf("failed to check reference %s: %w", line.FITID, err)
				}
			}

			created, err := i.creator.CreateTransaction(ctx, toTransaction(line, accountID))
			if err != nil {
				return result, fmt.Errorf("failed to import %s: %w", line.FITID, err)
			}
			result.Imported++
			result.TransactionIDs = append(result.TransactionIDs, created.ID)
		}
	}

	common.LogInfo(ctx, "OFX import complete", common.Fields{
		"imported":   result.Imported,
		"duplicates": result.Duplicates,
		"skipped":    result.Skipped,
	})
	return result, nil
}

func toTransaction(line Line, accountID string) *model.Transaction {
	typ := model.Debit
	if line.Amount.IsNegative() {
		typ = model.Credit
	}

	notes := line.Memo
	if line.CheckNumber != "" {
		notes = fmt.Sprintf("check %s %s", line.CheckNumber, notes)
	}

	return &model.Transaction{
		Date:        line.Date,
		Description: line.Description,
		Reference:   line.FITID,
		Notes:       notes,
		Entries: []model.EntryLine{{
			AccountID:   accountID,
			Type:        typ,
			Amount:      line.Amount.Abs(),
			Description: line.Description,
		}},
	}
}
