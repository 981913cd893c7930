// Package ofx reads OFX/QFX bank statements and imports their lines as
// single-entry ledger transactions.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// An SGML opening tag alone on its line with no closing bracket.
	unclosedTagRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Line is one statement transaction. Amount is signed as in the file:
// negative for money leaving the account.
type Line struct {
	Date        time.Time
	Amount      decimal.Decimal
	FITID       string
	Description string
	Memo        string
	CheckNumber string
	Kind        string // DEBIT, CHECK, ATM, ...
}

// Statement is the lines reported for one external account.
type Statement struct {
	AccountID string // external account number
	Lines     []Line
}

// Parser implements OFX/QFX file parsing.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

// preprocessOFX repairs formatting that ofxgo rejects but banks emit.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return unclosedTagRegex.ReplaceAllString(content, "$1>")
}

// Parse reads every bank and credit card statement in an OFX document.
func (p *Parser) Parse(ctx context.Context, reader io.Reader) ([]Statement, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var statements []Statement
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			statements = append(statements, p.convertList(string(stmt.BankAcctFrom.AcctID), stmt.BankTranList))
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			statements = append(statements, p.convertList(string(stmt.CCAcctFrom.AcctID), stmt.BankTranList))
		}
	}

	lines := 0
	for _, s := range statements {
		lines += len(s.Lines)
	}
	slog.InfoContext(ctx, "Parsed OFX file",
		"statements", len(statements),
		"lines", lines)

	return statements, nil
}

func (p *Parser) convertList(accountID string, list *ofxgo.TransactionList) Statement {
	stmt := Statement{AccountID: accountID}
	if list == nil {
		return stmt
	}
	for _, tx := range list.Transactions {
		line, err := p.convertTransaction(tx)
		if err != nil {
			slog.Warn("Skipping unreadable statement line",
				"account", accountID,
				"fitid", tx.FiTID,
				"error", err)
			continue
		}
		stmt.Lines = append(stmt.Lines, line)
	}
	return stmt
}

func (p *Parser) convertTransaction(tx ofxgo.Transaction) (Line, error) {
	amount, err := decimal.NewFromString(tx.TrnAmt.FloatString(8))
	if err != nil {
		return Line{}, fmt.Errorf("invalid amount: %w", err)
	}

	return Line{
		FITID:       string(tx.FiTID),
		Date:        tx.DtPosted.UTC(),
		Amount:      amount,
		Description: extractMerchantName(tx),
		Memo:        strings.TrimSpace(string(tx.Memo)),
		CheckNumber: string(tx.CheckNum),
		Kind:        tx.TrnType.String(),
	}, nil
}

var merchantPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

// extractMerchantName prefers PAYEE, then NAME, then MEMO when NAME is a
// bare transaction kind, and strips card-processor prefixes.
func extractMerchantName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := strings.TrimSpace(string(tx.Name))
	if tx.Memo != "" && isGenericDescription(name) {
		name = strings.TrimSpace(string(tx.Memo))
	}

	upper := strings.ToUpper(name)
	for _, prefix := range merchantPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// "MM/DD " posting date left in front by some banks
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}
	return name
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(name) {
	case "", "DEBIT", "CREDIT", "DEPOSIT", "WITHDRAWAL", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}
