package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/ledgerflow/internal/ledger"
	"github.com/Veraticus/ledgerflow/internal/matching"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// FormatAmount renders an amount with two decimals and its unit.
func FormatAmount(amount decimal.Decimal, unit string) string {
	if unit == "" {
		return amount.StringFixed(2)
	}
	return amount.StringFixed(2) + " " + unit
}

func accountName(accounts map[string]model.Account, id string) string {
	if a, ok := accounts[id]; ok {
		return a.Name
	}
	return id
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func header(tw io.Writer, columns ...string) {
	styled := make([]string, len(columns))
	rules := make([]string, len(columns))
	for i, c := range columns {
		styled[i] = HeaderStyle.Render(c)
		rules[i] = strings.Repeat("-", max(len(c), 4))
	}
	fmt.Fprintln(tw, strings.Join(styled, "\t"))
	fmt.Fprintln(tw, strings.Join(rules, "\t"))
}

// RenderAccounts writes the chart of accounts.
func RenderAccounts(w io.Writer, accounts []model.Account) error {
	tw := newTable(w)
	header(tw, "ID", "Name", "Type", "Unit", "Parent")
	byID := make(map[string]model.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	for _, a := range accounts {
		parent := ""
		if a.ParentID != nil {
			parent = accountName(byID, *a.ParentID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Type, a.Unit, parent)
	}
	return tw.Flush()
}

// RenderTransaction writes a transaction header and its numbered entries.
func RenderTransaction(w io.Writer, txn *model.Transaction, accounts map[string]model.Account) error {
	status := SuccessStyle.Render("balanced")
	if !txn.IsBalanced {
		status = WarningStyle.Render("unbalanced")
	}
	fmt.Fprintln(w, FormatTitle(txn.Description))
	fmt.Fprintf(w, "ID:        %s\n", txn.ID)
	fmt.Fprintf(w, "Date:      %s\n", txn.Date.Format(dateLayout))
	if txn.Reference != "" {
		fmt.Fprintf(w, "Reference: %s\n", txn.Reference)
	}
	if txn.Notes != "" {
		fmt.Fprintf(w, "Notes:     %s\n", txn.Notes)
	}
	fmt.Fprintf(w, "Status:    %s (version %d)\n\n", status, txn.Version)

	tw := newTable(w)
	header(tw, "#", "Account", "Debit", "Credit", "Description")
	for i, e := range txn.Entries {
		amount := FormatAmount(e.Amount, e.Unit)
		if e.Quantity != nil {
			amount = fmt.Sprintf("%s (%s %s)", e.Amount.StringFixed(2), e.Quantity.String(), e.Unit)
		}
		debit, credit := amount, ""
		if e.Type == model.Credit {
			debit, credit = "", amount
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i, accountName(accounts, e.AccountID), debit, credit, e.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(txn.AppliedRules) > 0 {
		ids := make([]string, len(txn.AppliedRules))
		for i, ar := range txn.AppliedRules {
			ids[i] = strconv.FormatInt(ar.RuleID, 10)
		}
		fmt.Fprintln(w, SubtleStyle.Render("\nApplied rules: "+strings.Join(ids, ", ")))
	}
	return nil
}

// RenderBalance writes calculator output.
func RenderBalance(w io.Writer, b ledger.Balance) error {
	fmt.Fprintf(w, "Total debit:  %s\n", FormatAmount(b.TotalDebit, b.Unit))
	fmt.Fprintf(w, "Total credit: %s\n", FormatAmount(b.TotalCredit, b.Unit))
	fmt.Fprintf(w, "Imbalance:    %s\n", FormatAmount(b.Imbalance, b.Unit))

	if len(b.ByUnit) > 1 {
		tw := newTable(w)
		fmt.Fprintln(tw)
		header(tw, "Unit", "Debit", "Credit", "Net")
		for _, u := range b.ByUnit {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.Unit, u.Debit.String(), u.Credit.String(), u.Net().String())
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if b.IsBalanced {
		fmt.Fprintln(w, FormatSuccess("Balanced"))
		return nil
	}
	fmt.Fprintln(w, FormatWarning(fmt.Sprintf("Unbalanced: add a %s of %s to fix",
		b.SuggestedFix.Type, FormatAmount(b.SuggestedFix.Amount, b.SuggestedFix.Unit))))
	return nil
}

// RenderMatches writes one page of complementary match candidates.
func RenderMatches(w io.Writer, page *matching.Page) error {
	if page.Total == 0 {
		fmt.Fprintln(w, FormatInfo("No complementary transactions found."))
		return nil
	}

	tw := newTable(w)
	header(tw, "Date", "ID", "Description", "Debit", "Credit", "Imbalance", "Accounts")
	for _, m := range page.Items {
		names := make([]string, 0, len(m.Accounts))
		for _, id := range m.Transaction.AccountIDs() {
			names = append(names, accountName(m.Accounts, id))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.Transaction.Date.Format(dateLayout),
			m.Transaction.ID,
			m.Transaction.Description,
			m.TotalDebit.StringFixed(2),
			m.TotalCredit.StringFixed(2),
			m.Imbalance.StringFixed(2),
			strings.Join(names, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, SubtleStyle.Render(fmt.Sprintf("\nPage %d of %d (%d matches)", page.Page, page.Pages, page.Total)))
	return nil
}

// RenderRules writes rules with account ids resolved to names.
func RenderRules(w io.Writer, rules []model.Rule, accounts map[string]model.Account) error {
	tw := newTable(w)
	header(tw, "ID", "Name", "Type", "Priority", "Auto", "Pattern", "Action")
	for _, r := range rules {
		auto := "no"
		if r.AutoApply {
			auto = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.Name, r.Type, r.Priority, auto, r.Pattern, describeAction(r, accounts))
	}
	return tw.Flush()
}

func describeAction(r model.Rule, accounts map[string]model.Account) string {
	switch r.Type {
	case model.RuleTypeEdit:
		return fmt.Sprintf("description → %q", r.NewDescription)
	case model.RuleTypeMerge:
		return fmt.Sprintf("merge within %d days", r.MaxDateDifference)
	case model.RuleTypeComplementary:
		parts := make([]string, len(r.Destinations))
		for i, d := range r.Destinations {
			parts[i] = fmt.Sprintf("%s×%s", accountName(accounts, d.AccountID), d.Ratio.String())
		}
		return "split to " + strings.Join(parts, ", ")
	}
	return ""
}
