package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Veraticus/ledgerflow/internal/cli"
	"github.com/Veraticus/ledgerflow/internal/ledger"
	"github.com/Veraticus/ledgerflow/internal/matching"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/spf13/cobra"
)

func transactionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tx",
		Aliases: []string{"transactions"},
		Short:   "Create, inspect and restructure transactions",
	}

	cmd.AddCommand(addTransactionCmd())
	cmd.AddCommand(showTransactionCmd())
	cmd.AddCommand(listTransactionsCmd())
	cmd.AddCommand(balanceTransactionCmd())
	cmd.AddCommand(updateTransactionCmd())
	cmd.AddCommand(deleteTransactionCmd())
	cmd.AddCommand(entryCmd())
	cmd.AddCommand(moveEntryCmd())
	cmd.AddCommand(splitEntryCmd())
	cmd.AddCommand(mergeTransactionsCmd())

	return cmd
}

// printTransaction renders a transaction with its account names.
func printTransaction(ctx context.Context, w io.Writer, store service.Storage, txn *model.Transaction) error {
	accounts, err := accountsFor(ctx, store, txn)
	if err != nil {
		return err
	}
	return cli.RenderTransaction(w, txn, accounts)
}

func addTransactionCmd() *cobra.Command {
	var date, description, reference, notes string
	var entrySpecs []string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a transaction and apply auto-apply rules to it",
		Example: `  ledgerflow tx add --desc "GROCERY SHOPPING" --date 2024-01-15 \
    --entry Groceries:debit:100 --entry Checking:credit:100`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			when, err := parseDate(date)
			if err != nil {
				return err
			}
			entries, err := buildEntries(ctx, a.store, entrySpecs)
			if err != nil {
				return err
			}

			txn, err := a.ledger.CreateTransaction(ctx, &model.Transaction{
				Date:        when,
				Description: description,
				Reference:   reference,
				Notes:       notes,
				Entries:     entries,
			})
			if err != nil {
				return err
			}
			return printTransaction(ctx, cmd.OutOrStdout(), a.store, txn)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "transaction date YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&description, "desc", "", "description")
	cmd.Flags().StringVar(&reference, "ref", "", "external reference")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	cmd.Flags().StringArrayVarP(&entrySpecs, "entry", "e", nil, "entry ACCOUNT:debit|credit:AMOUNT[:QUANTITY[:DESCRIPTION]] (repeatable)")
	_ = cmd.MarkFlagRequired("desc")

	return cmd
}

func showTransactionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			txn, err := a.store.GetTransaction(ctx, args[0])
			if err != nil {
				return err
			}
			return printTransaction(ctx, cmd.OutOrStdout(), a.store, txn)
		},
	}
}

func listTransactionsCmd() *cobra.Command {
	var from, to string
	var accountRefs []string
	var unbalanced bool
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions by date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			filter := service.TransactionFilter{Limit: limit, Offset: offset}
			if from != "" {
				t, err := parseDate(from)
				if err != nil {
					return err
				}
				filter.StartDate = &t
			}
			if to != "" {
				t, err := parseDate(to)
				if err != nil {
					return err
				}
				end := t.Add(24*time.Hour - time.Second)
				filter.EndDate = &end
			}
			if unbalanced {
				filter.Unbalanced = &unbalanced
			}
			if filter.AccountIDs, err = resolveAccounts(ctx, a.store, accountRefs); err != nil {
				return err
			}

			txns, err := a.store.FindTransactions(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			if len(txns) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No transactions found."))
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				cli.HeaderStyle.Render("Date"),
				cli.HeaderStyle.Render("ID"),
				cli.HeaderStyle.Render("Description"),
				cli.HeaderStyle.Render("Imbalance"),
				cli.HeaderStyle.Render("Entries"))
			for i := range txns {
				b := a.calculator.ComputeBalance(&txns[i])
				imbalance := cli.FormatAmount(b.Imbalance, b.Unit)
				if !b.IsBalanced {
					imbalance = cli.WarningStyle.Render(imbalance)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
					txns[i].Date.Format(dateLayout), txns[i].ID, txns[i].Description, imbalance, len(txns[i].Entries))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first date YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last date YYYY-MM-DD")
	cmd.Flags().StringSliceVar(&accountRefs, "account", nil, "only transactions touching these accounts")
	cmd.Flags().BoolVar(&unbalanced, "unbalanced", false, "only unbalanced transactions")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")

	return cmd
}

func balanceTransactionCmd() *cobra.Command {
	var showMatches bool
	var dateRange, limit int

	cmd := &cobra.Command{
		Use:   "balance ID",
		Short: "Show totals, imbalance and the suggested fix of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			txn, balance, err := a.ledger.Balance(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatTitle(txn.Description))
			if err := cli.RenderBalance(cmd.OutOrStdout(), balance); err != nil {
				return err
			}

			if !showMatches || balance.IsBalanced {
				return nil
			}
			page, err := a.finder.SearchForTransaction(ctx, txn.ID, dateRange, 1, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return cli.RenderMatches(cmd.OutOrStdout(), page)
		},
	}

	cmd.Flags().BoolVar(&showMatches, "matches", false, "also list complementary transactions")
	cmd.Flags().IntVar(&dateRange, "range", 0, "match window in days (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum matches (default from config)")

	return cmd
}

func updateTransactionCmd() *cobra.Command {
	var date, description, reference, notes string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change the date, description, reference or notes of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var update ledger.TransactionUpdate
			flags := cmd.Flags()
			if flags.Changed("date") {
				t, err := parseDate(date)
				if err != nil {
					return err
				}
				update.Date = &t
			}
			if flags.Changed("desc") {
				update.Description = &description
			}
			if flags.Changed("ref") {
				update.Reference = &reference
			}
			if flags.Changed("notes") {
				update.Notes = &notes
			}

			txn, err := a.ledger.UpdateTransaction(ctx, args[0], update)
			if err != nil {
				return err
			}
			return printTransaction(ctx, cmd.OutOrStdout(), a.store, txn)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "transaction date YYYY-MM-DD")
	cmd.Flags().StringVar(&description, "desc", "", "description")
	cmd.Flags().StringVar(&reference, "ref", "", "external reference")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")

	return cmd
}

func deleteTransactionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteTransaction(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Transaction deleted"))
			return nil
		},
	}
}

func entryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Add, change or remove entry lines",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add ID ENTRY",
		Short: "Append an entry ACCOUNT:debit|credit:AMOUNT[:QUANTITY[:DESCRIPTION]]",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, func(ctx context.Context, a *app) (*model.Transaction, error) {
				entries, err := buildEntries(ctx, a.store, args[1:2])
				if err != nil {
					return nil, err
				}
				return a.ledger.AddEntry(ctx, args[0], entries[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "update ID INDEX ENTRY",
		Short: "Replace the entry at INDEX",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, func(ctx context.Context, a *app) (*model.Transaction, error) {
				index, err := parseIndex(args[1])
				if err != nil {
					return nil, err
				}
				entries, err := buildEntries(ctx, a.store, args[2:3])
				if err != nil {
					return nil, err
				}
				return a.ledger.UpdateEntry(ctx, args[0], index, entries[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID INDEX",
		Short: "Remove the entry at INDEX",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, func(ctx context.Context, a *app) (*model.Transaction, error) {
				index, err := parseIndex(args[1])
				if err != nil {
					return nil, err
				}
				return a.ledger.DeleteEntry(ctx, args[0], index)
			})
		},
	})

	return cmd
}

// runWrite opens the app, performs one ledger write and prints the resulting transaction.
func runWrite(cmd *cobra.Command, edit func(context.Context, *app) (*model.Transaction, error)) error {
	ctx := cmd.Context()
	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	txn, err := edit(ctx, a)
	if err != nil {
		return err
	}
	return printTransaction(ctx, cmd.OutOrStdout(), a.store, txn)
}

func moveEntryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move FROM_ID INDEX TO_ID",
		Short: "Move an entry to another transaction; an emptied source is deleted",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, func(ctx context.Context, a *app) (*model.Transaction, error) {
				index, err := parseIndex(args[1])
				if err != nil {
					return nil, err
				}
				return a.ledger.MoveEntry(ctx, args[0], index, args[2])
			})
		},
	}
}

func splitEntryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split ID INDEX AMOUNT",
		Short: "Split AMOUNT off the entry at INDEX into a new entry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, func(ctx context.Context, a *app) (*model.Transaction, error) {
				index, err := parseIndex(args[1])
				if err != nil {
					return nil, err
				}
				amount, err := matching.ParseAmount(args[2])
				if err != nil {
					return nil, err
				}
				return a.ledger.SplitEntry(ctx, args[0], index, amount)
			})
		},
	}
}

func mergeTransactionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge SOURCE_ID TARGET_ID",
		Short: "Fold SOURCE into TARGET and delete SOURCE",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, func(ctx context.Context, a *app) (*model.Transaction, error) {
				return a.ledger.MergeTransactions(ctx, args[0], args[1])
			})
		},
	}
}
