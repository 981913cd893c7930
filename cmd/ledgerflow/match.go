package main

import (
	"strings"

	"github.com/Veraticus/ledgerflow/internal/cli"
	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/matching"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/spf13/cobra"
)

func matchCmd() *cobra.Command {
	var (
		amount, typ, date, exclude, txnID string
		dateRange, page, limit            int
	)

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Find transactions whose imbalance complements an amount",
		Long: `Search for transactions whose debits exceed their credits (--type debit) or
whose credits exceed their debits (--type credit) by AMOUNT, within half of
--range days either side of --date. With --tx the amount, side, date and
exclusion come from that transaction's suggested fix.`,
		Example: `  ledgerflow match --amount 50 --type credit --date 2024-01-15
  ledgerflow match --tx 3f2a... --range 14`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var result *matching.Page
			if txnID != "" {
				result, err = a.finder.SearchForTransaction(ctx, txnID, dateRange, page, limit)
			} else {
				if amount == "" || typ == "" {
					return common.NewUserError("Pass --amount and --type, or --tx", common.ErrValidation)
				}
				q := matching.Query{
					Type:                 model.EntryType(strings.ToLower(typ)),
					ExcludeTransactionID: exclude,
					DateRange:            dateRange,
					Page:                 page,
					Limit:                limit,
				}
				if q.Amount, err = matching.ParseAmount(amount); err != nil {
					return err
				}
				if q.ReferenceDate, err = parseDate(date); err != nil {
					return err
				}
				result, err = a.finder.Search(ctx, q)
			}
			if err != nil {
				return err
			}
			return cli.RenderMatches(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "imbalance amount to complement")
	cmd.Flags().StringVar(&typ, "type", "", "side of the candidate's excess (debit, credit)")
	cmd.Flags().StringVar(&date, "date", "", "reference date YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&exclude, "exclude", "", "transaction id to leave out")
	cmd.Flags().StringVar(&txnID, "tx", "", "search with the suggested fix of this transaction")
	cmd.Flags().IntVar(&dateRange, "range", 0, "window in days (default from config)")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 0, "results per page (default from config)")

	return cmd
}
