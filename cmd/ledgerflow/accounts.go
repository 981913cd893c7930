package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Veraticus/ledgerflow/internal/cli"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/spf13/cobra"
)

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the chart of accounts",
	}

	cmd.AddCommand(addAccountCmd())
	cmd.AddCommand(listAccountsCmd())
	cmd.AddCommand(deleteAccountCmd())

	return cmd
}

func addAccountCmd() *cobra.Command {
	var typ, unit, parent string

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create an account",
		Example: `  ledgerflow accounts add Checking --type asset
  ledgerflow accounts add "Brokerage AAPL" --type asset --unit AAPL --parent Brokerage`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			acct := &model.Account{
				Name: args[0],
				Type: model.AccountType(strings.ToLower(typ)),
				Unit: strings.ToUpper(unit),
			}
			if acct.Unit == "" {
				acct.Unit = cfg.BaseUnit
			}
			if parent != "" {
				p, err := resolveAccount(ctx, a.store, parent)
				if err != nil {
					return err
				}
				acct.ParentID = &p.ID
			}

			if err := a.store.CreateAccount(ctx, acct); err != nil {
				return fmt.Errorf("failed to create account: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Account %q created (%s)", acct.Name, acct.ID)))
			return nil
		},
	}

	cmd.Flags().StringVar(&typ, "type", "", "account type (asset, liability, income, expense, equity)")
	cmd.Flags().StringVar(&unit, "unit", "", "currency or asset unit (default: ledger base unit)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent account name or id")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func listAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			accounts, err := a.store.ListAccounts(ctx)
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}
			if len(accounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No accounts yet. Use 'ledgerflow accounts add' to create one."))
				return nil
			}
			return cli.RenderAccounts(cmd.OutOrStdout(), accounts)
		},
	}
}

func deleteAccountCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete ACCOUNT",
		Short: "Delete an unused account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := resolveAccount(ctx, a.store, args[0])
			if err != nil {
				return err
			}

			if !yes {
				ok, err := cli.Confirm(ctx, cli.NewNonBlockingReader(os.Stdin), cmd.OutOrStdout(),
					fmt.Sprintf("Delete account %q?", acct.Name))
				if err != nil || !ok {
					return err
				}
			}

			if err := a.store.DeleteAccount(ctx, acct.ID); err != nil {
				return fmt.Errorf("failed to delete account: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Account %q deleted", acct.Name)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}
