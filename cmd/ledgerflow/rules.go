package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Veraticus/ledgerflow/internal/cli"
	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/pattern"
	"github.com/Veraticus/ledgerflow/internal/rulefile"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/spf13/cobra"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage reconciliation rules",
		Long: `Rules rewrite, merge or complete transactions whose description matches a
case-insensitive regular expression. Auto-apply rules run on every write.`,
	}

	cmd.AddCommand(addRuleCmd())
	cmd.AddCommand(listRulesCmd())
	cmd.AddCommand(deleteRuleCmd())
	cmd.AddCommand(importRulesCmd())
	cmd.AddCommand(exportRulesCmd())
	cmd.AddCommand(applyRulesCmd())
	cmd.AddCommand(runRuleCmd())

	return cmd
}

func addRuleCmd() *cobra.Command {
	var (
		name, typ, expr, newDescription string
		sources, destinations           []string
		priority, maxDays               int
		autoApply                       bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a rule",
		Example: `  ledgerflow rules add --name groceries --type edit --pattern "GROCERY" --new-desc GROCERIES --auto
  ledgerflow rules add --name transfers --type merge --pattern "TRANSFER" --source Checking --max-days 3 --auto
  ledgerflow rules add --name utilities --type complementary --pattern "UTILITY" \
    --source Checking --dest Household=0.6 --dest Dining=0.4`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := pattern.NewRegexCompiler().Compile(expr); err != nil {
				return common.NewUserError(fmt.Sprintf("Pattern %q is not a valid regular expression", expr), err)
			}

			rule := &model.Rule{
				Name:              name,
				Type:              model.RuleType(strings.ToLower(typ)),
				Pattern:           expr,
				NewDescription:    newDescription,
				Priority:          priority,
				MaxDateDifference: maxDays,
				AutoApply:         autoApply,
			}
			if rule.SourceAccounts, err = resolveAccounts(ctx, a.store, sources); err != nil {
				return err
			}
			for _, spec := range destinations {
				ref, ratio, err := parseDestination(spec)
				if err != nil {
					return err
				}
				acct, err := resolveAccount(ctx, a.store, ref)
				if err != nil {
					return err
				}
				rule.Destinations = append(rule.Destinations, model.Destination{AccountID: acct.ID, Ratio: ratio})
			}

			if err := a.store.CreateRule(ctx, rule); err != nil {
				return fmt.Errorf("failed to create rule: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Rule %d %q created", rule.ID, rule.Name)))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "unique rule name")
	cmd.Flags().StringVar(&typ, "type", "", "rule type (edit, merge, complementary)")
	cmd.Flags().StringVar(&expr, "pattern", "", "case-insensitive regular expression matched against descriptions")
	cmd.Flags().StringVar(&newDescription, "new-desc", "", "replacement description (edit rules)")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "source accounts (empty: any account)")
	cmd.Flags().StringArrayVar(&destinations, "dest", nil, "destination ACCOUNT=RATIO (complementary rules, repeatable)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority; higher priority rules run last and win conflicting edits")
	cmd.Flags().IntVar(&maxDays, "max-days", 0, "merge window in days (merge rules)")
	cmd.Flags().BoolVar(&autoApply, "auto", false, "apply automatically on every write")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("pattern")

	return cmd
}

func listRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rules, err := a.store.ListRules(ctx)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}
			if len(rules) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No rules yet. Use 'ledgerflow rules add' to create one."))
				return nil
			}
			accounts, err := allAccounts(ctx, a.store)
			if err != nil {
				return err
			}
			return cli.RenderRules(cmd.OutOrStdout(), rules, accounts)
		},
	}
}

func deleteRuleCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rule, err := a.store.GetRule(ctx, id)
			if err != nil {
				return err
			}
			if !yes {
				ok, err := cli.Confirm(ctx, cli.NewNonBlockingReader(os.Stdin), cmd.OutOrStdout(),
					fmt.Sprintf("Delete rule %d %q?", rule.ID, rule.Name))
				if err != nil || !ok {
					return err
				}
			}

			if err := a.store.DeleteRule(ctx, id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Rule %d deleted", id)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func importRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Create or update rules from a YAML rule file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := rulefile.Load(args[0])
			if err != nil {
				return err
			}
			compiler := pattern.NewRegexCompiler()
			for _, spec := range f.Rules {
				if _, err := compiler.Compile(spec.Pattern); err != nil {
					return common.NewUserError(fmt.Sprintf("Rule %q has an invalid pattern", spec.Name), err)
				}
			}

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := rulefile.Import(ctx, a.store, f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Imported rules: %d created, %d updated", result.Created, result.Updated)))
			return nil
		},
	}
}

func exportRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write all rules as YAML (stdout when FILE is omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := rulefile.Export(ctx, a.store)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				return rulefile.Encode(cmd.OutOrStdout(), f)
			}
			out, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[0], err)
			}
			defer func() {
				if closeErr := out.Close(); err == nil {
					err = closeErr
				}
			}()
			return rulefile.Encode(out, f)
		},
	}
}

func applyRulesCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "apply [TRANSACTION_ID...]",
		Short: "Run the auto-apply rules against transactions",
		Long: `Run the auto-apply rules against the given transactions, or with --all
against every unbalanced transaction.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return common.NewUserError("Pass transaction ids or --all", common.ErrValidation)
			}

			handler := cli.NewInterruptHandler(cmd.ErrOrStderr(), "Processed transactions keep their changes; run the command again to continue.")
			ctx, stop := handler.HandleInterrupts(cmd.Context())
			defer stop()

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ids := args
			if all {
				unbalanced := true
				txns, err := a.store.FindTransactions(ctx, service.TransactionFilter{Unbalanced: &unbalanced})
				if err != nil {
					return fmt.Errorf("failed to load unbalanced transactions: %w", err)
				}
				ids = make([]string, len(txns))
				for i := range txns {
					ids[i] = txns[i].ID
				}
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing to do."))
				return nil
			}

			progress := cli.NewProgress(cmd.ErrOrStderr(), len(ids), "Applying rules...")
			var balanced, merged, failed int
			for _, id := range ids {
				if ctx.Err() != nil {
					break
				}

				txn, err := a.ledger.ApplyRules(ctx, id)
				switch {
				case errors.Is(err, common.ErrNotFound):
					// merged away earlier in this batch
				case err != nil:
					failed++
					common.LogError(ctx, err, "Failed to apply rules", common.Fields{"transaction_id": id})
				default:
					if txn.ID != id {
						merged++
					}
					if txn.IsBalanced {
						balanced++
					}
				}
				progress.Step()
			}
			if !handler.WasInterrupted() {
				progress.Finish()
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
				"Processed %d transactions: %d balanced, %d merged away, %d failed",
				len(ids), balanced, merged, failed)))
			if failed > 0 {
				return fmt.Errorf("%d transactions failed", failed)
			}
			return ctx.Err()
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "process every unbalanced transaction")
	return cmd
}

func runRuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run RULE_ID TRANSACTION_ID",
		Short: "Apply one rule to one transaction, even if it is not auto-apply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ruleID, err := parseRuleID(args[0])
			if err != nil {
				return err
			}
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.ledger.RunRule(ctx, ruleID, args[1])
			if err != nil {
				return err
			}
			if !result.Applied {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Rule not applied: "+result.Reason))
				return nil
			}
			if result.Consumed != "" {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo(fmt.Sprintf("Transaction %s was merged into %s", result.Consumed, result.Transaction.ID)))
			}
			return printTransaction(ctx, cmd.OutOrStdout(), a.store, result.Transaction)
		},
	}
}
