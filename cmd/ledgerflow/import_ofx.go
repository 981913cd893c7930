package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Veraticus/ledgerflow/internal/cli"
	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/ofx"
	"github.com/spf13/cobra"
)

func importOFXCmd() *cobra.Command {
	var account string
	var mappings []string

	cmd := &cobra.Command{
		Use:   "import-ofx FILE...",
		Short: "Import bank statement lines from OFX/QFX files",
		Long: `Each statement line becomes a single-entry transaction on the mapped ledger
account: money leaving the bank account is a credit, money arriving a debit.
Lines whose FITID was imported before are skipped. Auto-apply rules run on
every imported transaction.`,
		Example: `  ledgerflow import-ofx ~/Downloads/chase_*.qfx --account Checking
  ledgerflow import-ofx stmt.ofx --map 1234567890=Checking --map 4111111111111111="Credit Card"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			files, err := expandFiles(args)
			if err != nil {
				return err
			}

			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			mapping := ofx.Mapping{ByExternal: make(map[string]string)}
			if account != "" {
				acct, err := resolveAccount(ctx, a.store, account)
				if err != nil {
					return err
				}
				mapping.Default = acct.ID
			}
			for _, m := range mappings {
				external, ref, ok := strings.Cut(m, "=")
				if !ok {
					return common.NewValidationError("map", fmt.Sprintf("%q must look like EXTERNAL=ACCOUNT", m))
				}
				acct, err := resolveAccount(ctx, a.store, ref)
				if err != nil {
					return err
				}
				mapping.ByExternal[strings.TrimSpace(external)] = acct.ID
			}

			importer := ofx.NewImporter(a.store, a.ledger)
			var imported, duplicates int
			for _, path := range files {
				fh, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}
				result, err := importer.Import(ctx, fh, mapping)
				_ = fh.Close()
				if err != nil {
					return fmt.Errorf("failed to import %s: %w", path, err)
				}
				imported += result.Imported
				duplicates += result.Duplicates
				slog.Info("Imported file",
					"file", filepath.Base(path),
					"imported", result.Imported,
					"duplicates", result.Duplicates)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
				"Imported %d transactions from %d files (%d duplicates skipped)", imported, len(files), duplicates)))
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "ledger account for statements without a --map entry")
	cmd.Flags().StringArrayVar(&mappings, "map", nil, "EXTERNAL_ACCOUNT_ID=LEDGER_ACCOUNT (repeatable)")

	return cmd
}

// expandFiles resolves glob patterns, keeping literal paths that exist.
func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err == nil {
				files = append(files, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
			continue
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, common.NewUserError("No files found to import", common.ErrValidation)
	}
	return files, nil
}
