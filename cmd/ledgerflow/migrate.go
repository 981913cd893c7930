package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/ledgerflow/internal/cli"
	"github.com/Veraticus/ledgerflow/internal/storage"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Initialize or update the ledger database schema to the latest version.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = store.Close() }()

			current, err := store.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			if status {
				fmt.Fprintf(cmd.OutOrStdout(), "Database:        %s\nCurrent version: %d\nLatest version:  %d\n",
					cfg.DatabasePath, current, storage.ExpectedSchemaVersion)
				return nil
			}

			slog.Info("Running database migrations",
				"database", cfg.DatabasePath,
				"from_version", current)
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Database at schema version %d", storage.ExpectedSchemaVersion)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "show the schema version without migrating")
	return cmd
}
