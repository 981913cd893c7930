package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 5

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial ledger schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					type TEXT NOT NULL CHECK (type IN ('asset', 'liability', 'income', 'expense', 'equity')),
					unit TEXT NOT NULL,
					parent_id TEXT REFERENCES accounts(id),
					created_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					date TEXT NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					reference TEXT NOT NULL DEFAULT '',
					notes TEXT NOT NULL DEFAULT '',
					is_balanced INTEGER NOT NULL DEFAULT 0,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,
				`CREATE TABLE IF NOT EXISTS entry_lines (
					id TEXT PRIMARY KEY,
					transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
					position INTEGER NOT NULL,
					account_id TEXT NOT NULL REFERENCES accounts(id),
					amount TEXT NOT NULL,
					type TEXT NOT NULL CHECK (type IN ('debit', 'credit')),
					unit TEXT NOT NULL,
					quantity TEXT,
					description TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX idx_entry_lines_transaction ON entry_lines(transaction_id, position)`,
				`CREATE INDEX idx_entry_lines_account ON entry_lines(account_id)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Add reconciliation rules",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS rules (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					type TEXT NOT NULL CHECK (type IN ('edit', 'merge', 'complementary')),
					pattern TEXT NOT NULL,
					new_description TEXT NOT NULL DEFAULT '',
					max_date_difference INTEGER NOT NULL DEFAULT 0,
					priority INTEGER NOT NULL DEFAULT 0,
					auto_apply INTEGER NOT NULL DEFAULT 1,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS rule_source_accounts (
					rule_id INTEGER NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
					account_id TEXT NOT NULL,
					PRIMARY KEY (rule_id, account_id)
				)`,
				`CREATE TABLE IF NOT EXISTS rule_destinations (
					rule_id INTEGER NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
					position INTEGER NOT NULL,
					account_id TEXT NOT NULL,
					ratio TEXT NOT NULL,
					PRIMARY KEY (rule_id, position)
				)`,
				`CREATE INDEX idx_rules_auto_apply ON rules(auto_apply)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Track applied rules per transaction",
		Up: func(tx *sql.Tx) error {
			// rule_id has no foreign key so the audit row outlives the rule.
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS applied_rules (
					transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
					rule_id INTEGER NOT NULL,
					applied_at TEXT NOT NULL,
					PRIMARY KEY (transaction_id, rule_id)
				)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Add transaction version for optimistic concurrency",
		Up: func(tx *sql.Tx) error {
			if err := execAll(tx, []string{
				`ALTER TABLE transactions ADD COLUMN version INTEGER NOT NULL DEFAULT 1`,
				`CREATE INDEX idx_transactions_reference ON transactions(reference) WHERE reference != ''`,
				`CREATE INDEX idx_transactions_balanced ON transactions(is_balanced, date)`,
			}); err != nil {
				return err
			}
			slog.Info("Enabled optimistic concurrency on transactions")
			return nil
		},
	},
	{
		Version:     5,
		Description: "Keep references of merged transactions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS absorbed_references (
					transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
					reference TEXT NOT NULL,
					PRIMARY KEY (transaction_id, reference)
				)`,
				`CREATE INDEX idx_absorbed_references_reference ON absorbed_references(reference)`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if s.tx != nil {
		return errors.New("migrations cannot be run within a transaction")
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Debug("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}

// SchemaVersion returns the migration version the database is at.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
