// Package config loads ledgerflow settings from viper and resolves paths.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands a leading ~ and $VAR references in a file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}

	return os.ExpandEnv(path)
}

// ConfigDir is the directory searched for config.yaml.
func ConfigDir() string {
	return ExpandPath("~/.config/ledgerflow")
}

// DefaultDatabasePath is the ledger database location when none is configured.
func DefaultDatabasePath() string {
	return ExpandPath("~/.local/share/ledgerflow/ledger.db")
}
