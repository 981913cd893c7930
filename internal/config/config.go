package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/matching"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable viper reads.
const EnvPrefix = "LEDGERFLOW"

// Config is the resolved application configuration.
type Config struct {
	DatabasePath string
	BaseUnit     string
	LogLevel     string
	LogFormat    string
	Matching     matching.Options
	Retry        common.RetryOptions
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "~/.local/share/ledgerflow/ledger.db")
	v.SetDefault("ledger.base_unit", "USD")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("matching.default_date_range", 30)
	v.SetDefault("matching.default_limit", 10)
	v.SetDefault("matching.max_limit", 100)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", 50*time.Millisecond)
}

// BindEnv makes LEDGERFLOW_DATABASE_PATH style variables override keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(ExpandPath(p)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%w: %s: %v", common.ErrInvalidConfig, p, err)
		}
	}
	return nil
}

// Load reads the typed configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabasePath: ExpandPath(v.GetString("database.path")),
		BaseUnit:     strings.ToUpper(strings.TrimSpace(v.GetString("ledger.base_unit"))),
		LogLevel:     v.GetString("logging.level"),
		LogFormat:    v.GetString("logging.format"),
		Matching: matching.Options{
			DefaultDateRange: v.GetInt("matching.default_date_range"),
			DefaultLimit:     v.GetInt("matching.default_limit"),
			MaxLimit:         v.GetInt("matching.max_limit"),
		},
		Retry: common.RetryOptions{
			MaxAttempts:  v.GetInt("retry.max_attempts"),
			InitialDelay: v.GetDuration("retry.initial_delay"),
		},
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabasePath()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.BaseUnit == "":
		return fmt.Errorf("%w: ledger.base_unit is empty", common.ErrMissingConfig)
	case c.Matching.DefaultDateRange < 0:
		return fmt.Errorf("%w: matching.default_date_range must not be negative", common.ErrInvalidConfig)
	case c.Matching.DefaultLimit < 1:
		return fmt.Errorf("%w: matching.default_limit must be at least 1", common.ErrInvalidConfig)
	case c.Matching.MaxLimit < c.Matching.DefaultLimit:
		return fmt.Errorf("%w: matching.max_limit must be at least matching.default_limit", common.ErrInvalidConfig)
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("%w: retry.max_attempts must be at least 1", common.ErrInvalidConfig)
	case c.Retry.InitialDelay < 0:
		return fmt.Errorf("%w: retry.initial_delay must not be negative", common.ErrInvalidConfig)
	}
	if _, err := common.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("%w: logging.format must be console or json, got %q", common.ErrInvalidConfig, c.LogFormat)
	}
	return nil
}
