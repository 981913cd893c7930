// Package rulefile reads and writes rule sets as YAML. Accounts are referred
// to by name so a file can move between ledgers.
package rulefile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/service"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// File is the document root.
type File struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is one rule as written in a rule file.
type RuleSpec struct {
	Name              string            `yaml:"name"`
	Type              string            `yaml:"type"`
	Pattern           string            `yaml:"pattern"`
	NewDescription    string            `yaml:"new_description,omitempty"`
	SourceAccounts    []string          `yaml:"source_accounts,omitempty"`
	Destinations      []DestinationSpec `yaml:"destinations,omitempty"`
	Priority          int               `yaml:"priority"`
	MaxDateDifference int               `yaml:"max_date_difference,omitempty"`
	AutoApply         bool              `yaml:"auto_apply"`
}

// DestinationSpec is one complementary destination. Ratio is a decimal string.
type DestinationSpec struct {
	Account string `yaml:"account"`
	Ratio   string `yaml:"ratio"`
}

// Decode parses a rule file.
func Decode(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}
	return &f, nil
}

// Encode writes a rule file.
func Encode(w io.Writer, f *File) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("failed to write rule file: %w", err)
	}
	return enc.Close()
}

// Load reads a rule file from disk.
func Load(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule file: %w", err)
	}
	defer fh.Close()
	return Decode(fh)
}

// FromRules converts stored rules to their file form. Every referenced
// account must be present in accounts, which is keyed by id.
func FromRules(rules []model.Rule, accounts map[string]model.Account) (*File, error) {
	f := &File{Rules: make([]RuleSpec, 0, len(rules))}
	for _, r := range rules {
		spec := RuleSpec{
			Name:              r.Name,
			Type:              string(r.Type),
			Pattern:           r.Pattern,
			NewDescription:    r.NewDescription,
			Priority:          r.Priority,
			MaxDateDifference: r.MaxDateDifference,
			AutoApply:         r.AutoApply,
		}
		for _, id := range r.SourceAccounts {
			acct, ok := accounts[id]
			if !ok {
				return nil, common.NewNotFoundError("account", id)
			}
			spec.SourceAccounts = append(spec.SourceAccounts, acct.Name)
		}
		for _, d := range r.Destinations {
			acct, ok := accounts[d.AccountID]
			if !ok {
				return nil, common.NewNotFoundError("account", d.AccountID)
			}
			spec.Destinations = append(spec.Destinations, DestinationSpec{
				Account: acct.Name,
				Ratio:   d.Ratio.String(),
			})
		}
		f.Rules = append(f.Rules, spec)
	}
	return f, nil
}

// ToRules resolves account names against byName and returns model rules.
func (f *File) ToRules(byName map[string]model.Account) ([]model.Rule, error) {
	rules := make([]model.Rule, 0, len(f.Rules))
	for i, spec := range f.Rules {
		rule := model.Rule{
			Name:              spec.Name,
			Type:              model.RuleType(spec.Type),
			Pattern:           spec.Pattern,
			NewDescription:    spec.NewDescription,
			Priority:          spec.Priority,
			MaxDateDifference: spec.MaxDateDifference,
			AutoApply:         spec.AutoApply,
		}
		for _, name := range spec.SourceAccounts {
			acct, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("rule %d (%s): %w", i+1, spec.Name, common.NewNotFoundError("account", name))
			}
			rule.SourceAccounts = append(rule.SourceAccounts, acct.ID)
		}
		for _, d := range spec.Destinations {
			acct, ok := byName[d.Account]
			if !ok {
				return nil, fmt.Errorf("rule %d (%s): %w", i+1, spec.Name, common.NewNotFoundError("account", d.Account))
			}
			ratio, err := decimal.NewFromString(d.Ratio)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): %w", i+1, spec.Name,
					common.NewValidationError("ratio", fmt.Sprintf("%q is not a decimal", d.Ratio)))
			}
			rule.Destinations = append(rule.Destinations, model.Destination{AccountID: acct.ID, Ratio: ratio})
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ImportResult counts the rules written by Import.
type ImportResult struct {
	Created int
	Updated int
}

// Import writes every rule in f, updating stored rules with the same name
// and creating the rest. The whole file is applied in one transaction.
func Import(ctx context.Context, storage service.Storage, f *File) (*ImportResult, error) {
	result := &ImportResult{}
	err := storage.InTx(ctx, func(st service.Storage) error {
		*result = ImportResult{}

		accounts, err := st.ListAccounts(ctx)
		if err != nil {
			return err
		}
		byName := make(map[string]model.Account, len(accounts))
		for _, a := range accounts {
			byName[a.Name] = a
		}

		rules, err := f.ToRules(byName)
		if err != nil {
			return err
		}

		existing, err := st.ListRules(ctx)
		if err != nil {
			return err
		}
		ids := make(map[string]int64, len(existing))
		for _, r := range existing {
			ids[r.Name] = r.ID
		}

		for i := range rules {
			if id, ok := ids[rules[i].Name]; ok {
				rules[i].ID = id
				if err := st.UpdateRule(ctx, &rules[i]); err != nil {
					return fmt.Errorf("failed to update rule %q: %w", rules[i].Name, err)
				}
				result.Updated++
				continue
			}
			if err := st.CreateRule(ctx, &rules[i]); err != nil {
				return fmt.Errorf("failed to create rule %q: %w", rules[i].Name, err)
			}
			result.Created++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Export returns every stored rule in file form.
func Export(ctx context.Context, storage service.Storage) (*File, error) {
	rules, err := storage.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := storage.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	return FromRules(rules, byID)
}
