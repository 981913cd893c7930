// Package engine applies reconciliation rules to ledger transactions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Veraticus/ledgerflow/internal/common"
	"github.com/Veraticus/ledgerflow/internal/model"
	"github.com/Veraticus/ledgerflow/internal/pattern"
	"github.com/Veraticus/ledgerflow/internal/service"
)

// Outcome reports which rules changed a transaction during one pass.
type Outcome struct {
	// TransactionID is the surviving transaction, which differs from the
	// requested one when a merge rule folded it into another.
	TransactionID string
	Consumed      []string
	AppliedRules  []int64
	SkippedRules  []int64
}

// Engine drives the applicator over a transaction's auto-apply rules.
type Engine struct {
	storage    service.Storage
	applicator *Applicator
}

// New creates a rule engine. A nil matcher uses pattern.NewMatcher(nil).
func New(storage service.Storage, matcher pattern.RuleMatcher) *Engine {
	if matcher == nil {
		matcher = pattern.NewMatcher(nil)
	}
	return &Engine{
		storage:    storage,
		applicator: NewApplicator(storage, matcher),
	}
}

// ApplicationOrder returns rules in the order a pass evaluates them: sorted
// by priority descending (stable), then reversed. The highest priority rule
// therefore runs last and sees every earlier rule's changes; when two rules
// write the same field, the higher priority one wins.
func ApplicationOrder(rules []model.Rule) []model.Rule {
	ordered := append([]model.Rule(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered
}

// ApplyRulesToTransaction runs every auto-apply rule against a transaction.
//
// A missing transaction and failures loading rules are returned unchanged.
// A rule that errors is logged and counted as skipped so the remaining rules
// still run, except for common.ErrConflict, which aborts the pass so the
// caller can reload and retry.
func (e *Engine) ApplyRulesToTransaction(ctx context.Context, transactionID string) (*Outcome, error) {
	txn, err := e.storage.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	rules, err := e.storage.GetAutoApplyRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load auto-apply rules: %w", err)
	}

	outcome := &Outcome{TransactionID: txn.ID}
	for _, rule := range ApplicationOrder(rules) {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		result, applyErr := e.applicator.Apply(ctx, rule, txn)
		if applyErr != nil {
			if errors.Is(applyErr, common.ErrConflict) {
				return outcome, applyErr
			}
			logSkip(ctx, rule, txn.ID, applyErr)
			outcome.SkippedRules = append(outcome.SkippedRules, rule.ID)
			continue
		}

		if !result.Applied {
			slog.DebugContext(ctx, "Rule not applied",
				"rule_id", rule.ID,
				"transaction_id", txn.ID,
				"reason", result.Reason)
			outcome.SkippedRules = append(outcome.SkippedRules, rule.ID)
			continue
		}

		slog.DebugContext(ctx, "Rule applied",
			"rule_id", rule.ID,
			"rule_type", rule.Type,
			"transaction_id", txn.ID)
		outcome.AppliedRules = append(outcome.AppliedRules, rule.ID)
		if result.Consumed != "" {
			outcome.Consumed = append(outcome.Consumed, result.Consumed)
		}
		txn = result.Transaction
		outcome.TransactionID = txn.ID
	}

	common.LogInfo(ctx, "Rule pass complete", common.Fields{
		"transaction_id": outcome.TransactionID,
		"applied":        len(outcome.AppliedRules),
		"skipped":        len(outcome.SkippedRules),
	})
	return outcome, nil
}

// ApplyRule runs one rule against a transaction regardless of its
// auto-apply flag, as an interactive "run this rule now" action would.
func (e *Engine) ApplyRule(ctx context.Context, ruleID int64, transactionID string) (Result, error) {
	rule, err := e.storage.GetRule(ctx, ruleID)
	if err != nil {
		return Result{}, err
	}
	txn, err := e.storage.GetTransaction(ctx, transactionID)
	if err != nil {
		return Result{}, err
	}
	return e.applicator.Apply(ctx, *rule, txn)
}

func logSkip(ctx context.Context, rule model.Rule, txnID string, err error) {
	fields := common.Fields{
		"rule_id":        rule.ID,
		"rule_name":      rule.Name,
		"transaction_id": txnID,
	}
	switch {
	case errors.Is(err, common.ErrAmbiguousMerge):
		fields["error"] = err.Error()
		common.LogDebug(ctx, "Merge rule skipped", fields)
	case errors.Is(err, common.ErrRuleConfiguration):
		slog.WarnContext(ctx, "Rule has invalid configuration, skipping",
			"rule_id", rule.ID, "pattern", rule.Pattern, "error", err)
	default:
		common.LogError(ctx, err, "Rule failed, skipping", fields)
	}
}
