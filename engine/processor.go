package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/evolutive/statusflow/audit"
	"github.com/evolutive/statusflow/internal/logger"
	"github.com/evolutive/statusflow/rules"
)

// SubjectSystem tags process-level audit events
const SubjectSystem = "system"

// SubjectRule tags per-rule audit events
const SubjectRule = "rule"

// Params are the parameters of one processing run
type Params struct {
	// ObjectType narrows the run to one subject domain; empty means all
	ObjectType string

	// DryRun reports intended transitions without mutating anything
	DryRun bool

	// RuleID, when set, processes that single rule if it is active,
	// regardless of its auto-execute flag
	RuleID *int64
}

// Processor orchestrates a run: it loads the applicable rules, drives
// the selector and applier for each, and writes the process-level audit
// summary. Rules and candidates are processed strictly sequentially so
// the idempotency check stays race-free within a run and audit ordering
// stays deterministic.
type Processor struct {
	rules    rules.Store
	selector *Selector
	applier  *Applier
	recorder *audit.Recorder
}

// NewProcessor creates a Processor
func NewProcessor(ruleStore rules.Store, selector *Selector, applier *Applier, recorder *audit.Recorder) *Processor {
	return &Processor{
		rules:    ruleStore,
		selector: selector,
		applier:  applier,
		recorder: recorder,
	}
}

// ProcessRules runs every applicable rule and returns the total number
// of transitions applied (or simulated, under dry-run).
//
// Per-rule and per-candidate failures are contained and audited without
// stopping the run. The returned error is non-nil only for failures
// spanning the whole run: the rule store being unreachable, or the audit
// trail refusing an error-level event.
func (p *Processor) ProcessRules(ctx context.Context, params Params) (int, error) {
	runID := uuid.NewString()

	log := logger.Logger.With(
		"run_id", runID,
		"dry_run", params.DryRun,
	)
	log.Info("starting status flow processing",
		"rule_id", ruleIDValue(params.RuleID),
		"object_type", params.ObjectType,
	)

	applicable, err := p.loadRules(ctx, params.RuleID)
	if err != nil {
		return 0, p.failRun(ctx, params, runID, err)
	}

	if len(applicable) == 0 {
		auditErr := p.recorder.Warning(ctx, "No active rules found for processing",
			SubjectSystem, 0, params.RuleID,
			map[string]any{
				"object_type": params.ObjectType,
				"run_id":      runID,
			})
		return 0, auditErr
	}

	total := 0
	for _, rule := range applicable {
		count, err := p.processRule(ctx, rule, params, runID)
		if err != nil {
			// Only audit-trail failures escape processRule
			return total, p.failRun(ctx, params, runID, err)
		}
		total += count
	}

	if err := p.recorder.Info(ctx,
		fmt.Sprintf("Processed %d status transitions", total),
		SubjectSystem, 0, params.RuleID,
		map[string]any{
			"dry_run":     params.DryRun,
			"object_type": params.ObjectType,
			"run_id":      runID,
		}); err != nil {
		return total, err
	}

	log.Info("completed status flow processing", "processed_count", total)
	return total, nil
}

// loadRules resolves which rules this run covers. A requested rule is
// honored whenever it is active, even if not flagged for unattended
// execution; unattended runs only see active auto-execute rules.
func (p *Processor) loadRules(ctx context.Context, ruleID *int64) ([]*rules.Rule, error) {
	if ruleID != nil {
		return p.rules.GetActiveRules(ctx, ruleID)
	}
	return p.rules.GetAutoExecuteRules(ctx)
}

// processRule evaluates one rule over its eligible candidates. Candidate
// failures are audited and skipped; the remaining candidates still run.
func (p *Processor) processRule(ctx context.Context, rule *rules.Rule, params Params, runID string) (int, error) {
	logger.Info("processing rule",
		"rule_id", rule.ID,
		"from_state", rule.FromState,
		"to_state", rule.ToState,
		"delay_hours", rule.DelayHours,
		"dry_run", params.DryRun,
		"run_id", runID,
	)

	candidates, err := p.selector.Select(ctx, rule, params.ObjectType)
	if err != nil {
		// The rule is unusable this run (bad condition, store failure);
		// audit it and move on to the next rule
		auditErr := p.recorder.Error(ctx,
			"Error selecting eligible orders: "+err.Error(),
			SubjectRule, rule.ID, &rule.ID,
			map[string]any{
				"from_state": rule.FromState,
				"to_state":   rule.ToState,
				"error":      err.Error(),
				"run_id":     runID,
			})
		return 0, auditErr
	}

	if len(candidates) == 0 {
		auditErr := p.recorder.Info(ctx, "No eligible objects found for this rule",
			SubjectRule, rule.ID, &rule.ID,
			map[string]any{
				"from_state": rule.FromState,
				"to_state":   rule.ToState,
				"dry_run":    params.DryRun,
				"run_id":     runID,
			})
		return 0, auditErr
	}

	applied := 0
	for _, cand := range candidates {
		outcome, err := p.applier.Apply(ctx, cand, rule.ToState, params.DryRun, rule.ID)
		if err != nil {
			return applied, err
		}
		if outcome.Counts() {
			applied++
		}
	}

	auditErr := p.recorder.Info(ctx,
		fmt.Sprintf("Rule processed %d status transitions", applied),
		SubjectRule, rule.ID, &rule.ID,
		map[string]any{
			"from_state":       rule.FromState,
			"to_state":         rule.ToState,
			"eligible_objects": len(candidates),
			"dry_run":          params.DryRun,
			"run_id":           runID,
		})
	return applied, auditErr
}

// failRun audits a run-spanning failure once and wraps it for the
// invocation boundary, which decides on exit status
func (p *Processor) failRun(ctx context.Context, params Params, runID string, cause error) error {
	auditErr := p.recorder.Error(ctx,
		"Error processing status flow rules: "+cause.Error(),
		SubjectSystem, 0, params.RuleID,
		map[string]any{
			"error":       cause.Error(),
			"dry_run":     params.DryRun,
			"object_type": params.ObjectType,
			"run_id":      runID,
		})
	if auditErr != nil {
		logger.Error("audit trail unavailable while reporting run failure",
			"error", auditErr,
			"run_id", runID,
		)
	}
	return fmt.Errorf("error processing status flow rules: %w", cause)
}

func ruleIDValue(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
