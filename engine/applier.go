package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/evolutive/statusflow/audit"
	"github.com/evolutive/statusflow/internal/logger"
	"github.com/evolutive/statusflow/orders"
)

// systemEmployeeID marks automated transitions in history entries
const systemEmployeeID = 0

// Applier applies (or simulates) a single candidate's state change,
// enforcing idempotency and recording the outcome in the audit log.
//
// Transition failures are reported, not propagated: the returned error
// is non-nil only when the audit trail itself could not record an
// error-level event, which is fatal for the run.
type Applier struct {
	store    orders.Store
	recorder *audit.Recorder
}

// NewApplier creates an Applier
func NewApplier(store orders.Store, recorder *audit.Recorder) *Applier {
	return &Applier{
		store:    store,
		recorder: recorder,
	}
}

// Apply drives one candidate through one rule evaluation
func (a *Applier) Apply(ctx context.Context, cand orders.Candidate, toState int64, dryRun bool, ruleID int64) (Outcome, error) {
	logger.Info("updating order status",
		"order_id", cand.ID,
		"from_state", cand.CurrentState,
		"to_state", toState,
		"dry_run", dryRun,
	)

	if dryRun {
		// A simulated application always succeeds; nothing is mutated
		err := a.recorder.Info(ctx,
			fmt.Sprintf("Simulated status change from %d to %d", cand.CurrentState, toState),
			ObjectTypeOrder, cand.ID, &ruleID,
			map[string]any{
				"from_state": cand.CurrentState,
				"to_state":   toState,
				"dry_run":    true,
			})
		return OutcomeSimulatedApplied, err
	}

	// Refetch before mutating: the candidate snapshot may be stale by the
	// time this order's turn comes around in the batch
	order, err := a.store.GetByID(ctx, cand.ID)
	if errors.Is(err, orders.ErrNotFound) {
		auditErr := a.recorder.Warning(ctx, "Order not found",
			ObjectTypeOrder, cand.ID, &ruleID, nil)
		return OutcomeSkippedNotFound, auditErr
	}
	if err != nil {
		return OutcomeFailed, a.reportFailure(ctx, cand, toState, ruleID, err)
	}

	// Idempotency guard: overlapping runs or multiple rules targeting the
	// same state must not double-apply
	if order.CurrentState == toState {
		auditErr := a.recorder.Info(ctx, "Order already in target state",
			ObjectTypeOrder, cand.ID, &ruleID,
			map[string]any{"state": toState})
		return OutcomeSkippedAlreadyInTarget, auditErr
	}

	fromState := order.CurrentState
	rid := ruleID
	if err := a.store.ApplyTransition(ctx, order.ID, toState, &rid, systemEmployeeID); err != nil {
		return OutcomeFailed, a.reportFailure(ctx, cand, toState, ruleID, err)
	}

	auditErr := a.recorder.Info(ctx,
		fmt.Sprintf("Status changed from %d to %d", fromState, toState),
		ObjectTypeOrder, order.ID, &ruleID,
		map[string]any{
			"from_state": fromState,
			"to_state":   toState,
			"reference":  order.Reference,
		})
	return OutcomeApplied, auditErr
}

// reportFailure records a candidate-level failure. The transition error
// is swallowed here so batch iteration continues; only an audit-trail
// failure escapes.
func (a *Applier) reportFailure(ctx context.Context, cand orders.Candidate, toState int64, ruleID int64, cause error) error {
	return a.recorder.Error(ctx,
		"Error updating order status: "+cause.Error(),
		ObjectTypeOrder, cand.ID, &ruleID,
		map[string]any{
			"from_state": cand.CurrentState,
			"to_state":   toState,
			"error":      cause.Error(),
		})
}
