package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/evolutive/statusflow/audit"
	"github.com/evolutive/statusflow/orders"
	"github.com/evolutive/statusflow/rules"
)

// testHarness bundles the in-memory stores behind a wired Processor
type testHarness struct {
	ruleStore  *rules.InMemoryStore
	orderStore *orders.InMemoryStore
	auditStore *audit.InMemoryStore
	selector   *Selector
	processor  *Processor
	now        time.Time
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	ruleStore := rules.NewInMemoryStore()
	orderStore := orders.NewInMemoryStore()
	auditStore := audit.NewInMemoryStore()
	recorder := audit.NewRecorder(auditStore, true)

	predicates, err := NewPredicates()
	if err != nil {
		t.Fatalf("NewPredicates() failed: %v", err)
	}

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	selector := NewSelector(orderStore, predicates)
	selector.SetClock(func() time.Time { return now })

	applier := NewApplier(orderStore, recorder)
	processor := NewProcessor(ruleStore, selector, applier, recorder)

	return &testHarness{
		ruleStore:  ruleStore,
		orderStore: orderStore,
		auditStore: auditStore,
		selector:   selector,
		processor:  processor,
		now:        now,
	}
}

func (h *testHarness) eventsFor(t *testing.T, subjectType string) []*audit.Event {
	t.Helper()
	events, err := h.auditStore.Query(context.Background(),
		audit.Filters{SubjectType: subjectType},
		audit.QueryOptions{OrderBy: "id", OrderDirection: "ASC", Limit: 100})
	if err != nil {
		t.Fatalf("audit query failed: %v", err)
	}
	return events
}

func TestProcessRulesAppliesAgedTransition(t *testing.T) {
	h := newTestHarness(t)

	h.ruleStore.Add(&rules.Rule{
		ID: 1, FromState: 2, ToState: 3, DelayHours: 24,
		AutoExecute: true, Active: true,
	})
	h.orderStore.Add(&orders.Order{ID: 1001, CurrentState: 2}, h.now.Add(-30*time.Hour))

	count, err := h.processor.ProcessRules(context.Background(), Params{})
	if err != nil {
		t.Fatalf("ProcessRules() failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("ProcessRules() = %d, want 1", count)
	}

	order, err := h.orderStore.GetByID(context.Background(), 1001)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if order.CurrentState != 3 {
		t.Errorf("order state = %d, want 3", order.CurrentState)
	}

	// One applied event for the order
	orderEvents := h.eventsFor(t, "order")
	if len(orderEvents) != 1 {
		t.Fatalf("got %d order events, want 1", len(orderEvents))
	}
	if !strings.Contains(orderEvents[0].Message, "Status changed from 2 to 3") {
		t.Errorf("unexpected message: %q", orderEvents[0].Message)
	}

	// One rule summary event
	ruleEvents := h.eventsFor(t, "rule")
	if len(ruleEvents) != 1 {
		t.Fatalf("got %d rule events, want 1", len(ruleEvents))
	}
	if !strings.Contains(ruleEvents[0].Message, "Rule processed 1 status transitions") {
		t.Errorf("unexpected rule summary: %q", ruleEvents[0].Message)
	}

	// One process summary event
	systemEvents := h.eventsFor(t, "system")
	if len(systemEvents) != 1 {
		t.Fatalf("got %d system events, want 1", len(systemEvents))
	}
	if !strings.Contains(systemEvents[0].Message, "Processed 1 status transitions") {
		t.Errorf("unexpected run summary: %q", systemEvents[0].Message)
	}
}

func TestProcessRulesIsIdempotent(t *testing.T) {
	h := newTestHarness(t)

	h.ruleStore.Add(&rules.Rule{
		ID: 1, FromState: 2, ToState: 3,
		AutoExecute: true, Active: true,
	})
	h.orderStore.Add(&orders.Order{ID: 1, CurrentState: 2}, h.now.Add(-time.Hour))

	first, err := h.processor.ProcessRules(context.Background(), Params{})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first != 1 {
		t.Fatalf("first run = %d, want 1", first)
	}

	second, err := h.processor.ProcessRules(context.Background(), Params{})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second != 0 {
		t.Errorf("second run = %d, want 0", second)
	}

	// Exactly one real transition happened
	if got := len(h.orderStore.History()); got != 1 {
		t.Errorf("got %d history entries, want 1", got)
	}
}

func TestProcessRulesNoRulesReturnsZeroWithWarning(t *testing.T) {
	h := newTestHarness(t)

	count, err := h.processor.ProcessRules(context.Background(), Params{})
	if err != nil {
		t.Fatalf("ProcessRules() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("ProcessRules() = %d, want 0", count)
	}

	events := h.eventsFor(t, "system")
	if len(events) != 1 {
		t.Fatalf("got %d system events, want 1", len(events))
	}
	if events[0].Level != audit.LevelWarning {
		t.Errorf("event level = %s, want warning", events[0].Level)
	}
}

func TestProcessRulesSingleRuleIgnoresAutoExecuteFlag(t *testing.T) {
	h := newTestHarness(t)

	// Manual-only rule: active but not auto-execute
	h.ruleStore.Add(&rules.Rule{
		ID: 7, FromState: 1, ToState: 2,
		AutoExecute: false, Active: true,
	})
	h.orderStore.Add(&orders.Order{ID: 1, CurrentState: 1}, h.now.Add(-time.Hour))

	// An unattended run skips it
	count, err := h.processor.ProcessRules(context.Background(), Params{})
	if err != nil {
		t.Fatalf("unattended run failed: %v", err)
	}
	if count != 0 {
		t.Errorf("unattended run = %d, want 0", count)
	}

	// Requesting it by id runs it
	ruleID := int64(7)
	count, err = h.processor.ProcessRules(context.Background(), Params{RuleID: &ruleID})
	if err != nil {
		t.Fatalf("targeted run failed: %v", err)
	}
	if count != 1 {
		t.Errorf("targeted run = %d, want 1", count)
	}
}

func TestProcessRulesInactiveRuleNotProcessedByID(t *testing.T) {
	h := newTestHarness(t)

	h.ruleStore.Add(&rules.Rule{
		ID: 9, FromState: 1, ToState: 2,
		AutoExecute: true, Active: false,
	})
	h.orderStore.Add(&orders.Order{ID: 1, CurrentState: 1}, h.now.Add(-time.Hour))

	ruleID := int64(9)
	count, err := h.processor.ProcessRules(context.Background(), Params{RuleID: &ruleID})
	if err != nil {
		t.Fatalf("ProcessRules() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("ProcessRules() = %d, want 0", count)
	}
}

func TestProcessRulesPartialFailureIsolation(t *testing.T) {
	h := newTestHarness(t)

	h.ruleStore.Add(&rules.Rule{
		ID: 1, FromState: 2, ToState: 3,
		AutoExecute: true, Active: true,
	})
	for id := int64(1); id <= 3; id++ {
		h.orderStore.Add(&orders.Order{ID: id, CurrentState: 2}, h.now.Add(-time.Hour))
	}
	h.orderStore.FailTransitionsFor(2, errors.New("store rejected the change"))

	count, err := h.processor.ProcessRules(context.Background(), Params{})
	if err != nil {
		t.Fatalf("ProcessRules() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("ProcessRules() = %d, want 2", count)
	}

	// Orders 1 and 3 moved, order 2 did not
	for _, tc := range []struct {
		id   int64
		want int64
	}{{1, 3}, {2, 2}, {3, 3}} {
		order, err := h.orderStore.GetByID(context.Background(), tc.id)
		if err != nil {
			t.Fatalf("GetByID(%d) failed: %v", tc.id, err)
		}
		if order.CurrentState != tc.want {
			t.Errorf("order %d state = %d, want %d", tc.id, order.CurrentState, tc.want)
		}
	}

	// The failure was audited at error level
	events, err := h.auditStore.Query(context.Background(),
		audit.Filters{Level: audit.LevelError},
		audit.QueryOptions{Limit: 10})
	if err != nil {
		t.Fatalf("audit query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d error events, want 1", len(events))
	}
	if events[0].SubjectID != 2 {
		t.Errorf("error event subject = %d, want 2", events[0].SubjectID)
	}
}

func TestProcessRulesDryRunMutatesNothing(t *testing.T) {
	h := newTestHarness(t)

	h.ruleStore.Add(&rules.Rule{
		ID: 1, FromState: 2, ToState: 3,
		AutoExecute: true, Active: true,
	})
	h.orderStore.Add(&orders.Order{ID: 1, CurrentState: 2}, h.now.Add(-time.Hour))
	h.orderStore.Add(&orders.Order{ID: 2, CurrentState: 2}, h.now.Add(-time.Hour))

	count, err := h.processor.ProcessRules(context.Background(), Params{DryRun: true})
	if err != nil {
		t.Fatalf("ProcessRules() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("ProcessRules() = %d, want 2", count)
	}

	for _, id := range []int64{1, 2} {
		order, err := h.orderStore.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID(%d) failed: %v", id, err)
		}
		if order.CurrentState != 2 {
			t.Errorf("order %d state = %d, want unchanged 2", id, order.CurrentState)
		}
	}
	if got := len(h.orderStore.History()); got != 0 {
		t.Errorf("dry run wrote %d history entries, want 0", got)
	}

	// Simulation events were still recorded
	events := h.eventsFor(t, "order")
	if len(events) != 2 {
		t.Fatalf("got %d order events, want 2", len(events))
	}
	for _, e := range events {
		if !strings.Contains(e.Message, "Simulated status change") {
			t.Errorf("unexpected message: %q", e.Message)
		}
	}
}

func TestProcessRulesSubjectTypeNarrowing(t *testing.T) {
	h := newTestHarness(t)

	h.ruleStore.Add(&rules.Rule{
		ID: 1, FromState: 2, ToState: 3,
		AutoExecute: true, Active: true,
	})
	h.orderStore.Add(&orders.Order{ID: 1, CurrentState: 2}, h.now.Add(-time.Hour))

	count, err := h.processor.ProcessRules(context.Background(), Params{ObjectType: "invoice"})
	if err != nil {
		t.Fatalf("ProcessRules() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("ProcessRules() = %d, want 0", count)
	}

	order, _ := h.orderStore.GetByID(context.Background(), 1)
	if order.CurrentState != 2 {
		t.Errorf("order state = %d, want unchanged 2", order.CurrentState)
	}
}

func TestProcessRulesBadConditionDoesNotAbortOtherRules(t *testing.T) {
	h := newTestHarness(t)

	h.ruleStore.Add(&rules.Rule{
		ID: 1, FromState: 2, ToState: 3,
		Condition:   "this is not CEL ((",
		AutoExecute: true, Active: true,
	})
	h.ruleStore.Add(&rules.Rule{
		ID: 2, FromState: 5, ToState: 6,
		AutoExecute: true, Active: true,
	})
	h.orderStore.Add(&orders.Order{ID: 1, CurrentState: 2}, h.now.Add(-time.Hour))
	h.orderStore.Add(&orders.Order{ID: 2, CurrentState: 5}, h.now.Add(-time.Hour))

	count, err := h.processor.ProcessRules(context.Background(), Params{})
	if err != nil {
		t.Fatalf("ProcessRules() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("ProcessRules() = %d, want 1", count)
	}

	// The broken rule produced an error-level audit event
	events, err := h.auditStore.Query(context.Background(),
		audit.Filters{Level: audit.LevelError, SubjectType: "rule"},
		audit.QueryOptions{Limit: 10})
	if err != nil {
		t.Fatalf("audit query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d error events, want 1", len(events))
	}
	if events[0].SubjectID != 1 {
		t.Errorf("error event subject = %d, want rule 1", events[0].SubjectID)
	}
}

func TestProcessRulesRuleStoreFailureIsFatal(t *testing.T) {
	h := newTestHarness(t)

	failing := &failingRuleStore{err: errors.New("rule store unreachable")}
	processor := NewProcessor(failing, h.selector, NewApplier(h.orderStore, audit.NewRecorder(h.auditStore, true)), audit.NewRecorder(h.auditStore, true))

	_, err := processor.ProcessRules(context.Background(), Params{})
	if err == nil {
		t.Fatal("ProcessRules() should fail when the rule store is unreachable")
	}
	if !strings.Contains(err.Error(), "rule store unreachable") {
		t.Errorf("error should wrap the cause, got: %v", err)
	}

	// The failure was audited once at system level
	events, qerr := h.auditStore.Query(context.Background(),
		audit.Filters{Level: audit.LevelError, SubjectType: "system"},
		audit.QueryOptions{Limit: 10})
	if qerr != nil {
		t.Fatalf("audit query failed: %v", qerr)
	}
	if len(events) != 1 {
		t.Errorf("got %d system error events, want 1", len(events))
	}
}

type failingRuleStore struct {
	err error
}

func (s *failingRuleStore) GetByID(ctx context.Context, id int64) (*rules.Rule, error) {
	return nil, s.err
}

func (s *failingRuleStore) GetActiveRules(ctx context.Context, ruleID *int64) ([]*rules.Rule, error) {
	return nil, s.err
}

func (s *failingRuleStore) GetAutoExecuteRules(ctx context.Context) ([]*rules.Rule, error) {
	return nil, s.err
}
