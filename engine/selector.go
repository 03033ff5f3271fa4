package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/evolutive/statusflow/orders"
	"github.com/evolutive/statusflow/rules"
)

// ObjectTypeOrder is the only subject domain rules currently cover
const ObjectTypeOrder = "order"

// Selector produces the candidates currently eligible for a rule: orders
// in the rule's source state, aged past the delay window, and matching
// the optional condition predicate.
type Selector struct {
	store      orders.Store
	predicates *Predicates
	now        func() time.Time
}

// NewSelector creates a Selector
func NewSelector(store orders.Store, predicates *Predicates) *Selector {
	return &Selector{
		store:      store,
		predicates: predicates,
		now:        time.Now,
	}
}

// SetClock overrides the time source; used by tests to pin the delay
// boundary
func (s *Selector) SetClock(now func() time.Time) {
	s.now = now
}

// Select returns the candidates eligible for rule. An objectType filter
// naming anything other than the rule's domain yields an empty result,
// not an error: the rule is simply a no-op for that subject type.
func (s *Selector) Select(ctx context.Context, rule *rules.Rule, objectType string) ([]orders.Candidate, error) {
	if objectType != "" && objectType != ObjectTypeOrder {
		return nil, nil
	}

	criteria := orders.Criteria{State: rule.FromState}

	// Delay predicate only applies to aged transitions; zero delay means
	// immediate eligibility. The cutoff is inclusive: an order that
	// entered the source state exactly DelayHours ago qualifies.
	if rule.DelayHours > 0 {
		cutoff := s.now().Add(-time.Duration(rule.DelayHours) * time.Hour)
		criteria.EnteredBefore = &cutoff
	}

	candidates, err := s.store.SelectCandidates(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to select candidates: %w", err)
	}

	if rule.Condition == "" || len(candidates) == 0 {
		return candidates, nil
	}

	matched := make([]orders.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		facts, err := s.store.FetchFacts(ctx, cand.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch facts for order %d: %w", cand.ID, err)
		}

		ok, err := s.predicates.Evaluate(rule.ID, rule.Condition, facts)
		if err != nil {
			return nil, fmt.Errorf("rule %d condition failed: %w", rule.ID, err)
		}
		if ok {
			matched = append(matched, cand)
		}
	}

	return matched, nil
}
