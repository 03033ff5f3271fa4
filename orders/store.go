package orders

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when an order id does not resolve
var ErrNotFound = errors.New("order not found")

// Store is the entity-store boundary the engine works against. The
// order's own state machine lives behind ApplyTransition; the engine
// only selects, fetches, and asks for transitions.
type Store interface {
	// SelectCandidates returns orders matching the criteria as
	// {id, current state} projections
	SelectCandidates(ctx context.Context, criteria Criteria) ([]Candidate, error)

	// GetByID returns a single order, ErrNotFound if absent
	GetByID(ctx context.Context, id int64) (*Order, error)

	// FetchFacts returns the order's fields as a map for condition
	// predicate evaluation
	FetchFacts(ctx context.Context, id int64) (map[string]any, error)

	// ApplyTransition moves the order to toState through the entity's
	// own transition mechanism and records a durable history entry.
	// employeeID 0 marks a system-driven transition.
	ApplyTransition(ctx context.Context, id, toState int64, ruleID *int64, employeeID int64) error
}

type stateEntry struct {
	state     int64
	enteredAt time.Time
}

// InMemoryStore implements Store using in-memory maps.
// Thread-safe with RWMutex.
type InMemoryStore struct {
	orders       map[int64]*Order
	stateTrail   map[int64][]stateEntry
	history      []HistoryEntry
	nextHistory  int64
	failingIDs   map[int64]error
	now          func() time.Time
	mu           sync.RWMutex
}

// NewInMemoryStore creates a new in-memory order store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		orders:      map[int64]*Order{},
		stateTrail:  map[int64][]stateEntry{},
		failingIDs:  map[int64]error{},
		nextHistory: 1,
		now:         time.Now,
	}
}

// SetClock overrides the time source; used by tests
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Add seeds an order, recording its entry into the current state at
// enteredAt
func (s *InMemoryStore) Add(order *Order, enteredAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *order
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = enteredAt
	}
	stored.UpdatedAt = enteredAt
	s.orders[stored.ID] = &stored
	s.stateTrail[stored.ID] = append(s.stateTrail[stored.ID], stateEntry{
		state:     stored.CurrentState,
		enteredAt: enteredAt,
	})
}

// Remove deletes an order; used by tests to simulate a stale candidate
func (s *InMemoryStore) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
	delete(s.stateTrail, id)
}

// FailTransitionsFor makes ApplyTransition fail for the given order;
// used by tests to exercise partial-failure isolation
func (s *InMemoryStore) FailTransitionsFor(id int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failingIDs[id] = err
}

// SelectCandidates returns orders matching the criteria
func (s *InMemoryStore) SelectCandidates(ctx context.Context, criteria Criteria) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Candidate
	for _, o := range s.orders {
		if o.CurrentState != criteria.State {
			continue
		}
		if criteria.EnteredBefore != nil {
			entered, ok := s.lastEnteredLocked(o.ID, criteria.State)
			if !ok || entered.After(*criteria.EnteredBefore) {
				continue
			}
		}
		out = append(out, Candidate{ID: o.ID, CurrentState: o.CurrentState})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetByID returns a single order
func (s *InMemoryStore) GetByID(ctx context.Context, id int64) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.orders[id]
	if !exists {
		return nil, ErrNotFound
	}
	c := *o
	return &c, nil
}

// FetchFacts returns the order's fields for predicate evaluation
func (s *InMemoryStore) FetchFacts(ctx context.Context, id int64) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.orders[id]
	if !exists {
		return nil, ErrNotFound
	}

	return map[string]any{
		"id":            o.ID,
		"reference":     o.Reference,
		"current_state": o.CurrentState,
		"total_paid":    o.TotalPaid,
		"payment":       o.Payment,
	}, nil
}

// ApplyTransition moves the order to toState and records history
func (s *InMemoryStore) ApplyTransition(ctx context.Context, id, toState int64, ruleID *int64, employeeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, failing := s.failingIDs[id]; failing {
		return err
	}

	o, exists := s.orders[id]
	if !exists {
		return ErrNotFound
	}

	now := s.now()
	fromState := o.CurrentState
	o.CurrentState = toState
	o.UpdatedAt = now

	s.stateTrail[id] = append(s.stateTrail[id], stateEntry{
		state:     toState,
		enteredAt: now,
	})

	s.history = append(s.history, HistoryEntry{
		ID:         s.nextHistory,
		OrderID:    id,
		FromState:  fromState,
		ToState:    toState,
		RuleID:     ruleID,
		EmployeeID: employeeID,
		CreatedAt:  now,
	})
	s.nextHistory++

	return nil
}

// History returns a copy of all recorded transition history entries
func (s *InMemoryStore) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

func (s *InMemoryStore) lastEnteredLocked(orderID, state int64) (time.Time, bool) {
	trail := s.stateTrail[orderID]
	for i := len(trail) - 1; i >= 0; i-- {
		if trail[i].state == state {
			return trail[i].enteredAt, true
		}
	}
	return time.Time{}, false
}
