package rules

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a rule id does not resolve
var ErrNotFound = errors.New("rule not found")

// Store is the engine's read view of transition rules. Rule creation and
// editing happen outside the engine; only retrieval is needed here.
type Store interface {
	// GetByID returns a single rule, ErrNotFound if absent
	GetByID(ctx context.Context, id int64) (*Rule, error)

	// GetActiveRules returns active rules regardless of the auto-execute
	// flag. A non-nil ruleID narrows the result to that rule.
	GetActiveRules(ctx context.Context, ruleID *int64) ([]*Rule, error)

	// GetAutoExecuteRules returns rules that are both active and marked
	// for unattended execution
	GetAutoExecuteRules(ctx context.Context) ([]*Rule, error)
}

// InMemoryStore implements Store using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryStore struct {
	rules  map[int64]*Rule
	nextID int64
	mu     sync.RWMutex
}

// NewInMemoryStore creates a new in-memory rule store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rules:  make(map[int64]*Rule),
		nextID: 1,
	}
}

// Add inserts a rule, assigning an id when none is set. Used to seed
// stores in tests and tooling; the engine itself never writes rules.
func (s *InMemoryStore) Add(rule *Rule) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == 0 {
		rule.ID = s.nextID
	}
	if rule.ID >= s.nextID {
		s.nextID = rule.ID + 1
	}

	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	stored := *rule
	s.rules[stored.ID] = &stored
	return stored.ID
}

// GetByID returns a single rule
func (s *InMemoryStore) GetByID(ctx context.Context, id int64) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, ErrNotFound
	}
	c := *rule
	return &c, nil
}

// GetActiveRules returns active rules, optionally narrowed to one id
func (s *InMemoryStore) GetActiveRules(ctx context.Context, ruleID *int64) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Rule
	for _, rule := range s.rules {
		if !rule.Active {
			continue
		}
		if ruleID != nil && rule.ID != *ruleID {
			continue
		}
		c := *rule
		active = append(active, &c)
	}

	sortByID(active)
	return active, nil
}

// GetAutoExecuteRules returns rules that are active and auto-executable
func (s *InMemoryStore) GetAutoExecuteRules(ctx context.Context) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, rule := range s.rules {
		if rule.Active && rule.AutoExecute {
			c := *rule
			out = append(out, &c)
		}
	}

	sortByID(out)
	return out, nil
}

func sortByID(rules []*Rule) {
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].ID < rules[j].ID
	})
}
