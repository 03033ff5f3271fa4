package audit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when an event id does not resolve
	ErrNotFound = errors.New("audit event not found")

	// ErrInvalidQuery is returned for sort fields or directions outside
	// the whitelist
	ErrInvalidQuery = errors.New("invalid audit query")
)

// Store persists audit events
type Store interface {
	// Add appends a new event and returns its assigned id
	Add(ctx context.Context, event *Event) (int64, error)

	// Query returns events matching the filters, ordered and paginated
	Query(ctx context.Context, filters Filters, opts QueryOptions) ([]*Event, error)

	// Count returns the number of events matching the filters
	Count(ctx context.Context, filters Filters) (int64, error)

	// GetByID returns a single event, ErrNotFound if absent
	GetByID(ctx context.Context, id int64) (*Event, error)

	// DeleteOlderThan removes events created before cutoff, returning the
	// number deleted
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteByID removes a single event, ErrNotFound if absent
	DeleteByID(ctx context.Context, id int64) error

	// DeleteAll removes every event, returning the number deleted
	DeleteAll(ctx context.Context) (int64, error)
}

// InMemoryStore implements Store using an in-memory slice.
// Thread-safe with RWMutex.
type InMemoryStore struct {
	events   []*Event
	nextID   int64
	maxLimit int
	now      func() time.Time
	mu       sync.RWMutex
}

// NewInMemoryStore creates a new in-memory audit store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		nextID: 1,
		now:    time.Now,
	}
}

// SetClock overrides the time source; used by tests
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Add appends a new event, assigning its id. A pre-set CreatedAt is
// preserved so tests can build histories at fixed points in time.
func (s *InMemoryStore) Add(ctx context.Context, event *Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *event
	stored.ID = s.nextID
	s.nextID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	if stored.Context != nil {
		ctxCopy := make(map[string]any, len(stored.Context))
		for k, v := range stored.Context {
			ctxCopy[k] = v
		}
		stored.Context = ctxCopy
	}

	s.events = append(s.events, &stored)
	return stored.ID, nil
}

// Query returns matching events ordered and paginated
func (s *InMemoryStore) Query(ctx context.Context, filters Filters, opts QueryOptions) ([]*Event, error) {
	opts, err := opts.normalize(s.maxLimit)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	var matched []*Event
	for _, e := range s.events {
		if matches(e, filters) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sortEvents(matched, opts.OrderBy, opts.OrderDirection)

	if opts.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	// Return copies to prevent external modifications
	out := make([]*Event, len(matched))
	for i, e := range matched {
		c := *e
		out[i] = &c
	}
	return out, nil
}

// Count returns the number of events matching the filters
func (s *InMemoryStore) Count(ctx context.Context, filters Filters) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.events {
		if matches(e, filters) {
			n++
		}
	}
	return n, nil
}

// GetByID returns a single event
func (s *InMemoryStore) GetByID(ctx context.Context, id int64) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.events {
		if e.ID == id {
			c := *e
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// DeleteOlderThan removes events created strictly before cutoff
func (s *InMemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, e := range s.events {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}

// DeleteByID removes a single event
func (s *InMemoryStore) DeleteByID(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.events {
		if e.ID == id {
			s.events = append(s.events[:i], s.events[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// DeleteAll removes every event
func (s *InMemoryStore) DeleteAll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := int64(len(s.events))
	s.events = nil
	return deleted, nil
}

func matches(e *Event, f Filters) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.SubjectType != "" && e.SubjectType != f.SubjectType {
		return false
	}
	if f.SubjectID != nil && e.SubjectID != *f.SubjectID {
		return false
	}
	if f.RuleID != nil {
		if e.RuleID == nil || *e.RuleID != *f.RuleID {
			return false
		}
	}
	if f.MessageSearch != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.MessageSearch)) {
		return false
	}
	if f.CreatedAfter != nil && e.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !e.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

func sortEvents(events []*Event, orderBy, direction string) {
	less := func(a, b *Event) bool {
		switch orderBy {
		case "id":
			return a.ID < b.ID
		case "level":
			return a.Level < b.Level
		case "message":
			return a.Message < b.Message
		case "subject_type":
			return a.SubjectType < b.SubjectType
		case "subject_id":
			return a.SubjectID < b.SubjectID
		case "rule_id":
			av, bv := int64(0), int64(0)
			if a.RuleID != nil {
				av = *a.RuleID
			}
			if b.RuleID != nil {
				bv = *b.RuleID
			}
			return av < bv
		default: // created_at
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if direction == "DESC" {
			return less(events[j], events[i])
		}
		return less(events[i], events[j])
	})
}
