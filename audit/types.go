package audit

import (
	"fmt"
	"strings"
	"time"
)

// Level classifies an audit event
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Valid reports whether l is one of the known levels
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError:
		return true
	}
	return false
}

// Event is one append-only audit record. Events are never mutated after
// creation; they are removed only by explicit delete or retention purge.
type Event struct {
	ID          int64
	Level       Level
	Message     string
	SubjectType string
	SubjectID   int64
	RuleID      *int64
	Context     map[string]any
	CreatedAt   time.Time
}

// Filters narrows an audit log query. Zero values mean "no filter".
type Filters struct {
	Level         Level
	SubjectType   string
	SubjectID     *int64
	RuleID        *int64
	MessageSearch string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// QueryOptions controls ordering and pagination of audit log queries
type QueryOptions struct {
	Limit          int
	Offset         int
	OrderBy        string
	OrderDirection string
}

// DefaultQueryLimit applies when a query does not specify a page size
const DefaultQueryLimit = 50

// orderableFields is the whitelist of sortable columns. Anything outside
// it is rejected before a query is built.
var orderableFields = map[string]bool{
	"id":           true,
	"level":        true,
	"message":      true,
	"subject_type": true,
	"subject_id":   true,
	"rule_id":      true,
	"created_at":   true,
}

// normalize validates opts and fills defaults. maxLimit caps the page
// size; a maxLimit of 0 means uncapped.
func (o QueryOptions) normalize(maxLimit int) (QueryOptions, error) {
	if o.OrderBy == "" {
		o.OrderBy = "created_at"
	}
	if !orderableFields[o.OrderBy] {
		return o, fmt.Errorf("%w: invalid order field %q", ErrInvalidQuery, o.OrderBy)
	}

	if o.OrderDirection == "" {
		o.OrderDirection = "DESC"
	}
	o.OrderDirection = strings.ToUpper(o.OrderDirection)
	if o.OrderDirection != "ASC" && o.OrderDirection != "DESC" {
		return o, fmt.Errorf("%w: invalid order direction %q", ErrInvalidQuery, o.OrderDirection)
	}

	if o.Limit <= 0 {
		o.Limit = DefaultQueryLimit
	}
	if maxLimit > 0 && o.Limit > maxLimit {
		o.Limit = maxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}

	return o, nil
}
