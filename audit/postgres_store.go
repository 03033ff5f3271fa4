package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL
type PostgresStore struct {
	db       *sql.DB
	maxLimit int
}

// NewPostgresStore creates a new PostgreSQL-backed audit store. maxLimit
// caps query page sizes; 0 means uncapped.
func NewPostgresStore(db *sql.DB, maxLimit int) *PostgresStore {
	return &PostgresStore{
		db:       db,
		maxLimit: maxLimit,
	}
}

// Add inserts a new event and returns its assigned id
func (s *PostgresStore) Add(ctx context.Context, event *Event) (int64, error) {
	var contextJSON []byte
	if event.Context != nil {
		var err error
		contextJSON, err = json.Marshal(event.Context)
		if err != nil {
			return 0, fmt.Errorf("failed to encode event context: %w", err)
		}
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO statusflow_log (level, message, subject_type, subject_id, rule_id, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, string(event.Level), event.Message, event.SubjectType, event.SubjectID,
		event.RuleID, contextJSON, createdAt).Scan(&id)

	if err != nil {
		return 0, fmt.Errorf("failed to insert audit event: %w", err)
	}

	return id, nil
}

// Query returns matching events ordered and paginated
func (s *PostgresStore) Query(ctx context.Context, filters Filters, opts QueryOptions) ([]*Event, error) {
	opts, err := opts.normalize(s.maxLimit)
	if err != nil {
		return nil, err
	}

	where, args := buildWhere(filters)

	// orderBy/direction come from the whitelist in normalize, safe to splice
	query := fmt.Sprintf(`
		SELECT id, level, message, subject_type, subject_id, rule_id, context, created_at
		FROM statusflow_log
		%s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d
	`, where, opts.OrderBy, opts.OrderDirection, len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// Count returns the number of events matching the filters
func (s *PostgresStore) Count(ctx context.Context, filters Filters) (int64, error) {
	where, args := buildWhere(filters)

	var count int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM statusflow_log %s", where),
		args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	return count, nil
}

// GetByID returns a single event
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, level, message, subject_type, subject_id, rule_id, context, created_at
		FROM statusflow_log
		WHERE id = $1
	`, id)

	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return e, nil
}

// DeleteOlderThan removes events created strictly before cutoff
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM statusflow_log
		WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit events: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}

// DeleteByID removes a single event
func (s *PostgresStore) DeleteByID(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM statusflow_log
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete audit event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteAll removes every event
func (s *PostgresStore) DeleteAll(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM statusflow_log`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit events: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var level string
	var ruleID sql.NullInt64
	var contextJSON []byte

	err := row.Scan(&e.ID, &level, &e.Message, &e.SubjectType, &e.SubjectID,
		&ruleID, &contextJSON, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	e.Level = Level(level)
	if ruleID.Valid {
		e.RuleID = &ruleID.Int64
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &e.Context); err != nil {
			return nil, fmt.Errorf("failed to decode event context: %w", err)
		}
	}

	return &e, nil
}

func buildWhere(f Filters) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Level != "" {
		add("level = $%d", string(f.Level))
	}
	if f.SubjectType != "" {
		add("subject_type = $%d", f.SubjectType)
	}
	if f.SubjectID != nil {
		add("subject_id = $%d", *f.SubjectID)
	}
	if f.RuleID != nil {
		add("rule_id = $%d", *f.RuleID)
	}
	if f.MessageSearch != "" {
		add("message ILIKE $%d", "%"+f.MessageSearch+"%")
	}
	if f.CreatedAfter != nil {
		add("created_at >= $%d", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		add("created_at < $%d", *f.CreatedBefore)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}
