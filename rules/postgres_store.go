package rules

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rule store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ruleColumns = `id, from_state, to_state, delay_hours, condition, auto_execute, active, created_at, updated_at`

// GetByID returns a single rule
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM statusflow_rule
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return rule, nil
}

// GetActiveRules returns active rules, optionally narrowed to one id
func (s *PostgresStore) GetActiveRules(ctx context.Context, ruleID *int64) ([]*Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM statusflow_rule
		WHERE active = true
	`
	var args []any
	if ruleID != nil {
		query += ` AND id = $1`
		args = append(args, *ruleID)
	}
	query += ` ORDER BY id ASC`

	return s.queryRules(ctx, query, args...)
}

// GetAutoExecuteRules returns rules that are active and auto-executable
func (s *PostgresStore) GetAutoExecuteRules(ctx context.Context) ([]*Rule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM statusflow_rule
		WHERE active = true AND auto_execute = true
		ORDER BY id ASC
	`)
}

func (s *PostgresStore) queryRules(ctx context.Context, query string, args ...any) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rulesList = append(rulesList, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var condition sql.NullString

	err := row.Scan(&r.ID, &r.FromState, &r.ToState, &r.DelayHours,
		&condition, &r.AutoExecute, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	r.Condition = condition.String
	return &r, nil
}
