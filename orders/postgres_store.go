package orders

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL.
//
// Orders live in the `orders` table; every entry into a state is traced
// in `order_state_history`, which the delay predicate reads; applied
// transitions land in `statusflow_history`.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SelectCandidates returns orders matching the criteria. The delay
// cutoff compares against the most recent entry into the state, so an
// order that bounced back into the source state recently is not
// considered aged.
func (s *PostgresStore) SelectCandidates(ctx context.Context, criteria Criteria) ([]Candidate, error) {
	query := `
		SELECT o.id, o.current_state
		FROM orders o
		WHERE o.current_state = $1
	`
	args := []any{criteria.State}

	if criteria.EnteredBefore != nil {
		query += `
		AND (
			SELECT MAX(h.created_at)
			FROM order_state_history h
			WHERE h.order_id = o.id AND h.state = $1
		) <= $2`
		args = append(args, *criteria.EnteredBefore)
	}

	query += ` ORDER BY o.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.CurrentState); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}

	return candidates, nil
}

// GetByID returns a single order
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*Order, error) {
	var o Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, reference, current_state, total_paid, payment, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&o.ID, &o.Reference, &o.CurrentState, &o.TotalPaid, &o.Payment,
		&o.CreatedAt, &o.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return &o, nil
}

// FetchFacts returns the order's fields for predicate evaluation
func (s *PostgresStore) FetchFacts(ctx context.Context, id int64) (map[string]any, error) {
	o, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"id":            o.ID,
		"reference":     o.Reference,
		"current_state": o.CurrentState,
		"total_paid":    o.TotalPaid,
		"payment":       o.Payment,
	}, nil
}

// ApplyTransition moves the order to toState and records both the state
// trail entry and the transition history row. One transaction per
// candidate: a later candidate's failure cannot roll this one back.
func (s *PostgresStore) ApplyTransition(ctx context.Context, id, toState int64, ruleID *int64, employeeID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var fromState int64
	err = tx.QueryRowContext(ctx, `
		SELECT current_state FROM orders WHERE id = $1 FOR UPDATE
	`, id).Scan(&fromState)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}

	now := time.Now()

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET current_state = $1, updated_at = $2 WHERE id = $3
	`, toState, now, id); err != nil {
		return fmt.Errorf("failed to update order state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_state_history (order_id, state, created_at)
		VALUES ($1, $2, $3)
	`, id, toState, now); err != nil {
		return fmt.Errorf("failed to record state entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO statusflow_history (order_id, from_state, to_state, rule_id, employee_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, fromState, toState, ruleID, employeeID, now); err != nil {
		return fmt.Errorf("failed to record transition history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	return nil
}
