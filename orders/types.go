package orders

import "time"

// Order is the tracked entity whose lifecycle state the engine moves
type Order struct {
	ID           int64
	Reference    string
	CurrentState int64
	TotalPaid    float64
	Payment      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Candidate is a transient projection of an order considered for one
// transition under one rule. Produced fresh per evaluation; never cached
// across runs.
type Candidate struct {
	ID           int64
	CurrentState int64
}

// HistoryEntry records one applied transition: which order moved, from
// where to where, which rule triggered it, and who acted. EmployeeID 0
// means the system acted during an unattended run.
type HistoryEntry struct {
	ID         int64
	OrderID    int64
	FromState  int64
	ToState    int64
	RuleID     *int64
	EmployeeID int64
	CreatedAt  time.Time
}

// Criteria selects orders for candidate evaluation
type Criteria struct {
	// State matches the order's current state
	State int64

	// EnteredBefore, when set, requires the order's most recent entry
	// into State to have happened at or before this time
	EnteredBefore *time.Time
}
