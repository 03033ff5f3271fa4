package rules

import "time"

// Rule declares one automated state transition: move orders from
// FromState to ToState once DelayHours have elapsed since they entered
// FromState, provided the optional Condition holds.
//
// Condition is a CEL boolean expression over an `Order` variable, for
// example `Order.total_paid >= 100.0 && Order.payment == "bankwire"`.
// An empty Condition means no extra filter. The engine treats rules as
// immutable snapshots per run; creation and editing happen elsewhere.
type Rule struct {
	ID          int64
	FromState   int64
	ToState     int64
	DelayHours  int
	Condition   string
	AutoExecute bool
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
