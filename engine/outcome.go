package engine

// Outcome is the terminal result of evaluating one candidate under one
// rule. It is folded into audit events and counters, never persisted on
// its own.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeApplied
	OutcomeSimulatedApplied
	OutcomeSkippedAlreadyInTarget
	OutcomeSkippedNotFound
)

// Counts reports whether the outcome contributes to the applied count
func (o Outcome) Counts() bool {
	return o == OutcomeApplied || o == OutcomeSimulatedApplied
}

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSimulatedApplied:
		return "simulated"
	case OutcomeSkippedAlreadyInTarget:
		return "skipped_already_in_target"
	case OutcomeSkippedNotFound:
		return "skipped_not_found"
	default:
		return "failed"
	}
}
