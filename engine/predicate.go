package engine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// predicateCostLimit bounds evaluation cost so a pathological rule
// condition cannot stall a batch run
const predicateCostLimit = 1_000_000

type compiledPredicate struct {
	expression string
	program    cel.Program
}

// Predicates compiles and caches rule condition expressions. Conditions
// are CEL boolean expressions over an `Order` variable holding the
// candidate's fields; the engine substitutes the candidate by binding
// its facts, never by splicing text into a query.
//
// Thread-safe for concurrent compilation and evaluation (RWMutex).
type Predicates struct {
	env      *cel.Env
	programs map[int64]compiledPredicate
	mu       sync.RWMutex
}

// NewPredicates creates a predicate compiler with the Order variable
// declared as a dynamic map type
func NewPredicates() (*Predicates, error) {
	env, err := cel.NewEnv(
		cel.Variable("Order", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Predicates{
		env:      env,
		programs: make(map[int64]compiledPredicate),
	}, nil
}

// Program returns the compiled program for a rule's condition, compiling
// and caching it on first use. A rule whose condition text changed since
// the last run is recompiled.
func (p *Predicates) Program(ruleID int64, expression string) (cel.Program, error) {
	p.mu.RLock()
	cached, exists := p.programs[ruleID]
	p.mu.RUnlock()

	if exists && cached.expression == expression {
		return cached.program, nil
	}

	ast, issues := p.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition compile error: %w", issues.Err())
	}

	prog, err := p.env.Program(ast,
		cel.CostLimit(predicateCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("condition program creation error: %w", err)
	}

	p.mu.Lock()
	p.programs[ruleID] = compiledPredicate{expression: expression, program: prog}
	p.mu.Unlock()

	return prog, nil
}

// Evaluate runs a rule's condition against one candidate's facts.
// Non-boolean results evaluate to false.
func (p *Predicates) Evaluate(ruleID int64, expression string, facts map[string]any) (bool, error) {
	prog, err := p.Program(ruleID, expression)
	if err != nil {
		return false, err
	}

	out, _, err := prog.Eval(map[string]any{"Order": facts})
	if err != nil {
		return false, fmt.Errorf("condition evaluation error: %w", err)
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, nil
	}
	return matched, nil
}

// Forget drops a rule's cached program. Called when a rule disappears
// from the store so the cache cannot grow without bound.
func (p *Predicates) Forget(ruleID int64) {
	p.mu.Lock()
	delete(p.programs, ruleID)
	p.mu.Unlock()
}
