// Package formula provides the CEL-Go based formula evaluator.
//
// Formulas are bounded, sandboxed expressions: arithmetic, comparisons,
// ternaries and a clamp builtin over the listing's attribute bag. No
// assignment, no loops, no external calls.
package formula

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/openresale/harrier/internal/domain"
)

// EvalError is a typed evaluation failure. Callers record the offending
// rule as failed and continue; a malformed formula never aborts a whole
// listing's valuation.
type EvalError struct {
	Formula string
	Reason  string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("formula %q: %s", e.Formula, e.Reason)
}

// Evaluator compiles and evaluates pricing formulas. Programs are compiled
// once and cached by formula text.
type Evaluator struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewEvaluator creates a formula evaluator with the listing variable set.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("listing", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("cpu", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("gpu", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("ram", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("storage", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("price", cel.DoubleType),
		cel.Variable("base_price", cel.DoubleType),
		cel.Variable("condition", cel.StringType),
		cel.Variable("age_years", cel.DoubleType),
		cel.Function("clamp",
			cel.Overload("clamp_dyn_dyn_dyn",
				[]*cel.Type{cel.DynType, cel.DynType, cel.DynType},
				cel.DoubleType,
				cel.FunctionBinding(clampBinding),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// clampBinding implements clamp(value, min, max).
func clampBinding(args ...ref.Val) ref.Val {
	vals := make([]float64, 3)
	for i, arg := range args {
		f, ok := refToFloat(arg)
		if !ok {
			return types.NewErr("clamp: argument %d is not numeric", i+1)
		}
		vals[i] = f
	}
	x, lo, hi := vals[0], vals[1], vals[2]
	if x < lo {
		x = lo
	}
	if x > hi {
		x = hi
	}
	return types.Double(x)
}

func refToFloat(v ref.Val) (float64, bool) {
	switch n := v.(type) {
	case types.Double:
		return float64(n), true
	case types.Int:
		return float64(n), true
	case types.Uint:
		return float64(n), true
	default:
		return 0, false
	}
}

// Validate compiles a formula without caching it, for write-boundary
// validation of incoming rules and documents.
func (e *Evaluator) Validate(text string) error {
	_, err := e.compile(text)
	return err
}

// Evaluate runs a formula against a listing's attribute bag and returns
// the numeric result. Division producing a non-finite value and
// unresolved variables are *EvalError, not silent zeros.
func (e *Evaluator) Evaluate(text string, attrs map[string]any) (float64, error) {
	program, err := e.programFor(text)
	if err != nil {
		return 0, err
	}

	out, _, err := program.Eval(activation(attrs))
	if err != nil {
		return 0, &EvalError{Formula: text, Reason: err.Error()}
	}

	result, ok := refToFloat(out)
	if !ok {
		return 0, &EvalError{Formula: text, Reason: fmt.Sprintf("result is not numeric: %v", out.Type())}
	}
	if math.IsInf(result, 0) || math.IsNaN(result) {
		return 0, &EvalError{Formula: text, Reason: "non-finite result (division by zero?)"}
	}

	return result, nil
}

// programFor returns the cached program for a formula, compiling on first
// use.
func (e *Evaluator) programFor(text string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[text]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := e.compile(text)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[text] = program
	e.mu.Unlock()

	return program, nil
}

func (e *Evaluator) compile(text string) (cel.Program, error) {
	ast, issues := e.env.Compile(text)
	if issues != nil && issues.Err() != nil {
		return nil, &EvalError{Formula: text, Reason: issues.Err().Error()}
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, &EvalError{Formula: text, Reason: err.Error()}
	}

	return program, nil
}

// activation builds the CEL variable bindings from an attribute bag.
// Component maps default to empty so a reference to an absent component
// field errors as an unresolved variable rather than panicking.
func activation(attrs map[string]any) map[string]any {
	act := map[string]any{
		"listing":    attrs,
		"cpu":        componentMap(attrs, "cpu"),
		"gpu":        componentMap(attrs, "gpu"),
		"ram":        componentMap(attrs, "ram"),
		"storage":    componentMap(attrs, "storage"),
		"price":      numericAttr(attrs, "price"),
		"base_price": numericAttr(attrs, "base_price"),
		"condition":  stringAttr(attrs, "condition"),
		"age_years":  numericAttr(attrs, "age_years"),
	}
	return act
}

func componentMap(attrs map[string]any, key string) map[string]any {
	if attrs != nil {
		if m, ok := attrs[key].(map[string]any); ok {
			return m
		}
	}
	return map[string]any{}
}

func numericAttr(attrs map[string]any, key string) float64 {
	if attrs == nil {
		return 0
	}
	if f, ok := domain.CoerceFloat(attrs[key]); ok {
		return f
	}
	return 0
}

func stringAttr(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	if s, ok := attrs[key].(string); ok {
		return s
	}
	return ""
}
