// Package expression evaluates node expressions against execution state
// using expr-lang. Branch nodes, while conditions and loop collections all
// route through here.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles and runs expressions with a process-wide program cache.
// Compiled programs are keyed by source text; the env shape varies between
// executions so programs are compiled without a fixed env.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator returns an Evaluator with an empty cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

func (e *Evaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok = e.cache[expression]; ok {
		return program, nil
	}

	// Compiling against a map-typed env makes identifiers resolve as env
	// lookups, so names like count or len in variables are not shadowed by
	// expr builtins.
	program, err := expr.Compile(expression, expr.Env(map[string]any{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expression, err)
	}

	e.cache[expression] = program

	return program, nil
}

// Evaluate runs a value-producing expression against the environment.
func (e *Evaluator) Evaluate(expression string, env map[string]any) (any, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}

	return result, nil
}

// EvaluateBool runs a condition expression. Non-boolean results are coerced
// by truthiness so legacy template conditions keep working.
func (e *Evaluator) EvaluateBool(expression string, env map[string]any) (bool, error) {
	result, err := e.Evaluate(expression, env)
	if err != nil {
		return false, err
	}

	return Truthy(result), nil
}

// EvaluateList runs an expression expected to yield a collection, for
// for/loop iteration items.
func (e *Evaluator) EvaluateList(expression string, env map[string]any) ([]any, error) {
	result, err := e.Evaluate(expression, env)
	if err != nil {
		return nil, err
	}

	switch v := result.(type) {
	case []any:
		return v, nil
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}

		return items, nil
	case []int:
		items := make([]any, len(v))
		for i, n := range v {
			items[i] = n
		}

		return items, nil
	case map[string]any:
		items := make([]any, 0, len(v))
		for key := range v {
			items = append(items, key)
		}

		return items, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expression %q did not evaluate to a collection, got %T", expression, result)
	}
}

// Truthy converts an arbitrary value to a boolean the way branch nodes
// interpret it.
func Truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "false" && v != "0"
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case nil:
		return false
	default:
		return true
	}
}
