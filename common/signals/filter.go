package signals

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Filter evaluates optional CEL match filters with a compile cache
type Filter struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewFilter creates a new filter with caching
func NewFilter() *Filter {
	return &Filter{
		cache: make(map[string]cel.Program),
	}
}

// Keep evaluates expr against a match context. An empty expression keeps the
// match.
func (f *Filter) Keep(expr string, matchContext map[string]interface{}) (bool, error) {
	if expr == "" {
		return true, nil
	}

	f.mu.RLock()
	prg, exists := f.cache[expr]
	f.mu.RUnlock()

	if !exists {
		var err error
		prg, err = f.compile(expr)
		if err != nil {
			return false, err
		}

		f.mu.Lock()
		f.cache[expr] = prg
		f.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"match": matchContext,
	})
	if err != nil {
		return false, fmt.Errorf("filter evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter expression did not return boolean, got %T", out.Value())
	}

	return result, nil
}

func (f *Filter) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("match", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filter compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return prg, nil
}

// CacheSize returns the number of cached expressions
func (f *Filter) CacheSize() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cache)
}
