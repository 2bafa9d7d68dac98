package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/chatflow/pkg/api"
)

// Registry maps a step-type tag to the executor that performs it. New step
// types can be registered without touching the engine's execution loop.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]api.Executor
}

func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]api.Executor)}
}

// Register binds stepType to ex. Registering the same type twice is an error.
func (r *Registry) Register(stepType string, ex api.Executor) error {
	if stepType == "" {
		return fmt.Errorf("step type is required")
	}
	if ex == nil {
		return fmt.Errorf("executor for %q is nil", stepType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byType[stepType]; exists {
		return fmt.Errorf("step type %q already registered", stepType)
	}
	r.byType[stepType] = ex
	return nil
}

// Get returns the executor for stepType.
func (r *Registry) Get(stepType string) (api.Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.byType[stepType]
	if !ok {
		return nil, fmt.Errorf("unknown step type: %s", stepType)
	}
	return ex, nil
}

// Types lists the registered step types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
