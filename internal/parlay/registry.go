package parlay

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the named parlay strategies that can be selected from
// configuration. It is safe for concurrent use.
type Registry struct {
	strategies map[string]Strategy
	mu         sync.RWMutex
}

// NewRegistry returns a Registry with the built-in strict and relaxed
// strategies registered.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(Strict{})
	r.Register(Relaxed{})
	return r
}

// Register adds a strategy under its own name, replacing any previous one.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("parlay strategy %q: not registered", name)
	}
	return s, nil
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Chain resolves an ordered fallback chain of strategy names.
func (r *Registry) Chain(names []string) ([]Strategy, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("parlay: empty strategy chain")
	}
	out := make([]Strategy, 0, len(names))
	for _, n := range names {
		s, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
