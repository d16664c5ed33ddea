package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store is an in-memory registry of Rego module sources, keyed by name.
// It backs hot policy swaps: load new modules, build a fresh Engine, and
// replace the old one atomically at the call site.
type Store struct {
	mu      sync.RWMutex
	modules map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{modules: make(map[string]string)}
}

// Put saves a module source under name, replacing any previous version.
func (s *Store) Put(_ context.Context, name, source string) error {
	if name == "" {
		return fmt.Errorf("module name must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[name] = source
	return nil
}

// Get retrieves a module source by name.
func (s *Store) Get(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	source, ok := s.modules[name]
	if !ok {
		return "", fmt.Errorf("policy module not found: %s", name)
	}
	return source, nil
}

// Delete removes a module by name. Deleting an absent module is a no-op.
func (s *Store) Delete(_ context.Context, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.modules, name)
}

// Names lists stored module names in sorted order.
func (s *Store) Names(_ context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of all modules, suitable for engine construction.
func (s *Store) Snapshot(_ context.Context) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.modules))
	for name, source := range s.modules {
		out[name] = source
	}
	return out
}
