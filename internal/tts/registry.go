package tts

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	// ErrEngineNotFound is returned when selecting an engine that was never registered.
	ErrEngineNotFound = errors.New("synthesis engine not found")
	// ErrEngineExists is returned when two engines share a name.
	ErrEngineExists = errors.New("synthesis engine already registered")
)

// Registry collects the synthesis engines built at startup so TTS_ENGINE
// can pick one by name.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
	first   string
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds an engine under its Name.
func (r *Registry) Register(engine Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := engine.Name()
	if _, ok := r.engines[name]; ok {
		return fmt.Errorf("%w: %s", ErrEngineExists, name)
	}
	r.engines[name] = engine
	if r.first == "" {
		r.first = name
	}
	return nil
}

// Select returns the named engine. An empty name selects the engine that
// was registered first.
func (r *Registry) Select(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.first
	}
	engine, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrEngineNotFound, name, r.sortedNames())
	}
	return engine, nil
}

// Names returns the registered engine names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNames()
}

func (r *Registry) sortedNames() []string {
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
