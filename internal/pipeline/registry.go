package pipeline

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

var registry = struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}{defs: make(map[string]*Definition)}

// Register makes def available to the CLI under def.Name. It panics if def is
// invalid or a definition with the same name is already registered, so it is
// meant to be called from init functions.
func Register(def *Definition) {
	if err := def.Validate(); err != nil {
		panic(fmt.Sprintf("pipeline: Register %q: %v", def.Name, err))
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, dup := registry.defs[def.Name]; dup {
		panic(fmt.Sprintf("pipeline: Register called twice for %q", def.Name))
	}
	registry.defs[def.Name] = def
}

// Lookup returns the definition registered under name.
func Lookup(name string) (*Definition, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	def, ok := registry.defs[name]
	return def, ok
}

// Definitions returns every registered definition sorted by name.
func Definitions() []*Definition {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	out := make([]*Definition, 0, len(registry.defs))
	for _, def := range registry.defs {
		out = append(out, def)
	}
	slices.SortFunc(out, func(a, b *Definition) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func unregister(name string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.defs, name)
}
