// Package generation provides the data generators behind *context(args)
// concept lookups.
package generation

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/BKyryl/iesi/pkg/schema"
)

// Generator produces a value from its raw argument text.
type Generator interface {
	Generate(ctx context.Context, args string) (string, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, args string) (string, error)

func (f Func) Generate(ctx context.Context, args string) (string, error) { return f(ctx, args) }

// Registry maps generator contexts to generators. Names are case-insensitive.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register adds a generator. Returns error on duplicate name.
func (r *Registry) Register(name string, g Generator) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || g == nil {
		return schema.NewError(schema.ErrCodeValidation, "generator name and implementation are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.generators[key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "generator %q already registered", key)
	}
	r.generators[key] = g
	return nil
}

// Get returns the generator registered under name.
func (r *Registry) Get(name string) (Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[strings.ToLower(strings.TrimSpace(name))]
	return g, ok
}

// Generate dispatches to the named generator. An unknown name is a
// configuration error.
func (r *Registry) Generate(ctx context.Context, name, args string) (string, error) {
	g, ok := r.Get(name)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeConfiguration, "no generator registered for %q", name).
			WithDetails(map[string]any{"generator": name, "available": r.Names()})
	}
	out, err := g.Generate(ctx, args)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeLookup, "generator %q: %s", name, err.Error()).WithCause(err)
	}
	return out, nil
}

// Names lists the registered generators, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.generators))
	for n := range r.generators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
