// Package variables implements the per-run runtime variable namespace and the
// providers that back it.
package variables

import (
	"context"
	"sort"
	"sync"

	"github.com/BKyryl/iesi/pkg/schema"
)

// Namespace is the runtime-variable store of one run.
// Route branches share it, so implementations must be safe for concurrent
// use. Concurrent writers resolve last-write-wins.
type Namespace interface {
	Set(ctx context.Context, name, value string) error
	Get(ctx context.Context, name string) (string, bool, error)
	Delete(ctx context.Context, name string) error
	All(ctx context.Context) (map[string]string, error)
	Clear(ctx context.Context) error
	Close() error
}

// RunInfo is what a provider needs to open a namespace.
type RunInfo struct {
	RunID    string
	CacheDir string
}

// Factory opens the namespace of one run.
type Factory func(ctx context.Context, run RunInfo) (Namespace, error)

// Registry maps provider names (the runtime provider config key) to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the memory and libsql providers registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.factories[ProviderMemory] = func(context.Context, RunInfo) (Namespace, error) {
		return NewMemory(), nil
	}
	r.factories[ProviderLibSQL] = OpenLibSQL
	return r
}

// Register adds a provider. Returns error on duplicate name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return schema.NewError(schema.ErrCodeValidation, "runtime provider name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "runtime provider %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Open creates the namespace of a run using the named provider.
func (r *Registry) Open(ctx context.Context, provider string, run RunInfo) (Namespace, error) {
	if provider == "" {
		provider = ProviderMemory
	}
	r.mu.RLock()
	f, ok := r.factories[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "runtime provider %q not registered", provider)
	}
	return f(ctx, run)
}

// Names lists the registered providers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Provider names.
const (
	ProviderMemory = "memory"
	ProviderLibSQL = "libsql"
	ProviderRedis  = "redis"
)
