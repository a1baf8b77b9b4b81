// Package control allocates process ids, records the lifecycle of script and
// action executions and derives their status.
package control

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/BKyryl/iesi/internal/iteration"
	"github.com/BKyryl/iesi/internal/variables"
	"github.com/BKyryl/iesi/pkg/schema"
)

// Run is the state shared by every execution of one root launch, route
// branches included.
type Run struct {
	ID         string
	Env        string
	CacheDir   string
	Variables  variables.Namespace
	Iterations *iteration.Store

	pid         atomic.Int64
	releaseOnce sync.Once
	releaseErr  error

	defsMu sync.RWMutex
	defs   map[string]schema.Iteration
}

// NewRun binds the per-run collaborators. Iterations may be nil when the run
// never iterates.
func NewRun(id, env, cacheDir string, vars variables.Namespace, iters *iteration.Store) *Run {
	return &Run{ID: id, Env: env, CacheDir: cacheDir, Variables: vars, Iterations: iters}
}

// DefineIteration registers an iteration definition for the rest of the run.
// A later definition with the same name replaces the earlier one.
func (r *Run) DefineIteration(it schema.Iteration) error {
	if it.Name == "" {
		return schema.NewError(schema.ErrCodeIteration, "iteration name is required")
	}
	switch it.Type {
	case schema.IterationTypeList, schema.IterationTypeValues, schema.IterationTypeFor, schema.IterationTypeCondition:
	default:
		return schema.NewErrorf(schema.ErrCodeIteration, "iteration %s: unknown type %q", it.Name, it.Type)
	}
	r.defsMu.Lock()
	defer r.defsMu.Unlock()
	if r.defs == nil {
		r.defs = make(map[string]schema.Iteration)
	}
	r.defs[it.Name] = it
	return nil
}

// IterationDefinition returns a definition registered with DefineIteration.
func (r *Run) IterationDefinition(name string) (schema.Iteration, bool) {
	r.defsMu.RLock()
	defer r.defsMu.RUnlock()
	it, ok := r.defs[name]
	return it, ok
}

// NextProcessID allocates the next process id. Safe for concurrent use.
func (r *Run) NextProcessID() int64 {
	return r.pid.Add(1)
}

// ResetProcessID restarts allocation so the next id is 1.
func (r *Run) ResetProcessID() {
	r.pid.Store(0)
}

// Release clears and closes the runtime variables, closes the iteration
// cache and removes the cache directory. Later calls return the first result.
func (r *Run) Release(ctx context.Context) error {
	r.releaseOnce.Do(func() {
		var errs []error
		if r.Variables != nil {
			if err := r.Variables.Clear(ctx); err != nil {
				errs = append(errs, fmt.Errorf("clear runtime variables: %w", err))
			}
			if err := r.Variables.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close runtime variables: %w", err))
			}
		}
		if r.Iterations != nil {
			if err := r.Iterations.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close iteration cache: %w", err))
			}
		}
		if r.CacheDir != "" {
			if err := os.RemoveAll(r.CacheDir); err != nil {
				errs = append(errs, fmt.Errorf("remove cache dir: %w", err))
			}
		}
		r.releaseErr = errors.Join(errs...)
	})
	return r.releaseErr
}
