package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/BKyryl/iesi/pkg/schema"
)

type processRef struct {
	runID string
	pid   int64
}

type outputRef struct {
	processRef
	name string
}

// MemoryStore is a ResultStore kept in process memory. It is used when no
// database path is configured.
type MemoryStore struct {
	mu            sync.RWMutex
	scripts       map[processRef]*ScriptResult
	actions       map[processRef]*ActionResult
	scriptOutputs map[outputRef]*Output
	actionOutputs map[outputRef]*Output
	traces        map[processRef]*DesignTrace
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scripts:       make(map[processRef]*ScriptResult),
		actions:       make(map[processRef]*ActionResult),
		scriptOutputs: make(map[outputRef]*Output),
		actionOutputs: make(map[outputRef]*Output),
		traces:        make(map[processRef]*DesignTrace),
	}
}

func (m *MemoryStore) InsertScriptStart(_ context.Context, r *ScriptResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := processRef{r.RunID, r.ProcessID}
	if _, exists := m.scripts[key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "script result %q already exists", processKey(r.RunID, r.ProcessID))
	}
	cp := *r
	cp.Status = statusOr(cp.Status, schema.StatusActive)
	cp.StartedAt = timeOrNow(cp.StartedAt)
	m.scripts[key] = &cp
	return nil
}

func (m *MemoryStore) UpdateScriptEnd(_ context.Context, runID string, processID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.scripts[processRef{runID, processID}]
	if !ok {
		return storeNotFound("script result", processKey(runID, processID))
	}
	now := time.Now().UTC()
	r.Status, r.EndedAt = status, &now
	return nil
}

func (m *MemoryStore) GetScriptResult(_ context.Context, runID string, processID int64) (*ScriptResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.scripts[processRef{runID, processID}]
	if !ok {
		return nil, storeNotFound("script result", processKey(runID, processID))
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListScriptResults(_ context.Context, runID string) ([]*ScriptResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ScriptResult
	for k, r := range m.scripts {
		if k.runID == runID {
			cp := *r
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *ScriptResult) int { return cmp.Compare(a.ProcessID, b.ProcessID) })
	return out, nil
}

func (m *MemoryStore) InsertActionStart(_ context.Context, r *ActionResult) error {
	return m.insertAction(r, statusOr(r.Status, schema.StatusActive), false)
}

func (m *MemoryStore) InsertActionSkip(_ context.Context, r *ActionResult) error {
	return m.insertAction(r, string(schema.StatusSkipped), true)
}

func (m *MemoryStore) insertAction(r *ActionResult, status string, ended bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := processRef{r.RunID, r.ProcessID}
	if _, exists := m.actions[key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action result %q already exists", processKey(r.RunID, r.ProcessID))
	}
	cp := *r
	cp.Status = status
	cp.StartedAt = timeOrNow(cp.StartedAt)
	if ended {
		end := cp.StartedAt
		cp.EndedAt = &end
	}
	m.actions[key] = &cp
	return nil
}

func (m *MemoryStore) UpdateActionEnd(_ context.Context, runID string, processID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.actions[processRef{runID, processID}]
	if !ok {
		return storeNotFound("action result", processKey(runID, processID))
	}
	now := time.Now().UTC()
	r.Status, r.EndedAt = status, &now
	return nil
}

func (m *MemoryStore) ListActionResults(_ context.Context, filter ActionResultFilter) ([]*ActionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ActionResult
	for _, r := range m.actions {
		if filter.RunID != "" && r.RunID != filter.RunID {
			continue
		}
		if filter.ScriptProcessID > 0 && r.ScriptProcessID != filter.ScriptProcessID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *ActionResult) int {
		return cmp.Or(cmp.Compare(a.RunID, b.RunID), cmp.Compare(a.ProcessID, b.ProcessID))
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertScriptOutput(_ context.Context, o *Output) error {
	m.putOutput(m.scriptOutputs, o)
	return nil
}

func (m *MemoryStore) InsertActionOutput(_ context.Context, o *Output) error {
	m.putOutput(m.actionOutputs, o)
	return nil
}

func (m *MemoryStore) putOutput(into map[outputRef]*Output, o *Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	into[outputRef{processRef{o.RunID, o.ProcessID}, o.Name}] = &cp
}

func (m *MemoryStore) ListOutputs(_ context.Context, kind OutputKind, runID string, processID int64) ([]*Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var from map[outputRef]*Output
	switch kind {
	case OutputScript:
		from = m.scriptOutputs
	case OutputAction:
		from = m.actionOutputs
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown output kind %q", kind)
	}
	var out []*Output
	for k, o := range from {
		if k.runID == runID && k.pid == processID {
			cp := *o
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *Output) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *MemoryStore) InsertDesignTrace(_ context.Context, t *DesignTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	cp.Design = slices.Clone(t.Design)
	cp.TracedAt = timeOrNow(cp.TracedAt)
	m.traces[processRef{t.RunID, t.ProcessID}] = &cp
	return nil
}

func (m *MemoryStore) GetDesignTrace(_ context.Context, runID string, processID int64) (*DesignTrace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.traces[processRef{runID, processID}]
	if !ok {
		return nil, storeNotFound("design trace", processKey(runID, processID))
	}
	cp := *t
	return &cp, nil
}

var _ ResultStore = (*MemoryStore)(nil)
