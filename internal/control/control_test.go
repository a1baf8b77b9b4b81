package control

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BKyryl/iesi/internal/metrics"
	"github.com/BKyryl/iesi/internal/resolution"
	"github.com/BKyryl/iesi/internal/store"
	"github.com/BKyryl/iesi/internal/variables"
	"github.com/BKyryl/iesi/pkg/schema"
)

type fakeEnvironments map[string][]schema.Parameter

func (f fakeEnvironments) EnvironmentParameters(env string) []schema.Parameter { return f[env] }

// failingStore rejects every write.
type failingStore struct {
	*store.MemoryStore
}

var errStoreDown = errors.New("store down")

func (failingStore) InsertScriptStart(context.Context, *store.ScriptResult) error { return errStoreDown }
func (failingStore) UpdateScriptEnd(context.Context, string, int64, string) error { return errStoreDown }

type harness struct {
	ctrl    *Control
	results *store.MemoryStore
	vars    *variables.Memory
	logs    *bytes.Buffer
	stdout  *bytes.Buffer
	exits   []int
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		results: store.NewMemoryStore(),
		vars:    variables.NewMemory(),
		logs:    &bytes.Buffer{},
		stdout:  &bytes.Buffer{},
	}
	opts := Options{
		Results: h.results,
		Environments: fakeEnvironments{
			"DEV": {{Name: "host", Value: "dev.local"}},
		},
		Logger: slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Stdout: h.stdout,
		Exit:   func(code int) { h.exits = append(h.exits, code) },
	}
	if mutate != nil {
		mutate(&opts)
	}
	run := NewRun(uuid.New().String(), "DEV", t.TempDir(), h.vars, nil)
	h.ctrl = New(run, opts)
	return h
}

func script(id string) *schema.Script {
	return &schema.Script{ID: id, Name: id, Version: 1}
}

func TestRun_ConcurrentProcessIDsAreUnique(t *testing.T) {
	run := NewRun("r", "DEV", "", nil, nil)

	const n = 200
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- run.NextProcessID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, n)
	for id := range ids {
		assert.False(t, seen[id], "duplicate process id %d", id)
		seen[id] = true
		assert.True(t, id >= 1 && id <= n)
	}
	assert.Len(t, seen, n)

	run.ResetProcessID()
	assert.Equal(t, int64(1), run.NextProcessID())
}

func TestRun_ReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "run")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	vars := variables.NewMemory()
	require.NoError(t, vars.Set(ctx, "a", "1"))

	run := NewRun("r", "DEV", dir, vars, nil)
	require.NoError(t, run.Release(ctx))
	require.NoError(t, run.Release(ctx))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	all, err := vars.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRun_IterationDefinitions(t *testing.T) {
	run := NewRun("r", "DEV", "", nil, nil)

	require.NoError(t, run.DefineIteration(schema.Iteration{Name: "days", Type: schema.IterationTypeValues, Values: "mon,tue"}))
	require.NoError(t, run.DefineIteration(schema.Iteration{Name: "days", Type: schema.IterationTypeValues, Values: "wed"}))

	it, ok := run.IterationDefinition("days")
	require.True(t, ok)
	assert.Equal(t, "wed", it.Values)

	_, ok = run.IterationDefinition("missing")
	assert.False(t, ok)

	err := run.DefineIteration(schema.Iteration{Name: "bad", Type: "matrix"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeIteration))
	err = run.DefineIteration(schema.Iteration{Type: schema.IterationTypeList})
	assert.True(t, schema.HasCode(err, schema.ErrCodeIteration))
}

func TestActionStatus(t *testing.T) {
	tests := []struct {
		name string
		in   metrics.Counts
		want schema.Status
	}{
		{"nothing", metrics.Counts{}, schema.StatusSuccess},
		{"success", metrics.Counts{Success: 2}, schema.StatusSuccess},
		{"warning", metrics.Counts{Success: 1, Warning: 1}, schema.StatusWarning},
		{"error beats warning", metrics.Counts{Warning: 1, Error: 1}, schema.StatusError},
		{"skip beats error", metrics.Counts{Error: 3, Skip: 1}, schema.StatusSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ActionStatus(tt.in))
		})
	}
}

func TestScriptStatus(t *testing.T) {
	tests := []struct {
		name    string
		in      metrics.Counts
		stopped bool
		exit    bool
		allZero schema.Status
		want    schema.Status
	}{
		{"force stopped", metrics.Counts{Success: 1}, true, false, schema.StatusWarning, schema.StatusStopped},
		{"script exit", metrics.Counts{Error: 1}, false, true, schema.StatusWarning, schema.StatusStopped},
		{"only errors", metrics.Counts{Error: 2}, false, false, schema.StatusWarning, schema.StatusError},
		{"only success", metrics.Counts{Success: 2, Skip: 1}, false, false, schema.StatusWarning, schema.StatusSuccess},
		{"mixed", metrics.Counts{Success: 1, Error: 1}, false, false, schema.StatusWarning, schema.StatusWarning},
		{"warning only", metrics.Counts{Warning: 1}, false, false, schema.StatusSuccess, schema.StatusWarning},
		{"all zero default", metrics.Counts{}, false, false, schema.StatusWarning, schema.StatusWarning},
		{"all zero configured", metrics.Counts{Skip: 4}, false, false, schema.StatusSuccess, schema.StatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScriptStatus(tt.in, tt.stopped, tt.exit, tt.allZero))
		})
	}
}

func TestControl_RootAndChildStart(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	run := h.ctrl.Run()

	// leftover allocation from a previous root
	run.NextProcessID()
	run.NextProcessID()

	root := &ScriptExec{Script: script("root"), Root: true}
	h.ctrl.LogScriptStart(ctx, root)
	assert.Equal(t, int64(1), root.ProcessID)

	host, ok, err := h.vars.Get(ctx, "host")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dev.local", host)

	child := &ScriptExec{Script: script("child"), Parent: root}
	h.ctrl.LogScriptStart(ctx, child)
	assert.Equal(t, int64(2), child.ProcessID)

	rows, err := h.results.ListScriptResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(0), rows[0].ParentProcessID)
	assert.Equal(t, int64(1), rows[1].ParentProcessID)
	assert.Equal(t, string(schema.StatusActive), rows[1].Status)
	assert.Equal(t, "DEV", rows[1].Environment)
}

func TestControl_ActionLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	root := &ScriptExec{Script: script("root"), Root: true}
	h.ctrl.LogScriptStart(ctx, root)

	scriptMetrics := metrics.New()

	a := &ActionExec{Action: &schema.Action{ID: "a1", Name: "first"}, Script: root}
	h.ctrl.LogActionStart(ctx, a)
	m := metrics.New()
	m.IncrementWarning(1)
	assert.Equal(t, schema.StatusWarning, h.ctrl.LogActionEnd(ctx, a, m, scriptMetrics))

	b := &ActionExec{Action: &schema.Action{ID: "a2", Name: "second"}, Script: root}
	h.ctrl.LogActionStart(ctx, b)
	assert.Equal(t, schema.StatusSuccess, h.ctrl.LogActionEnd(ctx, b, metrics.New(), nil))

	skipped := &ActionExec{Action: &schema.Action{ID: "a3", Name: "third"}, Script: root}
	h.ctrl.LogActionSkip(ctx, skipped)

	assert.Equal(t, metrics.Counts{Warning: 1}, scriptMetrics.Snapshot())
	assert.Equal(t, []int64{2, 3, 4}, []int64{a.ProcessID, b.ProcessID, skipped.ProcessID})

	rows, err := h.results.ListActionResults(ctx, store.ActionResultFilter{RunID: h.ctrl.Run().ID, ScriptProcessID: 1})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, string(schema.StatusWarning), rows[0].Status)
	assert.Equal(t, string(schema.StatusSuccess), rows[1].Status)
	assert.Equal(t, string(schema.StatusSkipped), rows[2].Status)
	require.NotNil(t, rows[2].EndedAt)
	assert.Equal(t, rows[2].StartedAt, *rows[2].EndedAt)

	status := h.ctrl.LogScriptEnd(ctx, root, scriptMetrics, false, false)
	assert.Equal(t, schema.StatusWarning, status)
	got, err := h.results.GetScriptResult(ctx, h.ctrl.Run().ID, 1)
	require.NoError(t, err)
	assert.Equal(t, string(schema.StatusWarning), got.Status)
}

func TestControl_ScriptEndRecordsOutputOnlyForRoot(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	root := &ScriptExec{Script: script("root"), Root: true}
	h.ctrl.LogScriptStart(ctx, root)
	child := &ScriptExec{Script: script("child"), Parent: root}
	h.ctrl.LogScriptStart(ctx, child)

	require.NoError(t, h.vars.Set(ctx, OutputVariable, "done"))

	h.ctrl.LogScriptEnd(ctx, child, metrics.New(), false, false)
	_, ok, err := h.vars.Get(ctx, OutputVariable)
	require.NoError(t, err)
	assert.True(t, ok, "a child end keeps runtime variables")
	childOuts, err := h.results.ListOutputs(ctx, store.OutputScript, h.ctrl.Run().ID, child.ProcessID)
	require.NoError(t, err)
	assert.Empty(t, childOuts, "the run output belongs to the root")

	h.ctrl.LogScriptEnd(ctx, root, metrics.New(), false, false)
	all, err := h.vars.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	outs, err := h.results.ListOutputs(ctx, store.OutputScript, h.ctrl.Run().ID, root.ProcessID)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, "done", outs[0].Value)
	assert.Equal(t, "root", outs[0].OwnerID)
}

// ctxStore fails writes whose context is done, as a database driver would.
type ctxStore struct{ *store.MemoryStore }

func (s ctxStore) InsertScriptStart(ctx context.Context, r *store.ScriptResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.InsertScriptStart(ctx, r)
}

func (s ctxStore) UpdateScriptEnd(ctx context.Context, runID string, processID int64, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.UpdateScriptEnd(ctx, runID, processID, status)
}

func TestControl_CancelledContextStillRecords(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Results = ctxStore{o.Results.(*store.MemoryStore)} })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	root := &ScriptExec{Script: script("root"), Root: true}
	h.ctrl.LogScriptStart(ctx, root)
	status := h.ctrl.LogScriptEnd(ctx, root, metrics.New(), true, false)
	assert.Equal(t, schema.StatusStopped, status)

	got, err := h.results.GetScriptResult(context.Background(), h.ctrl.Run().ID, root.ProcessID)
	require.NoError(t, err)
	assert.Equal(t, string(schema.StatusStopped), got.Status)
}

func TestControl_OutputIsRedactedThenTruncated(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.OutputLimit = 8 })
	ctx := context.Background()
	root := &ScriptExec{Script: script("root"), Root: true}
	h.ctrl.LogScriptStart(ctx, root)
	a := &ActionExec{Action: &schema.Action{ID: "a1", Name: "out"}, Script: root}
	h.ctrl.LogActionStart(ctx, a)

	h.ctrl.LogActionOutput(ctx, a, "secret", "ENC(c2VjcmV0) tail")
	h.ctrl.LogActionOutput(ctx, a, "unicode", "ééééééééééé")

	outs, err := h.results.ListOutputs(ctx, store.OutputAction, h.ctrl.Run().ID, a.ProcessID)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, "***** ta", outs[0].Value)
	assert.Equal(t, "éééééééé", outs[1].Value)
}

func TestControl_DefaultOutputLimit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	root := &ScriptExec{Script: script("root"), Root: true}
	h.ctrl.LogScriptStart(ctx, root)

	h.ctrl.LogScriptOutput(ctx, root, "long", strings.Repeat("x", DefaultOutputLimit+50))
	outs, err := h.results.ListOutputs(ctx, store.OutputScript, h.ctrl.Run().ID, root.ProcessID)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Len(t, outs[0].Value, DefaultOutputLimit)
}

func TestControl_MessageLowersNonRootInfo(t *testing.T) {
	var buf bytes.Buffer
	h := newHarness(t, func(o *Options) {
		o.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	})
	ctx := context.Background()
	root := &ScriptExec{Script: script("root"), Root: true}
	child := &ScriptExec{Script: script("child"), Parent: root}

	h.ctrl.Message(ctx, root, slog.LevelInfo, "root.visible")
	h.ctrl.Message(ctx, child, slog.LevelInfo, "child.hidden")
	h.ctrl.Message(ctx, nil, slog.LevelInfo, "nil.hidden")
	h.ctrl.Message(ctx, child, slog.LevelWarn, "child.warning")

	out := buf.String()
	assert.Contains(t, out, "root.visible")
	assert.NotContains(t, out, "child.hidden")
	assert.NotContains(t, out, "nil.hidden")
	assert.Contains(t, out, "child.warning")
}

func TestControl_EndExecution(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.EndExecution()

	lines := strings.Split(strings.TrimSpace(h.stdout.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Repeat("+", 78), lines[0])
	assert.Equal(t, "script.launcher.end", lines[1])
	assert.Equal(t, []int{0}, h.exits)
}

func TestControl_PersistenceFailuresAreLogged(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Results = failingStore{store.NewMemoryStore()}
	})
	ctx := context.Background()
	root := &ScriptExec{Script: script("root"), Root: true}

	assert.NotPanics(t, func() {
		h.ctrl.LogScriptStart(ctx, root)
		h.ctrl.LogScriptEnd(ctx, root, metrics.New(), false, false)
	})
	assert.Equal(t, int64(1), root.ProcessID)
	assert.Contains(t, h.logs.String(), "record script start failed")
	assert.Contains(t, h.logs.String(), "store down")
}

// prefixResolver substitutes #name# from the namespace.
type prefixResolver struct{}

func (prefixResolver) ResolveVariables(ctx context.Context, text string, vars resolution.Variables) (string, error) {
	return resolution.ReplaceVariables(text, func(name string) (string, bool) {
		v, ok, err := vars.Get(ctx, name)
		return v, ok && err == nil
	}), nil
}

func TestControl_ParamListThenFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.conf")
	second := filepath.Join(dir, "second.conf")
	require.NoError(t, os.WriteFile(first, []byte("# comment\n\nenv = TST\nurl=http://#host#/api\n"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("retries=3\n"), 0o644))

	h := newHarness(t, func(o *Options) { o.Resolver = prefixResolver{} })
	ctx := context.Background()

	require.NoError(t, h.ctrl.LoadParamList(ctx, "env=DEV, host=db.local ,"))
	require.NoError(t, h.ctrl.LoadParamFiles(ctx, first+","+second))

	all, err := h.vars.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"env":     "TST",
		"host":    "db.local",
		"url":     "http://db.local/api",
		"retries": "3",
	}, all)
}

func TestControl_ParamErrors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	err := h.ctrl.LoadParamList(ctx, "a=1,broken")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = h.ctrl.LoadParamList(ctx, "=1")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = h.ctrl.LoadParamFiles(ctx, filepath.Join(t.TempDir(), "missing.conf"))
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))

	bad := filepath.Join(t.TempDir(), "bad.conf")
	require.NoError(t, os.WriteFile(bad, []byte("ok=1\nnot an assignment\n"), 0o644))
	err = h.ctrl.LoadParamFiles(ctx, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.conf:2")
}
