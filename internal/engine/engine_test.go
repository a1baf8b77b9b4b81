package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BKyryl/iesi/internal/actions"
	"github.com/BKyryl/iesi/internal/expressions"
	"github.com/BKyryl/iesi/internal/resolution"
	"github.com/BKyryl/iesi/internal/selection"
	"github.com/BKyryl/iesi/internal/store"
	"github.com/BKyryl/iesi/pkg/schema"
)

const (
	typeFail  = "test.fail"
	typePanic = "test.panic"
	typeTags  = "test.tags"
)

type fakeScripts struct {
	scripts map[string]*schema.Script
}

func (f *fakeScripts) Script(name string, _ int64) (*schema.Script, error) {
	s, ok := f.scripts[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "script %q not found", name)
	}
	return s, nil
}

func (f *fakeScripts) Component(name string) (*schema.Component, error) {
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "component %q not found", name)
}

// testAction fails or panics on demand. The tags type keeps the lookup tags
// it was called with.
type testAction struct {
	typ  string
	tags map[string]string
}

func (a *testAction) Name() string                     { return a.typ }
func (a *testAction) Schema() actions.ActionSchema     { return actions.ActionSchema{} }
func (a *testAction) Validate(map[string]string) error { return nil }

func (a *testAction) Execute(_ context.Context, ac *actions.Context) (*actions.Result, error) {
	switch a.typ {
	case typePanic:
		panic("branch exploded")
	case typeTags:
		a.tags = ac.Tags
		return &actions.Result{}, nil
	}
	return nil, errors.New("deliberate failure")
}

type harness struct {
	engine  *Engine
	results *store.MemoryStore
	scripts *fakeScripts
	tagged  *testAction
	logs    *bytes.Buffer
	stdout  *bytes.Buffer

	mu    sync.Mutex
	exits []int
}

func newHarness(t *testing.T, scripts ...*schema.Script) *harness {
	t.Helper()
	h := &harness{
		results: store.NewMemoryStore(),
		scripts: &fakeScripts{scripts: map[string]*schema.Script{}},
		tagged:  &testAction{typ: typeTags},
		logs:    &bytes.Buffer{},
		stdout:  &bytes.Buffer{},
	}
	for _, s := range scripts {
		h.scripts.scripts[s.Name] = s
	}

	reg := actions.NewRegistry()
	require.NoError(t, actions.RegisterBuiltins(reg))
	require.NoError(t, reg.Register(&testAction{typ: typeFail}))
	require.NoError(t, reg.Register(&testAction{typ: typePanic}))
	require.NoError(t, reg.Register(h.tagged))

	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)

	e, err := New(Config{
		Scripts:   h.scripts,
		Actions:   reg,
		Resolver:  resolution.New(nil, resolution.Providers{}),
		Results:   h.results,
		CEL:       cel,
		CacheRoot: t.TempDir(),
		Logger:    slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Stdout:    h.stdout,
		Exit: func(code int) {
			h.mu.Lock()
			h.exits = append(h.exits, code)
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) run(t *testing.T, req Request) *Result {
	t.Helper()
	res, err := h.engine.Execute(context.Background(), req)
	require.NoError(t, err)
	return res
}

// actionNames returns the names of the action rows of a run in process id
// order.
func (h *harness) actionNames(t *testing.T, runID string) []string {
	t.Helper()
	rows, err := h.results.ListActionResults(context.Background(), store.ActionResultFilter{RunID: runID})
	require.NoError(t, err)
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.ActionName
	}
	return names
}

func (h *harness) actionStatus(t *testing.T, runID, name string) []string {
	t.Helper()
	rows, err := h.results.ListActionResults(context.Background(), store.ActionResultFilter{RunID: runID})
	require.NoError(t, err)
	var out []string
	for _, r := range rows {
		if r.ActionName == name {
			out = append(out, r.Status)
		}
	}
	return out
}

func act(number int64, name, typ string, params ...string) schema.Action {
	a := schema.Action{ID: "id-" + name, Number: number, Name: name, Type: typ}
	for i := 0; i+1 < len(params); i += 2 {
		a.Parameters = append(a.Parameters, schema.ActionParameter{Name: params[i], Value: params[i+1]})
	}
	return a
}

func script(name string, acts ...schema.Action) *schema.Script {
	return &schema.Script{ID: "id-" + name, Name: name, Version: 1, Actions: acts}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
}

func TestExecute_UnknownScript(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Execute(context.Background(), Request{ScriptName: "missing"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))

	_, err = h.engine.Execute(context.Background(), Request{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestExecute_SequentialSuccess(t *testing.T) {
	h := newHarness(t, script("main",
		act(1, "first", actions.TypeDummy),
		act(2, "second", actions.TypeSetRuntimeVariable, "name", "country", "value", "BE"),
		act(3, "third", actions.TypeOutputMessage, "message", "country is #country#"),
	))

	res := h.run(t, Request{ScriptName: "main", Env: "DEV"})
	assert.Equal(t, schema.StatusSuccess, res.Status)
	assert.Equal(t, int64(3), res.Metrics.Success)
	assert.Equal(t, int64(1), res.ProcessID)
	assert.Equal(t, []string{"first", "second", "third"}, h.actionNames(t, res.RunID))

	rows, err := h.results.ListActionResults(context.Background(), store.ActionResultFilter{RunID: res.RunID})
	require.NoError(t, err)
	outs, err := h.results.ListOutputs(context.Background(), store.OutputAction, res.RunID, rows[2].ProcessID)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, "country is BE", outs[0].Value)

	trace, err := h.results.GetDesignTrace(context.Background(), res.RunID, res.ProcessID)
	require.NoError(t, err)
	assert.Contains(t, string(trace.Design), `"main"`)
}

func TestExecute_IncludeSplicesAfterCursor(t *testing.T) {
	h := newHarness(t,
		script("main",
			act(1, "A", actions.TypeDummy),
			act(2, "INCLUDE", schema.ActionTypeIncludeScript, "script", "lib"),
			act(3, "B", actions.TypeDummy),
		),
		script("lib",
			act(1, "X", actions.TypeDummy),
			act(2, "Y", actions.TypeDummy),
		),
	)

	res := h.run(t, Request{ScriptName: "main"})
	assert.Equal(t, schema.StatusSuccess, res.Status)
	assert.Equal(t, []string{"A", "INCLUDE", "X", "Y", "B"}, h.actionNames(t, res.RunID))
	assert.Len(t, h.scripts.scripts["main"].Actions, 3, "the definition is not modified")
}

func TestExecute_ErrorPolicy(t *testing.T) {
	tests := []struct {
		name       string
		typ        string
		expected   bool
		stop       bool
		wantStatus schema.Status
		wantError  int64
		afterRuns  bool
	}{
		{"failure continues", typeFail, false, false, schema.StatusWarning, 2, true},
		{"failure stops", typeFail, false, true, schema.StatusStopped, 2, false},
		{"expected failure", typeFail, true, true, schema.StatusWarning, 1, true},
		{"missing expected failure", actions.TypeDummy, true, false, schema.StatusWarning, 1, true},
		{"missing expected failure stops", actions.TypeDummy, true, true, schema.StatusStopped, 1, false},
		{"success", actions.TypeDummy, false, true, schema.StatusSuccess, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := act(1, "first", tt.typ)
			first.ErrorExpected = tt.expected
			first.ErrorStop = tt.stop
			h := newHarness(t, script("main", first, act(2, "after", actions.TypeDummy)))

			res := h.run(t, Request{ScriptName: "main"})
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantError, res.Metrics.Error)
			assert.Equal(t, tt.afterRuns, len(h.actionStatus(t, res.RunID, "after")) == 1)
		})
	}
}

func TestExecute_UnknownActionType(t *testing.T) {
	h := newHarness(t, script("main", act(1, "odd", "fwk.doesNotExist")))
	res := h.run(t, Request{ScriptName: "main"})
	assert.Equal(t, schema.StatusError, res.Status)
	assert.Equal(t, []string{string(schema.StatusError)}, h.actionStatus(t, res.RunID, "odd"))
	assert.Contains(t, h.logs.String(), "action.error")
}

func TestExecute_ExitScript(t *testing.T) {
	h := newHarness(t, script("main",
		act(1, "first", actions.TypeDummy),
		act(2, "exit", schema.ActionTypeExitScript),
		act(3, "never", actions.TypeDummy),
	))
	res := h.run(t, Request{ScriptName: "main"})
	assert.Equal(t, schema.StatusStopped, res.Status)
	assert.Equal(t, []string{"first", "exit"}, h.actionNames(t, res.RunID))
}

func TestExecute_ConditionFalseSkips(t *testing.T) {
	guarded := act(1, "guarded", actions.TypeDummy)
	guarded.Condition = `has(vars.missing)`
	h := newHarness(t, script("main", guarded))

	res := h.run(t, Request{ScriptName: "main"})
	assert.Equal(t, []string{string(schema.StatusSkipped)}, h.actionStatus(t, res.RunID, "guarded"))
	assert.Equal(t, int64(1), res.Metrics.Skip)
	assert.Equal(t, schema.StatusWarning, res.Status, "nothing ran")
}

func TestExecute_Selection(t *testing.T) {
	h := newHarness(t, script("main",
		act(1, "one", actions.TypeDummy),
		act(2, "two", actions.TypeDummy),
		act(3, "three", actions.TypeDummy),
	))
	sel := selection.NewRange("", "", nil, []int64{2}, nil)

	res := h.run(t, Request{ScriptName: "main", Selection: sel})
	assert.Equal(t, schema.StatusSuccess, res.Status)
	assert.Equal(t, int64(2), res.Metrics.Success)
	assert.Equal(t, int64(0), res.Metrics.Skip, "selection skips are not counted")
	assert.Equal(t, []string{string(schema.StatusSkipped)}, h.actionStatus(t, res.RunID, "two"))
	assert.Equal(t, schema.StatusSuccess, sel.Outcomes()["id-three"])
}

func TestExecute_ValuesIteration(t *testing.T) {
	loop := act(2, "loop", schema.ActionTypeStartIteration)
	loop.Iteration = "letters"
	h := newHarness(t, script("main",
		act(1, "define", actions.TypeSetIteration, "name", "letters", "type", "values", "values", "a,b,c"),
		loop,
	))

	res := h.run(t, Request{ScriptName: "main"})
	assert.Equal(t, schema.StatusSuccess, res.Status)
	assert.Len(t, h.actionStatus(t, res.RunID, "loop"), 3)
	assert.Equal(t, int64(4), res.Metrics.Success)
}

func TestExecute_IterationInterrupt(t *testing.T) {
	loop := act(2, "loop", schema.ActionTypeStartIteration, "script", "missing")
	loop.Iteration = "letters"
	h := newHarness(t, script("main",
		act(1, "define", actions.TypeSetIteration, "name", "letters", "type", "values", "values", "a,b,c", "interrupt", "y"),
		loop,
	))

	res := h.run(t, Request{ScriptName: "main"})
	assert.Len(t, h.actionStatus(t, res.RunID, "loop"), 1)
	// define succeeded, so the failed pass makes the script a warning.
	assert.Equal(t, schema.StatusWarning, res.Status)
	assert.Positive(t, res.Metrics.Error)
}

func TestExecute_UndefinedIteration(t *testing.T) {
	loop := act(1, "loop", schema.ActionTypeStartIteration)
	loop.Iteration = "nowhere"
	h := newHarness(t, script("main", loop))

	res := h.run(t, Request{ScriptName: "main"})
	assert.Equal(t, []string{string(schema.StatusError)}, h.actionStatus(t, res.RunID, "loop"))
	assert.Equal(t, schema.StatusError, res.Status)
}

func TestExecute_ConditionIteration(t *testing.T) {
	loop := act(2, "loop", schema.ActionTypeStartIteration)
	loop.Iteration = "upto3"
	h := newHarness(t, script("main",
		act(1, "define", actions.TypeSetIteration, "name", "upto3", "type", "condition", "condition", "int(iter.pass) <= 3"),
		loop,
	))

	res := h.run(t, Request{ScriptName: "main"})
	assert.Len(t, h.actionStatus(t, res.RunID, "loop"), 3)
}

func TestExecute_ChildScript(t *testing.T) {
	h := newHarness(t,
		script("main", act(1, "call", actions.TypeExecuteScript, "script", "child", "paramList", "who=child")),
		script("child", act(1, "inner", actions.TypeOutputMessage, "message", "hello #who#")),
	)

	res := h.run(t, Request{ScriptName: "main"})
	assert.Equal(t, schema.StatusSuccess, res.Status)

	scripts, err := h.results.ListScriptResults(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	assert.Equal(t, "main", scripts[0].ScriptName)
	assert.Equal(t, "child", scripts[1].ScriptName)
	assert.Equal(t, res.ProcessID, scripts[1].ParentProcessID)
	assert.Equal(t, string(schema.StatusSuccess), scripts[1].Status)
}

func TestExecute_RouteExcludesFaultedBranch(t *testing.T) {
	h := newHarness(t,
		script("main",
			act(1, "route", schema.ActionTypeRoute,
				"destination1", "b1",
				"destination2", "b2",
				"destination3", "b3", "condition3", "true"),
			act(2, "after", actions.TypeDummy),
		),
		script("b1", act(1, "b1-work", actions.TypeDummy)),
		script("b2", act(1, "b2-work", typePanic)),
		script("b3", act(1, "b3-work", actions.TypeDummy)),
	)

	res := h.run(t, Request{ScriptName: "main"})
	assert.Equal(t, schema.StatusSuccess, res.Status)
	assert.Equal(t, int64(2), res.Metrics.Success, "only the healthy branches are merged")
	assert.Empty(t, h.actionStatus(t, res.RunID, "after"), "route ends the script")
	assert.Contains(t, h.logs.String(), "route.error")

	scripts, err := h.results.ListScriptResults(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, scripts, 4)
	for _, s := range scripts[1:] {
		assert.Equal(t, res.ProcessID, s.ParentProcessID)
	}
}

func TestExecute_RouteWithoutMatch(t *testing.T) {
	h := newHarness(t, script("main",
		act(1, "route", schema.ActionTypeRoute, "destination1", "b1", "condition1", "false"),
	), script("b1", act(1, "work", actions.TypeDummy)))

	res := h.run(t, Request{ScriptName: "main"})
	assert.Equal(t, []string{string(schema.StatusWarning)}, h.actionStatus(t, res.RunID, "route"))
	assert.Equal(t, schema.StatusWarning, res.Status)
	assert.Equal(t, int64(1), res.Metrics.Warning)
	scripts, err := h.results.ListScriptResults(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Len(t, scripts, 1)
}

func TestExecute_RouteToUnknownScriptFails(t *testing.T) {
	h := newHarness(t, script("main",
		act(1, "first", actions.TypeDummy),
		act(2, "route", schema.ActionTypeRoute, "destination1", "nope"),
	))

	res := h.run(t, Request{ScriptName: "main"})
	assert.Equal(t, []string{string(schema.StatusError)}, h.actionStatus(t, res.RunID, "route"))
	assert.Equal(t, schema.StatusWarning, res.Status, "the failed route is folded next to the success")
	assert.Equal(t, int64(1), res.Metrics.Success)
	assert.Equal(t, int64(2), res.Metrics.Error, "route status plus error policy")
}

func TestExecute_RouteFailureStopsScript(t *testing.T) {
	route := act(1, "route", schema.ActionTypeRoute, "destination1", "nope")
	route.ErrorStop = true
	h := newHarness(t, script("main", route))

	res := h.run(t, Request{ScriptName: "main"})
	assert.Equal(t, schema.StatusStopped, res.Status)
	assert.Positive(t, res.Metrics.Error)
}

func TestExecute_LookupTagsReachTheAction(t *testing.T) {
	h := newHarness(t, script("main",
		act(1, "query", typeTags, "query", `{{!SQL("select 1")}}`, "plain", "x"),
	))

	res := h.run(t, Request{ScriptName: "main"})
	assert.Equal(t, schema.StatusSuccess, res.Status)
	assert.Equal(t, map[string]string{"query": "sql"}, h.tagged.tags)
}

func TestExecute_ExitOnCompletion(t *testing.T) {
	h := newHarness(t, script("main", act(1, "only", actions.TypeDummy)))
	h.run(t, Request{ScriptName: "main", ExitOnCompletion: true})

	assert.Equal(t, []int{0}, h.exits)
	assert.True(t, strings.Contains(h.stdout.String(), "script.launcher.end"))
}

func TestExecute_CancelledContextStops(t *testing.T) {
	h := newHarness(t, script("main", act(1, "only", actions.TypeDummy)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.engine.Execute(ctx, Request{ScriptName: "main"})
	require.NoError(t, err)
	assert.Equal(t, schema.StatusStopped, res.Status)
}

func TestActionQueue_Splice(t *testing.T) {
	q := newActionQueue([]schema.Action{{Name: "a"}, {Name: "b"}})
	a, _ := q.Next()
	assert.Equal(t, "a", a.Name)
	q.Splice([]schema.Action{{Name: "x"}})

	var rest []string
	for {
		next, ok := q.Next()
		if !ok {
			break
		}
		rest = append(rest, next.Name)
	}
	assert.Equal(t, []string{"x", "b"}, rest)
}
