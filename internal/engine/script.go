package engine

import (
	"context"
	"log/slog"

	"github.com/BKyryl/iesi/internal/actions"
	"github.com/BKyryl/iesi/internal/control"
	"github.com/BKyryl/iesi/internal/logging"
	"github.com/BKyryl/iesi/internal/metrics"
	"github.com/BKyryl/iesi/internal/selection"
	"github.com/BKyryl/iesi/pkg/schema"
)

// actionQueue is the working action list of one script execution. Included
// scripts are spliced in after the cursor; the shared definition is never
// touched.
type actionQueue struct {
	items []schema.Action
	next  int
}

func newActionQueue(defs []schema.Action) *actionQueue {
	items := make([]schema.Action, len(defs))
	copy(items, defs)
	return &actionQueue{items: items}
}

// Next returns the action under the cursor and advances it.
func (q *actionQueue) Next() (*schema.Action, bool) {
	if q.next >= len(q.items) {
		return nil, false
	}
	a := &q.items[q.next]
	q.next++
	return a, true
}

// Splice inserts defs right after the action last returned by Next.
func (q *actionQueue) Splice(defs []schema.Action) {
	if len(defs) == 0 {
		return
	}
	items := make([]schema.Action, 0, len(q.items)+len(defs))
	items = append(items, q.items[:q.next]...)
	items = append(items, defs...)
	items = append(items, q.items[q.next:]...)
	q.items = items
}

// ScriptExecution is one run of one script inside a Run.
type ScriptExecution struct {
	engine *Engine
	ctrl   *control.Control
	exec   *control.ScriptExec

	paramList        string
	paramFile        string
	selector         selection.Selector // root only
	exitOnCompletion bool

	metrics      *metrics.Metrics
	forceStopped bool
	scriptExit   bool
}

// child creates a non-root execution of s under se.
func (se *ScriptExecution) child(s *schema.Script, paramList string) *ScriptExecution {
	return &ScriptExecution{
		engine:    se.engine,
		ctrl:      se.ctrl,
		exec:      &control.ScriptExec{Script: s, Parent: se.exec},
		paramList: paramList,
	}
}

// Metrics returns the aggregated metrics of the execution.
func (se *ScriptExecution) Metrics() *metrics.Metrics { return se.metrics }

// Execute runs the script and returns its terminal status.
func (se *ScriptExecution) Execute(ctx context.Context) schema.Status {
	run := se.ctrl.Run()
	script := se.exec.Script

	se.ctrl.LogScriptStart(ctx, se.exec)
	ctx = logging.WithProcessID(logging.WithScript(ctx, script.Name), se.exec.ProcessID)
	se.ctrl.Message(ctx, se.exec, slog.LevelInfo, "script.start", "script", script.Name, "env", run.Env)
	se.loadParameters(ctx)
	se.ctrl.TraceDesign(ctx, se.exec, design(script))

	se.metrics = metrics.New()
	se.walk(ctx)

	status := se.ctrl.LogScriptEnd(ctx, se.exec, se.metrics, se.forceStopped, se.scriptExit)
	if se.exec.Root {
		if err := run.Release(ctx); err != nil {
			se.ctrl.Message(ctx, se.exec, slog.LevelWarn, "run.release failed", "error", err.Error())
		}
		if se.exitOnCompletion {
			se.ctrl.EndExecution()
		}
	}
	return status
}

// loadParameters applies the inline list first so the files win on
// overlapping names. Failures are logged and the script continues.
func (se *ScriptExecution) loadParameters(ctx context.Context) {
	if se.paramList != "" {
		if err := se.ctrl.LoadParamList(ctx, se.paramList); err != nil {
			se.ctrl.Message(ctx, se.exec, slog.LevelWarn, "script.paramList failed", "error", err.Error())
		}
	}
	if se.paramFile != "" {
		if err := se.ctrl.LoadParamFiles(ctx, se.paramFile); err != nil {
			se.ctrl.Message(ctx, se.exec, slog.LevelWarn, "script.paramFile failed", "error", err.Error())
		}
	}
}

func (se *ScriptExecution) walk(ctx context.Context) {
	queue := newActionQueue(se.exec.Script.Actions)
	for {
		if ctx.Err() != nil {
			se.ctrl.Message(ctx, se.exec, slog.LevelWarn, "script.cancelled", "error", ctx.Err().Error())
			se.forceStopped = true
			return
		}
		action, ok := queue.Next()
		if !ok {
			return
		}

		if se.exec.Root && !se.selector.ShouldExecute(action) {
			ae := se.newAction(action)
			se.ctrl.LogActionSkip(ctx, ae.exec)
			se.selector.RecordOutcome(action, schema.StatusSkipped)
			continue
		}

		if action.Kind() == schema.KindRoute {
			if outcome, branched := se.route(ctx, action); !branched {
				se.applyErrorPolicy(ctx, action, outcome)
			}
			return
		}

		outcome, res := se.runAction(ctx, action)

		if action.Kind() == schema.KindIncludeScript && res != nil && res.Included != nil {
			queue.Splice(res.Included.Actions)
			se.ctrl.Message(ctx, se.exec, slog.LevelInfo, "script.include",
				"script", res.Included.Name, "actions", len(res.Included.Actions))
		}

		if se.applyErrorPolicy(ctx, action, outcome) {
			return
		}

		if action.Kind() == schema.KindExitScript {
			se.ctrl.Message(ctx, se.exec, slog.LevelInfo, "script.exit")
			se.scriptExit = true
			return
		}

		if se.exec.Root {
			se.selector.RecordOutcome(action, control.ActionStatus(outcome))
		}
	}
}

// runAction executes an action once, or once per instance for
// start-iteration actions, and returns the metrics the error policy reads.
func (se *ScriptExecution) runAction(ctx context.Context, action *schema.Action) (metrics.Counts, *actions.Result) {
	if action.Kind() == schema.KindStartIteration {
		return se.iterate(ctx, action), nil
	}
	ae := se.newAction(action)
	ae.Initialize(ctx)
	ae.Execute(ctx, true)
	return ae.metrics.Snapshot(), ae.result
}

// applyErrorPolicy compares the outcome with the error flags of the action
// and reports whether the script must stop.
func (se *ScriptExecution) applyErrorPolicy(ctx context.Context, action *schema.Action, outcome metrics.Counts) bool {
	failed := outcome.Error > 0
	switch {
	case failed && !action.ErrorExpected:
	case failed && action.ErrorExpected:
		se.ctrl.Message(ctx, se.exec, slog.LevelInfo, "action.error expected -> script.continue", "action", action.Name)
		return false
	case !failed && action.ErrorExpected:
	default:
		return false
	}

	se.metrics.IncrementError(1)
	if !action.ErrorStop {
		return false
	}
	msg := "action.error -> script.stop"
	if !failed {
		msg = "action.error expected -> script.stop"
	}
	se.ctrl.Message(ctx, se.exec, slog.LevelInfo, msg, "action", action.Name)
	se.forceStopped = true
	return true
}

func (se *ScriptExecution) newAction(action *schema.Action) *ActionExecution {
	return &ActionExecution{
		script: se,
		exec:   &control.ActionExec{Action: action, Script: se.exec},
	}
}
