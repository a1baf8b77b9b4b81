package engine

import (
	"context"
	"log/slog"

	"github.com/BKyryl/iesi/internal/actions"
	"github.com/BKyryl/iesi/internal/control"
	"github.com/BKyryl/iesi/internal/metrics"
	"github.com/BKyryl/iesi/pkg/schema"
)

type branchOutcome struct {
	route  actions.Route
	branch *ScriptExecution
	err    error
}

// route runs a route action and its branches. Every branch is a child
// script execution on a pool sized to the branch count. Branch metrics are
// merged in completion order; a branch that faults is logged and left out.
// The route ends the current script once a branch runs. When no branch
// runs, the route status is folded into the script like any other action
// and the returned counts feed the error policy.
func (se *ScriptExecution) route(ctx context.Context, action *schema.Action) (metrics.Counts, bool) {
	ae := se.newAction(action)
	ae.Initialize(ctx)
	status := ae.Execute(ctx, false)
	if ae.result == nil || len(ae.result.Routes) == 0 {
		se.metrics.Increment(control.FoldKind(status), 1)
		return ae.metrics.Snapshot(), false
	}
	routes := ae.result.Routes

	pool := NewWorkerPool(len(routes))
	defer pool.Shutdown()

	done := make(chan branchOutcome, len(routes))
	for _, r := range routes {
		branch := se.child(r.Script, "")
		err := pool.Submit(ctx, func(ctx context.Context) error {
			branch.Execute(ctx)
			return nil
		}, func(err error) {
			done <- branchOutcome{route: r, branch: branch, err: err}
		})
		if err != nil {
			done <- branchOutcome{route: r, branch: branch, err: err}
		}
	}

	for range routes {
		o := <-done
		if o.err != nil {
			se.ctrl.Message(ctx, se.exec, slog.LevelWarn, "route.error",
				"destination", o.route.Number, "script", o.route.Script.Name, "error", o.err.Error())
			continue
		}
		se.metrics.Merge(o.branch.Metrics())
		se.ctrl.Message(ctx, se.exec, slog.LevelInfo, "route.completed",
			"destination", o.route.Number, "script", o.route.Script.Name)
	}

	pm := pool.Metrics()
	se.ctrl.Message(ctx, se.exec, slog.LevelDebug, "route.end",
		"branches", len(routes), "completed", pm.Completed, "failed", pm.Failed, "panics", pm.Panics)
	return ae.metrics.Snapshot(), true
}
