package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BKyryl/iesi/internal/metrics"
	"github.com/BKyryl/iesi/pkg/schema"
)

// iterate runs a start-iteration action once per instance of the iteration
// it references. Before each pass the instance variables are copied into the
// runtime variables and the parameters are resolved again. It returns the
// metrics of all passes merged.
func (se *ScriptExecution) iterate(ctx context.Context, action *schema.Action) metrics.Counts {
	total := metrics.New()

	next, cleanup, err := se.openIteration(ctx, action)
	if err != nil {
		// The action still appears once in the results, as failed.
		ae := se.newAction(action)
		ae.Initialize(ctx)
		ae.initErr = err
		ae.Execute(ctx, true)
		return ae.metrics.Snapshot()
	}
	defer cleanup()

	for pass := 1; ctx.Err() == nil; pass++ {
		inst, ok, err := next(ctx, pass)
		if err != nil {
			se.ctrl.Message(ctx, se.exec, slog.LevelWarn, "iteration.error", "action", action.Name, "error", err.Error())
			total.IncrementError(1)
			break
		}
		if !ok {
			break
		}
		if err := se.bindIteration(ctx, inst); err != nil {
			se.ctrl.Message(ctx, se.exec, slog.LevelWarn, "iteration.bind failed", "error", err.Error())
		}

		ae := se.newAction(action)
		ae.iter = inst
		ae.Initialize(ctx)
		ae.Execute(ctx, true)
		counts := ae.metrics.Snapshot()
		total.MergeCounts(counts)

		if se.interrupts(action) && counts.Error > 0 {
			se.ctrl.Message(ctx, se.exec, slog.LevelInfo, "iteration.interrupt", "action", action.Name, "pass", pass)
			break
		}
	}
	return total.Snapshot()
}

func (se *ScriptExecution) interrupts(action *schema.Action) bool {
	it, ok := se.ctrl.Run().IterationDefinition(action.Iteration)
	return ok && it.Interrupt
}

// nextInstance returns the variables of a pass, or false when the sequence
// is exhausted.
type nextInstance func(ctx context.Context, pass int) (map[string]string, bool, error)

// openIteration prepares the instance sequence of the iteration referenced
// by action.
func (se *ScriptExecution) openIteration(ctx context.Context, action *schema.Action) (nextInstance, func(), error) {
	run := se.ctrl.Run()
	name := strings.TrimSpace(action.Iteration)
	if name == "" {
		return nil, nil, schema.NewErrorf(schema.ErrCodeIteration, "action %s does not reference an iteration", action.Name)
	}
	it, ok := run.IterationDefinition(name)
	if !ok {
		return nil, nil, schema.NewErrorf(schema.ErrCodeIteration, "iteration %q is not defined", name)
	}

	if it.Type == schema.IterationTypeCondition {
		return se.conditionIteration(run.ID, it), func() {}, nil
	}

	store := run.Iterations
	if store == nil {
		return nil, nil, schema.NewError(schema.ErrCodeIteration, "run has no iteration cache")
	}
	var err error
	switch it.Type {
	case schema.IterationTypeList:
		err = se.defineListIteration(ctx, run.ID, it)
	case schema.IterationTypeValues:
		err = store.DefineValues(ctx, run.ID, it.Name, it.Values)
	case schema.IterationTypeFor:
		err = store.DefineRange(ctx, run.ID, it.Name, it.From, it.To, it.Step)
	default:
		err = schema.NewErrorf(schema.ErrCodeIteration, "iteration %s: unknown type %q", it.Name, it.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	next := func(ctx context.Context, pass int) (map[string]string, bool, error) {
		inst, err := store.ListInstance(ctx, run.ID, it.Name, pass)
		if err != nil {
			return nil, false, err
		}
		return inst.Variables, !inst.Empty, nil
	}
	cleanup := func() {
		if err := store.CleanList(context.WithoutCancel(ctx), run.ID, it.Name); err != nil {
			se.ctrl.Message(ctx, se.exec, slog.LevelWarn, "iteration.clean failed", "error", err.Error())
		}
	}
	return next, cleanup, nil
}

// defineListIteration loads rows from a dataset. The list is "dataset" or
// "dataset:path" where path is a gjson path to an array.
func (se *ScriptExecution) defineListIteration(ctx context.Context, runID string, it schema.Iteration) error {
	ds := se.engine.cfg.Datasets
	if ds == nil {
		return schema.NewErrorf(schema.ErrCodeConfiguration, "iteration %s: no dataset repository configured", it.Name)
	}
	name, path, _ := strings.Cut(it.List, ":")
	rows, err := ds.Rows(strings.TrimSpace(name), strings.TrimSpace(path))
	if err != nil {
		return fmt.Errorf("iteration %s: %w", it.Name, err)
	}
	return se.ctrl.Run().Iterations.DefineList(ctx, runID, it.Name, rows)
}

// conditionIteration yields passes while the CEL condition holds. Each pass
// exposes its number as the variable "pass".
func (se *ScriptExecution) conditionIteration(runID string, it schema.Iteration) nextInstance {
	return func(ctx context.Context, pass int) (map[string]string, bool, error) {
		inst := map[string]string{"pass": fmt.Sprint(pass)}
		ok, err := se.engine.condition(ctx, se.ctrl.Run(), it.Condition, inst)
		if err != nil {
			return nil, false, fmt.Errorf("iteration %s (run %s): %w", it.Name, runID, err)
		}
		return inst, ok, nil
	}
}

// bindIteration copies instance variables into the runtime variables.
func (se *ScriptExecution) bindIteration(ctx context.Context, inst map[string]string) error {
	vars := se.ctrl.Run().Variables
	if vars == nil {
		return nil
	}
	for k, v := range inst {
		if err := vars.Set(ctx, k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}
