package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BKyryl/iesi/internal/actions"
	"github.com/BKyryl/iesi/internal/control"
	"github.com/BKyryl/iesi/internal/logging"
	"github.com/BKyryl/iesi/internal/metrics"
	"github.com/BKyryl/iesi/internal/resolution"
	"github.com/BKyryl/iesi/pkg/schema"
)

// ActionExecution is one run of one action.
type ActionExecution struct {
	script *ScriptExecution
	exec   *control.ActionExec

	// iter holds the variables of the current iteration instance.
	iter map[string]string

	metrics *metrics.Metrics
	params  map[string]string
	tags    map[string]string
	initErr error
	result  *actions.Result
}

// Initialize resets the metrics and resolves the action parameters against
// the current run state. A resolution failure is kept and reported as an
// action error by Execute.
func (ae *ActionExecution) Initialize(ctx context.Context) {
	ae.metrics = metrics.New()
	ae.result = nil
	ae.initErr = nil
	ae.tags = nil

	run := ae.script.ctrl.Run()
	action := ae.exec.Action

	scope := resolution.Scope{Env: run.Env, Variables: run.Variables}
	if action.Component != "" {
		c, err := ae.script.engine.cfg.Scripts.Component(action.Component)
		if err != nil {
			ae.initErr = fmt.Errorf("component %s: %w", action.Component, err)
			return
		}
		scope.Attributes = resolution.EnvironmentAttributes(*c, run.Env)
	}

	params := make(map[string]string, len(action.Parameters))
	tags := make(map[string]string)
	for _, p := range action.Parameters {
		res, err := ae.script.engine.cfg.Resolver.Resolve(ctx, p.Value, scope)
		if err != nil {
			ae.initErr = fmt.Errorf("parameter %s: %w", p.Name, err)
			return
		}
		params[p.Name] = res.Value
		if res.Tag != "" {
			tags[p.Name] = res.Tag
		}
	}
	ae.params = params
	ae.tags = tags
}

// Execute runs the action and records its lifecycle. When fold is set the
// action status is folded into the script metrics.
func (ae *ActionExecution) Execute(ctx context.Context, fold bool) schema.Status {
	ctrl := ae.script.ctrl
	action := ae.exec.Action

	ctrl.LogActionStart(ctx, ae.exec)
	ctx = logging.WithProcessID(logging.WithAction(ctx, action.Name), ae.exec.ProcessID)

	if err := ae.run(ctx); err != nil {
		ae.metrics.IncrementError(1)
		ctrl.Message(ctx, ae.script.exec, slog.LevelWarn, "action.error",
			"action", action.Name, "type", action.Type, "error", err.Error())
	}
	if ae.result != nil {
		for _, out := range ae.result.Outputs {
			ctrl.LogActionOutput(ctx, ae.exec, out.Name, out.Value)
		}
	}

	var scriptMetrics *metrics.Metrics
	if fold {
		scriptMetrics = ae.script.metrics
	}
	return ctrl.LogActionEnd(ctx, ae.exec, ae.metrics, scriptMetrics)
}

func (ae *ActionExecution) run(ctx context.Context) error {
	if ae.initErr != nil {
		return ae.initErr
	}
	action := ae.exec.Action
	engine := ae.script.engine
	run := ae.script.ctrl.Run()

	if cond := strings.TrimSpace(action.Condition); cond != "" {
		ok, err := engine.condition(ctx, run, cond, ae.iter)
		if err != nil {
			return fmt.Errorf("condition: %w", err)
		}
		if !ok {
			ae.metrics.IncrementSkip(1)
			ae.script.ctrl.Message(ctx, ae.script.exec, slog.LevelInfo, "action.condition false -> skip", "action", action.Name)
			return nil
		}
	}

	impl, err := engine.cfg.Actions.Get(action.Type)
	if err != nil {
		return err
	}
	if err := impl.Validate(ae.params); err != nil {
		return err
	}
	res, err := impl.Execute(ctx, &actions.Context{
		Action:  action,
		Params:  ae.params,
		Tags:    ae.tags,
		Run:     run,
		Metrics: ae.metrics,
		Logger:  ae.script.ctrl.Logger(),
		Host:    &host{script: ae.script, iter: ae.iter},
	})
	ae.result = res
	return err
}

// host is the actions.Host of one action execution.
type host struct {
	script *ScriptExecution
	iter   map[string]string
}

func (h *host) LoadParamList(ctx context.Context, list string) error {
	return h.script.ctrl.LoadParamList(ctx, list)
}

func (h *host) Script(name, version string) (*schema.Script, error) {
	return h.script.engine.loadScript(name, version)
}

func (h *host) ExecuteScript(ctx context.Context, s *schema.Script, paramList string) (schema.Status, error) {
	return h.script.child(s, paramList).Execute(ctx), nil
}

func (h *host) Condition(ctx context.Context, expression string) (bool, error) {
	return h.script.engine.condition(ctx, h.script.ctrl.Run(), expression, h.iter)
}

var _ actions.Host = (*host)(nil)
