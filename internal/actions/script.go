package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/BKyryl/iesi/pkg/schema"
)

type includeScriptAction struct{ meta }

func newIncludeScript() Action {
	return &includeScriptAction{meta{schema.ActionTypeIncludeScript, ActionSchema{
		Description: "Splices the actions of another script after this action.",
		Required:    []string{"script"},
		Optional:    []string{"version"},
	}}}
}

func (a *includeScriptAction) Execute(_ context.Context, ac *Context) (*Result, error) {
	s, err := ac.Host.Script(ac.Params["script"], ac.Param("version", ""))
	if err != nil {
		return nil, err
	}
	res := &Result{Included: s}
	return res.Output("script", s.Name), nil
}

type executeScriptAction struct{ meta }

func newExecuteScript() Action {
	return &executeScriptAction{meta{TypeExecuteScript, ActionSchema{
		Description: "Runs another script as a child and waits for it.",
		Required:    []string{"script"},
		Optional:    []string{"version", "paramList"},
	}}}
}

func (a *executeScriptAction) Execute(ctx context.Context, ac *Context) (*Result, error) {
	return runChildScript(ctx, ac)
}

// runChildScript executes the script parameter and maps the child status
// onto the action metrics.
func runChildScript(ctx context.Context, ac *Context) (*Result, error) {
	s, err := ac.Host.Script(ac.Params["script"], ac.Param("version", ""))
	if err != nil {
		return nil, err
	}
	status, err := ac.Host.ExecuteScript(ctx, s, ac.Param("paramList", ""))
	if err != nil {
		return nil, err
	}
	switch status {
	case schema.StatusWarning:
		ac.Metrics.IncrementWarning(1)
	case schema.StatusError, schema.StatusStopped:
		ac.Metrics.IncrementError(1)
	}
	return (&Result{}).Output("status", string(status)), nil
}

type routeAction struct{ meta }

func newRoute() Action {
	return &routeAction{meta{schema.ActionTypeRoute, ActionSchema{
		Description: "Starts one branch per destinationN whose conditionN holds.",
	}}}
}

func (a *routeAction) Validate(params map[string]string) error {
	if _, nums := numbered(params, "destination"); len(nums) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: at least one destinationN parameter is required", a.name)
	}
	return nil
}

// Execute evaluates each conditionN in number order. A missing condition
// always holds. The destination scripts are loaded but not run.
func (a *routeAction) Execute(ctx context.Context, ac *Context) (*Result, error) {
	destinations, nums := numbered(ac.Params, "destination")
	conditions, _ := numbered(ac.Params, "condition")

	res := &Result{}
	for _, n := range nums {
		cond := strings.TrimSpace(conditions[n])
		if cond != "" {
			ok, err := ac.Host.Condition(ctx, cond)
			if err != nil {
				return nil, fmt.Errorf("route condition%d: %w", n, err)
			}
			if !ok {
				continue
			}
		}
		s, err := ac.Host.Script(strings.TrimSpace(destinations[n]), "")
		if err != nil {
			return nil, fmt.Errorf("route destination%d: %w", n, err)
		}
		res.Routes = append(res.Routes, Route{Number: n, Condition: cond, Script: s})
		res.Output(fmt.Sprintf("destination%d", n), s.Name)
	}
	if len(res.Routes) == 0 {
		ac.Metrics.IncrementWarning(1)
		ac.Logger.WarnContext(ctx, "route.none", "reason", "no route condition holds")
	}
	return res, nil
}
