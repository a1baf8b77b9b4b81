package actions

import (
	"context"
	"fmt"

	"github.com/BKyryl/iesi/pkg/schema"
)

// Framework action type tags beside the ones the engine dispatches on.
const (
	TypeDummy              = "fwk.dummy"
	TypeSetRuntimeVariable = "fwk.setRuntimeVariable"
	TypeSetParameterList   = "fwk.setParameterList"
	TypeOutputMessage      = "fwk.outputMessage"
	TypeSetIteration       = "fwk.setIteration"
	TypeExecuteScript      = "fwk.executeScript"
)

type dummyAction struct{ meta }

func newDummy() Action {
	return &dummyAction{meta{TypeDummy, ActionSchema{Description: "Does nothing and succeeds."}}}
}

func (a *dummyAction) Execute(context.Context, *Context) (*Result, error) {
	return &Result{}, nil
}

type setRuntimeVariableAction struct{ meta }

func newSetRuntimeVariable() Action {
	return &setRuntimeVariableAction{meta{TypeSetRuntimeVariable, ActionSchema{
		Description: "Sets a runtime variable of the run.",
		Required:    []string{"name"},
		Optional:    []string{"value"},
	}}}
}

func (a *setRuntimeVariableAction) Execute(ctx context.Context, ac *Context) (*Result, error) {
	name, value := ac.Params["name"], ac.Param("value", "")
	if err := ac.Run.Variables.Set(ctx, name, value); err != nil {
		return nil, fmt.Errorf("set runtime variable %s: %w", name, err)
	}
	return (&Result{}).Output(name, value), nil
}

type setParameterListAction struct{ meta }

func newSetParameterList() Action {
	return &setParameterListAction{meta{TypeSetParameterList, ActionSchema{
		Description: "Sets runtime variables from a list of name=value pairs.",
		Required:    []string{"list"},
	}}}
}

func (a *setParameterListAction) Execute(ctx context.Context, ac *Context) (*Result, error) {
	if err := ac.Host.LoadParamList(ctx, ac.Params["list"]); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

type outputMessageAction struct{ meta }

func newOutputMessage() Action {
	return &outputMessageAction{meta{TypeOutputMessage, ActionSchema{
		Description: "Logs a message and records it as the message output.",
		Optional:    []string{"message"},
	}}}
}

func (a *outputMessageAction) Execute(ctx context.Context, ac *Context) (*Result, error) {
	msg := ac.Param("message", "")
	ac.Logger.InfoContext(ctx, "action.message", "message", msg)
	return (&Result{}).Output("message", msg), nil
}

type setIterationAction struct{ meta }

func newSetIteration() Action {
	return &setIterationAction{meta{TypeSetIteration, ActionSchema{
		Description: "Defines an iteration that later start-iteration actions can reference.",
		Required:    []string{"name", "type"},
		Optional:    []string{"list", "values", "from", "to", "step", "condition", "interrupt"},
	}}}
}

func (a *setIterationAction) Execute(_ context.Context, ac *Context) (*Result, error) {
	it := schema.Iteration{
		Name:      ac.Params["name"],
		Type:      ac.Params["type"],
		List:      ac.Param("list", ""),
		Values:    ac.Param("values", ""),
		From:      ac.Param("from", ""),
		To:        ac.Param("to", ""),
		Step:      ac.Param("step", ""),
		Condition: ac.Param("condition", ""),
		Interrupt: parseBool(ac.Param("interrupt", "")),
	}
	if err := ac.Run.DefineIteration(it); err != nil {
		return nil, err
	}
	return (&Result{}).Output("iteration", it.Name), nil
}

type startIterationAction struct{ meta }

func newStartIteration() Action {
	return &startIterationAction{meta{schema.ActionTypeStartIteration, ActionSchema{
		Description: "Runs once per iteration instance; with a script parameter each pass executes that script.",
		Optional:    []string{"script", "version", "paramList"},
	}}}
}

func (a *startIterationAction) Execute(ctx context.Context, ac *Context) (*Result, error) {
	if ac.Param("script", "") == "" {
		return &Result{}, nil
	}
	return runChildScript(ctx, ac)
}

type exitScriptAction struct{ meta }

func newExitScript() Action {
	return &exitScriptAction{meta{schema.ActionTypeExitScript, ActionSchema{
		Description: "Stops the current script after this action.",
	}}}
}

func (a *exitScriptAction) Execute(context.Context, *Context) (*Result, error) {
	return &Result{}, nil
}
