// Package actions defines the action contract and the framework actions
// that drive script execution.
package actions

import (
	"context"
	"log/slog"

	"github.com/BKyryl/iesi/internal/control"
	"github.com/BKyryl/iesi/internal/metrics"
	"github.com/BKyryl/iesi/pkg/schema"
)

// Action is the implementation behind an action type tag.
//
// Domain problems are reported by incrementing Context.Metrics or by
// returning an error, which the engine counts as one action error.
type Action interface {
	Name() string
	Schema() ActionSchema
	Validate(params map[string]string) error
	Execute(ctx context.Context, ac *Context) (*Result, error)
}

// ActionSchema describes the parameters of an action.
type ActionSchema struct {
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required,omitempty"`
	Optional    []string `json:"optional,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name string `json:"name"`
	ActionSchema
}

// Host is the engine surface an action may call back into.
type Host interface {
	// LoadParamList assigns runtime variables from "a=1,b=2".
	LoadParamList(ctx context.Context, list string) error
	// Script loads a script definition. An empty version selects the latest.
	Script(name, version string) (*schema.Script, error)
	// ExecuteScript runs s as a child of the calling script and waits for it.
	ExecuteScript(ctx context.Context, s *schema.Script, paramList string) (schema.Status, error)
	// Condition evaluates a CEL condition against the run state.
	Condition(ctx context.Context, expression string) (bool, error)
}

// Context is what an action sees of its execution.
type Context struct {
	Action  *schema.Action
	Params  map[string]string // resolved parameters
	Tags    map[string]string // lookup tag per parameter, e.g. "sql"
	Run     *control.Run
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Host    Host
}

// Param returns a resolved parameter or def when it is absent.
func (c *Context) Param(name, def string) string {
	if v, ok := c.Params[name]; ok {
		return v
	}
	return def
}

// Output is a named value an action reports.
type Output struct {
	Name  string
	Value string
}

// Route is one branch selected by a route action.
type Route struct {
	Number    int
	Condition string
	Script    *schema.Script
}

// Result is what an action hands back to the engine.
type Result struct {
	Outputs []Output
	// Included is set by include-script actions.
	Included *schema.Script
	// Routes is set by route actions.
	Routes []Route
}

// Output appends a named value and returns r.
func (r *Result) Output(name, value string) *Result {
	r.Outputs = append(r.Outputs, Output{Name: name, Value: value})
	return r
}
