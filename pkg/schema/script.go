package schema

import "strings"

// Script is a named, versioned, ordered sequence of actions.
// Definitions are shared between executions and must not be mutated after load.
type Script struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Version     int64       `json:"version" yaml:"version"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Actions     []Action    `json:"actions" yaml:"actions"`
}

// Parameter is a generic name/value pair.
type Parameter struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Action is one step of a script.
type Action struct {
	ID            string            `json:"id" yaml:"id"`
	Number        int64             `json:"number" yaml:"number"`
	Type          string            `json:"type" yaml:"type"`
	Name          string            `json:"name" yaml:"name"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	Component     string            `json:"component,omitempty" yaml:"component,omitempty"`
	Iteration     string            `json:"iteration,omitempty" yaml:"iteration,omitempty"`
	Condition     string            `json:"condition,omitempty" yaml:"condition,omitempty"`
	ErrorExpected bool              `json:"error_expected,omitempty" yaml:"error_expected,omitempty"`
	ErrorStop     bool              `json:"error_stop,omitempty" yaml:"error_stop,omitempty"`
	Parameters    []ActionParameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// ActionParameter is a raw, unresolved action parameter.
type ActionParameter struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Framework action type tags.
const (
	ActionTypeRoute          = "fwk.route"
	ActionTypeStartIteration = "fwk.startIteration"
	ActionTypeIncludeScript  = "fwk.includeScript"
	ActionTypeExitScript     = "fwk.exitScript"
)

// ActionKind classifies an action for the orchestrator.
type ActionKind int

const (
	KindOrdinary ActionKind = iota
	KindRoute
	KindStartIteration
	KindIncludeScript
	KindExitScript
)

func (k ActionKind) String() string {
	switch k {
	case KindRoute:
		return "route"
	case KindStartIteration:
		return "start-iteration"
	case KindIncludeScript:
		return "include-script"
	case KindExitScript:
		return "exit-script"
	default:
		return "ordinary"
	}
}

// Kind maps the action type tag onto an ActionKind. Matching is case-insensitive.
func (a Action) Kind() ActionKind {
	switch {
	case strings.EqualFold(a.Type, ActionTypeRoute):
		return KindRoute
	case strings.EqualFold(a.Type, ActionTypeStartIteration):
		return KindStartIteration
	case strings.EqualFold(a.Type, ActionTypeIncludeScript):
		return KindIncludeScript
	case strings.EqualFold(a.Type, ActionTypeExitScript):
		return KindExitScript
	default:
		return KindOrdinary
	}
}

// Parameter returns the raw value of the named parameter.
func (a Action) Parameter(name string) (string, bool) {
	for _, p := range a.Parameters {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Iteration types.
const (
	IterationTypeList      = "list"
	IterationTypeValues    = "values"
	IterationTypeFor       = "for"
	IterationTypeCondition = "condition"
)

// Iteration describes how a start-iteration action produces its instances.
type Iteration struct {
	Name      string `json:"name" yaml:"name"`
	Type      string `json:"type" yaml:"type"`
	List      string `json:"list,omitempty" yaml:"list,omitempty"`
	Values    string `json:"values,omitempty" yaml:"values,omitempty"`
	From      string `json:"from,omitempty" yaml:"from,omitempty"`
	To        string `json:"to,omitempty" yaml:"to,omitempty"`
	Step      string `json:"step,omitempty" yaml:"step,omitempty"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Interrupt bool   `json:"interrupt,omitempty" yaml:"interrupt,omitempty"`
}

// Component groups environment-scoped attributes referenced by actions.
type Component struct {
	Name       string               `json:"name" yaml:"name"`
	Type       string               `json:"type,omitempty" yaml:"type,omitempty"`
	Attributes []ComponentAttribute `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// ComponentAttribute is a single attribute valid in one environment.
type ComponentAttribute struct {
	Environment string `json:"environment" yaml:"environment"`
	Name        string `json:"name" yaml:"name"`
	Value       string `json:"value" yaml:"value"`
}
