package validation

import (
	"fmt"
	"strings"

	"github.com/BKyryl/iesi/pkg/schema"
)

// validateSemantic checks what the document schema cannot express: unique
// action ids and numbers, registered action types, and the parameters the
// engine dispatches on.
func validateSemantic(s *schema.Script, lookup ActionLookup) *Report {
	result := &Report{Script: s.Name}

	ids := make(map[string]int, len(s.Actions))
	numbers := make(map[int64]int, len(s.Actions))
	// Iterations defined by earlier setIteration actions of the script.
	defined := make(map[string]bool)

	for i := range s.Actions {
		a := &s.Actions[i]
		path := fmt.Sprintf("actions[%d]", i)

		if a.ID != "" {
			if prev, ok := ids[a.ID]; ok {
				result.fail(path+".id", schema.ErrCodeValidation, "duplicate action id %q (also actions[%d])", a.ID, prev)
			}
			ids[a.ID] = i
		}
		if prev, ok := numbers[a.Number]; ok {
			result.fail(path+".number", schema.ErrCodeValidation, "duplicate action number %d (also actions[%d])", a.Number, prev)
		}
		numbers[a.Number] = i

		if lookup != nil && !lookup.Has(a.Type) {
			result.fail(path+".type", schema.ErrCodeNotFound, "action type %q not registered", a.Type)
		}

		validateAction(a, path, defined, result)
	}
	return result
}

func validateAction(a *schema.Action, path string, defined map[string]bool, result *Report) {
	switch a.Kind() {
	case schema.KindRoute:
		if !hasNumbered(a, "destination") {
			result.fail(path+".parameters", schema.ErrCodeValidation, "route requires at least one destinationN parameter")
		}
		if a.ErrorStop {
			result.warn(path+".error_stop", "route ends the script; error_stop has no effect")
		}
	case schema.KindStartIteration:
		name := strings.TrimSpace(a.Iteration)
		switch {
		case name == "":
			result.fail(path+".iteration", schema.ErrCodeValidation, "start iteration requires an iteration name")
		case !defined[strings.ToLower(name)]:
			result.warn(path+".iteration", "iteration %q is not defined earlier in this script", name)
		}
	case schema.KindIncludeScript:
		if v, _ := a.Parameter("script"); strings.TrimSpace(v) == "" {
			result.fail(path+".parameters", schema.ErrCodeValidation, "include script requires a script parameter")
		}
	}

	if strings.EqualFold(a.Type, "fwk.setIteration") {
		if v, ok := a.Parameter("name"); ok {
			defined[strings.ToLower(strings.TrimSpace(v))] = true
		}
	}
}

func hasNumbered(a *schema.Action, prefix string) bool {
	for _, p := range a.Parameters {
		name := strings.ToLower(p.Name)
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			return true
		}
	}
	return false
}
