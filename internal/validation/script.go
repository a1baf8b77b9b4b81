package validation

import (
	"errors"

	"github.com/BKyryl/iesi/pkg/schema"
)

// ScriptValidator runs the structural check on raw documents and the
// semantic check on decoded scripts.
type ScriptValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    ActionLookup
}

// NewScriptValidator creates a ScriptValidator. lookup may be nil to skip
// action type checks.
func NewScriptValidator(lookup ActionLookup) (*ScriptValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &ScriptValidator{jsonSchema: jsv, actions: lookup}, nil
}

// ValidateDocument delegates to the document schema.
func (sv *ScriptValidator) ValidateDocument(doc any) error {
	return sv.jsonSchema.ValidateDocument(doc)
}

// Validate returns every semantic issue of s.
func (sv *ScriptValidator) Validate(s *schema.Script) *Report {
	if s == nil {
		r := &Report{}
		r.fail("/", schema.ErrCodeValidation, "script is nil")
		return r
	}
	return validateSemantic(s, sv.actions)
}

// ValidateScript fails when s has semantic errors. Warnings pass.
func (sv *ScriptValidator) ValidateScript(s *schema.Script) error {
	return sv.Validate(s).Err()
}

// Violations extracts the violation list of a structural validation error.
func Violations(err error) []string {
	var ie *schema.IesiError
	if !errors.As(err, &ie) || ie.Details == nil {
		return nil
	}
	v, _ := ie.Details["violations"].([]string)
	return v
}

var _ Validator = (*ScriptValidator)(nil)
