package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/BKyryl/iesi/pkg/schema"
)

const documentSchemaURL = "https://iesi.dev/schemas/document.json"

// documentSchemaJSON describes a definition file: a type tag and its data.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://iesi.dev/schemas/document.json",
  "type": "object",
  "required": ["type", "data"],
  "properties": {
    "type": { "type": "string", "enum": ["script", "component"] }
  },
  "allOf": [
    {
      "if": { "properties": { "type": { "const": "script" } } },
      "then": { "properties": { "data": { "$ref": "#/$defs/script" } } }
    },
    {
      "if": { "properties": { "type": { "const": "component" } } },
      "then": { "properties": { "data": { "$ref": "#/$defs/component" } } }
    }
  ],
  "$defs": {
    "parameter": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "value": { "type": "string" }
      },
      "additionalProperties": false
    },
    "script": {
      "type": "object",
      "required": ["name", "actions"],
      "properties": {
        "id": { "type": "string" },
        "name": { "type": "string", "minLength": 1 },
        "version": { "type": "integer", "minimum": 0 },
        "description": { "type": "string" },
        "parameters": { "type": "array", "items": { "$ref": "#/$defs/parameter" } },
        "actions": { "type": "array", "items": { "$ref": "#/$defs/action" } }
      },
      "additionalProperties": false
    },
    "action": {
      "type": "object",
      "required": ["number", "name", "type"],
      "properties": {
        "id": { "type": "string" },
        "number": { "type": "integer", "minimum": 1 },
        "type": { "type": "string", "minLength": 1 },
        "name": { "type": "string", "minLength": 1 },
        "description": { "type": "string" },
        "component": { "type": "string" },
        "iteration": { "type": "string" },
        "condition": { "type": "string" },
        "error_expected": { "type": "boolean" },
        "error_stop": { "type": "boolean" },
        "parameters": { "type": "array", "items": { "$ref": "#/$defs/parameter" } }
      },
      "additionalProperties": false
    },
    "component": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "type": { "type": "string" },
        "attributes": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["environment", "name"],
            "properties": {
              "environment": { "type": "string", "minLength": 1 },
              "name": { "type": "string", "minLength": 1 },
              "value": { "type": "string" }
            },
            "additionalProperties": false
          }
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks definition documents against the embedded
// document schema. It is safe for concurrent use.
type JSONSchemaValidator struct {
	documentSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the document schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document schema: %w", err)
	}
	if err := c.AddResource(documentSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add document schema resource: %w", err)
	}
	compiled, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	return &JSONSchemaValidator{documentSchema: compiled}, nil
}

// ValidateDocument validates a decoded definition file. doc is any value
// that encodes to JSON, typically the result of a YAML or JSON decode.
func (v *JSONSchemaValidator) ValidateDocument(doc any) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "document is empty")
	}
	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize document").WithCause(err)
	}
	if err := v.documentSchema.Validate(value); err != nil {
		return toIesiError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toIesiError converts a jsonschema.ValidationError into an IesiError that
// lists every violated location.
func toIesiError(err error) *schema.IesiError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
