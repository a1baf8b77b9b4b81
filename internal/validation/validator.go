// Package validation checks script and component documents before they are
// decoded, then checks decoded scripts for references the engine relies on.
package validation

import "github.com/BKyryl/iesi/pkg/schema"

// Document kinds carried in the "type" field of a definition file.
const (
	KindScript    = "script"
	KindComponent = "component"
)

// ActionLookup reports whether an action type is registered.
type ActionLookup interface {
	Has(name string) bool
}

// Validator checks definition documents.
type Validator interface {
	ValidateDocument(doc any) error
	ValidateScript(s *schema.Script) error
}
