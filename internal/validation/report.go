package validation

import (
	"fmt"

	"github.com/BKyryl/iesi/pkg/schema"
)

// Issue is one problem found in a script, located by a path such as
// "actions[2].iteration".
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Warning bool   `json:"warning,omitempty"`
}

// Report collects the issues of one script. Warnings never fail a load.
type Report struct {
	Script string  `json:"script"`
	Issues []Issue `json:"issues,omitempty"`
}

func (r *Report) fail(path, code, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) warn(path, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Path: path, Code: schema.ErrCodeValidation, Message: fmt.Sprintf(format, args...), Warning: true})
}

// Errors returns the failing issues in discovery order.
func (r *Report) Errors() []Issue { return r.filter(false) }

// Warnings returns the non-failing issues in discovery order.
func (r *Report) Warnings() []Issue { return r.filter(true) }

func (r *Report) filter(warning bool) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Warning == warning {
			out = append(out, i)
		}
	}
	return out
}

// Err returns nil when the report has no errors. Otherwise the error carries
// the first error's code and every issue in its details.
func (r *Report) Err() error {
	errs := r.Errors()
	if len(errs) == 0 {
		return nil
	}
	first := errs[0]
	msg := fmt.Sprintf("script %s: %s: %s", r.Script, first.Path, first.Message)
	if len(errs) > 1 {
		msg = fmt.Sprintf("script %s: %d problems, first at %s: %s", r.Script, len(errs), first.Path, first.Message)
	}
	return schema.NewError(first.Code, msg).WithDetails(map[string]any{
		"script": r.Script,
		"issues": r.Issues,
	})
}
