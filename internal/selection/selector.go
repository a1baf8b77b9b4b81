// Package selection decides which actions of a root script run.
package selection

import (
	"slices"
	"strings"
	"sync"

	"github.com/BKyryl/iesi/internal/store"
	"github.com/BKyryl/iesi/pkg/schema"
)

// Selector is consulted by the root script before each action and told the
// outcome afterwards.
type Selector interface {
	ShouldExecute(a *schema.Action) bool
	RecordOutcome(a *schema.Action, status schema.Status)
}

// All executes every action.
type All struct{}

func (All) ShouldExecute(*schema.Action) bool           { return true }
func (All) RecordOutcome(*schema.Action, schema.Status) {}

// Range selects actions by name window and number filters.
//
// From and To are action names and both bounds are inclusive. Include, when
// not empty, restricts execution to the listed action numbers; Exclude
// removes numbers. Actions recorded as successful in Completed are skipped,
// which lets a run resume after its last failure.
type Range struct {
	From    string
	To      string
	Include []int64
	Exclude []int64

	mu        sync.Mutex
	started   bool
	finished  bool
	completed map[string]schema.Status
}

// NewRange creates a range selector. Completed may be nil.
func NewRange(from, to string, include, exclude []int64, completed map[string]schema.Status) *Range {
	r := &Range{
		From:      strings.TrimSpace(from),
		To:        strings.TrimSpace(to),
		Include:   include,
		Exclude:   exclude,
		completed: make(map[string]schema.Status, len(completed)),
	}
	for id, st := range completed {
		r.completed[id] = st
	}
	r.started = r.From == ""
	return r
}

// Completed builds the continue map of a previous run from its action rows.
// The last row of an action wins.
func Completed(rows []*store.ActionResult) map[string]schema.Status {
	out := make(map[string]schema.Status, len(rows))
	for _, row := range rows {
		if st, ok := schema.ParseStatus(row.Status); ok {
			out[row.ActionID] = st
		}
	}
	return out
}

func (r *Range) ShouldExecute(a *schema.Action) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started && strings.EqualFold(a.Name, r.From) {
		r.started = true
	}
	if !r.started || r.finished {
		return false
	}
	if len(r.Include) > 0 && !slices.Contains(r.Include, a.Number) {
		return false
	}
	if slices.Contains(r.Exclude, a.Number) {
		return false
	}
	if st, ok := r.completed[a.ID]; ok && st == schema.StatusSuccess {
		return false
	}
	return true
}

// RecordOutcome stores the outcome of an executed action and closes the
// window once the To action has been reached. A skip keeps the outcome
// carried over from a previous run.
func (r *Range) RecordOutcome(a *schema.Action, status schema.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status != schema.StatusSkipped {
		r.completed[a.ID] = status
	}
	if r.To != "" && strings.EqualFold(a.Name, r.To) {
		r.finished = true
	}
}

// Outcomes returns a copy of the recorded outcomes keyed by action ID.
func (r *Range) Outcomes() map[string]schema.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]schema.Status, len(r.completed))
	for id, st := range r.completed {
		out[id] = st
	}
	return out
}

var (
	_ Selector = All{}
	_ Selector = (*Range)(nil)
)
