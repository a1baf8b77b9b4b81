// Package metrics holds the success/warning/error/skip counters accumulated
// per action and per script.
package metrics

import (
	"fmt"
	"sync/atomic"
)

// Kind selects one of the four counters.
type Kind int

const (
	Success Kind = iota
	Warning
	Error
	Skip
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Counts is an immutable snapshot of a Metrics value.
type Counts struct {
	Success int64 `json:"success"`
	Warning int64 `json:"warning"`
	Error   int64 `json:"error"`
	Skip    int64 `json:"skip"`
}

// Add returns the pointwise sum of c and o.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Success: c.Success + o.Success,
		Warning: c.Warning + o.Warning,
		Error:   c.Error + o.Error,
		Skip:    c.Skip + o.Skip,
	}
}

// IsZero reports whether every counter is zero.
func (c Counts) IsZero() bool {
	return c == Counts{}
}

// Metrics is a set of monotonically increasing counters. Safe for concurrent use.
type Metrics struct {
	success atomic.Int64
	warning atomic.Int64
	error   atomic.Int64
	skip    atomic.Int64
}

// New returns zeroed metrics.
func New() *Metrics {
	return &Metrics{}
}

// Increment adds n to the counter selected by kind. Non-positive n is ignored.
func (m *Metrics) Increment(kind Kind, n int64) {
	if n <= 0 {
		return
	}
	switch kind {
	case Success:
		m.success.Add(n)
	case Warning:
		m.warning.Add(n)
	case Error:
		m.error.Add(n)
	case Skip:
		m.skip.Add(n)
	}
}

func (m *Metrics) IncrementSuccess(n int64) { m.Increment(Success, n) }
func (m *Metrics) IncrementWarning(n int64) { m.Increment(Warning, n) }
func (m *Metrics) IncrementError(n int64)   { m.Increment(Error, n) }
func (m *Metrics) IncrementSkip(n int64)    { m.Increment(Skip, n) }

func (m *Metrics) Success() int64 { return m.success.Load() }
func (m *Metrics) Warning() int64 { return m.warning.Load() }
func (m *Metrics) Error() int64   { return m.error.Load() }
func (m *Metrics) Skip() int64    { return m.skip.Load() }

// Merge adds every counter of other into m. Merging is commutative and
// associative, so branch results may be folded in any completion order.
func (m *Metrics) Merge(other *Metrics) {
	if other == nil {
		return
	}
	m.MergeCounts(other.Snapshot())
}

// MergeCounts adds a snapshot into m.
func (m *Metrics) MergeCounts(c Counts) {
	m.IncrementSuccess(c.Success)
	m.IncrementWarning(c.Warning)
	m.IncrementError(c.Error)
	m.IncrementSkip(c.Skip)
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Counts {
	return Counts{
		Success: m.success.Load(),
		Warning: m.warning.Load(),
		Error:   m.error.Load(),
		Skip:    m.skip.Load(),
	}
}

func (m *Metrics) String() string {
	c := m.Snapshot()
	return fmt.Sprintf("success=%d warning=%d error=%d skip=%d", c.Success, c.Warning, c.Error, c.Skip)
}
