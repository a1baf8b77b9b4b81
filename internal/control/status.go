package control

import (
	"github.com/BKyryl/iesi/internal/metrics"
	"github.com/BKyryl/iesi/pkg/schema"
)

// ActionStatus derives the status of an action from its own metrics.
func ActionStatus(m metrics.Counts) schema.Status {
	switch {
	case m.Skip > 0:
		return schema.StatusSkipped
	case m.Error > 0:
		return schema.StatusError
	case m.Warning > 0:
		return schema.StatusWarning
	default:
		return schema.StatusSuccess
	}
}

// FoldKind is the counter an action status adds to its script.
func FoldKind(s schema.Status) metrics.Kind {
	switch s {
	case schema.StatusSkipped:
		return metrics.Skip
	case schema.StatusError:
		return metrics.Error
	case schema.StatusWarning:
		return metrics.Warning
	default:
		return metrics.Success
	}
}

// ScriptStatus derives the status of a script from its aggregated metrics.
// allZero is returned when no action succeeded, warned or failed.
func ScriptStatus(m metrics.Counts, forceStopped, scriptExit bool, allZero schema.Status) schema.Status {
	switch {
	case forceStopped, scriptExit:
		return schema.StatusStopped
	case m.Success == 0 && m.Warning == 0 && m.Error > 0:
		return schema.StatusError
	case m.Success > 0 && m.Warning == 0 && m.Error == 0:
		return schema.StatusSuccess
	case m.Success == 0 && m.Warning == 0 && m.Error == 0:
		return allZero
	default:
		return schema.StatusWarning
	}
}
