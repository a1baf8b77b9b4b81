package store

import "context"

// ResultStore persists script and action lifecycle rows for a run.
// A (run ID, process ID) pair identifies exactly one row.
// All implementations must be safe for concurrent use.
type ResultStore interface {
	// Scripts
	InsertScriptStart(ctx context.Context, r *ScriptResult) error
	UpdateScriptEnd(ctx context.Context, runID string, processID int64, status string) error
	GetScriptResult(ctx context.Context, runID string, processID int64) (*ScriptResult, error)
	ListScriptResults(ctx context.Context, runID string) ([]*ScriptResult, error)

	// Actions
	InsertActionStart(ctx context.Context, r *ActionResult) error
	InsertActionSkip(ctx context.Context, r *ActionResult) error
	UpdateActionEnd(ctx context.Context, runID string, processID int64, status string) error
	ListActionResults(ctx context.Context, filter ActionResultFilter) ([]*ActionResult, error)

	// Outputs
	InsertScriptOutput(ctx context.Context, o *Output) error
	InsertActionOutput(ctx context.Context, o *Output) error
	ListOutputs(ctx context.Context, kind OutputKind, runID string, processID int64) ([]*Output, error)

	// Design trace
	InsertDesignTrace(ctx context.Context, t *DesignTrace) error
	GetDesignTrace(ctx context.Context, runID string, processID int64) (*DesignTrace, error)
}
