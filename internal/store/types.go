package store

import (
	"encoding/json"
	"time"
)

// ScriptResult is one script execution row.
type ScriptResult struct {
	RunID           string     `json:"run_id"`
	ProcessID       int64      `json:"process_id"`
	ParentProcessID int64      `json:"parent_process_id"`
	ScriptID        string     `json:"script_id"`
	ScriptName      string     `json:"script_name,omitempty"`
	ScriptVersion   int64      `json:"script_version"`
	Environment     string     `json:"environment,omitempty"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// ActionResult is one action execution row.
type ActionResult struct {
	RunID           string     `json:"run_id"`
	ProcessID       int64      `json:"process_id"`
	ScriptProcessID int64      `json:"script_process_id"`
	ActionID        string     `json:"action_id"`
	ActionName      string     `json:"action_name,omitempty"`
	Environment     string     `json:"environment,omitempty"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// ActionResultFilter narrows ListActionResults.
type ActionResultFilter struct {
	RunID           string
	ScriptProcessID int64 // 0 means all scripts of the run
	Status          string
	Limit           int
}

// OutputKind distinguishes script outputs from action outputs.
type OutputKind string

const (
	OutputScript OutputKind = "script"
	OutputAction OutputKind = "action"
)

// Output is a named value emitted by a script or action.
// OwnerID is the script ID or action ID depending on the kind.
type Output struct {
	RunID     string `json:"run_id"`
	ProcessID int64  `json:"process_id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	Value     string `json:"value"`
}

// DesignTrace records the static definition a script execution ran with.
type DesignTrace struct {
	RunID           string          `json:"run_id"`
	ProcessID       int64           `json:"process_id"`
	ParentProcessID int64           `json:"parent_process_id"`
	ScriptID        string          `json:"script_id"`
	Design          json.RawMessage `json:"design"`
	TracedAt        time.Time       `json:"traced_at"`
}
