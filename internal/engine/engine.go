// Package engine walks scripts: it runs their actions in order, loops
// iterations, splices included scripts and fans route branches out.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/BKyryl/iesi/internal/actions"
	"github.com/BKyryl/iesi/internal/control"
	"github.com/BKyryl/iesi/internal/expressions"
	"github.com/BKyryl/iesi/internal/iteration"
	"github.com/BKyryl/iesi/internal/logging"
	"github.com/BKyryl/iesi/internal/metrics"
	"github.com/BKyryl/iesi/internal/resolution"
	"github.com/BKyryl/iesi/internal/selection"
	"github.com/BKyryl/iesi/internal/store"
	"github.com/BKyryl/iesi/internal/variables"
	"github.com/BKyryl/iesi/pkg/schema"
)

// Scripts is the definition source of the engine.
type Scripts interface {
	// Script returns a script definition. Version 0 selects the latest.
	Script(name string, version int64) (*schema.Script, error)
	Component(name string) (*schema.Component, error)
}

// Datasets feeds list iterations.
type Datasets interface {
	Rows(dataset, path string) ([]iteration.Row, error)
}

// Config wires the collaborators of an Engine. Scripts, Actions, Resolver,
// Results and CEL are required.
type Config struct {
	Scripts      Scripts
	Actions      *actions.Registry
	Resolver     *resolution.Resolver
	Results      store.ResultStore
	CEL          *expressions.CELEngine
	Environments control.Environments
	Datasets     Datasets
	Redactor     control.Redactor

	// Variables opens the runtime namespace of each run with
	// RuntimeProvider. A nil registry uses variables.NewRegistry().
	Variables       *variables.Registry
	RuntimeProvider string

	// CacheRoot holds one cache directory per run. Defaults to
	// os.TempDir()/iesi.
	CacheRoot string

	Logger        *slog.Logger
	Stdout        io.Writer
	Exit          func(code int)
	OutputLimit   int
	AllZeroStatus schema.Status
}

// Engine launches root script executions.
type Engine struct {
	cfg Config
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Scripts == nil:
		return nil, schema.NewError(schema.ErrCodeConfiguration, "engine: scripts source is required")
	case cfg.Actions == nil:
		return nil, schema.NewError(schema.ErrCodeConfiguration, "engine: action registry is required")
	case cfg.Resolver == nil:
		return nil, schema.NewError(schema.ErrCodeConfiguration, "engine: resolver is required")
	case cfg.Results == nil:
		return nil, schema.NewError(schema.ErrCodeConfiguration, "engine: result store is required")
	case cfg.CEL == nil:
		return nil, schema.NewError(schema.ErrCodeConfiguration, "engine: CEL engine is required")
	}
	if cfg.Variables == nil {
		cfg.Variables = variables.NewRegistry()
	}
	if cfg.CacheRoot == "" {
		cfg.CacheRoot = filepath.Join(os.TempDir(), "iesi")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{cfg: cfg}, nil
}

// Request describes one root launch.
type Request struct {
	// Script runs an inline definition; otherwise ScriptName and
	// ScriptVersion (0 for latest) are loaded.
	Script        *schema.Script
	ScriptName    string
	ScriptVersion int64

	Env       string
	ParamList string
	ParamFile string
	// Selection decides which root actions run. Nil runs all of them.
	Selection        selection.Selector
	ExitOnCompletion bool
	// RunID is generated when empty.
	RunID string
}

// Result is the outcome of a root launch.
type Result struct {
	RunID     string         `json:"run_id"`
	ProcessID int64          `json:"process_id"`
	Script    string         `json:"script"`
	Status    schema.Status  `json:"status"`
	Metrics   metrics.Counts `json:"metrics"`
}

// Execute runs a root script to completion. Action failures end up in the
// returned status; an error is returned only when the run cannot start.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	script := req.Script
	if script == nil {
		if req.ScriptName == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "script name or definition is required")
		}
		var err error
		if script, err = e.cfg.Scripts.Script(req.ScriptName, req.ScriptVersion); err != nil {
			return nil, err
		}
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	// A cancelled caller still gets a run that starts and ends STOPPED.
	run, err := e.openRun(context.WithoutCancel(ctx), runID, req.Env)
	if err != nil {
		return nil, err
	}

	ctrl := control.New(run, control.Options{
		Results:       e.cfg.Results,
		Environments:  e.cfg.Environments,
		Resolver:      e.cfg.Resolver,
		Redactor:      e.cfg.Redactor,
		Logger:        e.cfg.Logger,
		Stdout:        e.cfg.Stdout,
		Exit:          e.cfg.Exit,
		OutputLimit:   e.cfg.OutputLimit,
		AllZeroStatus: e.cfg.AllZeroStatus,
	})

	sel := req.Selection
	if sel == nil {
		sel = selection.All{}
	}
	se := &ScriptExecution{
		engine:           e,
		ctrl:             ctrl,
		exec:             &control.ScriptExec{Script: script, Root: true},
		paramList:        req.ParamList,
		paramFile:        req.ParamFile,
		selector:         sel,
		exitOnCompletion: req.ExitOnCompletion,
	}

	ctx = logging.WithRunID(ctx, runID)
	status := se.Execute(ctx)
	return &Result{
		RunID:     runID,
		ProcessID: se.exec.ProcessID,
		Script:    script.Name,
		Status:    status,
		Metrics:   se.metrics.Snapshot(),
	}, nil
}

// openRun creates the cache directory and the per-run stores.
func (e *Engine) openRun(ctx context.Context, runID, env string) (*control.Run, error) {
	cacheDir := filepath.Join(e.cfg.CacheRoot, runID)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "create run cache %s: %s", cacheDir, err.Error()).WithCause(err)
	}
	vars, err := e.cfg.Variables.Open(ctx, e.cfg.RuntimeProvider, variables.RunInfo{RunID: runID, CacheDir: cacheDir})
	if err != nil {
		_ = os.RemoveAll(cacheDir)
		return nil, fmt.Errorf("open runtime variables: %w", err)
	}
	iters, err := iteration.Open(ctx, cacheDir)
	if err != nil {
		_ = vars.Close()
		_ = os.RemoveAll(cacheDir)
		return nil, fmt.Errorf("open iteration cache: %w", err)
	}
	return control.NewRun(runID, env, cacheDir, vars, iters), nil
}

// loadScript resolves a name and textual version from an action parameter.
func (e *Engine) loadScript(name, version string) (*schema.Script, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "script name is required")
	}
	var v int64
	if version = strings.TrimSpace(version); version != "" {
		var err error
		if v, err = strconv.ParseInt(version, 10, 64); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "script %s: version %q is not a number", name, version)
		}
	}
	return e.cfg.Scripts.Script(name, v)
}

// condition evaluates a CEL condition against the runtime variables of run
// and the variables of the current iteration instance.
func (e *Engine) condition(ctx context.Context, run *control.Run, expression string, iter map[string]string) (bool, error) {
	vars := map[string]any{}
	if run.Variables != nil {
		all, err := run.Variables.All(ctx)
		if err != nil {
			return false, fmt.Errorf("read runtime variables: %w", err)
		}
		for k, v := range all {
			vars[k] = v
		}
	}
	iterVars := make(map[string]any, len(iter))
	for k, v := range iter {
		iterVars[k] = v
	}
	return e.cfg.CEL.EvaluateBool(ctx, expression, map[string]any{
		expressions.VarVars: vars,
		expressions.VarRun:  map[string]any{"id": run.ID, "env": run.Env},
		expressions.VarIter: iterVars,
	})
}

// design is the JSON form of a script recorded as its design trace.
func design(s *schema.Script) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}
