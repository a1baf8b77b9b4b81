package control

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BKyryl/iesi/internal/metrics"
	"github.com/BKyryl/iesi/internal/resolution"
	"github.com/BKyryl/iesi/internal/secrets"
	"github.com/BKyryl/iesi/internal/store"
	"github.com/BKyryl/iesi/pkg/schema"
)

// DefaultOutputLimit is the number of characters an output keeps.
const DefaultOutputLimit = 2000

// OutputVariable is the runtime variable recorded as a script output when a
// script ends.
const OutputVariable = "output"

// ScriptExec is the control view of one script execution.
type ScriptExec struct {
	Script *schema.Script
	Root   bool
	Parent *ScriptExec
	// ProcessID is assigned by LogScriptStart.
	ProcessID int64
}

// ActionExec is the control view of one action execution.
type ActionExec struct {
	Action *schema.Action
	Script *ScriptExec
	// ProcessID is assigned by LogActionStart or LogActionSkip.
	ProcessID int64
}

// Environments lists the parameters bound at root start.
type Environments interface {
	EnvironmentParameters(env string) []schema.Parameter
}

// Redactor masks sensitive values before they are persisted.
type Redactor interface {
	Redact(text string) string
}

// ParamResolver resolves parameter file values.
type ParamResolver interface {
	ResolveVariables(ctx context.Context, text string, vars resolution.Variables) (string, error)
}

type redactFunc func(string) string

func (f redactFunc) Redact(s string) string { return f(s) }

// Options configure a Control. Results is required.
type Options struct {
	Results      store.ResultStore
	Environments Environments
	Resolver     ParamResolver
	Redactor     Redactor
	Logger       *slog.Logger
	Stdout       io.Writer
	Exit         func(code int)
	OutputLimit  int
	// AllZeroStatus is the status of a script whose actions neither
	// succeeded, warned nor failed. Defaults to WARNING.
	AllZeroStatus schema.Status
}

// Control records the lifecycle of the executions of one run. Persistence
// failures are logged and never returned.
type Control struct {
	run  *Run
	opts Options
}

// New creates the Control of run.
func New(run *Run, opts Options) *Control {
	if opts.Redactor == nil {
		opts.Redactor = redactFunc(secrets.Redact)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = DefaultOutputLimit
	}
	if opts.AllZeroStatus == "" {
		opts.AllZeroStatus = schema.StatusWarning
	}
	return &Control{run: run, opts: opts}
}

// Run returns the run this Control records.
func (c *Control) Run() *Run { return c.run }

// Logger returns the control logger.
func (c *Control) Logger() *slog.Logger { return c.opts.Logger }

// LogScriptStart allocates the process id of exec and records its start.
// A root start restarts process id allocation and binds the environment
// parameters as runtime variables.
func (c *Control) LogScriptStart(ctx context.Context, exec *ScriptExec) {
	var parent int64
	switch {
	case exec.Root:
		c.run.ResetProcessID()
		c.bindEnvironment(ctx)
	case exec.Parent != nil:
		parent = exec.Parent.ProcessID
	}
	exec.ProcessID = c.run.NextProcessID()

	err := c.opts.Results.InsertScriptStart(context.WithoutCancel(ctx), &store.ScriptResult{
		RunID:           c.run.ID,
		ProcessID:       exec.ProcessID,
		ParentProcessID: parent,
		ScriptID:        exec.Script.ID,
		ScriptName:      exec.Script.Name,
		ScriptVersion:   exec.Script.Version,
		Environment:     c.run.Env,
		Status:          string(schema.StatusActive),
		StartedAt:       time.Now().UTC(),
	})
	c.warn(ctx, "record script start", err)
}

func (c *Control) bindEnvironment(ctx context.Context) {
	if c.opts.Environments == nil || c.run.Variables == nil {
		return
	}
	for _, p := range c.opts.Environments.EnvironmentParameters(c.run.Env) {
		c.warn(ctx, "bind environment parameter", c.run.Variables.Set(ctx, p.Name, p.Value))
	}
}

// LogActionStart allocates the process id of a and records its start.
func (c *Control) LogActionStart(ctx context.Context, a *ActionExec) {
	a.ProcessID = c.run.NextProcessID()
	err := c.opts.Results.InsertActionStart(context.WithoutCancel(ctx), c.actionRow(a, schema.StatusActive))
	c.warn(ctx, "record action start", err)
}

// LogActionSkip allocates the process id of a and records it as skipped.
func (c *Control) LogActionSkip(ctx context.Context, a *ActionExec) {
	a.ProcessID = c.run.NextProcessID()
	err := c.opts.Results.InsertActionSkip(context.WithoutCancel(ctx), c.actionRow(a, schema.StatusSkipped))
	c.warn(ctx, "record action skip", err)
	c.Message(ctx, a.Script, slog.LevelInfo, "action.skipped", "action", a.Action.Name)
}

func (c *Control) actionRow(a *ActionExec, status schema.Status) *store.ActionResult {
	var scriptPID int64
	if a.Script != nil {
		scriptPID = a.Script.ProcessID
	}
	return &store.ActionResult{
		RunID:           c.run.ID,
		ProcessID:       a.ProcessID,
		ScriptProcessID: scriptPID,
		ActionID:        a.Action.ID,
		ActionName:      a.Action.Name,
		Environment:     c.run.Env,
		Status:          string(status),
		StartedAt:       time.Now().UTC(),
	}
}

// LogActionEnd records the end of a and returns its status. When
// scriptMetrics is non-nil the status is folded into it once.
func (c *Control) LogActionEnd(ctx context.Context, a *ActionExec, m *metrics.Metrics, scriptMetrics *metrics.Metrics) schema.Status {
	status := ActionStatus(m.Snapshot())
	if scriptMetrics != nil {
		scriptMetrics.Increment(FoldKind(status), 1)
	}
	err := c.opts.Results.UpdateActionEnd(context.WithoutCancel(ctx), c.run.ID, a.ProcessID, string(status))
	c.warn(ctx, "record action end", err)
	c.Message(ctx, a.Script, slog.LevelInfo, "action.status", "action", a.Action.Name, "status", status)
	return status
}

// LogScriptEnd records the end of exec and returns its status. Only a root
// end records the output variable, then clears the runtime variables.
func (c *Control) LogScriptEnd(ctx context.Context, exec *ScriptExec, m *metrics.Metrics, forceStopped, scriptExit bool) schema.Status {
	status := ScriptStatus(m.Snapshot(), forceStopped, scriptExit, c.opts.AllZeroStatus)
	err := c.opts.Results.UpdateScriptEnd(context.WithoutCancel(ctx), c.run.ID, exec.ProcessID, string(status))
	c.warn(ctx, "record script end", err)
	c.Message(ctx, exec, slog.LevelInfo, "script.status", "status", status, "metrics", m.String())

	if c.run.Variables != nil && exec.Root {
		if out, ok, err := c.run.Variables.Get(ctx, OutputVariable); err == nil && ok {
			c.LogScriptOutput(ctx, exec, OutputVariable, out)
		}
		c.warn(ctx, "clear runtime variables", c.run.Variables.Clear(context.WithoutCancel(ctx)))
	}
	return status
}

// LogScriptOutput redacts, truncates and records a script output.
func (c *Control) LogScriptOutput(ctx context.Context, exec *ScriptExec, name, value string) {
	err := c.opts.Results.InsertScriptOutput(context.WithoutCancel(ctx), &store.Output{
		RunID:     c.run.ID,
		ProcessID: exec.ProcessID,
		OwnerID:   exec.Script.ID,
		Name:      name,
		Value:     c.prepareOutput(value),
	})
	c.warn(ctx, "record script output", err)
}

// LogActionOutput redacts, truncates and records an action output.
func (c *Control) LogActionOutput(ctx context.Context, a *ActionExec, name, value string) {
	err := c.opts.Results.InsertActionOutput(context.WithoutCancel(ctx), &store.Output{
		RunID:     c.run.ID,
		ProcessID: a.ProcessID,
		OwnerID:   a.Action.ID,
		Name:      name,
		Value:     c.prepareOutput(value),
	})
	c.warn(ctx, "record action output", err)
}

func (c *Control) prepareOutput(value string) string {
	value = c.opts.Redactor.Redact(value)
	if r := []rune(value); len(r) > c.opts.OutputLimit {
		value = string(r[:c.opts.OutputLimit])
	}
	return value
}

// TraceDesign records the definition exec runs with.
func (c *Control) TraceDesign(ctx context.Context, exec *ScriptExec, design []byte) {
	var parent int64
	if exec.Parent != nil {
		parent = exec.Parent.ProcessID
	}
	err := c.opts.Results.InsertDesignTrace(context.WithoutCancel(ctx), &store.DesignTrace{
		RunID:           c.run.ID,
		ProcessID:       exec.ProcessID,
		ParentProcessID: parent,
		ScriptID:        exec.Script.ID,
		Design:          design,
		TracedAt:        time.Now().UTC(),
	})
	c.warn(ctx, "record design trace", err)
}

// Message logs msg for exec. INFO messages of non-root scripts are lowered
// to DEBUG.
func (c *Control) Message(ctx context.Context, exec *ScriptExec, level slog.Level, msg string, args ...any) {
	if level == slog.LevelInfo && (exec == nil || !exec.Root) {
		level = slog.LevelDebug
	}
	c.opts.Logger.Log(ctx, level, msg, args...)
}

// EndExecution writes the end banner and exits with status 0.
func (c *Control) EndExecution() {
	fmt.Fprintln(c.opts.Stdout, strings.Repeat("+", 78))
	fmt.Fprintln(c.opts.Stdout, "script.launcher.end")
	c.opts.Exit(0)
}

func (c *Control) warn(ctx context.Context, what string, err error) {
	if err == nil {
		return
	}
	c.opts.Logger.WarnContext(ctx, what+" failed", slog.String("error", err.Error()))
}
