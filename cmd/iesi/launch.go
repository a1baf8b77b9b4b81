package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BKyryl/iesi/internal/engine"
	"github.com/BKyryl/iesi/internal/selection"
	"github.com/BKyryl/iesi/internal/store"
	"github.com/BKyryl/iesi/pkg/schema"
)

type launchOptions struct {
	script    string
	version   int64
	env       string
	paramList string
	paramFile string
	from      string
	to        string
	include   []int64
	exclude   []int64
	resume    string
	exit      bool
	json      bool
}

func newLaunchCmd(root *rootFlags) *cobra.Command {
	opts := &launchOptions{}

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Run a script to completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLaunch(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.script, "script", "s", "", "Script name")
	f.Int64Var(&opts.version, "version", 0, "Script version (0 for the latest)")
	f.StringVarP(&opts.env, "env", "e", "", "Environment")
	f.StringVar(&opts.paramList, "paramlist", "", "Parameters as name=value,name=value")
	f.StringVar(&opts.paramFile, "paramfile", "", "Comma separated parameter files")
	f.StringVar(&opts.from, "from", "", "First action name to run")
	f.StringVar(&opts.to, "to", "", "Last action name to run")
	f.Int64SliceVar(&opts.include, "include", nil, "Action numbers to run")
	f.Int64SliceVar(&opts.exclude, "exclude", nil, "Action numbers to skip")
	f.StringVar(&opts.resume, "resume", "", "Run id whose completed actions are skipped")
	f.BoolVar(&opts.exit, "exit", false, "Exit the process when the run completes")
	f.BoolVar(&opts.json, "json", false, "Print the result as JSON")
	_ = cmd.MarkFlagRequired("script")

	return cmd
}

func runLaunch(cmd *cobra.Command, root *rootFlags, opts *launchOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cmd, root)
	if err != nil {
		return err
	}
	defer a.Close()

	req := engine.Request{
		ScriptName:       opts.script,
		ScriptVersion:    opts.version,
		Env:              opts.env,
		ParamList:        opts.paramList,
		ParamFile:        opts.paramFile,
		ExitOnCompletion: opts.exit,
	}

	sel, err := buildSelection(ctx, a, opts)
	if err != nil {
		return err
	}
	req.Selection = sel

	result, err := a.engine.Execute(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintf(out, "run %s: %s %s (success=%d warning=%d error=%d skip=%d)\n",
		result.RunID, result.Script, result.Status,
		result.Metrics.Success, result.Metrics.Warning, result.Metrics.Error, result.Metrics.Skip)
	return nil
}

// buildSelection returns nil when every action runs. A resumed run carries
// the outcomes recorded for the root script of the earlier run.
func buildSelection(ctx context.Context, a *app, opts *launchOptions) (selection.Selector, error) {
	var completed map[string]schema.Status
	if opts.resume != "" {
		rows, err := a.results.ListActionResults(ctx, store.ActionResultFilter{RunID: opts.resume, ScriptProcessID: 1})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q has no recorded actions", opts.resume)
		}
		completed = selection.Completed(rows)
	}
	if opts.from == "" && opts.to == "" && len(opts.include) == 0 && len(opts.exclude) == 0 && completed == nil {
		return nil, nil
	}
	return selection.NewRange(opts.from, opts.to, opts.include, opts.exclude, completed), nil
}
