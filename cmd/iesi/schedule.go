package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BKyryl/iesi/internal/engine"
	"github.com/BKyryl/iesi/internal/scheduler"
	"github.com/BKyryl/iesi/pkg/schema"
)

type scheduleOptions struct {
	file     string
	interval time.Duration
}

func newScheduleCmd(root *rootFlags) *cobra.Command {
	opts := &scheduleOptions{}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Launch scripts on cron schedules until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchedule(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "YAML file listing the jobs")
	cmd.Flags().DurationVar(&opts.interval, "interval", 30*time.Second, "How often due jobs are checked")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runSchedule(cmd *cobra.Command, root *rootFlags, opts *scheduleOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cmd, root)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := scheduler.LoadJobs(opts.file)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(engineLauncher(a.engine), a.logger, opts.interval)
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return err
		}
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("scheduler started", "jobs", len(jobs), "file", opts.file)

	<-ctx.Done()
	a.logger.Info("scheduler stopping")
	return sched.Stop()
}

// engineLauncher runs scheduled jobs as root launches that never exit the
// process.
func engineLauncher(e *engine.Engine) scheduler.Launcher {
	return scheduler.LauncherFunc(func(ctx context.Context, job scheduler.Job) (string, schema.Status, error) {
		res, err := e.Execute(ctx, engine.Request{
			ScriptName:    job.Script,
			ScriptVersion: job.Version,
			Env:           job.Env,
			ParamList:     job.ParamList,
			ParamFile:     job.ParamFile,
		})
		if err != nil {
			return "", schema.StatusError, err
		}
		return res.RunID, res.Status, nil
	})
}
