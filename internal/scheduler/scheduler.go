// Package scheduler launches root script runs on cron schedules.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/BKyryl/iesi/pkg/schema"
)

// DefaultInterval is the polling period of the scheduling loop.
const DefaultInterval = 30 * time.Second

// Job is one scheduled root launch.
type Job struct {
	ID        string `yaml:"id" json:"id"`
	Cron      string `yaml:"cron" json:"cron"`
	Script    string `yaml:"script" json:"script"`
	Version   int64  `yaml:"version,omitempty" json:"version,omitempty"`
	Env       string `yaml:"env,omitempty" json:"env,omitempty"`
	ParamList string `yaml:"param_list,omitempty" json:"param_list,omitempty"`
	ParamFile string `yaml:"param_file,omitempty" json:"param_file,omitempty"`
	Disabled  bool   `yaml:"disabled,omitempty" json:"disabled,omitempty"`

	LastRunAt     *time.Time `yaml:"-" json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `yaml:"-" json:"next_run_at,omitempty"`
	LastRunStatus string     `yaml:"-" json:"last_run_status,omitempty"`
	LastRunID     string     `yaml:"-" json:"last_run_id,omitempty"`
}

// Launcher runs the root script of a job and returns the run id and the
// terminal status.
type Launcher interface {
	Launch(ctx context.Context, job Job) (runID string, status schema.Status, err error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, job Job) (string, schema.Status, error)

func (f LauncherFunc) Launch(ctx context.Context, job Job) (string, schema.Status, error) {
	return f(ctx, job)
}

// Scheduler polls its jobs and launches those that are due.
type Scheduler struct {
	launcher Launcher
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	jobsMu sync.Mutex
	jobs   map[string]*Job

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// NewScheduler creates a Scheduler. A non-positive interval uses
// DefaultInterval.
func NewScheduler(launcher Launcher, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		launcher: launcher,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// LoadJobs reads a YAML (or JSON) list of jobs.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	var doc struct {
		Jobs []Job `yaml:"jobs"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "parse schedule file %s: %s", path, err.Error()).WithCause(err)
	}
	return doc.Jobs, nil
}

// Add registers a job and computes its first run.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" || job.Script == "" {
		return schema.NewError(schema.ErrCodeValidation, "job id and script are required")
	}
	next, err := s.CalculateNextRun(job.Cron, s.now())
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "job %s: %s", job.ID, err.Error()).WithCause(err)
	}
	job.NextRunAt = &next

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, dup := s.jobs[job.ID]; dup {
		return schema.NewErrorf(schema.ErrCodeConflict, "job %q scheduled twice", job.ID)
	}
	s.jobs[job.ID] = &job
	return nil
}

// Jobs returns a snapshot of the jobs ordered by id.
func (s *Scheduler) Jobs() []Job {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	slices.SortFunc(out, func(a, b Job) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Jobs())))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled job that is due.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, job := range s.Jobs() {
		if job.Disabled || job.NextRunAt == nil || job.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(job.ID) {
			continue
		}
		if err := s.runJob(ctx, job, now); err != nil {
			s.logger.Error("failed to run scheduled job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		s.releaseJob(job.ID)
	}
}

// runJob launches a job and updates its timestamps.
func (s *Scheduler) runJob(ctx context.Context, job Job, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("script", job.Script),
	)

	runID, status, err := s.launcher.Launch(ctx, job)
	if err != nil {
		status = schema.StatusError
		s.logger.Error("scheduled job execution failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	next, err := s.CalculateNextRun(job.Cron, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	j, ok := s.jobs[job.ID]
	if !ok {
		return nil
	}
	j.LastRunAt = &now
	j.NextRunAt = &next
	j.LastRunStatus = string(status)
	j.LastRunID = runID
	return nil
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
