package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BKyryl/iesi/pkg/schema"
)

// mockLauncher tracks Launch calls.
type mockLauncher struct {
	mu     sync.Mutex
	calls  []Job
	status schema.Status
	err    error
	block  chan struct{}
}

func (l *mockLauncher) Launch(_ context.Context, job Job) (string, schema.Status, error) {
	if l.block != nil {
		<-l.block
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, job)
	return "run-" + job.ID, l.status, l.err
}

func (l *mockLauncher) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

var fixedNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func newTestScheduler(l Launcher) *Scheduler {
	s := NewScheduler(l, slog.Default(), time.Hour)
	s.now = func() time.Time { return fixedNow }
	return s
}

// makeDue moves the next run of a job into the past.
func makeDue(s *Scheduler, id string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	past := fixedNow.Add(-time.Minute)
	s.jobs[id].NextRunAt = &past
}

func TestCalculateNextRun(t *testing.T) {
	sched := newTestScheduler(&mockLauncher{})

	next, err := sched.CalculateNextRun("0 * * * *", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun("*/15 * * * *", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun("0 0 * * *", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), next)

	_, err = sched.CalculateNextRun("invalid cron", fixedNow)
	require.Error(t, err)
}

func TestAdd(t *testing.T) {
	sched := newTestScheduler(&mockLauncher{})

	require.NoError(t, sched.Add(Job{ID: "nightly", Cron: "0 0 * * *", Script: "load"}))
	jobs := sched.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), *jobs[0].NextRunAt)

	err := sched.Add(Job{ID: "nightly", Cron: "0 0 * * *", Script: "load"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))

	err = sched.Add(Job{ID: "bad", Cron: "whenever", Script: "load"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = sched.Add(Job{Cron: "* * * * *"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestTickRunsDueJobs(t *testing.T) {
	launcher := &mockLauncher{status: schema.StatusWarning}
	sched := newTestScheduler(launcher)
	require.NoError(t, sched.Add(Job{ID: "due", Cron: "0 * * * *", Script: "load", Env: "DEV"}))
	require.NoError(t, sched.Add(Job{ID: "later", Cron: "0 * * * *", Script: "load"}))
	makeDue(sched, "due")

	sched.tick(context.Background())

	require.Equal(t, 1, launcher.callCount())
	assert.Equal(t, "DEV", launcher.calls[0].Env)

	jobs := sched.Jobs()
	assert.Equal(t, "WARNING", jobs[0].LastRunStatus)
	assert.Equal(t, "run-due", jobs[0].LastRunID)
	assert.Equal(t, fixedNow, *jobs[0].LastRunAt)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), *jobs[0].NextRunAt)
	assert.Nil(t, jobs[1].LastRunAt)
}

func TestTickSkipsDisabledJobs(t *testing.T) {
	launcher := &mockLauncher{}
	sched := newTestScheduler(launcher)
	require.NoError(t, sched.Add(Job{ID: "off", Cron: "* * * * *", Script: "load", Disabled: true}))
	makeDue(sched, "off")

	sched.tick(context.Background())
	assert.Equal(t, 0, launcher.callCount())
}

func TestTickRecordsLaunchFailure(t *testing.T) {
	launcher := &mockLauncher{err: errors.New("script not found")}
	sched := newTestScheduler(launcher)
	require.NoError(t, sched.Add(Job{ID: "j", Cron: "* * * * *", Script: "missing"}))
	makeDue(sched, "j")

	sched.tick(context.Background())
	assert.Equal(t, "ERROR", sched.Jobs()[0].LastRunStatus)
}

func TestTickDedupInflight(t *testing.T) {
	launcher := &mockLauncher{block: make(chan struct{})}
	sched := newTestScheduler(launcher)
	require.NoError(t, sched.Add(Job{ID: "slow", Cron: "* * * * *", Script: "load"}))
	makeDue(sched, "slow")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.tick(context.Background())
	}()

	require.Eventually(t, func() bool {
		sched.inflightMu.Lock()
		defer sched.inflightMu.Unlock()
		_, ok := sched.inflight["slow"]
		return ok
	}, time.Second, time.Millisecond)

	// A second tick while the first launch is running does nothing.
	done := make(chan struct{})
	go func() {
		sched.tick(context.Background())
		close(done)
	}()
	<-done

	close(launcher.block)
	wg.Wait()
	assert.Equal(t, 1, launcher.callCount())
}

func TestStartStop(t *testing.T) {
	launcher := &mockLauncher{status: schema.StatusSuccess}
	sched := newTestScheduler(launcher)
	require.NoError(t, sched.Add(Job{ID: "j", Cron: "* * * * *", Script: "load"}))
	makeDue(sched, "j")

	require.NoError(t, sched.Start(context.Background()))
	assert.Error(t, sched.Start(context.Background()), "already started")

	require.Eventually(t, func() bool { return launcher.callCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop())
}

func TestLoadJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
jobs:
  - id: nightly
    cron: "0 2 * * *"
    script: load
    version: 3
    env: PRD
    param_list: country=BE
`), 0o644))

	jobs, err := LoadJobs(path)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, Job{ID: "nightly", Cron: "0 2 * * *", Script: "load", Version: 3, Env: "PRD", ParamList: "country=BE"}, jobs[0])

	require.NoError(t, os.WriteFile(path, []byte("jobs: [unclosed"), 0o644))
	_, err = LoadJobs(path)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
}
