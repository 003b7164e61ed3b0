package worker

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
}

// NewScheduler maps job names to cron specs. Runs of the same job never
// overlap; a tick that finds the previous run still busy is skipped.
func NewScheduler(runner *Runner, specs map[string]string) (*Scheduler, error) {
	logger := cron.PrintfLogger(log.Default())
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	s := &Scheduler{cron: c, runner: runner}
	for name, spec := range specs {
		if spec == "" {
			continue
		}
		if _, ok := runner.jobs[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
		}
		job := cron.NewChain(cron.SkipIfStillRunning(logger)).Then(s.jobFunc(name))
		if _, err := c.AddJob(spec, job); err != nil {
			return nil, fmt.Errorf("worker: schedule %s %q: %w", name, spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) jobFunc(name string) cron.FuncJob {
	return func() {
		// Errors are already logged by the runner.
		_, _ = s.runner.Run(context.Background(), name)
	}
}

func (s *Scheduler) Start() {
	slog.Info("scheduler started", "entries", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
