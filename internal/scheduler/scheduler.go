// Package scheduler runs periodic scan cycles over the watched accounts.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Cycle runs one scan.
type Cycle interface {
	RunCycle(ctx context.Context) CycleStats
}

// Scheduler triggers a Cycle on a fixed interval. A cycle that is still
// running when the next tick fires makes that tick a no-op.
type Scheduler struct {
	cycle Cycle
	log   *slog.Logger
	tick  time.Duration
}

// New creates a Scheduler with a 1-minute interval.
func New(cycle Cycle, log *slog.Logger) *Scheduler {
	return &Scheduler{
		cycle: cycle,
		log:   log,
		tick:  time.Minute,
	}
}

// SetTickInterval overrides the default 1-minute scan interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run performs one cycle immediately and then one per interval, blocking
// until ctx is cancelled and the running cycle has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	job := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		s.cycle.RunCycle(ctx)
	})
	if _, err := c.AddJob(fmt.Sprintf("@every %s", s.tick), job); err != nil {
		return fmt.Errorf("schedule scan: %w", err)
	}

	s.log.Info("scheduler started", "interval", s.tick)
	s.cycle.RunCycle(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
