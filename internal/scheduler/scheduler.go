// Package scheduler runs the refresh job on a fixed interval.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/toolscout/internal/logging"
	"github.com/TobiSchelling/toolscout/internal/refresh"
)

// Runner performs one refresh pass.
type Runner interface {
	RunOnce(ctx context.Context) *refresh.Report
}

// Scheduler periodically triggers refresh runs.
type Scheduler struct {
	runner Runner
	log    *zap.Logger
	tick   time.Duration
}

// New creates a Scheduler. A non-positive interval defaults to one hour.
func New(runner Runner, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		runner: runner,
		log:    logging.OrNop(log),
		tick:   interval,
	}
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rep := s.runner.RunOnce(ctx)
	for _, step := range rep.Steps {
		if step.Err != nil {
			s.log.Error("refresh step failed", zap.String("run_id", rep.RunID), zap.String("step", step.Name), zap.Error(step.Err))
			continue
		}
		s.log.Info(step.Summary, zap.String("run_id", rep.RunID), zap.String("step", step.Name))
	}
}
