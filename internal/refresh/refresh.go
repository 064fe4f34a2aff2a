// Package refresh runs the periodic maintenance pass: it re-drives records
// flagged for repair and rescans a few tracked channels.
package refresh

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TobiSchelling/toolscout/internal/config"
	"github.com/TobiSchelling/toolscout/internal/logging"
	"github.com/TobiSchelling/toolscout/internal/model"
	"github.com/TobiSchelling/toolscout/internal/pipeline"
)

// Processor ingests a source URL.
type Processor interface {
	ProcessSourceURL(ctx context.Context, raw, kindHint string) (*pipeline.Result, error)
}

// Store lists repair candidates and tracked channels.
type Store interface {
	QuerySources(ctx context.Context, field string, value any, limit int) ([]model.Source, error)
	MarkRepairAttempted(ctx context.Context, id string) error
	ListChannels(ctx context.Context) ([]model.Channel, error)
}

// StepResult holds the result of a single refresh step.
type StepResult struct {
	Name      string `json:"name"`
	Summary   string `json:"summary"`
	Attempted int    `json:"attempted"`
	Failed    int    `json:"failed"`
	Err       error  `json:"-"`
}

// Report summarizes one refresh run.
type Report struct {
	RunID           string        `json:"runId"`
	StartedAt       time.Time     `json:"startedAt"`
	Duration        time.Duration `json:"duration"`
	BudgetExhausted bool          `json:"budgetExhausted"`
	Steps           []StepResult  `json:"steps"`
}

// Refresher runs repair sweeps and channel rescans.
type Refresher struct {
	proc    Processor
	store   Store
	cfg     config.Refresh
	logger  *zap.Logger
	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

// New creates a Refresher.
func New(proc Processor, store Store, cfg config.Refresh, logger *zap.Logger) *Refresher {
	return &Refresher{
		proc:    proc,
		store:   store,
		cfg:     cfg,
		logger:  logging.OrNop(logger),
		now:     time.Now,
		shuffle: rand.Shuffle,
	}
}

// RunOnce repairs up to repair_limit flagged records and rescans
// channels_per_run random channels. The budget is checked before each item;
// once spent, no new items are started. Failures are logged and counted.
func (r *Refresher) RunOnce(ctx context.Context) *Report {
	rep := &Report{RunID: uuid.NewString(), StartedAt: r.now()}
	logger := r.logger.With(zap.String("run_id", rep.RunID))
	logger.Info("refresh started")

	step := r.repair(ctx, rep, logger)
	rep.Steps = append(rep.Steps, step)

	step = r.rescan(ctx, rep, logger)
	rep.Steps = append(rep.Steps, step)

	rep.Duration = r.now().Sub(rep.StartedAt)
	logger.Info("refresh finished",
		zap.Duration("duration", rep.Duration),
		zap.Bool("budget_exhausted", rep.BudgetExhausted),
	)
	return rep
}

func (r *Refresher) overBudget(ctx context.Context, rep *Report) bool {
	if ctx.Err() != nil || (r.cfg.Budget > 0 && r.now().Sub(rep.StartedAt) > r.cfg.Budget) {
		rep.BudgetExhausted = true
		return true
	}
	return false
}

func (r *Refresher) repair(ctx context.Context, rep *Report, logger *zap.Logger) StepResult {
	res := StepResult{Name: "Repair"}
	records, err := r.store.QuerySources(ctx, "needs_repair", true, r.cfg.RepairLimit)
	if err != nil {
		logger.Error("listing repair candidates", zap.Error(err))
		res.Err = err
		res.Summary = "listing repair candidates failed"
		return res
	}

	for _, rec := range records {
		if r.overBudget(ctx, rep) {
			break
		}
		res.Attempted++
		if _, err := r.proc.ProcessSourceURL(ctx, rec.URL, string(rec.Kind)); err != nil {
			res.Failed++
			logger.Warn("repair failed", zap.String("source_id", rec.ID), zap.Error(err))
		}
		// records whose re-drive keeps failing must not hold the head of the queue
		if err := r.store.MarkRepairAttempted(ctx, rec.ID); err != nil {
			logger.Warn("marking repair attempt", zap.String("source_id", rec.ID), zap.Error(err))
		}
	}
	res.Summary = fmt.Sprintf("Re-drove %d of %d flagged records, %d failed", res.Attempted, len(records), res.Failed)
	return res
}

func (r *Refresher) rescan(ctx context.Context, rep *Report, logger *zap.Logger) StepResult {
	res := StepResult{Name: "Rescan"}
	channels, err := r.store.ListChannels(ctx)
	if err != nil {
		logger.Error("listing channels", zap.Error(err))
		res.Err = err
		res.Summary = "listing channels failed"
		return res
	}

	r.shuffle(len(channels), func(i, j int) { channels[i], channels[j] = channels[j], channels[i] })
	if n := r.cfg.ChannelsPerRun; n >= 0 && len(channels) > n {
		channels = channels[:n]
	}

	for _, ch := range channels {
		if r.overBudget(ctx, rep) {
			break
		}
		res.Attempted++
		logger.Debug("channel scan", zap.String("channel", ch.Key), zap.String("url", ch.URL))
		if _, err := r.proc.ProcessSourceURL(ctx, ch.URL, string(ch.Kind)); err != nil {
			res.Failed++
			logger.Warn("channel scan failed", zap.String("channel", ch.Key), zap.Error(err))
		}
	}
	res.Summary = fmt.Sprintf("Scanned %d channels, %d failed", res.Attempted, res.Failed)
	return res
}
