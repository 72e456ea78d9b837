package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/elonfeng/newsgauge/internal/store"
	"github.com/elonfeng/newsgauge/pkg/alert"
	"github.com/elonfeng/newsgauge/pkg/saturation"
)

// Scheduler re-quantifies stored evaluations on a fixed interval and
// broadcasts a summary after each run.
type Scheduler struct {
	store    store.Store
	orch     *saturation.Orchestrator
	alertMgr *alert.Manager
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

// New creates a new scheduler.
func New(
	s store.Store,
	orch *saturation.Orchestrator,
	alertMgr *alert.Manager,
	interval time.Duration,
	batch int,
	logger *zap.Logger,
) *Scheduler {
	if interval == 0 {
		interval = 6 * time.Hour
	}
	if batch == 0 {
		batch = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:    s,
		orch:     orch,
		alertMgr: alertMgr,
		interval: interval,
		batch:    batch,
		logger:   logger,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.logger.Info("initial quantify run")
	s.runOnce(ctx)

	s.logger.Info("scheduler running", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	evs, err := s.store.ListEvaluations(ctx, store.EvaluationListOpts{Limit: s.batch})
	if err != nil {
		s.logger.Error("load evaluations failed", zap.Error(err))
		return
	}
	if len(evs) == 0 {
		s.logger.Info("no evaluations to quantify")
		return
	}

	items := make([]saturation.Item, 0, len(evs))
	for _, ev := range evs {
		items = append(items, saturation.Item{
			ID:         ev.ID,
			Text:       ev.Text,
			PriorLevel: ev.PriorLevel,
		})
	}

	report, err := s.orch.Run(ctx, items, saturation.RunOptions{})
	if err != nil {
		s.logger.Error("quantify run failed", zap.Error(err))
		return
	}

	if err := s.store.SaveReport(ctx, report); err != nil {
		s.logger.Error("save report failed", zap.Error(err))
	}

	s.logger.Info("quantify run complete",
		zap.String("run_id", report.RunID),
		zap.Int("match", report.MatchCount),
		zap.Int("diff", report.DiffCount),
		zap.Int("errors", report.ErrorCount))

	if !s.alertMgr.HasNotifiers() {
		return
	}
	if err := s.alertMgr.Broadcast(ctx, alert.FromReport(report)); err != nil {
		s.logger.Error("alert broadcast failed", zap.Error(err))
	}
}
