package tasks

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/meridianhq/orchestrator/pkg/models"
)

// CronScheduler submits periodic_cleanup tasks on a cron schedule. This
// is the one standard task kind (§4.7 item 5) that is self-triggering
// rather than submitted by a caller.
type CronScheduler struct {
	orchestrator *Orchestrator
	cron         *cron.Cron
	logger       *slog.Logger
}

// NewCronScheduler builds a scheduler bound to orchestrator.
func NewCronScheduler(orchestrator *Orchestrator, logger *slog.Logger) *CronScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronScheduler{
		orchestrator: orchestrator,
		cron:         cron.New(),
		logger:       logger,
	}
}

// ScheduleCleanup registers periodic_cleanup on the given standard
// five-field cron expression (e.g. "0 * * * *" for hourly).
func (s *CronScheduler) ScheduleCleanup(ctx context.Context, expr string) error {
	_, err := s.cron.AddFunc(expr, func() {
		if _, err := s.orchestrator.Submit(ctx, models.KindPeriodicCleanup, nil, SubmitOptions{MaxAttempts: 1}); err != nil {
			s.logger.Warn("periodic_cleanup submission failed", "error", err)
		}
	})
	return err
}

// Start launches the cron scheduler's own goroutine.
func (s *CronScheduler) Start() { s.cron.Start() }

// Stop blocks until any in-flight cron job completes, then returns.
func (s *CronScheduler) Stop() { <-s.cron.Stop().Done() }
