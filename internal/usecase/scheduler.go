package usecase

import (
	"context"
	"log/slog"
	"time"

	"PolicyWatch/internal/logging"
	"PolicyWatch/internal/ports"
)

// Scheduler wires the periodic driver with the pipeline use case.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		driver:   driver,
		pipeline: pipeline,
		logger:   logging.OrDiscard(logger).With("component", "scheduler"),
	}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}
	return s.driver.Start(ctx, func(trigger time.Time) {
		s.runOnce(ctx, trigger)
	})
}

func (s *Scheduler) runOnce(ctx context.Context, trigger time.Time) {
	titles, err := s.pipeline.ExistingPolicyTitles(ctx)
	if err != nil {
		s.logger.Error("scheduled run skipped", "trigger", trigger, "error", err)
		return
	}

	run, err := s.pipeline.Start(ctx, titles)
	switch {
	case IsGuardError(err):
		s.logger.Info("scheduled run skipped", "trigger", trigger, "reason", err)
	case err != nil:
		s.logger.Error("scheduled run failed to start", "trigger", trigger, "error", err)
	default:
		s.logger.Info("scheduled run finished", "run_id", run.ID, "stage", run.Stage)
	}
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}
