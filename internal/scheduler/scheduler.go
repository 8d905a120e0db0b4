package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/solacehealth/safety-engine/internal/config"
	"github.com/solacehealth/safety-engine/internal/database"
	"github.com/solacehealth/safety-engine/internal/event"
	"github.com/solacehealth/safety-engine/internal/metrics"
)

// Scheduler runs the periodic background jobs: the overdue-task sweep that
// feeds task.overdue events into the bus, and the retention cleanup of old
// workflow execution records.
type Scheduler struct {
	cron       *cron.Cron
	cfg        config.SchedulerConfig
	tasks      *database.TaskRepository
	executions *database.ExecutionRepository
	bus        *event.Bus
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// NewScheduler creates the background job scheduler.
func NewScheduler(
	cfg config.SchedulerConfig,
	tasks *database.TaskRepository,
	executions *database.ExecutionRepository,
	bus *event.Bus,
	logger *slog.Logger,
	collector *metrics.Collector,
) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		cfg:        cfg,
		tasks:      tasks,
		executions: executions,
		bus:        bus,
		logger:     logger,
		metrics:    collector,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.OverdueSweepSchedule, func() {
		s.SweepOverdueTasks(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule overdue sweep: %w", err)
	}

	if _, err := s.cron.AddFunc(s.cfg.CleanupSchedule, func() {
		s.CleanupExecutions(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule execution cleanup: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		"overdue_sweep", s.cfg.OverdueSweepSchedule,
		"cleanup", s.cfg.CleanupSchedule)
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Scheduler stopped")
}

// SweepOverdueTasks publishes task.overdue for every open task past its due
// date that has not been announced yet, then marks it announced so each task
// fires at most once.
func (s *Scheduler) SweepOverdueTasks(ctx context.Context) {
	now := time.Now().UTC()

	overdue, err := s.tasks.ListOverdue(ctx, now)
	if err != nil {
		s.logger.Error("Overdue task sweep failed", "error", err)
		return
	}
	if len(overdue) == 0 {
		return
	}

	for _, task := range overdue {
		s.metrics.EventsPublished.WithLabelValues(event.TypeTaskOverdue).Inc()
		s.bus.Publish(event.TypeTaskOverdue, map[string]interface{}{
			"taskId":      task.ID,
			"clientId":    task.ClientID,
			"counselorId": task.AssigneeID,
			"title":       task.Title,
			"dueAt":       task.DueAt.Format(time.RFC3339),
		})

		if err := s.tasks.MarkOverdueNotified(ctx, task.ID); err != nil {
			s.logger.Error("Failed to mark task overdue-notified",
				"task_id", task.ID,
				"error", err)
		}
	}

	s.logger.Info("Overdue task sweep completed", "tasks", len(overdue))
}

// CleanupExecutions deletes workflow execution records older than the
// retention window.
func (s *Scheduler) CleanupExecutions(ctx context.Context) {
	retention := s.cfg.ExecutionRetentionDays
	if retention <= 0 {
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retention)
	deleted, err := s.executions.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("Execution cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("Execution cleanup completed", "deleted", deleted, "cutoff", cutoff)
	}
}
