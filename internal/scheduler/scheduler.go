// Package scheduler is the durable-execution substrate of the funnel engine.
// Funnel steps are persisted rows with a run_at deadline; the scheduler polls
// for due rows, claims each through a conditional status update and runs its
// body at most once per claim. Suspending for hours or days costs nothing but
// a row, and a process restart picks up exactly where the table says.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/storage"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/utils"
)

// StepExecutor runs the body of one claimed step. retryAt is honored only
// alongside a retryable error, for deferrals with a known resume instant.
type StepExecutor interface {
	Execute(ctx context.Context, step model.FunnelStep) (retryAt time.Time, err error)
}

// Scheduler polls the funnel step table and drives step execution.
type Scheduler struct {
	steps      storage.FunnelStepRepo
	executor   StepExecutor
	cfg        config.SchedulerConfig
	baseLogger *zap.Logger
}

// New creates a scheduler.
func New(steps storage.FunnelStepRepo, executor StepExecutor, cfg config.SchedulerConfig, baseLogger *zap.Logger) *Scheduler {
	return &Scheduler{
		steps:      steps,
		executor:   executor,
		cfg:        cfg,
		baseLogger: baseLogger.Named("scheduler"),
	}
}

// Run polls until the context is cancelled. Blocking; start it with SafeGo.
func (s *Scheduler) Run(ctx context.Context) {
	s.baseLogger.Info("Scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Int("claim_limit", s.cfg.ClaimLimit))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.baseLogger.Info("Scheduler stopping", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll runs one scheduling pass: reclaim abandoned claims, then claim and
// execute every due step.
func (s *Scheduler) poll(ctx context.Context) {
	ctx = logger.WithLogger(ctx, s.baseLogger)
	now := utils.Now()

	if _, err := s.steps.ReclaimStaleRunning(ctx, now.Add(-s.cfg.LeaseDuration)); err != nil {
		s.baseLogger.Warn("Failed to reclaim stale running steps", zap.Error(err))
	}

	due, err := s.steps.FindDueSteps(ctx, now, s.cfg.ClaimLimit)
	if err != nil {
		s.baseLogger.Warn("Failed to list due steps", zap.Error(err))
		return
	}
	observer.SetSchedulerDueSteps(len(due))

	for _, step := range due {
		if ctx.Err() != nil {
			return
		}
		s.RunStep(ctx, step)
	}
}

// RunStep claims and executes one step end to end. Safe to call with a step
// another poller already claimed: the conditional claim simply loses and the
// call returns. Also used by the pre-event funnel to fire the welcome step
// inline at enrollment time.
func (s *Scheduler) RunStep(ctx context.Context, step model.FunnelStep) {
	log := logger.FromContext(ctx).With(
		zap.String("step_key", step.StepKey),
		zap.String("step_name", step.StepName),
	)

	claimed, err := s.steps.ClaimStep(ctx, step.ID)
	if err != nil {
		log.Warn("Failed to claim step", zap.Error(err))
		return
	}
	if !claimed {
		log.Debug("Step claim lost, already handled elsewhere")
		return
	}

	start := time.Now()
	retryAt, execErr := s.executor.Execute(ctx, step)
	observer.ObserveStepExecutionDuration(string(step.FunnelType), step.StepName, time.Since(start))

	attempts := step.Attempts + 1
	funnelType := string(step.FunnelType)

	switch {
	case execErr == nil:
		if err := s.steps.FinishStep(ctx, step.ID, model.StepCompleted, attempts, "", ""); err != nil {
			log.Error("Failed to mark step completed", zap.Error(err))
			return
		}
		observer.IncFunnelStepFinished(funnelType, step.StepName, "completed")
		log.Info("Step completed", zap.Int("attempts", attempts))

	case apperrors.IsSkip(execErr):
		reason := apperrors.SkipReason(execErr)
		if err := s.steps.FinishStep(ctx, step.ID, model.StepSkipped, attempts, "", reason); err != nil {
			log.Error("Failed to mark step skipped", zap.Error(err))
			return
		}
		observer.IncFunnelStepFinished(funnelType, step.StepName, "skipped")
		log.Info("Step skipped", zap.String("reason", reason))

	case apperrors.IsRetryable(execErr) && attempts < s.maxAttempts(step):
		runAt := retryAt
		if runAt.IsZero() {
			runAt = utils.Now().Add(s.backoffDelay(attempts))
		}
		if err := s.steps.RescheduleStep(ctx, step.ID, runAt, attempts, execErr.Error()); err != nil {
			log.Error("Failed to reschedule step", zap.Error(err))
			return
		}
		observer.IncFunnelStepRescheduled(funnelType, step.StepName)
		log.Warn("Step rescheduled",
			zap.Int("attempts", attempts),
			zap.Time("run_at", runAt),
			zap.Error(execErr))

	default:
		// Terminal failure, or a retryable one that exhausted its attempts.
		if err := s.steps.FinishStep(ctx, step.ID, model.StepFailed, attempts, execErr.Error(), ""); err != nil {
			log.Error("Failed to mark step failed", zap.Error(err))
			return
		}
		observer.IncFunnelStepFinished(funnelType, step.StepName, "failed")
		log.Error("Step failed", zap.Int("attempts", attempts), zap.Error(execErr))
	}
}

func (s *Scheduler) maxAttempts(step model.FunnelStep) int {
	if step.MaxAttempts > 0 {
		return step.MaxAttempts
	}
	return s.cfg.StepMaxRetry
}

// backoffDelay doubles the base per attempt, capped at the configured max.
func (s *Scheduler) backoffDelay(attempts int) time.Duration {
	delay := s.cfg.RetryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.cfg.RetryMax {
			return s.cfg.RetryMax
		}
	}
	if delay > s.cfg.RetryMax {
		return s.cfg.RetryMax
	}
	return delay
}
