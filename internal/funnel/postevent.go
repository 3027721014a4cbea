package funnel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/storage"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/utils"
)

// branchTaskData holds one registration's worth of post-event branch work.
type branchTaskData struct {
	ctx          context.Context // derived task context, not the trigger's
	registration model.Registration
	completedAt  time.Time
	wg           *sync.WaitGroup
	errs         chan<- error
}

// PostEventFunnel handles completion triggers: it fans out over the event's
// registrations on a bounded worker pool and lays down each registration's
// attended or no-show branch as durable scheduler rows.
type PostEventFunnel struct {
	pool          *ants.PoolWithFunc
	events        storage.EventRepo
	registrations storage.RegistrationRepo
	steps         storage.FunnelStepRepo
	baseLogger    *zap.Logger

	thankYouDelay      time.Duration
	resourcesDelay     time.Duration
	nurtureDelay       time.Duration
	reengagementDelay  time.Duration
	finalFollowupDelay time.Duration
	maxAttempts        int
}

// NewPostEventFunnel creates the post-event funnel and its fan-out pool.
func NewPostEventFunnel(
	poolCfg config.FanOutWorkerPoolConfig,
	funnelCfg config.FunnelConfig,
	events storage.EventRepo,
	registrations storage.RegistrationRepo,
	steps storage.FunnelStepRepo,
	maxAttempts int,
	baseLogger *zap.Logger,
) (*PostEventFunnel, error) {
	f := &PostEventFunnel{
		events:             events,
		registrations:      registrations,
		steps:              steps,
		baseLogger:         baseLogger.Named("postevent_funnel"),
		thankYouDelay:      funnelCfg.ThankYouDelay,
		resourcesDelay:     funnelCfg.ResourcesDelay,
		nurtureDelay:       funnelCfg.NurtureDelay,
		reengagementDelay:  funnelCfg.ReengagementDelay,
		finalFollowupDelay: funnelCfg.FinalFollowupDelay,
		maxAttempts:        maxAttempts,
	}

	pool, err := ants.NewPoolWithFunc(poolCfg.PoolSize, func(i interface{}) {
		taskData, ok := i.(branchTaskData)
		if !ok {
			f.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		f.processBranchTask(taskData)
	},
		ants.WithExpiryDuration(poolCfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(poolCfg.QueueSize),
		ants.WithPanicHandler(func(err interface{}) {
			f.baseLogger.Error("Panic recovered in fan-out worker", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fan-out worker pool: %w", err)
	}
	f.pool = pool
	f.baseLogger.Info("Fan-out worker pool initialized",
		zap.Int("pool_size", poolCfg.PoolSize),
		zap.Int("queue_size", poolCfg.QueueSize))
	return f, nil
}

// Stop releases the fan-out pool.
func (f *PostEventFunnel) Stop() {
	if f.pool != nil {
		f.pool.Release()
	}
}

// Complete processes one event.completed trigger. Every eligible registration
// gets its branch laid down independently; one registration's failure never
// aborts the others. The trigger is only retried (by returning a retryable
// error) when at least one branch failed, and step keys make the replay a
// no-op for branches that already succeeded.
func (f *PostEventFunnel) Complete(ctx context.Context, payload model.CompletedPayload) error {
	log := logger.FromContext(ctx).With(zap.String("event_id", payload.EventID))

	completedAt := payload.CompletedAt
	if completedAt.IsZero() {
		completedAt = utils.Now()
	}

	if err := f.events.MarkEventCompleted(ctx, payload.EventID, completedAt); err != nil {
		return apperrors.NewRetryable(err, "failed to mark event %s completed", payload.EventID)
	}

	regs, err := f.registrations.FindRegistrationsForFanOut(ctx, payload.EventID)
	if err != nil {
		return apperrors.NewRetryable(err, "failed to load registrations for event %s", payload.EventID)
	}
	if len(regs) == 0 {
		log.Info("Event completed with no eligible registrations")
		return nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(regs))
	for _, reg := range regs {
		wg.Add(1)
		observer.IncFanOutTasksSubmitted()
		observer.SetFanOutQueueLength(f.pool.Waiting())
		task := branchTaskData{
			ctx:          logger.WithLogger(context.WithoutCancel(ctx), f.baseLogger),
			registration: reg,
			completedAt:  completedAt,
			wg:           &wg,
			errs:         errs,
		}
		if invokeErr := f.pool.Invoke(task); invokeErr != nil {
			wg.Done()
			errs <- fmt.Errorf("failed to submit branch for registration %s: %w", reg.ID, invokeErr)
			observer.IncFanOutTasksProcessed("submit_error")
		}
	}
	wg.Wait()
	close(errs)

	var failed int
	var firstErr error
	for e := range errs {
		failed++
		if firstErr == nil {
			firstErr = e
		}
	}

	log.Info("Post-event fan-out finished",
		zap.Int("registrations", len(regs)),
		zap.Int("failed", failed))

	if firstErr != nil {
		return apperrors.NewRetryable(firstErr, "%d of %d post-event branches failed", failed, len(regs))
	}
	return nil
}

// processBranchTask lays down one registration's branch inside a pool worker.
func (f *PostEventFunnel) processBranchTask(task branchTaskData) {
	defer task.wg.Done()
	start := time.Now()

	err := f.scheduleBranch(task.ctx, task.registration, task.completedAt)

	observer.ObserveFanOutProcessingDuration(time.Since(start))
	if err != nil {
		observer.IncFanOutTasksProcessed("error")
		f.baseLogger.Warn("Post-event branch failed",
			zap.String("registration_id", task.registration.ID),
			zap.Error(err))
		task.errs <- err
		return
	}
	observer.IncFanOutTasksProcessed("success")
}

// scheduleBranch creates the step rows for one registration. Attendance
// routes the branch: true goes to the attended path, false or unknown to the
// no-show path. Unknown attendance deliberately gets the conservative
// treatment.
func (f *PostEventFunnel) scheduleBranch(ctx context.Context, reg model.Registration, completedAt time.Time) error {
	type anchored struct {
		name  string
		delay time.Duration
	}

	var sequence []anchored
	if reg.DidAttend() {
		sequence = []anchored{
			{model.StepThankYou, f.thankYouDelay},
			{model.StepResources, f.resourcesDelay},
			{model.StepNurture, f.nurtureDelay},
		}
	} else {
		sequence = []anchored{
			{model.StepSorryMissed, f.thankYouDelay},
			{model.StepReengagement, f.reengagementDelay},
			{model.StepFinalFollowup, f.finalFollowupDelay},
		}
	}

	for _, s := range sequence {
		step := model.FunnelStep{
			ID:             uuid.NewString(),
			FunnelType:     model.FunnelPostEvent,
			StepKey:        model.StepKey(reg.ID, s.name),
			StepName:       s.name,
			EventID:        reg.EventID,
			RegistrationID: reg.ID,
			ContactID:      reg.ContactID,
			RunAt:          completedAt.Add(s.delay),
			Status:         model.StepPending,
			MaxAttempts:    f.maxAttempts,
		}
		created, err := f.steps.CreateStep(ctx, step)
		if err != nil {
			return fmt.Errorf("failed to persist step %s: %w", step.StepKey, err)
		}
		observer.IncFunnelStepCreated(string(model.FunnelPostEvent), s.name, created)
	}
	return nil
}
