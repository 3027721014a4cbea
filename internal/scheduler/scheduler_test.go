package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	storagemock "github.com/ceremoniacircle/myxelium-backend-sub000/internal/storage/mock"
)

// executorMock mocks the StepExecutor interface.
type executorMock struct {
	mock.Mock
}

func (m *executorMock) Execute(ctx context.Context, step model.FunnelStep) (time.Time, error) {
	args := m.Called(ctx, step)
	return args.Get(0).(time.Time), args.Error(1)
}

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		PollInterval:  10 * time.Millisecond,
		ClaimLimit:    50,
		RetryBase:     30 * time.Second,
		RetryMax:      15 * time.Minute,
		StepMaxRetry:  4,
		LeaseDuration: 10 * time.Minute,
	}
}

func newScheduler(t *testing.T, steps *storagemock.FunnelStepRepoMock, exec *executorMock) *Scheduler {
	return New(steps, exec, testConfig(), zaptest.NewLogger(t))
}

func pendingStep(attempts int) model.FunnelStep {
	return model.FunnelStep{
		ID:          "step-1",
		FunnelType:  model.FunnelPreEvent,
		StepKey:     "reg-1:reminder-24h",
		StepName:    model.StepReminder24h,
		EventID:     "event-1",
		Status:      model.StepPending,
		Attempts:    attempts,
		MaxAttempts: 4,
	}
}

func TestRunStep_CompletesOnSuccess(t *testing.T) {
	steps := new(storagemock.FunnelStepRepoMock)
	exec := new(executorMock)
	s := newScheduler(t, steps, exec)
	ctx := context.Background()
	step := pendingStep(0)

	steps.On("ClaimStep", ctx, "step-1").Return(true, nil).Once()
	exec.On("Execute", ctx, step).Return(time.Time{}, nil).Once()
	steps.On("FinishStep", ctx, "step-1", model.StepCompleted, 1, "", "").Return(nil).Once()

	s.RunStep(ctx, step)

	steps.AssertExpectations(t)
	exec.AssertExpectations(t)
}

func TestRunStep_LostClaimDoesNothing(t *testing.T) {
	steps := new(storagemock.FunnelStepRepoMock)
	exec := new(executorMock)
	s := newScheduler(t, steps, exec)
	ctx := context.Background()
	step := pendingStep(0)

	steps.On("ClaimStep", ctx, "step-1").Return(false, nil).Once()

	s.RunStep(ctx, step)

	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	steps.AssertNotCalled(t, "FinishStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunStep_SkipRecordsReason(t *testing.T) {
	steps := new(storagemock.FunnelStepRepoMock)
	exec := new(executorMock)
	s := newScheduler(t, steps, exec)
	ctx := context.Background()
	step := pendingStep(0)

	steps.On("ClaimStep", ctx, "step-1").Return(true, nil).Once()
	exec.On("Execute", ctx, step).Return(time.Time{}, apperrors.NewSkip(apperrors.SkipEventInvalid)).Once()
	steps.On("FinishStep", ctx, "step-1", model.StepSkipped, 1, "", apperrors.SkipEventInvalid).Return(nil).Once()

	s.RunStep(ctx, step)

	steps.AssertExpectations(t)
}

func TestRunStep_RetryableReschedulesWithBackoff(t *testing.T) {
	steps := new(storagemock.FunnelStepRepoMock)
	exec := new(executorMock)
	s := newScheduler(t, steps, exec)
	ctx := context.Background()
	step := pendingStep(1) // second attempt

	steps.On("ClaimStep", ctx, "step-1").Return(true, nil).Once()
	exec.On("Execute", ctx, step).
		Return(time.Time{}, apperrors.NewRetryable(apperrors.ErrRateLimited, "throttled")).Once()

	var runAt time.Time
	steps.On("RescheduleStep", ctx, "step-1", mock.Anything, 2, mock.Anything).
		Run(func(args mock.Arguments) { runAt = args.Get(2).(time.Time) }).
		Return(nil).Once()

	s.RunStep(ctx, step)

	// Second attempt backs off for double the base delay.
	expected := time.Now().Add(60 * time.Second)
	assert.WithinDuration(t, expected, runAt, 5*time.Second)
	steps.AssertExpectations(t)
}

func TestRunStep_RetryableHonorsExplicitRetryAt(t *testing.T) {
	steps := new(storagemock.FunnelStepRepoMock)
	exec := new(executorMock)
	s := newScheduler(t, steps, exec)
	ctx := context.Background()
	step := pendingStep(0)
	nextWindow := time.Now().Add(11 * time.Hour).UTC()

	steps.On("ClaimStep", ctx, "step-1").Return(true, nil).Once()
	exec.On("Execute", ctx, step).
		Return(nextWindow, apperrors.NewRetryable(apperrors.ErrQuietHours, "deferred")).Once()
	steps.On("RescheduleStep", ctx, "step-1", nextWindow, 1, mock.Anything).Return(nil).Once()

	s.RunStep(ctx, step)

	steps.AssertExpectations(t)
}

func TestRunStep_ExhaustedRetriesFailTheStep(t *testing.T) {
	steps := new(storagemock.FunnelStepRepoMock)
	exec := new(executorMock)
	s := newScheduler(t, steps, exec)
	ctx := context.Background()
	step := pendingStep(3) // fourth and final attempt

	steps.On("ClaimStep", ctx, "step-1").Return(true, nil).Once()
	exec.On("Execute", ctx, step).
		Return(time.Time{}, apperrors.NewRetryable(apperrors.ErrRateLimited, "still throttled")).Once()
	steps.On("FinishStep", ctx, "step-1", model.StepFailed, 4, mock.Anything, "").Return(nil).Once()

	s.RunStep(ctx, step)

	steps.AssertNotCalled(t, "RescheduleStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	steps.AssertExpectations(t)
}

func TestRunStep_FatalFailsImmediately(t *testing.T) {
	steps := new(storagemock.FunnelStepRepoMock)
	exec := new(executorMock)
	s := newScheduler(t, steps, exec)
	ctx := context.Background()
	step := pendingStep(0)

	steps.On("ClaimStep", ctx, "step-1").Return(true, nil).Once()
	exec.On("Execute", ctx, step).
		Return(time.Time{}, apperrors.NewFatal(apperrors.ErrUnknownTemplate, "no such template")).Once()
	steps.On("FinishStep", ctx, "step-1", model.StepFailed, 1, mock.Anything, "").Return(nil).Once()

	s.RunStep(ctx, step)

	steps.AssertNotCalled(t, "RescheduleStep", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	steps.AssertExpectations(t)
}

func TestBackoffDelay(t *testing.T) {
	s := newScheduler(t, new(storagemock.FunnelStepRepoMock), new(executorMock))

	assert.Equal(t, 30*time.Second, s.backoffDelay(1))
	assert.Equal(t, 60*time.Second, s.backoffDelay(2))
	assert.Equal(t, 120*time.Second, s.backoffDelay(3))
	// Deep attempt counts stay capped.
	assert.Equal(t, 15*time.Minute, s.backoffDelay(12))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	steps := new(storagemock.FunnelStepRepoMock)
	exec := new(executorMock)
	s := newScheduler(t, steps, exec)

	steps.On("ReclaimStaleRunning", mock.Anything, mock.Anything).Return(int64(0), nil)
	steps.On("FindDueSteps", mock.Anything, mock.Anything, 50).Return([]model.FunnelStep{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}
