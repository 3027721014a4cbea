package funnel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	storagemock "github.com/ceremoniacircle/myxelium-backend-sub000/internal/storage/mock"
)

type postEventFixture struct {
	events        *storagemock.EventRepoMock
	registrations *storagemock.RegistrationRepoMock
	steps         *storagemock.FunnelStepRepoMock
	funnel        *PostEventFunnel
}

func newPostEventFixture(t *testing.T) *postEventFixture {
	f := &postEventFixture{
		events:        new(storagemock.EventRepoMock),
		registrations: new(storagemock.RegistrationRepoMock),
		steps:         new(storagemock.FunnelStepRepoMock),
	}
	funnel, err := NewPostEventFunnel(
		config.FanOutWorkerPoolConfig{
			PoolSize:   4,
			QueueSize:  16,
			ExpiryTime: time.Minute,
		},
		config.FunnelConfig{
			ThankYouDelay:      time.Hour,
			ResourcesDelay:     24 * time.Hour,
			NurtureDelay:       72 * time.Hour,
			ReengagementDelay:  24 * time.Hour,
			FinalFollowupDelay: 168 * time.Hour,
		},
		f.events, f.registrations, f.steps,
		4,
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	t.Cleanup(funnel.Stop)
	f.funnel = funnel
	return f
}

func boolPtr(b bool) *bool { return &b }

func completedPayload(at time.Time) model.CompletedPayload {
	return model.CompletedPayload{EventID: "event-1", EventTitle: "Demo Day", CompletedAt: at}
}

// collectSteps wires CreateStep to record every step under a lock, since
// branches run concurrently on the pool.
func (f *postEventFixture) collectSteps(out *[]model.FunnelStep, mu *sync.Mutex) *mock.Call {
	return f.steps.On("CreateStep", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		*out = append(*out, args.Get(1).(model.FunnelStep))
	}).Return(true, nil)
}

func TestComplete_AttendedBranch(t *testing.T) {
	f := newPostEventFixture(t)
	ctx := context.Background()
	completedAt := time.Now().Truncate(time.Second)

	f.events.On("MarkEventCompleted", mock.Anything, "event-1", completedAt).Return(nil).Once()
	f.registrations.On("FindRegistrationsForFanOut", mock.Anything, "event-1").Return([]model.Registration{
		{ID: "reg-1", ContactID: "contact-1", EventID: "event-1", Status: model.RegistrationAttended, Attended: boolPtr(true)},
	}, nil).Once()

	var created []model.FunnelStep
	var mu sync.Mutex
	f.collectSteps(&created, &mu).Times(3)

	require.NoError(t, f.funnel.Complete(ctx, completedPayload(completedAt)))

	require.Len(t, created, 3)
	byName := map[string]model.FunnelStep{}
	for _, s := range created {
		byName[s.StepName] = s
		assert.Equal(t, model.FunnelPostEvent, s.FunnelType)
		assert.Equal(t, "reg-1", s.RegistrationID)
	}
	assert.True(t, byName[model.StepThankYou].RunAt.Equal(completedAt.Add(time.Hour)))
	assert.True(t, byName[model.StepResources].RunAt.Equal(completedAt.Add(24*time.Hour)))
	assert.True(t, byName[model.StepNurture].RunAt.Equal(completedAt.Add(72*time.Hour)))
}

func TestComplete_NoShowBranch(t *testing.T) {
	f := newPostEventFixture(t)
	completedAt := time.Now().Truncate(time.Second)

	f.events.On("MarkEventCompleted", mock.Anything, "event-1", completedAt).Return(nil).Once()
	f.registrations.On("FindRegistrationsForFanOut", mock.Anything, "event-1").Return([]model.Registration{
		{ID: "reg-2", ContactID: "contact-2", EventID: "event-1", Status: model.RegistrationNoShow, Attended: boolPtr(false)},
	}, nil).Once()

	var created []model.FunnelStep
	var mu sync.Mutex
	f.collectSteps(&created, &mu).Times(3)

	require.NoError(t, f.funnel.Complete(context.Background(), completedPayload(completedAt)))

	names := make([]string, 0, len(created))
	for _, s := range created {
		names = append(names, s.StepName)
	}
	assert.ElementsMatch(t, []string{model.StepSorryMissed, model.StepReengagement, model.StepFinalFollowup}, names)
}

func TestComplete_UnknownAttendanceRoutesToNoShow(t *testing.T) {
	f := newPostEventFixture(t)
	completedAt := time.Now().Truncate(time.Second)

	f.events.On("MarkEventCompleted", mock.Anything, "event-1", completedAt).Return(nil).Once()
	// Attended was never written by webhook ingestion: nil, not false.
	f.registrations.On("FindRegistrationsForFanOut", mock.Anything, "event-1").Return([]model.Registration{
		{ID: "reg-3", ContactID: "contact-3", EventID: "event-1", Status: model.RegistrationConfirmed, Attended: nil},
	}, nil).Once()

	var created []model.FunnelStep
	var mu sync.Mutex
	f.collectSteps(&created, &mu).Times(3)

	require.NoError(t, f.funnel.Complete(context.Background(), completedPayload(completedAt)))

	names := make([]string, 0, len(created))
	for _, s := range created {
		names = append(names, s.StepName)
	}
	assert.ElementsMatch(t, []string{model.StepSorryMissed, model.StepReengagement, model.StepFinalFollowup}, names)
}

func TestComplete_FanOutContainsPerRegistrationFailures(t *testing.T) {
	f := newPostEventFixture(t)
	completedAt := time.Now().Truncate(time.Second)

	f.events.On("MarkEventCompleted", mock.Anything, "event-1", completedAt).Return(nil).Once()
	f.registrations.On("FindRegistrationsForFanOut", mock.Anything, "event-1").Return([]model.Registration{
		{ID: "reg-bad", ContactID: "contact-1", EventID: "event-1", Attended: boolPtr(true)},
		{ID: "reg-good", ContactID: "contact-2", EventID: "event-1", Attended: boolPtr(true)},
	}, nil).Once()

	var created []model.FunnelStep
	var mu sync.Mutex
	f.steps.On("CreateStep", mock.Anything, mock.MatchedBy(func(s model.FunnelStep) bool {
		return s.RegistrationID == "reg-bad"
	})).Return(false, errors.New("deadlock detected"))
	f.steps.On("CreateStep", mock.Anything, mock.MatchedBy(func(s model.FunnelStep) bool {
		return s.RegistrationID == "reg-good"
	})).Run(func(args mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		created = append(created, args.Get(1).(model.FunnelStep))
	}).Return(true, nil).Times(3)

	err := f.funnel.Complete(context.Background(), completedPayload(completedAt))

	// The healthy registration's branch is fully laid down despite the
	// sibling failure; the trigger is surfaced retryable so the failed
	// branch gets replayed.
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Len(t, created, 3)
}

func TestComplete_NoRegistrationsIsANoOp(t *testing.T) {
	f := newPostEventFixture(t)
	completedAt := time.Now()

	f.events.On("MarkEventCompleted", mock.Anything, "event-1", completedAt).Return(nil).Once()
	f.registrations.On("FindRegistrationsForFanOut", mock.Anything, "event-1").
		Return([]model.Registration{}, nil).Once()

	require.NoError(t, f.funnel.Complete(context.Background(), completedPayload(completedAt)))
	f.steps.AssertNotCalled(t, "CreateStep", mock.Anything, mock.Anything)
}

func TestComplete_RegistrationLoadFailureIsRetryable(t *testing.T) {
	f := newPostEventFixture(t)
	completedAt := time.Now()

	f.events.On("MarkEventCompleted", mock.Anything, "event-1", completedAt).Return(nil).Once()
	f.registrations.On("FindRegistrationsForFanOut", mock.Anything, "event-1").
		Return(nil, errors.New("connection refused")).Once()

	err := f.funnel.Complete(context.Background(), completedPayload(completedAt))

	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}
