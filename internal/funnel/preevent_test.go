package funnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	storagemock "github.com/ceremoniacircle/myxelium-backend-sub000/internal/storage/mock"
)

// runnerMock mocks the StepRunner interface.
type runnerMock struct {
	mock.Mock
}

func (m *runnerMock) RunStep(ctx context.Context, step model.FunnelStep) {
	m.Called(ctx, step)
}

type preEventFixture struct {
	contacts      *storagemock.ContactRepoMock
	events        *storagemock.EventRepoMock
	registrations *storagemock.RegistrationRepoMock
	steps         *storagemock.FunnelStepRepoMock
	runner        *runnerMock
	funnel        *PreEventFunnel
}

func newPreEventFixture() *preEventFixture {
	f := &preEventFixture{
		contacts:      new(storagemock.ContactRepoMock),
		events:        new(storagemock.EventRepoMock),
		registrations: new(storagemock.RegistrationRepoMock),
		steps:         new(storagemock.FunnelStepRepoMock),
		runner:        new(runnerMock),
	}
	f.funnel = NewPreEventFunnel(
		f.contacts, f.events, f.registrations, f.steps, f.runner,
		24*time.Hour, time.Hour, 4,
	)
	return f
}

func enrolledPayload(scheduledAt time.Time) model.EnrolledPayload {
	return model.EnrolledPayload{
		ContactID:        "contact-1",
		EventID:          "event-1",
		RegistrationID:   "reg-1",
		EventTitle:       "Demo Day",
		EventScheduledAt: scheduledAt,
		ContactEmail:     "ada@example.com",
		ContactFirstName: "Ada",
		ContactPhone:     "+15552223333",
		JoinURL:          "https://example.com/join",
	}
}

func (f *preEventFixture) expectPersist(ctx context.Context) {
	f.contacts.On("SaveContact", ctx, mock.Anything).Return(nil).Once()
	f.events.On("SaveEvent", ctx, mock.Anything).Return(nil).Once()
	f.registrations.On("SaveRegistration", ctx, mock.Anything).Return(nil).Once()
}

func TestEnroll_FutureEventSchedulesAllSteps(t *testing.T) {
	f := newPreEventFixture()
	ctx := context.Background()
	scheduledAt := time.Now().Add(48 * time.Hour)

	f.expectPersist(ctx)

	var createdSteps []model.FunnelStep
	f.steps.On("CreateStep", ctx, mock.Anything).Run(func(args mock.Arguments) {
		createdSteps = append(createdSteps, args.Get(1).(model.FunnelStep))
	}).Return(true, nil).Times(3)
	f.runner.On("RunStep", ctx, mock.MatchedBy(func(s model.FunnelStep) bool {
		return s.StepName == model.StepWelcome
	})).Once()

	err := f.funnel.Enroll(ctx, enrolledPayload(scheduledAt))
	require.NoError(t, err)

	require.Len(t, createdSteps, 3)
	byName := map[string]model.FunnelStep{}
	for _, s := range createdSteps {
		byName[s.StepName] = s
		assert.Equal(t, model.FunnelPreEvent, s.FunnelType)
		assert.Equal(t, model.StepKey("reg-1", s.StepName), s.StepKey)
		assert.Equal(t, 4, s.MaxAttempts)
	}

	// The reminders anchor to the event start, never earlier than 24h and 1h
	// before it.
	assert.True(t, byName[model.StepReminder24h].RunAt.Equal(scheduledAt.Add(-24*time.Hour)))
	assert.True(t, byName[model.StepReminder1h].RunAt.Equal(scheduledAt.Add(-time.Hour)))
	assert.True(t, byName[model.StepWelcome].RunAt.Before(time.Now().Add(time.Second)))

	f.runner.AssertExpectations(t)
}

func TestEnroll_TimeAnchorsAcrossSpringForward(t *testing.T) {
	f := newPreEventFixture()
	ctx := context.Background()

	// Event shortly after the US spring-forward transition. Anchors are
	// instants, so the 24h offset stays exactly 24 elapsed hours no matter
	// what the local clock did in between.
	scheduledAt := time.Date(time.Now().Year()+1, 3, 10, 10, 0, 0, 0, time.UTC)

	f.expectPersist(ctx)

	var createdSteps []model.FunnelStep
	f.steps.On("CreateStep", ctx, mock.Anything).Run(func(args mock.Arguments) {
		createdSteps = append(createdSteps, args.Get(1).(model.FunnelStep))
	}).Return(true, nil).Times(3)
	f.runner.On("RunStep", ctx, mock.Anything).Once()

	require.NoError(t, f.funnel.Enroll(ctx, enrolledPayload(scheduledAt)))

	for _, s := range createdSteps {
		switch s.StepName {
		case model.StepReminder24h:
			assert.Equal(t, 24*time.Hour, scheduledAt.Sub(s.RunAt))
		case model.StepReminder1h:
			assert.Equal(t, time.Hour, scheduledAt.Sub(s.RunAt))
		}
	}
}

func TestEnroll_PastAnchorsAreDropped(t *testing.T) {
	f := newPreEventFixture()
	ctx := context.Background()

	// Event is 12h out: the 24h anchor has passed, the 1h anchor has not.
	scheduledAt := time.Now().Add(12 * time.Hour)

	f.expectPersist(ctx)

	var names []string
	f.steps.On("CreateStep", ctx, mock.Anything).Run(func(args mock.Arguments) {
		names = append(names, args.Get(1).(model.FunnelStep).StepName)
	}).Return(true, nil).Times(2)
	f.runner.On("RunStep", ctx, mock.Anything).Once()

	require.NoError(t, f.funnel.Enroll(ctx, enrolledPayload(scheduledAt)))

	assert.ElementsMatch(t, []string{model.StepWelcome, model.StepReminder1h}, names)
}

func TestEnroll_RedeliveredTriggerIsIdempotent(t *testing.T) {
	f := newPreEventFixture()
	ctx := context.Background()

	f.expectPersist(ctx)

	// Every step key already exists: nothing new created, welcome not re-run.
	f.steps.On("CreateStep", ctx, mock.Anything).Return(false, nil).Times(3)

	require.NoError(t, f.funnel.Enroll(ctx, enrolledPayload(time.Now().Add(48*time.Hour))))

	f.runner.AssertNotCalled(t, "RunStep", mock.Anything, mock.Anything)
}

func TestEnroll_PersistFailureIsRetryable(t *testing.T) {
	f := newPreEventFixture()
	ctx := context.Background()

	f.contacts.On("SaveContact", ctx, mock.Anything).Return(errors.New("connection refused")).Once()

	err := f.funnel.Enroll(ctx, enrolledPayload(time.Now().Add(48*time.Hour)))

	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	f.steps.AssertNotCalled(t, "CreateStep", mock.Anything, mock.Anything)
}

func TestEnroll_StepPersistFailureIsRetryable(t *testing.T) {
	f := newPreEventFixture()
	ctx := context.Background()

	f.expectPersist(ctx)
	f.steps.On("CreateStep", ctx, mock.Anything).Return(false, errors.New("deadlock detected")).Once()

	err := f.funnel.Enroll(ctx, enrolledPayload(time.Now().Add(48*time.Hour)))

	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}
