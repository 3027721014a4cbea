package ingestion

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
	clientmock "github.com/ceremoniacircle/myxelium-backend-sub000/internal/jetstream/mock"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
)

func setupTest(t *testing.T) (*clientmock.ClientMock, *Router) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	return new(clientmock.ClientMock), NewRouter()
}

func TestDetermineAckNakAction(t *testing.T) {
	baseDelay := 2 * time.Second
	maxDelay := 30 * time.Second
	maxDeliver := 4

	tests := []struct {
		name          string
		err           error
		numDelivered  uint64
		expectedAct   AckNakAction
		expectedDelay time.Duration
	}{
		{
			name:        "success acks",
			err:         nil,
			expectedAct: ActionAck,
		},
		{
			name:          "retryable first delivery naks with base delay",
			err:           apperrors.NewRetryable(errors.New("db down"), "db down"),
			numDelivered:  1,
			expectedAct:   ActionNakDelay,
			expectedDelay: baseDelay,
		},
		{
			name:          "retryable second delivery doubles delay",
			err:           apperrors.NewRetryable(errors.New("db down"), "db down"),
			numDelivered:  2,
			expectedAct:   ActionNakDelay,
			expectedDelay: 2 * baseDelay,
		},
		{
			name:          "delay capped at max",
			err:           apperrors.NewRetryable(errors.New("db down"), "db down"),
			numDelivered:  3, // capped by maxDelay below raw 8s? raw = 2s * 4 = 8s, still under cap
			expectedAct:   ActionNakDelay,
			expectedDelay: 8 * time.Second,
		},
		{
			name:         "retryable at max deliveries goes to DLQ",
			err:          apperrors.NewRetryable(errors.New("db down"), "db down"),
			numDelivered: 4,
			expectedAct:  ActionDLQ,
		},
		{
			name:         "fatal error goes straight to DLQ",
			err:          apperrors.NewFatal(errors.New("bad payload"), "bad payload"),
			numDelivered: 1,
			expectedAct:  ActionDLQ,
		},
		{
			name:         "unwrapped error treated as fatal",
			err:          errors.New("unclassified"),
			numDelivered: 1,
			expectedAct:  ActionDLQ,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			meta := &nats.MsgMetadata{NumDelivered: tc.numDelivered}
			action, delay := determineAckNakAction(tc.err, meta, maxDeliver, baseDelay, maxDelay)
			assert.Equal(t, tc.expectedAct, action)
			assert.Equal(t, tc.expectedDelay, delay)
		})
	}
}

func TestDetermineAckNakAction_DelayCap(t *testing.T) {
	meta := &nats.MsgMetadata{NumDelivered: 10}
	action, delay := determineAckNakAction(
		apperrors.NewRetryable(errors.New("still down"), "still down"),
		meta, 20, 2*time.Second, 30*time.Second,
	)
	assert.Equal(t, ActionNakDelay, action)
	assert.Equal(t, 30*time.Second, delay)
}

func TestDlqSubjectFor(t *testing.T) {
	assert.Equal(t, "v1.dlq.event.enrolled", dlqSubjectFor("v1.dlq", "v1.event.enrolled"))
	assert.Equal(t, "v1.dlq.message.send", dlqSubjectFor("v1.dlq", "v1.message.send"))
	assert.Equal(t, "v1.dlq.custom.subject", dlqSubjectFor("v1.dlq", "custom.subject"))
}

func TestTriggerConsumer_Setup(t *testing.T) {
	mockClient, router := setupTest(t)
	cfg := config.TriggerNatsConfig{
		Stream:      "funnel_triggers",
		Consumer:    "funnel_orchestrator",
		QueueGroup:  "funnel_orchestrator_group",
		SubjectList: []string{"v1.event.enrolled", "v1.event.completed", "v1.message.send"},
		MaxAge:      7,
		MaxDeliver:  4,
	}

	consumer := NewTriggerConsumer(mockClient, router, cfg, "v1.dlq")

	mockClient.On("SetupStream", mock.Anything, mock.MatchedBy(func(sc *nats.StreamConfig) bool {
		return sc.Name == cfg.Stream &&
			assert.ObjectsAreEqual(cfg.SubjectList, sc.Subjects) &&
			sc.MaxAge == 7*24*time.Hour
	})).Return(nil)
	mockClient.On("SetupConsumer", mock.Anything, cfg.Stream, mock.MatchedBy(func(cc *nats.ConsumerConfig) bool {
		return cc.Durable == cfg.Consumer &&
			cc.DeliverGroup == cfg.QueueGroup &&
			cc.MaxDeliver == cfg.MaxDeliver &&
			assert.ObjectsAreEqual(cfg.SubjectList, cc.FilterSubjects)
	})).Return(nil)

	err := consumer.Setup()
	assert.NoError(t, err)
	mockClient.AssertExpectations(t)
}

func TestTriggerConsumer_SetupStreamError(t *testing.T) {
	mockClient, router := setupTest(t)
	cfg := config.TriggerNatsConfig{Stream: "funnel_triggers", Consumer: "funnel_orchestrator"}
	consumer := NewTriggerConsumer(mockClient, router, cfg, "v1.dlq")

	mockClient.On("SetupStream", mock.Anything, mock.Anything).Return(errors.New("nats unavailable"))

	err := consumer.Setup()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to setup trigger stream")
	mockClient.AssertNotCalled(t, "SetupConsumer", mock.Anything, mock.Anything, mock.Anything)
}

func TestTriggerConsumer_Start(t *testing.T) {
	mockClient, router := setupTest(t)
	cfg := config.TriggerNatsConfig{
		Stream:     "funnel_triggers",
		Consumer:   "funnel_orchestrator",
		QueueGroup: "funnel_orchestrator_group",
	}
	consumer := NewTriggerConsumer(mockClient, router, cfg, "v1.dlq")
	consumer.filterSubject = "v1.>"

	mockClient.On("SubscribePush", "v1.>", cfg.Consumer, cfg.QueueGroup, cfg.Stream, mock.Anything).
		Return((*nats.Subscription)(nil), nil)

	err := consumer.Start()
	assert.NoError(t, err)
	mockClient.AssertExpectations(t)
}
