package dlqworker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/ingestion"
	internal_js "github.com/ceremoniacircle/myxelium-backend-sub000/internal/jetstream"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/storage"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
)

const (
	maxRetries        = 5
	defaultMsgChanCap = 100
	fetchBatchSize    = 10
	fetchMaxWait      = 5 * time.Second
)

// Worker replays triggers parked on the DLQ stream. Each message is routed
// through the same router the live consumer uses; persistent failures are
// written to the exhausted_triggers table and terminated.
type Worker struct {
	cfg    *config.Config
	logger *zap.Logger
	js     internal_js.ClientInterface
	pool   *ants.Pool
	router ingestion.RouterInterface
	store  storage.ExhaustedTriggerRepo
	msgCh  chan *nats.Msg
	stopWg sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker creates and initializes a new DLQ worker, including setting up the required JetStream resources.
func NewWorker(cfg *config.Config, baseLogger *zap.Logger, jsClient internal_js.ClientInterface, router ingestion.RouterInterface, exhaustedRepo storage.ExhaustedTriggerRepo) (*Worker, error) {
	pool, err := ants.NewPool(cfg.NATS.DLQWorkers,
		ants.WithLogger(newAntsLoggerAdapter(baseLogger.Named("ants_pool"))),
		ants.WithPanicHandler(func(err interface{}) {
			baseLogger.Error("Worker panic caught", zap.Any("error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	setupCtx := context.Background()
	dlqStreamName := cfg.NATS.DLQStream
	dlqSubject := cfg.NATS.DLQSubject + ".>"
	dlqMaxAge := time.Duration(cfg.NATS.DLQMaxAgeDays) * 24 * time.Hour

	// Replace dots in subject to create a valid durable name
	dlqSubjectCleaned := strings.ReplaceAll(cfg.NATS.DLQSubject, ".", "_")
	dlqDurableName := fmt.Sprintf("%s_worker_consumer", dlqSubjectCleaned)

	dlqStreamCfg := &nats.StreamConfig{
		Name:      dlqStreamName,
		Subjects:  []string{dlqSubject},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    dlqMaxAge,
	}

	if err := jsClient.SetupStream(setupCtx, dlqStreamCfg); err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to setup DLQ stream '%s': %w", dlqStreamName, err)
	}

	dlqConsumerCfg := &nats.ConsumerConfig{
		Durable:       dlqDurableName,
		FilterSubject: dlqSubject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    cfg.NATS.DLQMaxDeliver,
		AckWait:       cfg.NATS.DLQAckWait,
		MaxAckPending: cfg.NATS.DLQMaxAckPending,
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}

	if err := jsClient.SetupConsumer(setupCtx, dlqStreamName, dlqConsumerCfg); err != nil {
		pool.Release()
		return nil, fmt.Errorf("failed to setup DLQ consumer '%s' for stream '%s': %w", dlqDurableName, dlqStreamName, err)
	}

	worker := &Worker{
		cfg:    cfg,
		logger: baseLogger.Named("dlq_worker"),
		js:     jsClient,
		pool:   pool,
		router: router,
		store:  exhaustedRepo,
		msgCh:  make(chan *nats.Msg, defaultMsgChanCap),
	}

	worker.logger.Info("DLQ Worker initialized", zap.Int("pool_size", cfg.NATS.DLQWorkers))
	return worker, nil
}

// Start begins the DLQ processing loops (fetcher and dispatcher).
// It blocks until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	derivedCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.logger.Info("Starting DLQ worker...")

	dlqSubjectCleaned := strings.ReplaceAll(w.cfg.NATS.DLQSubject, ".", "_")
	durableName := fmt.Sprintf("%s_worker_consumer", dlqSubjectCleaned)
	subSubject := fmt.Sprintf("%s.>", w.cfg.NATS.DLQSubject)

	sub, err := w.js.SubscribePull(w.cfg.NATS.DLQStream, subSubject, durableName)
	if err != nil {
		w.logger.Error("Failed to create DLQ pull subscription", zap.Error(err))
		cancel()
		return fmt.Errorf("failed to create DLQ pull subscription: %w", err)
	}

	w.stopWg.Add(1)
	go w.fetchMessages(derivedCtx, sub)

	w.stopWg.Add(1)
	go w.dispatchMessages(derivedCtx)

	w.logger.Info("DLQ worker started successfully")

	<-derivedCtx.Done()
	w.logger.Info("DLQ worker context cancelled, initiating shutdown...")
	return nil
}

// Stop gracefully shuts down the DLQ worker.
func (w *Worker) Stop() {
	w.logger.Info("Stopping DLQ worker...")
	if w.cancel != nil {
		w.cancel()
	}

	w.stopWg.Wait()
	close(w.msgCh)
	w.pool.Release()
	w.logger.Info("DLQ worker stopped")
}

// fetchMessages pulls messages from the JetStream subscription and sends them to msgCh.
func (w *Worker) fetchMessages(ctx context.Context, sub *nats.Subscription) {
	defer w.stopWg.Done()
	w.logger.Info("Starting DLQ message fetcher loop...")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Fetcher loop stopping due to context cancellation")
			return
		default:
			observer.IncDlqFetchRequest()
			msgs, err := sub.Fetch(fetchBatchSize, nats.MaxWait(fetchMaxWait))
			if err != nil {
				if err == context.Canceled || err == nats.ErrTimeout || err == nats.ErrConnectionClosed {
					if ctx.Err() != nil {
						return
					}
					continue
				}
				observer.IncDlqFetchError()
				w.logger.Error("Fetcher loop error retrieving messages", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}

			if len(msgs) == 0 {
				continue
			}

			w.logger.Debug("Fetched messages from DLQ", zap.Int("count", len(msgs)))
			for _, msg := range msgs {
				select {
				case w.msgCh <- msg:
				case <-ctx.Done():
					w.logger.Info("Fetcher loop stopping while sending to channel")
					return
				}
			}
		}
	}
}

// dispatchMessages reads messages from msgCh and submits them to the worker pool.
func (w *Worker) dispatchMessages(ctx context.Context) {
	defer w.stopWg.Done()
	w.logger.Info("Starting DLQ message dispatcher loop...")

	for {
		observer.SetDlqQueueLength(len(w.msgCh))
		observer.SetDlqWorkersActive(w.pool.Running())

		select {
		case <-ctx.Done():
			w.logger.Info("Dispatcher loop stopping due to context cancellation")
			return
		case msg, ok := <-w.msgCh:
			if !ok {
				w.logger.Info("Message channel closed, dispatcher loop stopping")
				return
			}
			currentMsg := msg
			err := w.pool.Submit(func() {
				taskCtx, taskCancel := context.WithTimeout(context.Background(), 1*time.Minute)
				defer taskCancel()
				w.handleWithRetry(taskCtx, currentMsg)
			})
			if err != nil {
				w.logger.Error("Failed to submit task to ants pool", zap.Error(err))
				if nakErr := currentMsg.NakWithDelay(5 * time.Second); nakErr != nil {
					w.logger.Error("Failed to NAK message after pool submission error", zap.Error(nakErr))
					observer.IncDlqAckFailure()
				}
			} else {
				observer.IncDlqTasksSubmitted()
			}
		}
	}
}

// handleWithRetry processes a single DLQ message with backoff logic.
func (w *Worker) handleWithRetry(ctx context.Context, msg *nats.Msg) {
	startTime := time.Now()
	defer func() {
		observer.ObserveDlqProcessingDuration(time.Since(startTime))
	}()

	meta, err := msg.Metadata()
	if err != nil {
		w.logger.Error("Failed to get message metadata", zap.Error(err))
		if termErr := msg.Term(); termErr != nil {
			w.logger.Error("Failed to terminate message after metadata error", zap.Error(termErr))
		}
		observer.IncDlqAckFailure()
		return
	}

	var payload model.DLQPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		w.logger.Error("Failed to unmarshal DLQ payload",
			zap.Error(err),
			zap.Uint64("sequence", meta.Sequence.Stream),
			zap.String("subject", msg.Subject),
			zap.ByteString("data", msg.Data),
		)
		if termErr := msg.Term(); termErr != nil {
			w.logger.Error("Failed to terminate message after unmarshal error", zap.Error(termErr))
		}
		observer.IncDlqAckFailure()
		return
	}

	w.logger.Info("Processing DLQ message",
		zap.String("source_subject", payload.SourceSubject),
		zap.Uint64("stream_sequence", meta.Sequence.Stream),
		zap.Uint64("num_delivered", meta.NumDelivered),
		zap.Uint64("payload_retry_count", payload.RetryCount),
	)

	routerMetadata := &model.TriggerMetadata{
		Subject:          payload.SourceSubject,
		StreamSequence:   meta.Sequence.Stream,
		ConsumerSequence: meta.Sequence.Consumer,
		Timestamp:        meta.Timestamp,
		NumDelivered:     meta.NumDelivered,
	}
	handlerCtx := logger.WithLogger(ctx, w.logger.With(
		zap.String("original_subject", payload.SourceSubject),
	))

	processingErr := w.router.Route(handlerCtx, routerMetadata, payload.OriginalPayload)
	if processingErr == nil {
		w.logger.Info("Successfully replayed trigger from DLQ",
			zap.String("source_subject", payload.SourceSubject),
			zap.Uint64("attempt", meta.NumDelivered),
		)
		if ackErr := msg.Ack(); ackErr != nil {
			w.logger.Error("Failed to ACK successfully processed message", zap.Error(ackErr))
			observer.IncDlqAckFailure()
		} else {
			observer.IncDlqAckSuccess()
		}
		return
	}

	w.logger.Warn("Failed to replay trigger from DLQ",
		zap.String("source_subject", payload.SourceSubject),
		zap.Uint64("num_delivered", meta.NumDelivered),
		zap.Error(processingErr),
	)

	if meta.NumDelivered >= maxRetries {
		w.persistExhausted(ctx, msg, meta, payload, processingErr)
		return
	}

	delay := calculateBackoffDelay(int(meta.NumDelivered), w.cfg.NATS.DLQBaseDelayMinutes, w.cfg.NATS.DLQMaxDelayMinutes)
	w.logger.Info("Retrying DLQ message with backoff",
		zap.String("source_subject", payload.SourceSubject),
		zap.Uint64("attempt", meta.NumDelivered),
		zap.Duration("delay", delay),
	)

	if nakErr := msg.NakWithDelay(delay); nakErr != nil {
		w.logger.Error("Failed to NAK message with delay", zap.Error(nakErr))
		observer.IncDlqAckFailure()
	} else {
		observer.IncDlqTaskRetry()
	}
}

// persistExhausted writes the trigger to the exhausted store and terminates
// the message so it stops redelivering.
func (w *Worker) persistExhausted(ctx context.Context, msg *nats.Msg, meta *nats.MsgMetadata, payload model.DLQPayload, processingErr error) {
	w.logger.Warn("Max DLQ retries exceeded, persisting to exhausted store",
		zap.String("source_subject", payload.SourceSubject),
		zap.Uint64("num_delivered", meta.NumDelivered),
	)

	exhausted := model.ExhaustedTrigger{
		SourceSubject:   payload.SourceSubject,
		LastError:       processingErr.Error(),
		RetryCount:      int(meta.NumDelivered),
		Payload:         datatypes.JSON(msg.Data),
		OriginalPayload: datatypes.JSON(payload.OriginalPayload),
	}

	if saveErr := w.store.SaveExhaustedTrigger(ctx, exhausted); saveErr != nil {
		w.logger.Error("Failed to save exhausted trigger, terminating message anyway",
			zap.Error(saveErr),
			zap.String("source_subject", payload.SourceSubject),
		)
		if termErr := msg.Term(); termErr != nil {
			w.logger.Error("Failed to terminate message after persistence failure", zap.Error(termErr))
		}
		observer.IncDlqAckFailure()
		return
	}

	if termErr := msg.Term(); termErr != nil {
		w.logger.Error("Failed to terminate message after max retries", zap.Error(termErr))
	}
	observer.IncDlqTasksDropped()
}

// calculateBackoffDelay calculates the delay based on retry count.
func calculateBackoffDelay(retryCount int, baseDelayMinutes, maxDelayMinutes int) time.Duration {
	baseDelay := time.Duration(baseDelayMinutes) * time.Minute
	maxDelay := time.Duration(maxDelayMinutes) * time.Minute

	if retryCount <= 0 {
		return baseDelay
	}

	delay := baseDelay * time.Duration(1<<uint(retryCount-1))

	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func newAntsLoggerAdapter(logger *zap.Logger) *antsLoggerAdapter {
	return &antsLoggerAdapter{logger: logger}
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}
