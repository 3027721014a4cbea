// Command tester publishes synthetic funnel triggers to NATS so the
// orchestrator can be exercised locally or load-tested.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/jetstream"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
)

// publishTask is one trigger to generate and publish.
type publishTask struct {
	subject string
	client  jetstream.ClientInterface
	wg      *sync.WaitGroup
}

var (
	published int64
	failed    int64
)

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	natsURL := flag.String("url", cfg.NATS.URL, "NATS server URL")
	subjectsStr := flag.String("subjects", "v1.event.enrolled,v1.event.completed", "Comma-separated list of trigger subjects")
	rate := flag.Int("rate", 20, "Target triggers per second")
	duration := flag.Duration("duration", 30*time.Second, "Publish duration")
	concurrency := flag.Int("concurrency", 5, "Number of concurrent publishers")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Funnel Trigger Publisher\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Publishes synthetic funnel triggers to NATS.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	subjects := strings.Split(*subjectsStr, ",")
	if len(subjects) == 0 || subjects[0] == "" {
		logger.Log.Fatal("No subjects provided")
	}

	gofakeit.Seed(time.Now().UnixNano())

	natsClient, err := jetstream.NewClient(*natsURL)
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
	}
	defer natsClient.Close()

	var taskWg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		task := data.(publishTask)
		defer task.wg.Done()
		publishTrigger(task)
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	logger.Log.Info("Starting trigger publisher",
		zap.String("nats_url", *natsURL),
		zap.Strings("subjects", subjects),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
	)

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			subject := subjects[rand.Intn(len(subjects))]
			taskWg.Add(1)
			if err := pool.Invoke(publishTask{subject: subject, client: natsClient, wg: &taskWg}); err != nil {
				taskWg.Done()
				atomic.AddInt64(&failed, 1)
				logger.Log.Warn("Failed to invoke worker pool", zap.Error(err))
			}
		}
	}

	taskWg.Wait()
	logger.Log.Info("Trigger publisher finished",
		zap.Int64("published", atomic.LoadInt64(&published)),
		zap.Int64("failed", atomic.LoadInt64(&failed)),
	)
}

// publishTrigger builds a fake payload for the subject and publishes it.
func publishTrigger(task publishTask) {
	payload, err := fakePayload(task.subject)
	if err != nil {
		atomic.AddInt64(&failed, 1)
		logger.Log.Warn("Failed to build payload", zap.String("subject", task.subject), zap.Error(err))
		return
	}

	headers := map[string]string{
		"Nats-Msg-Id": gofakeit.UUID(),
	}
	if err := task.client.Publish(task.subject, payload, headers); err != nil {
		atomic.AddInt64(&failed, 1)
		logger.Log.Warn("Failed to publish trigger", zap.String("subject", task.subject), zap.Error(err))
		return
	}
	atomic.AddInt64(&published, 1)
}

func fakePayload(subject string) ([]byte, error) {
	switch model.TriggerType(subject) {
	case model.V1EventEnrolled:
		return json.Marshal(model.NewEnrolledPayload())
	case model.V1EventCompleted:
		return json.Marshal(model.NewCompletedPayload())
	case model.V1MessageSend:
		payload := model.SendRequestPayload{
			ContactID:  gofakeit.UUID(),
			CampaignID: gofakeit.UUID(),
			TemplateID: "reengagement-email",
			Channel:    model.ChannelEmail,
			StepType:   "reengagement",
		}
		return json.Marshal(payload)
	default:
		return nil, fmt.Errorf("no payload factory for subject %q", subject)
	}
}
