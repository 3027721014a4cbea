package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)

	assert.Equal(t, "funnel_triggers", cfg.NATS.Triggers.Stream)
	assert.Equal(t, "funnel_orchestrator", cfg.NATS.Triggers.Consumer)
	assert.Equal(t, "funnel_orchestrator_group", cfg.NATS.Triggers.QueueGroup)
	assert.Equal(t, []string{"v1.event.enrolled", "v1.event.completed", "v1.message.send"}, cfg.NATS.Triggers.SubjectList)
	assert.Equal(t, 4, cfg.NATS.Triggers.MaxDeliver)
	assert.Equal(t, 2*time.Second, cfg.NATS.Triggers.NakBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.NATS.Triggers.NakMaxDelay)

	assert.Equal(t, "funnel_dlq", cfg.NATS.DLQStream)
	assert.Equal(t, "v1.dlq", cfg.NATS.DLQSubject)
	assert.Equal(t, 4, cfg.NATS.DLQWorkers)
	assert.Equal(t, 5, cfg.NATS.DLQMaxDeliver)

	assert.Equal(t, 9, cfg.QuietHours.StartHour)
	assert.Equal(t, 21, cfg.QuietHours.EndHour)
	assert.Equal(t, "America/Denver", cfg.QuietHours.DefaultTimezone)

	assert.Equal(t, 100, cfg.RateLimit.PerMinute)
	assert.Equal(t, 10, cfg.RateLimit.Burst)

	assert.Equal(t, 15*time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 50, cfg.Scheduler.ClaimLimit)
	assert.Equal(t, 4, cfg.Scheduler.StepMaxRetry)

	assert.Equal(t, 24*time.Hour, cfg.Funnel.Reminder24hOffset)
	assert.Equal(t, time.Hour, cfg.Funnel.Reminder1hOffset)
	assert.Equal(t, time.Hour, cfg.Funnel.ThankYouDelay)
	assert.Equal(t, 168*time.Hour, cfg.Funnel.FinalFollowupDelay)

	assert.Equal(t, 10, cfg.WorkerPools.FanOut.PoolSize)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://funnel:secret@db:5432/funnel")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("EMAIL_API_KEY", "key-123")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://funnel:secret@db:5432/funnel", cfg.Database.PostgresDSN)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "key-123", cfg.Providers.Email.APIKey)
}
