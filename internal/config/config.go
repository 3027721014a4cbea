package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`
	NATS struct {
		URL                 string            `mapstructure:"url"`
		Triggers            TriggerNatsConfig `mapstructure:"triggers"`
		DLQStream           string            `mapstructure:"dlqStream"`           // Name of the Dead Letter Queue stream
		DLQSubject          string            `mapstructure:"dlqSubject"`          // Base subject for DLQ messages
		DLQWorkers          int               `mapstructure:"dlqWorkers"`          // Number of concurrent DLQ processing workers
		DLQBaseDelayMinutes int               `mapstructure:"dlqBaseDelayMinutes"` // Base delay in minutes for exponential backoff
		DLQMaxDelayMinutes  int               `mapstructure:"dlqMaxDelayMinutes"`  // Max delay in minutes for exponential backoff
		DLQMaxAgeDays       int               `mapstructure:"dlqMaxAgeDays"`       // Retention period for DLQ messages (days)
		DLQMaxDeliver       int               `mapstructure:"dlqMaxDeliver"`       // Max redelivery attempts for DLQ consumer
		DLQAckWait          time.Duration     `mapstructure:"dlqAckWait"`          // Ack wait timeout for DLQ consumer
		DLQMaxAckPending    int               `mapstructure:"dlqMaxAckPending"`    // Max pending ACKs for DLQ consumer
	} `mapstructure:"nats"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Providers struct {
		Email EmailProviderConfig `mapstructure:"email"`
		SMS   SMSProviderConfig   `mapstructure:"sms"`
	} `mapstructure:"providers"`
	QuietHours QuietHoursConfig `mapstructure:"quietHours"`
	RateLimit  struct {
		PerMinute int `mapstructure:"perMinute"` // Global cross-channel send ceiling
		Burst     int `mapstructure:"burst"`
	} `mapstructure:"rateLimit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Funnel    FunnelConfig    `mapstructure:"funnel"`
	Metrics   struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		FanOut FanOutWorkerPoolConfig `mapstructure:"fanOut"`
	} `mapstructure:"workerPools"`
}

// TriggerNatsConfig holds configuration for the trigger consumer
type TriggerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // max age of messages in days
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`   // Max delivery attempts before DLQ
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"` // Base delay for exponential backoff NAK
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`  // Maximum delay for exponential backoff NAK
}

// EmailProviderConfig holds credentials and sender identity for the email provider
type EmailProviderConfig struct {
	BaseURL     string        `mapstructure:"baseURL"`
	APIKey      string        `mapstructure:"apiKey"`
	FromAddress string        `mapstructure:"fromAddress"`
	FromName    string        `mapstructure:"fromName"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// SMSProviderConfig holds credentials and sender identity for the SMS provider
type SMSProviderConfig struct {
	BaseURL    string        `mapstructure:"baseURL"`
	AccountSID string        `mapstructure:"accountSID"`
	AuthToken  string        `mapstructure:"authToken"`
	FromNumber string        `mapstructure:"fromNumber"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// QuietHoursConfig bounds the local-time window in which SMS sends are allowed
type QuietHoursConfig struct {
	StartHour       int    `mapstructure:"startHour"` // inclusive, local time
	EndHour         int    `mapstructure:"endHour"`   // exclusive, local time
	DefaultTimezone string `mapstructure:"defaultTimezone"`
}

// SchedulerConfig tunes the persistent step scheduler
type SchedulerConfig struct {
	PollInterval  time.Duration `mapstructure:"pollInterval"`
	ClaimLimit    int           `mapstructure:"claimLimit"`    // Max steps claimed per poll
	RetryBase     time.Duration `mapstructure:"retryBase"`     // Base delay for step retry backoff
	RetryMax      time.Duration `mapstructure:"retryMax"`      // Cap for step retry backoff
	StepMaxRetry  int           `mapstructure:"stepMaxRetry"`  // Funnel-level attempt ceiling
	LeaseDuration time.Duration `mapstructure:"leaseDuration"` // Running steps older than this are reclaimed
}

// FunnelConfig holds the time anchors of both funnels
type FunnelConfig struct {
	Reminder24hOffset time.Duration `mapstructure:"reminder24hOffset"` // before event start
	Reminder1hOffset  time.Duration `mapstructure:"reminder1hOffset"`  // before event start
	ThankYouDelay     time.Duration `mapstructure:"thankYouDelay"`     // after completion
	ResourcesDelay    time.Duration `mapstructure:"resourcesDelay"`
	NurtureDelay      time.Duration `mapstructure:"nurtureDelay"`
	ReengagementDelay time.Duration `mapstructure:"reengagementDelay"`
	FinalFollowupDelay time.Duration `mapstructure:"finalFollowupDelay"`
}

// FanOutWorkerPoolConfig holds configuration for the post-event fan-out pool
type FanOutWorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize  int           `mapstructure:"queueSize"`  // Task queue buffer size
	MaxBlock   time.Duration `mapstructure:"maxBlock"`   // Max time to block when submitting if queue full
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	// Trigger consumer defaults
	v.SetDefault("nats.triggers.stream", "funnel_triggers")
	v.SetDefault("nats.triggers.consumer", "funnel_orchestrator")
	v.SetDefault("nats.triggers.group", "funnel_orchestrator_group")
	v.SetDefault("nats.triggers.subjectList", []string{"v1.event.enrolled", "v1.event.completed", "v1.message.send"})
	v.SetDefault("nats.triggers.maxAge", 7)
	v.SetDefault("nats.triggers.maxDeliver", 4)
	v.SetDefault("nats.triggers.nakBaseDelay", 2*time.Second)
	v.SetDefault("nats.triggers.nakMaxDelay", 30*time.Second)

	// DLQ worker defaults
	v.SetDefault("nats.dlqStream", "funnel_dlq")
	v.SetDefault("nats.dlqSubject", "v1.dlq")
	v.SetDefault("nats.dlqWorkers", 4)
	v.SetDefault("nats.dlqBaseDelayMinutes", 1)
	v.SetDefault("nats.dlqMaxDelayMinutes", 15)
	v.SetDefault("nats.dlqMaxAgeDays", 7)
	v.SetDefault("nats.dlqMaxDeliver", 5)
	v.SetDefault("nats.dlqAckWait", time.Minute)
	v.SetDefault("nats.dlqMaxAckPending", 256)

	// Provider defaults (credentials come from env)
	v.SetDefault("providers.email.timeout", 10*time.Second)
	v.SetDefault("providers.sms.timeout", 10*time.Second)
	v.SetDefault("providers.email.fromAddress", "events@ceremonia.example")
	v.SetDefault("providers.email.fromName", "Ceremonia Events")

	// Quiet hours: 09:00-21:00 local
	v.SetDefault("quietHours.startHour", 9)
	v.SetDefault("quietHours.endHour", 21)
	v.SetDefault("quietHours.defaultTimezone", "America/Denver")

	// Global send ceiling: ~100 messages/minute across all channels
	v.SetDefault("rateLimit.perMinute", 100)
	v.SetDefault("rateLimit.burst", 10)

	// Scheduler defaults
	v.SetDefault("scheduler.pollInterval", 15*time.Second)
	v.SetDefault("scheduler.claimLimit", 50)
	v.SetDefault("scheduler.retryBase", 30*time.Second)
	v.SetDefault("scheduler.retryMax", 15*time.Minute)
	v.SetDefault("scheduler.stepMaxRetry", 4)
	v.SetDefault("scheduler.leaseDuration", 10*time.Minute)

	// Funnel time anchors
	v.SetDefault("funnel.reminder24hOffset", 24*time.Hour)
	v.SetDefault("funnel.reminder1hOffset", time.Hour)
	v.SetDefault("funnel.thankYouDelay", time.Hour)
	v.SetDefault("funnel.resourcesDelay", 24*time.Hour)
	v.SetDefault("funnel.nurtureDelay", 72*time.Hour)
	v.SetDefault("funnel.reengagementDelay", 24*time.Hour)
	v.SetDefault("funnel.finalFollowupDelay", 168*time.Hour)

	// Fan-out pool defaults
	v.SetDefault("workerPools.fanOut.poolSize", 10)
	v.SetDefault("workerPools.fanOut.queueSize", 10000)
	v.SetDefault("workerPools.fanOut.maxBlock", time.Second)
	v.SetDefault("workerPools.fanOut.expiryTime", time.Minute)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	// Add lookup paths
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("/etc/funnel-orchestrator")

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional, env vars can carry everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if key := os.Getenv("EMAIL_API_KEY"); key != "" {
		v.Set("providers.email.apiKey", key)
	}
	if sid := os.Getenv("SMS_ACCOUNT_SID"); sid != "" {
		v.Set("providers.sms.accountSID", sid)
	}
	if token := os.Getenv("SMS_AUTH_TOKEN"); token != "" {
		v.Set("providers.sms.authToken", token)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(parts, tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
