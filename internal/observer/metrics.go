package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for standard trigger metrics
	triggerProcessingLabels = []string{"trigger_type", "consumer_type"}
	// Labels for tracking specific processing actions
	triggerActionLabels = []string{"trigger_type", "consumer_type", "action", "error_type"}

	// Standard Trigger Counters
	TriggersReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_engine_triggers_received_total",
			Help: "Total number of triggers received from NATS, labeled by consumer type.",
		},
		triggerProcessingLabels,
	)
	TriggersProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_engine_triggers_processed_total",
			Help: "Total number of triggers successfully processed and acknowledged.",
		},
		triggerProcessingLabels,
	)
	TriggersFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_engine_triggers_failed_total",
			Help: "Total number of triggers that failed processing (resulting in Nak or error).",
		},
		triggerProcessingLabels,
	)

	// Histogram for Processing Duration
	TriggerProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_engine_trigger_processing_duration_seconds",
			Help:    "Histogram of trigger processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		triggerProcessingLabels,
	)

	// Counter for Specific Actions (Ack, Nak, NakDelay, DLQ)
	TriggerProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_engine_trigger_processing_actions_total",
			Help: "Total count of specific actions taken after trigger processing, labeled by error type.",
		},
		triggerActionLabels,
	)
)

// Metrics related to funnel step scheduling and execution
var (
	stepLabels        = []string{"funnel_type", "step"}
	stepOutcomeLabels = []string{"funnel_type", "step", "outcome"}

	FunnelStepsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_engine_steps_created_total",
			Help: "Total number of funnel steps persisted for later execution.",
		},
		stepLabels,
	)
	FunnelStepsDuplicateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_engine_steps_duplicate_total",
			Help: "Total number of step creations suppressed by the step key uniqueness guard.",
		},
		stepLabels,
	)
	FunnelStepsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_engine_steps_finished_total",
			Help: "Total number of funnel steps that reached a terminal state, labeled by outcome.",
		},
		stepOutcomeLabels,
	)
	FunnelStepsRescheduledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_engine_steps_rescheduled_total",
			Help: "Total number of funnel steps returned to pending for a later attempt.",
		},
		stepLabels,
	)
	StepExecutionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_engine_step_execution_duration_seconds",
			Help:    "Histogram of funnel step execution durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		stepLabels,
	)
	schedulerDueSteps = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "funnel_engine_scheduler_due_steps",
		Help: "Number of due steps found by the most recent scheduler poll.",
	})
)

// Metrics related to message dispatch
var (
	dispatchLabels     = []string{"channel", "template_id"}
	dispatchSkipLabels = []string{"channel", "template_id", "reason"}

	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_engine_messages_sent_total",
			Help: "Total number of messages accepted by a delivery provider.",
		},
		dispatchLabels,
	)
	MessagesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_engine_messages_skipped_total",
			Help: "Total number of messages skipped before dispatch, labeled by reason.",
		},
		dispatchSkipLabels,
	)
	MessagesFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_engine_messages_failed_total",
			Help: "Total number of messages rejected terminally by a delivery provider.",
		},
		dispatchLabels,
	)
	ProviderRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_engine_provider_request_duration_seconds",
			Help:    "Histogram of delivery provider request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)
	RateLimitWaitDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "funnel_engine_rate_limit_wait_duration_seconds",
			Help:    "Histogram of time spent waiting on the global send rate ceiling.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)
)

// Metrics related to DLQ processing
var (
	dlqFetchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "funnel_engine_dlq_fetch_requests_total",
		Help: "Total number of fetch requests made to the DLQ stream.",
	})
	dlqFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "funnel_engine_dlq_fetch_errors_total",
		Help: "Total number of errors encountered during DLQ fetch requests.",
	})
	dlqQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "funnel_engine_dlq_queue_length",
		Help: "Current number of messages waiting in the internal DLQ worker channel.",
	})
	dlqWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "funnel_engine_dlq_workers_active",
		Help: "Current number of active worker goroutines in the DLQ pool.",
	})
	dlqTasksSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "funnel_engine_dlq_tasks_submitted_total",
		Help: "Total number of tasks submitted to the DLQ worker pool.",
	})
	dlqProcessingDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "funnel_engine_dlq_processing_duration_seconds",
		Help:    "Histogram of processing durations for DLQ messages.",
		Buckets: prometheus.DefBuckets,
	})
	dlqTaskRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "funnel_engine_dlq_task_retries_total",
		Help: "Total number of retry attempts (NAKs with delay) for DLQ messages.",
	})
	dlqAcksSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "funnel_engine_dlq_acks_success_total",
		Help: "Total number of successful acknowledgements (ACKs) for DLQ messages.",
	})
	dlqAcksFailureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "funnel_engine_dlq_acks_failure_total",
		Help: "Total number of failed acknowledgements (NAKs, Term) for DLQ messages (excluding retries).",
	})
	dlqTasksDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "funnel_engine_dlq_tasks_dropped_total",
		Help: "Total number of DLQ messages dropped after exceeding max retries.",
	})
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "funnel_engine_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// --- Fan-Out Worker Pool Metrics ---
var (
	fanOutTasksSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "funnel_engine_fanout_tasks_submitted_total",
		Help: "Total number of post-event fan-out tasks submitted to the worker pool.",
	})
	fanOutTasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_engine_fanout_tasks_processed_total",
			Help: "Total number of fan-out tasks processed by the worker pool, labeled by final status.",
		},
		[]string{"status"},
	)
	fanOutProcessingDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "funnel_engine_fanout_processing_duration_seconds",
		Help:    "Histogram of processing durations for fan-out tasks.",
		Buckets: prometheus.DefBuckets,
	})
	fanOutQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "funnel_engine_fanout_queue_length",
		Help: "Approximate number of tasks waiting in the fan-out worker pool queue.",
	})
)

// InitMetrics initializes metric collection. Metrics are auto-registered via
// promauto; this only flips the collection flag.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncTriggersReceived increments the triggers received counter.
func IncTriggersReceived(triggerType, consumerType string) {
	if !metricsEnabled {
		return
	}
	TriggersReceivedTotal.WithLabelValues(triggerType, consumerType).Inc()
}

// IncTriggersProcessed increments the triggers processed counter.
func IncTriggersProcessed(triggerType, consumerType string) {
	if !metricsEnabled {
		return
	}
	TriggersProcessedTotal.WithLabelValues(triggerType, consumerType).Inc()
}

// IncTriggersFailed increments the triggers failed counter.
func IncTriggersFailed(triggerType, consumerType string) {
	if !metricsEnabled {
		return
	}
	TriggersFailedTotal.WithLabelValues(triggerType, consumerType).Inc()
}

// ObserveTriggerProcessingDuration records the processing time for a trigger.
func ObserveTriggerProcessingDuration(triggerType, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	TriggerProcessingDurationSeconds.WithLabelValues(triggerType, consumerType).Observe(duration.Seconds())
}

// IncTriggerProcessingAction increments the counter for a specific processing outcome.
func IncTriggerProcessingAction(triggerType, consumerType, action, errorType string) {
	if !metricsEnabled {
		return
	}
	TriggerProcessingActionsTotal.WithLabelValues(triggerType, consumerType, action, SanitizeErrorType(errorType)).Inc()
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(duration.Seconds())
}

// --- Funnel Step Metric Helpers ---

// IncFunnelStepCreated increments the created counter for a step, or the
// duplicate counter when the uniqueness guard suppressed the insert.
func IncFunnelStepCreated(funnelType, step string, created bool) {
	if !metricsEnabled {
		return
	}
	if created {
		FunnelStepsCreatedTotal.WithLabelValues(funnelType, step).Inc()
	} else {
		FunnelStepsDuplicateTotal.WithLabelValues(funnelType, step).Inc()
	}
}

// IncFunnelStepFinished increments the terminal outcome counter for a step.
func IncFunnelStepFinished(funnelType, step, outcome string) {
	if !metricsEnabled {
		return
	}
	FunnelStepsFinishedTotal.WithLabelValues(funnelType, step, outcome).Inc()
}

// IncFunnelStepRescheduled increments the reschedule counter for a step.
func IncFunnelStepRescheduled(funnelType, step string) {
	if !metricsEnabled {
		return
	}
	FunnelStepsRescheduledTotal.WithLabelValues(funnelType, step).Inc()
}

// ObserveStepExecutionDuration records the execution time for a step.
func ObserveStepExecutionDuration(funnelType, step string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	StepExecutionDurationSeconds.WithLabelValues(funnelType, step).Observe(duration.Seconds())
}

// SetSchedulerDueSteps records how many due steps the last poll found.
func SetSchedulerDueSteps(count int) {
	if !metricsEnabled {
		return
	}
	schedulerDueSteps.Set(float64(count))
}

// --- Dispatch Metric Helpers ---

// IncMessagesSent increments the sent counter for a channel and template.
func IncMessagesSent(channel, templateID string) {
	if !metricsEnabled {
		return
	}
	MessagesSentTotal.WithLabelValues(channel, templateID).Inc()
}

// IncMessagesSkipped increments the skipped counter with the skip reason.
func IncMessagesSkipped(channel, templateID, reason string) {
	if !metricsEnabled {
		return
	}
	MessagesSkippedTotal.WithLabelValues(channel, templateID, reason).Inc()
}

// IncMessagesFailed increments the terminal failure counter.
func IncMessagesFailed(channel, templateID string) {
	if !metricsEnabled {
		return
	}
	MessagesFailedTotal.WithLabelValues(channel, templateID).Inc()
}

// ObserveProviderRequestDuration records a delivery provider round trip.
func ObserveProviderRequestDuration(channel string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	ProviderRequestDurationSeconds.WithLabelValues(channel).Observe(duration.Seconds())
}

// ObserveRateLimitWait records time spent blocked on the global send ceiling.
func ObserveRateLimitWait(duration time.Duration) {
	if !metricsEnabled {
		return
	}
	RateLimitWaitDurationSeconds.Observe(duration.Seconds())
}

// --- DLQ Metric Helpers ---

// IncDlqFetchRequest increments the DLQ fetch request counter.
func IncDlqFetchRequest() {
	if metricsEnabled {
		dlqFetchRequestsTotal.Inc()
	}
}

// IncDlqFetchError increments the DLQ fetch error counter.
func IncDlqFetchError() {
	if metricsEnabled {
		dlqFetchErrorsTotal.Inc()
	}
}

// SetDlqQueueLength sets the current DLQ internal queue length.
func SetDlqQueueLength(length int) {
	if metricsEnabled {
		dlqQueueLength.Set(float64(length))
	}
}

// SetDlqWorkersActive sets the current number of active DLQ workers.
func SetDlqWorkersActive(count int) {
	if metricsEnabled {
		dlqWorkersActive.Set(float64(count))
	}
}

// IncDlqTasksSubmitted increments the counter for tasks submitted to the pool.
func IncDlqTasksSubmitted() {
	if metricsEnabled {
		dlqTasksSubmittedTotal.Inc()
	}
}

// ObserveDlqProcessingDuration records the processing time for a DLQ message.
func ObserveDlqProcessingDuration(duration time.Duration) {
	if metricsEnabled {
		dlqProcessingDurationSeconds.Observe(duration.Seconds())
	}
}

// IncDlqTaskRetry increments the counter for DLQ message retry attempts.
func IncDlqTaskRetry() {
	if metricsEnabled {
		dlqTaskRetriesTotal.Inc()
	}
}

// IncDlqAckSuccess increments the counter for successful DLQ message ACKs.
func IncDlqAckSuccess() {
	if metricsEnabled {
		dlqAcksSuccessTotal.Inc()
	}
}

// IncDlqAckFailure increments the counter for failed DLQ message ACKs/TERMs (non-retry).
func IncDlqAckFailure() {
	if metricsEnabled {
		dlqAcksFailureTotal.Inc()
	}
}

// IncDlqTasksDropped increments the counter for DLQ messages dropped after max retries.
func IncDlqTasksDropped() {
	if metricsEnabled {
		dlqTasksDroppedTotal.Inc()
	}
}

// --- Fan-Out Metric Helpers ---

// IncFanOutTasksSubmitted increments the counter for submitted fan-out tasks.
func IncFanOutTasksSubmitted() {
	if metricsEnabled {
		fanOutTasksSubmittedTotal.Inc()
	}
}

// IncFanOutTasksProcessed increments the counter for processed fan-out tasks by status.
func IncFanOutTasksProcessed(status string) {
	if metricsEnabled {
		fanOutTasksProcessedTotal.WithLabelValues(status).Inc()
	}
}

// ObserveFanOutProcessingDuration records the processing time for a fan-out task.
func ObserveFanOutProcessingDuration(duration time.Duration) {
	if metricsEnabled {
		fanOutProcessingDurationSeconds.Observe(duration.Seconds())
	}
}

// SetFanOutQueueLength sets the current fan-out queue length.
func SetFanOutQueueLength(length int) {
	if metricsEnabled {
		fanOutQueueLength.Set(float64(length))
	}
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate key"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "too many requests"):
		return "rate_limited"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}
