package model

import (
	"time"
)

// TriggerType identifies the lifecycle triggers the orchestrator consumes.
type TriggerType string

// Versioned trigger subjects.
const (
	V1EventEnrolled  TriggerType = "v1.event.enrolled"
	V1EventCompleted TriggerType = "v1.event.completed"
	V1MessageSend    TriggerType = "v1.message.send"
)

// MapToTriggerType maps an input subject to a known TriggerType constant.
// It returns the mapped type and true, or an empty type and false when the
// subject is unknown.
func MapToTriggerType(subject string) (TriggerType, bool) {
	switch TriggerType(subject) {
	case V1EventEnrolled, V1EventCompleted, V1MessageSend:
		return TriggerType(subject), true
	default:
		return "", false
	}
}

// TriggerMetadata carries the JetStream delivery metadata for one trigger.
type TriggerMetadata struct {
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	MessageID        string
	Subject          string
}
