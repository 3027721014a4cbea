package model

import (
	"fmt"
	"time"

	"gorm.io/gorm/schema"
)

// FunnelType distinguishes the two funnel families.
type FunnelType string

const (
	FunnelPreEvent  FunnelType = "pre_event"
	FunnelPostEvent FunnelType = "post_event"
)

// Funnel step names. Each names one time-anchored dispatch within a funnel
// instance; combined with a registration or event id they form the stable
// step key used for deduplication across redelivered triggers.
const (
	StepWelcome       = "welcome"
	StepReminder24h   = "reminder-24h"
	StepReminder1h    = "reminder-1h"
	StepThankYou      = "thank-you"
	StepResources     = "resources"
	StepNurture       = "nurture"
	StepSorryMissed   = "sorry-missed"
	StepReengagement  = "reengagement"
	StepFinalFollowup = "final-followup"
)

// FunnelStepStatus is the execution status of one persisted funnel step.
type FunnelStepStatus string

const (
	StepPending   FunnelStepStatus = "pending"
	StepRunning   FunnelStepStatus = "running"
	StepCompleted FunnelStepStatus = "completed"
	StepFailed    FunnelStepStatus = "failed"
	StepSkipped   FunnelStepStatus = "skipped"
	StepCancelled FunnelStepStatus = "cancelled"
)

// FunnelStep is one persisted, time-anchored funnel step. The scheduler polls
// for due pending rows, claims them and runs the step body at most once per
// claim. The unique StepKey converts at-least-once trigger delivery into
// at-most-once step creation.
type FunnelStep struct {
	ID             string           `json:"id" gorm:"primaryKey;type:text"`
	FunnelType     FunnelType       `json:"funnel_type" gorm:"type:text" validate:"required,oneof=pre_event post_event"`
	StepKey        string           `json:"step_key" gorm:"type:text;uniqueIndex" validate:"required"`
	StepName       string           `json:"step_name" gorm:"type:text" validate:"required"`
	EventID        string           `json:"event_id" gorm:"type:text;index" validate:"required"`
	RegistrationID string           `json:"registration_id,omitempty" gorm:"type:text;index"`
	ContactID      string           `json:"contact_id,omitempty" gorm:"type:text"`
	RunAt          time.Time        `json:"run_at" gorm:"index"`
	Status         FunnelStepStatus `json:"status" gorm:"type:text;default:pending;index"`
	Attempts       int              `json:"attempts"`
	MaxAttempts    int              `json:"max_attempts"`
	LastError      string           `json:"last_error,omitempty" gorm:"type:text"`
	SkipReason     string           `json:"skip_reason,omitempty" gorm:"type:text"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the FunnelStep model.
func (FunnelStep) TableName(namer schema.Namer) string {
	return namer.TableName("funnel_steps")
}

// StepKey derives the stable dedup key for a funnel step from its scope id
// (registration id for per-registration steps, event id otherwise) and the
// step name.
func StepKey(scopeID, stepName string) string {
	return fmt.Sprintf("%s:%s", scopeID, stepName)
}
