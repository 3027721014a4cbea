package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// EventStatus is the lifecycle status of a scheduled event.
type EventStatus string

const (
	EventUpcoming  EventStatus = "upcoming"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

// Event represents a scheduled event that contacts enroll in.
type Event struct {
	ID              string      `json:"id" gorm:"primaryKey;type:text"`
	Title           string      `json:"title" gorm:"type:text" validate:"required"`
	ScheduledAt     time.Time   `json:"scheduled_at" gorm:"index"`
	DurationMinutes int         `json:"duration_minutes,omitempty"`
	Timezone        string      `json:"timezone,omitempty" gorm:"type:text"`
	Status          EventStatus `json:"status" gorm:"type:text;default:upcoming;index"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Event model.
func (Event) TableName(namer schema.Namer) string {
	return namer.TableName("events")
}

// IsValidForReminders reports whether pending pre-event funnel steps may still
// fire: the event is not cancelled and its start is still in the future.
func (e *Event) IsValidForReminders(now time.Time) bool {
	return e.Status != EventCancelled && e.ScheduledAt.After(now)
}
