package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// RegistrationStatus is the lifecycle status of a registration.
type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "registered"
	RegistrationConfirmed  RegistrationStatus = "confirmed"
	RegistrationAttended   RegistrationStatus = "attended"
	RegistrationNoShow     RegistrationStatus = "no_show"
	RegistrationCancelled  RegistrationStatus = "cancelled"
)

// Registration links one Contact to one Event.
//
// Attended is tri-state: true = attended, false = confirmed no-show, nil =
// unknown. Branch selection treats nil the same as false; see the post-event
// funnel.
type Registration struct {
	ID        string             `json:"id" gorm:"primaryKey;type:text"`
	ContactID string             `json:"contact_id" gorm:"type:text;index" validate:"required"`
	EventID   string             `json:"event_id" gorm:"type:text;index" validate:"required"`
	Status    RegistrationStatus `json:"status" gorm:"type:text;default:registered"`
	Attended  *bool              `json:"attended,omitempty"` // written by webhook ingestion
	JoinURL   string             `json:"join_url,omitempty" gorm:"type:text"`

	// ReminderLog is an append-only JSON array of step labels already fired
	// for this registration. Defensive idempotency on top of step keys.
	ReminderLog datatypes.JSON `json:"reminder_log,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Registration model.
func (Registration) TableName(namer schema.Namer) string {
	return namer.TableName("registrations")
}

// FanOutStatuses are the registration statuses eligible for post-event
// funnel processing. Cancelled registrations are excluded.
func FanOutStatuses() []RegistrationStatus {
	return []RegistrationStatus{
		RegistrationRegistered,
		RegistrationConfirmed,
		RegistrationAttended,
		RegistrationNoShow,
	}
}

// DidAttend resolves the tri-state attendance flag for branch selection.
// Unknown attendance routes to the no-show path.
func (r *Registration) DidAttend() bool {
	return r.Attended != nil && *r.Attended
}
