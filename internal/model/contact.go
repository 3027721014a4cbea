package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Channel identifies a delivery channel for outbound messages.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether the channel is one of the supported set.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Contact represents a person enrolled in one or more events.
// Consent flags are owned by webhook ingestion and admin actions; the
// orchestrator only ever reads them.
type Contact struct {
	ID        string `json:"id" gorm:"primaryKey;type:text"`
	Email     string `json:"email" gorm:"type:text;index" validate:"omitempty,email"`
	Phone     string `json:"phone,omitempty" gorm:"type:text"` // E.164, empty when unknown
	FirstName string `json:"first_name,omitempty" gorm:"type:text"`
	LastName  string `json:"last_name,omitempty" gorm:"type:text"`
	Timezone  string `json:"timezone,omitempty" gorm:"type:text"` // IANA zone name

	EmailConsent          bool       `json:"email_consent" gorm:"default:false"`
	EmailConsentUpdatedAt *time.Time `json:"email_consent_updated_at,omitempty"`
	SMSConsent            bool       `json:"sms_consent" gorm:"column:sms_consent;default:false"`
	SMSConsentUpdatedAt   *time.Time `json:"sms_consent_updated_at,omitempty" gorm:"column:sms_consent_updated_at"`
	MarketingConsent      bool       `json:"marketing_consent" gorm:"default:false"`
	MarketingConsentUpdatedAt *time.Time `json:"marketing_consent_updated_at,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the Contact model.
func (Contact) TableName(namer schema.Namer) string {
	return namer.TableName("contacts")
}

// HasConsent returns the explicit consent flag for the given channel.
// Unknown channels have no consent.
func (c *Contact) HasConsent(channel Channel) bool {
	switch channel {
	case ChannelEmail:
		return c.EmailConsent
	case ChannelSMS:
		return c.SMSConsent
	default:
		return false
	}
}

// FullName joins the first and last name, tolerating either being empty.
func (c *Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}
