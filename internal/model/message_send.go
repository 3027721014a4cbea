package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// MessageSendStatus is the delivery lifecycle status of one dispatch attempt.
//
// The dispatcher writes queued, sent, failed and skipped. The post-send
// statuses (delivered, opened, clicked, bounced, spam) are written by webhook
// ingestion, outside the orchestrator.
type MessageSendStatus string

const (
	MessageQueued    MessageSendStatus = "queued"
	MessageSent      MessageSendStatus = "sent"
	MessageDelivered MessageSendStatus = "delivered"
	MessageOpened    MessageSendStatus = "opened"
	MessageClicked   MessageSendStatus = "clicked"
	MessageFailed    MessageSendStatus = "failed"
	MessageBounced   MessageSendStatus = "bounced"
	MessageSpam      MessageSendStatus = "spam"
	MessageSkipped   MessageSendStatus = "skipped"
)

// MessageSend is one record per dispatch attempt. Created before the provider
// call so failed attempts remain auditable; never deleted.
type MessageSend struct {
	ID             string            `json:"id" gorm:"primaryKey;type:text"`
	ContactID      string            `json:"contact_id" gorm:"type:text;index" validate:"required"`
	RegistrationID string            `json:"registration_id,omitempty" gorm:"type:text;index"`
	CampaignID     string            `json:"campaign_id,omitempty" gorm:"type:text"`
	Channel        Channel           `json:"channel" gorm:"type:text" validate:"required,oneof=email sms"`
	TemplateID     string            `json:"template_id" gorm:"type:text" validate:"required"`
	StepType       string            `json:"step_type,omitempty" gorm:"type:text;index"`
	Status         MessageSendStatus `json:"status" gorm:"type:text;default:queued;index"`
	SkipReason     string            `json:"skip_reason,omitempty" gorm:"type:text"`
	ErrorMessage   string            `json:"error_message,omitempty" gorm:"type:text"`

	ProviderMessageID string `json:"provider_message_id,omitempty" gorm:"type:text;index"`

	QueuedAt    time.Time  `json:"queued_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	OpenedAt    *time.Time `json:"opened_at,omitempty"`
	ClickedAt   *time.Time `json:"clicked_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	OpenCount  int `json:"open_count,omitempty"`
	ClickCount int `json:"click_count,omitempty"`

	ProviderMetadata datatypes.JSON `json:"provider_metadata,omitempty" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at,omitempty" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for the MessageSend model.
func (MessageSend) TableName(namer schema.Namer) string {
	return namer.TableName("message_sends")
}

// Terminal reports whether the status is a final state the dispatcher will
// never move the record out of.
func (s MessageSendStatus) Terminal() bool {
	switch s {
	case MessageFailed, MessageBounced, MessageSpam, MessageSkipped:
		return true
	default:
		return false
	}
}
