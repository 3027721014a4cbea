package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ExhaustedTrigger is a persisted copy of a trigger that exhausted its
// dead-letter redelivery budget or failed fatally. Kept for operator
// inspection and manual replay.
type ExhaustedTrigger struct {
	ID              int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	SourceSubject   string         `json:"source_subject" gorm:"type:text"`
	LastError       string         `json:"last_error,omitempty" gorm:"type:text"`
	RetryCount      int            `json:"retry_count"`
	Payload         datatypes.JSON `json:"payload,omitempty" gorm:"type:jsonb"`
	OriginalPayload datatypes.JSON `json:"original_payload,omitempty" gorm:"type:jsonb"`
	Resolved        bool           `json:"resolved" gorm:"default:false"`
	CreatedAt       time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
	Notes           string         `json:"notes,omitempty" gorm:"type:text"`
}

// TableName specifies the table name for the ExhaustedTrigger model.
func (ExhaustedTrigger) TableName(namer schema.Namer) string {
	return namer.TableName("exhausted_triggers")
}
