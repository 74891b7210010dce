package pg

import (
	"time"

	"github.com/google/uuid"
)

type GuestSessionModel struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey"`
	Version int64     `gorm:"not null;default:0"`
	// meta data
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GuestSessionModel.
func (GuestSessionModel) TableName() string {
	return "guest_sessions"
}

type QuoteModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_quotes_session_type,priority:1"`
	QuoteType string    `gorm:"size:32;not null;uniqueIndex:idx_quotes_session_type,priority:2"`
	Reference string    `gorm:"size:64;not null"`
	Payload   []byte    `gorm:"type:jsonb"`
	// meta data
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for QuoteModel.
func (QuoteModel) TableName() string {
	return "quotes"
}
