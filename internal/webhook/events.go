package webhook

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventRecord is the audit trail of verified deliveries. It is not the
// idempotency gate; the conditional status update is.
type EventRecord struct {
	ID              uint64         `gorm:"primaryKey"`
	Provider        string         `gorm:"size:20;not null"`
	ProviderEventID string         `gorm:"size:191;not null"`
	EventType       string         `gorm:"size:100;not null"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null"`
	Outcome         string         `gorm:"size:32;not null"`
	ProcessingError string         `gorm:"type:text;not null"`
	ProcessedAt     *time.Time
	CreatedAt       time.Time
}

func (EventRecord) TableName() string { return "webhook_events" }

type EventLog struct {
	db *gorm.DB
}

func NewEventLog(db *gorm.DB) *EventLog {
	return &EventLog{db: db}
}

// Record stores a delivery keyed by provider event ID. A redelivery of the
// same event updates the outcome of the existing row.
func (l *EventLog) Record(ctx context.Context, rec EventRecord) error {
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"outcome", "processing_error", "processed_at"}),
	}).Create(&rec).Error
}

func (l *EventLog) Find(ctx context.Context, provider, eventID string) (*EventRecord, error) {
	var rec EventRecord
	err := l.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
