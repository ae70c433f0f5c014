package jobs

import "time"

const TypeUnlockNotification = "UNLOCK_NOTIFICATION"

const (
	StatusPending = "PENDING"
	StatusRunning = "RUNNING"
	StatusDone    = "DONE"
	StatusFailed  = "FAILED"
)

type Job struct {
	ID uint64 `gorm:"primaryKey"`

	Type    string `gorm:"type:text;not null"` // UNLOCK_NOTIFICATION
	Payload []byte `gorm:"type:jsonb;not null;default:'{}'::jsonb"`

	RunAt  time.Time `gorm:"index;not null"`
	Status string    `gorm:"index;not null;default:'PENDING'"` // PENDING/RUNNING/DONE/FAILED

	Attempts    int `gorm:"not null;default:0"`
	MaxAttempts int `gorm:"not null;default:6"`

	LockedBy *string    `gorm:"type:text"`
	LockedAt *time.Time `gorm:"type:timestamptz"`

	LastError *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

// NotificationPayload is what an UNLOCK_NOTIFICATION job carries.
type NotificationPayload struct {
	EntityID  string `json:"entity_id"`
	Kind      string `json:"product_kind"`
	Recipient string `json:"recipient"`
}
