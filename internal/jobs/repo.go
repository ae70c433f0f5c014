package jobs

import (
	"context"
	"encoding/json"
	"time"

	"keepsake/internal/gift"

	"gorm.io/gorm"
)

type Repo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db, now: time.Now}
}

// EnqueueNotification schedules another unlock email for a paid gift.
func (r *Repo) EnqueueNotification(ctx context.Context, kind gift.Kind, entityID, recipient string, runAt time.Time) error {
	payload, err := json.Marshal(NotificationPayload{EntityID: entityID, Kind: string(kind), Recipient: recipient})
	if err != nil {
		return err
	}
	now := r.now()
	j := Job{
		Type:        TypeUnlockNotification,
		Payload:     payload,
		RunAt:       runAt,
		Status:      StatusPending,
		MaxAttempts: 6,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return r.db.WithContext(ctx).Create(&j).Error
}

// Claim one due job atomically using SKIP LOCKED.
// Works on Postgres.
func (r *Repo) Claim(ctx context.Context, workerID string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// requeue jobs whose worker died mid-run
		if err := tx.Exec(`
update jobs
set status='PENDING', locked_by=null, locked_at=null, updated_at=now()
where status='RUNNING' and locked_at is not null and locked_at < now() - interval '5 minutes'
`).Error; err != nil {
			return err
		}

		return tx.Raw(`
with cte as (
  select id
  from jobs
  where status='PENDING' and run_at <= now()
  order by run_at asc
  for update skip locked
  limit 1
)
update jobs
set status='RUNNING', locked_by=?, locked_at=now(), updated_at=now()
where id in (select id from cte)
returning *;
`, workerID).Scan(&job).Error
	})
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *Repo) MarkDone(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).
		Updates(map[string]any{"status": StatusDone, "updated_at": r.now()}).Error
}

func (r *Repo) MarkFailed(ctx context.Context, id uint64, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).
		Updates(map[string]any{"status": StatusFailed, "last_error": errMsg, "updated_at": r.now()}).Error
}

func (r *Repo) RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).
		Updates(map[string]any{
			"status":     StatusPending,
			"attempts":   attempts,
			"run_at":     runAt,
			"locked_by":  nil,
			"locked_at":  nil,
			"last_error": errMsg,
			"updated_at": r.now(),
		}).Error
}
