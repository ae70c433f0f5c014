package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"keepsake/internal/gift"
	"keepsake/internal/logging"
	"keepsake/internal/notify"
)

type Queue interface {
	Claim(ctx context.Context, workerID string) (*Job, error)
	MarkDone(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64, errMsg string) error
	RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error
}

// Notifier re-sends the unlock email for a paid gift.
type Notifier interface {
	Renotify(ctx context.Context, kind gift.Kind, entityID, recipient string) error
}

type Worker struct {
	id       string
	queue    Queue
	notifier Notifier
	log      logging.Logger
	interval time.Duration
	now      func() time.Time
}

func NewWorker(id string, q Queue, n Notifier, log logging.Logger) *Worker {
	return &Worker{
		id:       id,
		queue:    q,
		notifier: n,
		log:      log.With("worker_id", id),
		interval: 800 * time.Millisecond,
		now:      time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.queue.Claim(ctx, w.id)
			if err != nil {
				w.log.Error(ctx, "claim job", "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.handle(ctx, job)
		}
	}
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	switch job.Type {
	case TypeUnlockNotification:
		w.handleNotification(ctx, job)
	default:
		w.fail(ctx, job, "unknown job type")
	}
}

func (w *Worker) handleNotification(ctx context.Context, job *Job) {
	var p NotificationPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		w.fail(ctx, job, "bad payload")
		return
	}
	kind, err := gift.ParseKind(p.Kind)
	if err != nil {
		w.fail(ctx, job, err.Error())
		return
	}

	err = w.notifier.Renotify(ctx, kind, p.EntityID, p.Recipient)
	switch {
	case err == nil:
		if err := w.queue.MarkDone(ctx, job.ID); err != nil {
			w.log.Error(ctx, "mark job done", "job_id", job.ID, "error", err)
		}
	case errors.Is(err, notify.ErrPermanent), errors.Is(err, gift.ErrNotFound):
		w.fail(ctx, job, err.Error())
	default:
		w.retry(ctx, job, err.Error())
	}
}

func (w *Worker) fail(ctx context.Context, job *Job, errMsg string) {
	w.log.Warn(ctx, "job failed", "job_id", job.ID, "type", job.Type, "error", errMsg)
	if err := w.queue.MarkFailed(ctx, job.ID, errMsg); err != nil {
		w.log.Error(ctx, "mark job failed", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) retry(ctx context.Context, job *Job, errMsg string) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		w.fail(ctx, job, errMsg)
		return
	}

	next := w.now().Add(Backoff(attempts))
	w.log.Info(ctx, "job rescheduled", "job_id", job.ID, "attempts", attempts, "run_at", next)
	if err := w.queue.RetryLater(ctx, job.ID, attempts, next, errMsg); err != nil {
		w.log.Error(ctx, "reschedule job", "job_id", job.ID, "error", err)
	}
}

// Backoff is 2^attempts seconds, capped at ten minutes.
func Backoff(attempts int) time.Duration {
	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	return time.Duration(sec) * time.Second
}
