// Package notify tells a purchaser their gift is unlocked.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"keepsake/internal/gift"
	"keepsake/internal/logging"
)

var (
	// ErrPermanent marks failures that retrying cannot fix.
	ErrPermanent        = errors.New("permanent delivery failure")
	ErrInvalidRecipient = errors.New("invalid recipient address")
)

type permanentError struct{ err error }

func (e *permanentError) Error() string        { return e.err.Error() }
func (e *permanentError) Unwrap() error        { return e.err }
func (e *permanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent wraps err so the dispatcher stops retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Email struct {
	From        string
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Mailer hands an email to a transactional email provider and returns the
// provider's message ID.
type Mailer interface {
	Send(ctx context.Context, e Email) (string, error)
}

// Policy bounds delivery: MaxAttempts in total, BaseDelay doubling between them.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Second}

// Delay is the pause after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay << (attempt - 1)
}

// Unlock is everything needed to tell a purchaser where their gift lives.
type Unlock struct {
	Gift      gift.Summary
	Recipient string
	Link      string
	QRCodeURL string
	QRImage   []byte
}

type Result struct {
	Success           bool
	ProviderMessageID string
	Attempts          int
	Err               error
}

type Dispatcher struct {
	mailer Mailer
	from   string
	policy Policy
	log    logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(m Mailer, from string, policy Policy, log logging.Logger) *Dispatcher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Dispatcher{mailer: m, from: from, policy: policy, log: log, sleep: sleepCtx}
}

// SendUnlockNotification delivers the unlock email, retrying transient
// failures per the policy. It never panics and never returns an error
// directly: the outcome is in the Result, and every attempt is logged.
func (d *Dispatcher) SendUnlockNotification(ctx context.Context, u Unlock) Result {
	log := d.log.With("entity_id", u.Gift.ID, "product_kind", string(u.Gift.Kind), "recipient", u.Recipient)

	if _, err := mail.ParseAddress(u.Recipient); err != nil || u.Recipient == "" {
		err = Permanent(fmt.Errorf("%w: %q", ErrInvalidRecipient, u.Recipient))
		log.Error(ctx, "unlock notification not sent", "attempts", 0, "error", err)
		return Result{Err: err}
	}

	email, err := render(d.from, u)
	if err != nil {
		err = Permanent(err)
		log.Error(ctx, "unlock notification not sent", "attempts", 0, "error", err)
		return Result{Err: err}
	}

	var lastErr error
	attempt := 0
	for attempt < d.policy.MaxAttempts {
		attempt++
		id, err := d.mailer.Send(ctx, email)
		if err == nil {
			log.Info(ctx, "unlock notification sent", "attempt", attempt, "provider_message_id", id)
			return Result{Success: true, ProviderMessageID: id, Attempts: attempt}
		}

		lastErr = err
		permanent := errors.Is(err, ErrPermanent)
		log.Warn(ctx, "unlock notification attempt failed", "attempt", attempt, "permanent", permanent, "error", err)
		if permanent || attempt == d.policy.MaxAttempts {
			break
		}
		if err := d.sleep(ctx, d.policy.Delay(attempt)); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	log.Error(ctx, "unlock notification failed", "attempts", attempt, "error", lastErr)
	return Result{Attempts: attempt, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
