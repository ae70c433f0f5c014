// Package webhook turns verified checkout completions into unlocked gifts.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"keepsake/internal/gift"
	"keepsake/internal/logging"
	"keepsake/internal/notify"
	"keepsake/internal/payment"
	"keepsake/internal/qr"
	"keepsake/internal/slug"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

var (
	ErrInvalidSignature  = payment.ErrInvalidSignature
	ErrMalformedMetadata = errors.New("malformed webhook metadata")
	ErrEntityNotFound    = errors.New("webhook entity not found")
)

// State is how far a delivery got.
type State string

const (
	StateAwaitingVerification State = "AWAITING_VERIFICATION"
	StateVerified             State = "VERIFIED"
	StateEntityResolved       State = "ENTITY_RESOLVED"
	StateSideEffectsApplied   State = "SIDE_EFFECTS_APPLIED"
	StateNotified             State = "NOTIFIED"
)

const (
	ResultUnlocked  = "unlocked"
	ResultDuplicate = "duplicate"
	ResultIgnored   = "ignored"
	ResultMalformed = "malformed_metadata"
	ResultNotFound  = "entity_not_found"
	ResultFailed    = "failed"
)

type Outcome struct {
	State    State
	Result   string
	EntityID string
	Kind     gift.Kind
	Slug     string
	Notified bool
}

type Store interface {
	GetMessage(ctx context.Context, id string) (*gift.Message, error)
	GetCollection(ctx context.Context, id string) (*gift.CardCollection, error)
	MarkPaid(ctx context.Context, kind gift.Kind, id, slug, qrURL string) (bool, error)
}

type QRCoder interface {
	Encode(ctx context.Context, target string, kind gift.Kind, entityID string) (qr.Artifact, error)
	Render(target string) ([]byte, error)
}

type Notifier interface {
	SendUnlockNotification(ctx context.Context, u notify.Unlock) notify.Result
}

type Enqueuer interface {
	EnqueueNotification(ctx context.Context, kind gift.Kind, entityID, recipient string, runAt time.Time) error
}

type Recorder interface {
	Record(ctx context.Context, rec EventRecord) error
}

type Config struct {
	Provider string
	// PublicBaseURL prefixes every public gift link, e.g. https://keepsake.app.
	PublicBaseURL   string
	RedeliveryDelay time.Duration
}

type Handler struct {
	provider payment.Provider
	store    Store
	qr       QRCoder
	notifier Notifier
	queue    Enqueuer
	events   Recorder
	cfg      Config
	log      logging.Logger
	now      func() time.Time
}

// NewHandler wires the delivery pipeline. queue and events may be nil.
func NewHandler(p payment.Provider, s Store, q QRCoder, n Notifier, queue Enqueuer, events Recorder, cfg Config, log logging.Logger) *Handler {
	if cfg.Provider == "" {
		cfg.Provider = "stripe"
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = 5 * time.Minute
	}
	return &Handler{
		provider: p,
		store:    s,
		qr:       q,
		notifier: n,
		queue:    queue,
		events:   events,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// target is a resolved entity plus what differs per kind.
type target struct {
	summary gift.Summary
	path    string
}

func (t target) link(base string) string {
	return strings.TrimRight(base, "/") + t.path + *t.summary.Slug
}

// resolve is the one place that branches on product kind.
func (h *Handler) resolve(ctx context.Context, kind gift.Kind, id string) (target, error) {
	switch kind {
	case gift.KindMessage:
		m, err := h.store.GetMessage(ctx, id)
		if err != nil {
			return target{}, err
		}
		return target{summary: m.Summary(), path: "/m/"}, nil
	case gift.KindCollection:
		c, err := h.store.GetCollection(ctx, id)
		if err != nil {
			return target{}, err
		}
		return target{summary: c.Summary(), path: "/c/"}, nil
	default:
		return target{}, gift.ErrInvalidKind
	}
}

// Handle processes one webhook delivery. Deliveries are at least once, so
// everything after verification is safe to replay. A nil error or one of
// ErrMalformedMetadata / ErrEntityNotFound means the provider should get a
// success status; ErrInvalidSignature means reject; anything else is a
// transient failure the provider should redeliver.
func (h *Handler) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	out := Outcome{State: StateAwaitingVerification}

	ev, err := h.provider.ParseWebhook(payload, signature)
	if errors.Is(err, payment.ErrInvalidSignature) {
		h.log.Warn(ctx, "webhook signature rejected", "event", "security", "provider", h.cfg.Provider, "error", err)
		return out, ErrInvalidSignature
	}
	if err != nil {
		// Signed by the provider but undecodable: retrying will not help.
		out.State, out.Result = StateVerified, ResultMalformed
		h.alert(ctx, "webhook event undecodable", ev, err)
		h.record(ctx, ev, payload, out, err)
		return out, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}
	out.State = StateVerified

	if ev.Type != payment.EventCheckoutCompleted {
		out.Result = ResultIgnored
		h.log.Debug(ctx, "webhook event ignored", "event_id", ev.ID, "type", ev.Type)
		h.record(ctx, ev, payload, out, nil)
		return out, nil
	}

	id := strings.TrimSpace(ev.Metadata[payment.MetaEntityID])
	kind, kerr := gift.ParseKind(ev.Metadata[payment.MetaProductKind])
	if _, uerr := uuid.Parse(id); uerr != nil || kerr != nil {
		out.Result = ResultMalformed
		err := fmt.Errorf("%w: entity_id=%q product_kind=%q", ErrMalformedMetadata, id, ev.Metadata[payment.MetaProductKind])
		h.alert(ctx, "webhook metadata malformed", ev, err)
		h.record(ctx, ev, payload, out, err)
		return out, err
	}
	out.EntityID, out.Kind = id, kind

	t, err := h.resolve(ctx, kind, id)
	if errors.Is(err, gift.ErrNotFound) {
		out.Result = ResultNotFound
		err := fmt.Errorf("%w: %s %s", ErrEntityNotFound, kind, id)
		h.alert(ctx, "webhook entity not found", ev, err)
		h.record(ctx, ev, payload, out, err)
		return out, err
	}
	if err != nil {
		return h.fail(ctx, ev, payload, out, fmt.Errorf("resolve entity: %w", err))
	}
	out.State = StateEntityResolved

	if t.summary.Paid() {
		out.Result = ResultDuplicate
		if t.summary.Slug != nil {
			out.Slug = *t.summary.Slug
		}
		h.log.Info(ctx, "webhook duplicate delivery", "event_id", ev.ID, "entity_id", id, "product_kind", string(kind))
		h.record(ctx, ev, payload, out, nil)
		return out, nil
	}

	s := slug.Compose(t.summary.RecipientName, t.summary.ID)
	t.summary.Slug = &s
	link := t.link(h.cfg.PublicBaseURL)

	// Stable key, so a replay that gets this far overwrites the same object.
	art, err := h.qr.Encode(ctx, link, kind, id)
	if err != nil {
		return h.fail(ctx, ev, payload, out, fmt.Errorf("encode qr: %w", err))
	}

	won, err := h.store.MarkPaid(ctx, kind, id, s, art.URL)
	if err != nil {
		return h.fail(ctx, ev, payload, out, fmt.Errorf("mark paid: %w", err))
	}
	if !won {
		out.Result = ResultDuplicate
		h.log.Info(ctx, "webhook lost unlock race", "event_id", ev.ID, "entity_id", id, "product_kind", string(kind))
		h.record(ctx, ev, payload, out, nil)
		return out, nil
	}
	out.State, out.Result, out.Slug = StateSideEffectsApplied, ResultUnlocked, s
	h.log.Info(ctx, "gift unlocked", "event_id", ev.ID, "entity_id", id, "product_kind", string(kind), "slug", s)

	recipient := t.summary.PurchaserEmail
	if recipient == "" {
		recipient = ev.CustomerEmail
	}
	res := h.notifier.SendUnlockNotification(ctx, notify.Unlock{
		Gift:      t.summary,
		Recipient: recipient,
		Link:      link,
		QRCodeURL: art.URL,
		QRImage:   art.PNG,
	})
	out.Notified = res.Success
	if !res.Success && !errors.Is(res.Err, notify.ErrPermanent) {
		h.scheduleRedelivery(ctx, kind, id, recipient)
	}

	out.State = StateNotified
	h.record(ctx, ev, payload, out, res.Err)
	return out, nil
}

// Renotify sends the unlock email again for an already paid gift.
func (h *Handler) Renotify(ctx context.Context, kind gift.Kind, id, recipient string) error {
	t, err := h.resolve(ctx, kind, id)
	if err != nil {
		return err
	}
	if !t.summary.Paid() || t.summary.Slug == nil {
		return notify.Permanent(fmt.Errorf("%s %s is not unlocked", kind, id))
	}
	if recipient == "" {
		recipient = t.summary.PurchaserEmail
	}

	link := t.link(h.cfg.PublicBaseURL)
	png, err := h.qr.Render(link)
	if err != nil {
		return notify.Permanent(err)
	}
	u := notify.Unlock{Gift: t.summary, Recipient: recipient, Link: link, QRImage: png}
	if t.summary.QRCodeURL != nil {
		u.QRCodeURL = *t.summary.QRCodeURL
	}

	res := h.notifier.SendUnlockNotification(ctx, u)
	if !res.Success {
		return res.Err
	}
	return nil
}

func (h *Handler) scheduleRedelivery(ctx context.Context, kind gift.Kind, id, recipient string) {
	if h.queue == nil {
		return
	}
	runAt := h.now().Add(h.cfg.RedeliveryDelay)
	if err := h.queue.EnqueueNotification(ctx, kind, id, recipient, runAt); err != nil {
		h.log.Error(ctx, "enqueue notification redelivery", "alert", true, "entity_id", id, "product_kind", string(kind), "error", err)
		return
	}
	h.log.Info(ctx, "notification redelivery scheduled", "entity_id", id, "product_kind", string(kind), "run_at", runAt)
}

func (h *Handler) fail(ctx context.Context, ev payment.Event, payload []byte, out Outcome, err error) (Outcome, error) {
	out.Result = ResultFailed
	h.log.Error(ctx, "webhook processing failed", "event_id", ev.ID, "entity_id", out.EntityID, "state", string(out.State), "error", err)
	h.record(ctx, ev, payload, out, err)
	return out, err
}

func (h *Handler) alert(ctx context.Context, msg string, ev payment.Event, err error) {
	h.log.Error(ctx, msg, "alert", true, "event_id", ev.ID, "type", ev.Type, "session_id", ev.SessionID, "error", err)
}

func (h *Handler) record(ctx context.Context, ev payment.Event, payload []byte, out Outcome, procErr error) {
	if h.events == nil || ev.ID == "" {
		return
	}
	now := h.now()
	rec := EventRecord{
		Provider:        h.cfg.Provider,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		Payload:         datatypes.JSON(payload),
		Outcome:         out.Result,
		ProcessedAt:     &now,
		CreatedAt:       now,
	}
	if procErr != nil {
		rec.ProcessingError = procErr.Error()
	}
	if err := h.events.Record(ctx, rec); err != nil {
		h.log.Warn(ctx, "record webhook event", "event_id", ev.ID, "error", err)
	}
}
