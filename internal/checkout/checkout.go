// Package checkout opens hosted payment sessions for pending gifts.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"keepsake/internal/gift"
	"keepsake/internal/logging"
	"keepsake/internal/payment"
)

var (
	ErrCreationFailed = errors.New("checkout creation failed")
	ErrInvalidRequest = errors.New("invalid checkout request")
	ErrAlreadyPaid    = errors.New("gift already paid")
)

// CreationFailedError carries the provider's message. It matches
// ErrCreationFailed with errors.Is.
type CreationFailedError struct {
	ProviderMessage string
	Err             error
}

func (e *CreationFailedError) Error() string {
	return fmt.Sprintf("checkout creation failed: %s", e.ProviderMessage)
}

func (e *CreationFailedError) Unwrap() error        { return e.Err }
func (e *CreationFailedError) Is(target error) bool { return target == ErrCreationFailed }

type Store interface {
	GetSummary(ctx context.Context, kind gift.Kind, id string) (gift.Summary, error)
	SetPaymentSession(ctx context.Context, kind gift.Kind, id, ref string) error
}

type Request struct {
	EntityID     string
	Kind         gift.Kind
	AmountCents  int64
	Currency     string
	ContactEmail string
}

type Session struct {
	ID          string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// Pricing is product policy handed in from configuration.
type Pricing struct {
	Currency string
	Prices   map[gift.Kind]int64
}

type URLs struct {
	Success string
	Cancel  string
}

type Service struct {
	provider payment.Provider
	store    Store
	pricing  Pricing
	urls     URLs
	log      logging.Logger
}

func NewService(p payment.Provider, s Store, pricing Pricing, urls URLs, log logging.Logger) *Service {
	return &Service{provider: p, store: s, pricing: pricing, urls: urls, log: log}
}

// CreateSession asks the provider for a session carrying the entity's ID and
// kind in its metadata, then records the session reference on the entity.
// Status is not re-checked here; the webhook rejects late transitions.
func (s *Service) CreateSession(ctx context.Context, r Request) (Session, error) {
	if r.EntityID == "" || r.AmountCents <= 0 || r.Currency == "" {
		return Session{}, ErrInvalidRequest
	}
	if _, err := gift.ParseKind(string(r.Kind)); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	sess, err := s.provider.CreateSession(ctx, payment.SessionParams{
		AmountCents:  r.AmountCents,
		Currency:     r.Currency,
		ProductName:  productName(r.Kind),
		ContactEmail: r.ContactEmail,
		SuccessURL:   s.urls.Success,
		CancelURL:    s.urls.Cancel,
		Metadata: map[string]string{
			payment.MetaEntityID:    r.EntityID,
			payment.MetaProductKind: string(r.Kind),
		},
	})
	if err != nil {
		s.log.Error(ctx, "checkout session creation failed", "entity_id", r.EntityID, "product_kind", string(r.Kind), "error", err)
		return Session{}, &CreationFailedError{ProviderMessage: err.Error(), Err: err}
	}

	if err := s.store.SetPaymentSession(ctx, r.Kind, r.EntityID, sess.ID); err != nil {
		return Session{}, fmt.Errorf("record payment session: %w", err)
	}

	s.log.Info(ctx, "checkout session created", "entity_id", r.EntityID, "product_kind", string(r.Kind), "session_id", sess.ID)
	return Session{ID: sess.ID, RedirectURL: sess.URL}, nil
}

// Start prices a pending gift from configuration and opens a session for it.
// The contact email falls back to the purchaser email given at compose time.
func (s *Service) Start(ctx context.Context, kind gift.Kind, id, email string) (Session, error) {
	sum, err := s.store.GetSummary(ctx, kind, id)
	if err != nil {
		return Session{}, err
	}
	if sum.Paid() {
		return Session{}, ErrAlreadyPaid
	}
	if email == "" {
		email = sum.PurchaserEmail
	}

	return s.CreateSession(ctx, Request{
		EntityID:     id,
		Kind:         kind,
		AmountCents:  s.pricing.Prices[kind],
		Currency:     s.pricing.Currency,
		ContactEmail: email,
	})
}

func productName(k gift.Kind) string {
	switch k {
	case gift.KindCollection:
		return "Open When cards (12)"
	default:
		return "Digital message"
	}
}
