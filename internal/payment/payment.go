// Package payment talks to the hosted checkout provider.
package payment

import (
	"context"
	"errors"
)

// Metadata keys stamped on every checkout session so the webhook can find
// the entity without another provider round trip.
const (
	MetaEntityID    = "entity_id"
	MetaProductKind = "product_kind"
)

const EventCheckoutCompleted = "checkout.session.completed"

var ErrInvalidSignature = errors.New("invalid webhook signature")

type SessionParams struct {
	AmountCents  int64
	Currency     string
	ProductName  string
	ContactEmail string
	SuccessURL   string
	CancelURL    string
	Metadata     map[string]string
}

type Session struct {
	ID  string
	URL string
}

// Event is the provider-neutral part of a verified webhook delivery.
// Session fields are only populated for checkout completion events.
type Event struct {
	ID            string
	Type          string
	SessionID     string
	CustomerEmail string
	Metadata      map[string]string
}

type Provider interface {
	CreateSession(ctx context.Context, p SessionParams) (Session, error)
	// ParseWebhook verifies the signature header over the raw payload before
	// decoding anything. A bad signature yields ErrInvalidSignature.
	ParseWebhook(payload []byte, signature string) (Event, error)
}
