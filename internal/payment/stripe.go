package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe uses Checkout Sessions in payment mode. It holds its own API client
// so nothing touches the package-level stripe.Key.
type Stripe struct {
	api           *client.API
	webhookSecret string
}

func NewStripe(secretKey, webhookSecret string) *Stripe {
	return newStripe(client.New(secretKey, nil), webhookSecret)
}

func newStripe(api *client.API, webhookSecret string) *Stripe {
	return &Stripe{api: api, webhookSecret: webhookSecret}
}

func (s *Stripe) CreateSession(ctx context.Context, p SessionParams) (Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(p.Currency),
				UnitAmount: stripe.Int64(p.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(p.ProductName),
				},
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if p.ContactEmail != "" {
		params.CustomerEmail = stripe.String(p.ContactEmail)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: sess.ID, URL: sess.URL}, nil
}

func (s *Stripe) ParseWebhook(payload []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: ev.ID, Type: string(ev.Type)}
	if out.Type != EventCheckoutCompleted {
		return out, nil
	}
	if ev.Data == nil {
		return out, fmt.Errorf("decode %s: missing data", out.Type)
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
		return out, fmt.Errorf("decode %s: %w", out.Type, err)
	}
	out.SessionID = cs.ID
	out.Metadata = cs.Metadata
	out.CustomerEmail = cs.CustomerEmail
	if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
		out.CustomerEmail = cs.CustomerDetails.Email
	}
	return out, nil
}
