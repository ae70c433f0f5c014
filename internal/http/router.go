package http

import (
	"net/http"

	"keepsake/internal/auth"
	"keepsake/internal/checkout"
	"keepsake/internal/config"
	"keepsake/internal/gift"
	"keepsake/internal/http/handler"
	mw "keepsake/internal/http/middleware"
	"keepsake/internal/logging"
	"keepsake/internal/reveal"
	"keepsake/internal/webhook"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Services are the constructed domain services the routes delegate to.
type Services struct {
	Store    *gift.Store
	Reveal   *reveal.Engine
	Checkout *checkout.Service
	Webhook  *webhook.Handler
	Tokens   *auth.EditTokens
}

func NewRouter(cfg config.Config, svc Services, log logging.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.RequestLogger(log))
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	gifts := &handler.GiftHandler{Store: svc.Store, Tokens: svc.Tokens, MaxImages: cfg.Product.MaxGalleryImages, Log: log}
	cards := &handler.CardHandler{Store: svc.Store, Reveal: svc.Reveal, Log: log}
	co := &handler.CheckoutHandler{Svc: svc.Checkout, Store: svc.Store, Log: log}
	wh := &handler.WebhookHandler{Pipeline: svc.Webhook, Log: log}
	pub := &handler.PublicHandler{Store: svc.Store, Log: log}
	editing := auth.RequireEditToken(svc.Tokens)

	r.Route("/messages", func(r chi.Router) {
		r.Post("/", gifts.CreateMessage)
		r.Get("/{id}", gifts.GetMessage)
		r.With(editing).Patch("/{id}", gifts.UpdateMessage)
	})

	r.Route("/collections", func(r chi.Router) {
		r.Post("/", gifts.CreateCollection)
		r.Get("/{id}", gifts.GetCollection)
	})

	r.Route("/cards/{id}", func(r chi.Router) {
		r.With(editing).Patch("/", cards.Update)
		r.Get("/can-open", cards.CanOpen)
		r.Post("/open", cards.Open)
	})

	r.Post("/checkout", co.Create)
	r.Get("/checkout/sessions/{sessionID}", co.GetBySession)

	r.Post("/webhooks/payment", wh.Payment)

	r.Get("/m/{slug}", pub.Message)
	r.Get("/c/{slug}", pub.Collection)
	r.Get("/gifts/{slug}", pub.Gift)

	return r
}
