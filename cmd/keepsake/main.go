package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keepsake/internal/auth"
	"keepsake/internal/checkout"
	"keepsake/internal/config"
	"keepsake/internal/db"
	"keepsake/internal/gift"
	httpx "keepsake/internal/http"
	"keepsake/internal/jobs"
	"keepsake/internal/logging"
	"keepsake/internal/notify"
	"keepsake/internal/payment"
	"keepsake/internal/qr"
	"keepsake/internal/reveal"
	"keepsake/internal/storage"
	"keepsake/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "keepsake:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.NewJSON(os.Stdout, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gdb, err := db.Connect(cfg.DatabaseURL, db.PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, gdb); err != nil {
			return err
		}
	}

	slugs, err := gift.NewSlugCache(cfg.Product.SlugCacheSize)
	if err != nil {
		return err
	}
	store := gift.NewStore(gdb, gift.Limits{MaxImages: cfg.Product.MaxGalleryImages}, slugs)

	objects, err := storage.NewS3Store(ctx, storage.S3Config{
		AccessKey:    cfg.S3.AccessKey,
		SecretKey:    cfg.S3.SecretKey,
		Region:       cfg.S3.Region,
		Bucket:       cfg.S3.Bucket,
		BaseEndpoint: cfg.S3.BaseEndpoint,
		PublicURL:    cfg.S3.PublicURL,
	})
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	encoder, err := qr.NewEncoder(objects, cfg.Product.QRSize)
	if err != nil {
		return err
	}

	provider := payment.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
	dispatcher := notify.NewDispatcher(notify.NewResendMailer(cfg.Mail.ResendAPIKey), cfg.Mail.From, notify.Policy{
		MaxAttempts: cfg.Product.Notify.MaxAttempts,
		BaseDelay:   cfg.Product.Notify.BaseDelay(),
	}, log)

	jobsRepo := jobs.NewRepo(gdb)
	pipeline := webhook.NewHandler(provider, store, encoder, dispatcher, jobsRepo, webhook.NewEventLog(gdb),
		webhook.Config{Provider: "stripe", PublicBaseURL: cfg.PublicBaseURL}, log)

	checkoutSvc := checkout.NewService(provider, store, checkout.Pricing{
		Currency: cfg.Product.Currency,
		Prices: map[gift.Kind]int64{
			gift.KindMessage:    cfg.Product.MessagePriceCents,
			gift.KindCollection: cfg.Product.CollectionPriceCents,
		},
	}, checkout.URLs{Success: cfg.Stripe.SuccessURL, Cancel: cfg.Stripe.CancelURL}, log)

	r := httpx.NewRouter(cfg, httpx.Services{
		Store:    store,
		Reveal:   reveal.NewEngine(store, log),
		Checkout: checkoutSvc,
		Webhook:  pipeline,
		Tokens:   auth.NewEditTokens(cfg.EditTokenSecret, cfg.EditTokenTTL),
	}, log)

	// notification redelivery
	worker := jobs.NewWorker(fmt.Sprintf("worker-%d", os.Getpid()), jobsRepo, pipeline, log)
	go worker.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ch:
	case err := <-errCh:
		return err
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	log.Info(shutdownCtx, "shutting down")
	return srv.Shutdown(shutdownCtx)
}
