package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	MigrateOnStart       bool
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	LogLevel             string

	PublicBaseURL   string
	EditTokenSecret string
	EditTokenTTL    time.Duration

	Stripe Stripe
	Mail   Mail
	S3     S3

	Product Product
}

type Stripe struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type Mail struct {
	ResendAPIKey string
	From         string
}

type S3 struct {
	AccessKey    string
	SecretKey    string
	Region       string
	Bucket       string
	BaseEndpoint string
	PublicURL    string
}

// Product holds the tunables that may be overridden from the TOML file
// named by CONFIG_FILE.
type Product struct {
	Currency             string `toml:"currency"`
	MessagePriceCents    int64  `toml:"message_price_cents"`
	CollectionPriceCents int64  `toml:"collection_price_cents"`
	MaxGalleryImages     int    `toml:"max_gallery_images"`
	QRSize               int    `toml:"qr_size"`
	SlugCacheSize        int    `toml:"slug_cache_size"`

	Notify NotifyPolicy `toml:"notify"`
}

type NotifyPolicy struct {
	MaxAttempts     int `toml:"max_attempts"`
	BaseDelayMillis int `toml:"base_delay_ms"`
}

func (p NotifyPolicy) BaseDelay() time.Duration {
	return time.Duration(p.BaseDelayMillis) * time.Millisecond
}

func DefaultProduct() Product {
	return Product{
		Currency:             "usd",
		MessagePriceCents:    900,
		CollectionPriceCents: 1900,
		MaxGalleryImages:     7,
		QRSize:               512,
		SlugCacheSize:        1024,
		Notify:               NotifyPolicy{MaxAttempts: 3, BaseDelayMillis: 1000},
	}
}

// Load reads the environment (and .env, if present). Missing secrets are an
// error; the process must not start serving without them.
func Load() (Config, error) {
	_ = godotenv.Load()

	env := &envReader{}
	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          env.must("DATABASE_URL"),
		MigrateOnStart:       getenv("MIGRATE_ON_START", "true") == "true",
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",
		LogLevel:             getenv("LOG_LEVEL", "info"),
		PublicBaseURL:        strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		EditTokenSecret:      env.must("EDIT_TOKEN_SECRET"),
		Stripe: Stripe{
			SecretKey:     env.must("STRIPE_SECRET_KEY"),
			WebhookSecret: env.must("STRIPE_WEBHOOK_SECRET"),
		},
		Mail: Mail{
			ResendAPIKey: env.must("RESEND_API_KEY"),
			From:         getenv("MAIL_FROM", "Keepsake <hello@keepsake.app>"),
		},
		S3: S3{
			AccessKey:    getenv("S3_ACCESS_KEY", ""),
			SecretKey:    getenv("S3_SECRET_KEY", ""),
			Region:       getenv("S3_REGION", "us-east-1"),
			Bucket:       env.must("S3_BUCKET"),
			BaseEndpoint: getenv("S3_ENDPOINT", ""),
			PublicURL:    getenv("S3_PUBLIC_URL", ""),
		},
	}
	cfg.Stripe.SuccessURL = getenv("CHECKOUT_SUCCESS_URL", cfg.PublicBaseURL+"/success?session_id={CHECKOUT_SESSION_ID}")
	cfg.Stripe.CancelURL = getenv("CHECKOUT_CANCEL_URL", cfg.PublicBaseURL+"/cancel")

	ttl, err := time.ParseDuration(getenv("EDIT_TOKEN_TTL", "720h"))
	if err != nil {
		return Config{}, fmt.Errorf("EDIT_TOKEN_TTL: %w", err)
	}
	cfg.EditTokenTTL = ttl

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	if err := env.err(); err != nil {
		return Config{}, err
	}

	cfg.Product = DefaultProduct()
	if path := getenv("CONFIG_FILE", ""); path != "" {
		if err := loadProduct(path, &cfg.Product); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Product.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadProduct(path string, p *Product) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(b, p); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (p Product) validate() error {
	var errs []error
	if p.QRSize < 300 {
		errs = append(errs, fmt.Errorf("qr_size %d is below 300", p.QRSize))
	}
	if p.MessagePriceCents <= 0 || p.CollectionPriceCents <= 0 {
		errs = append(errs, errors.New("prices must be positive"))
	}
	if p.Notify.MaxAttempts < 1 {
		errs = append(errs, errors.New("notify.max_attempts must be at least 1"))
	}
	if p.MaxGalleryImages < 0 {
		errs = append(errs, errors.New("max_gallery_images must not be negative"))
	}
	return errors.Join(errs...)
}

type envReader struct {
	missing []string
}

func (e *envReader) must(key string) string {
	v := getenv(key, "")
	if v == "" {
		e.missing = append(e.missing, key)
	}
	return v
}

func (e *envReader) err() error {
	if len(e.missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing env: %s", strings.Join(e.missing, ", "))
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
