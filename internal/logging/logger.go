// Package logging defines the structured logger passed to every component.
package logging

import "context"

// Logger is a context-aware, structured logger. Args are key-value pairs:
//
//	log.Info(ctx, "card opened", "card_id", id, "already_opened", false)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	// Warn is for unusual but expected conditions, including rejected webhook signatures.
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key-value pairs.
	With(args ...any) Logger
}
