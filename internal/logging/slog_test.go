package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLogger_Levels(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG", "msg=dbg", "a=1",
		"level=INFO", "msg=inf", "b=2",
		"level=WARN", "msg=wrn", "c=3",
		"level=ERROR", "msg=err", "d=4",
	} {
		assert.Contains(t, out, want)
	}
}

func TestSlogLogger_With(t *testing.T) {
	log, buf := newTestLogger(t)

	log.With("entity_id", "e1").Info(context.Background(), "paid", "kind", "message")

	out := buf.String()
	assert.Contains(t, out, "entity_id=e1")
	assert.Contains(t, out, "kind=message")
}

func TestNewJSON_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "v", rec["k"])
	assert.Equal(t, Service, rec["service"])
}

func TestSlogLogger_AddsRequestID(t *testing.T) {
	log, buf := newTestLogger(t)

	ctx := context.WithValue(context.Background(), chimw.RequestIDKey, "req-7")
	log.Info(ctx, "card opened", "card_id", "c1")
	log.Info(context.Background(), "no request")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "request_id=req-7")
	assert.Contains(t, lines[0], "card_id=c1")
	assert.NotContains(t, lines[1], "request_id")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNop_DoesNotPanic(t *testing.T) {
	l := Nop()
	l.Error(context.TODO(), "nothing")
	l.With("a", 1).Info(context.TODO(), "nothing")
}
