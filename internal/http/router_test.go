package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"keepsake/internal/auth"
	"keepsake/internal/checkout"
	"keepsake/internal/config"
	"keepsake/internal/gift"
	httpx "keepsake/internal/http"
	"keepsake/internal/logging"
	"keepsake/internal/notify"
	"keepsake/internal/payment"
	"keepsake/internal/qr"
	"keepsake/internal/reveal"
	"keepsake/internal/testutil"
	"keepsake/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider accepts the signature "good" and reads the payload as a
// payment.Event.
type fakeProvider struct {
	mu        sync.Mutex
	n         int
	createErr error
}

func (f *fakeProvider) CreateSession(context.Context, payment.SessionParams) (payment.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return payment.Session{}, f.createErr
	}
	f.n++
	id := fmt.Sprintf("cs_test_%d", f.n)
	return payment.Session{ID: id, URL: "https://pay.test/" + id}, nil
}

func (f *fakeProvider) ParseWebhook(payload []byte, sig string) (payment.Event, error) {
	if sig != "good" {
		return payment.Event{}, payment.ErrInvalidSignature
	}
	var ev payment.Event
	err := json.Unmarshal(payload, &ev)
	return ev, err
}

type fakeQR struct{}

func (fakeQR) Encode(_ context.Context, target string, kind gift.Kind, id string) (qr.Artifact, error) {
	return qr.Artifact{Key: qr.Key(kind, id), URL: "https://cdn.test/" + qr.Key(kind, id), PNG: []byte(target)}, nil
}

func (fakeQR) Render(target string) ([]byte, error) { return []byte(target), nil }

type fakeNotifier struct {
	mu   sync.Mutex
	sent int
}

func (f *fakeNotifier) SendUnlockNotification(context.Context, notify.Unlock) notify.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return notify.Result{Success: true, ProviderMessageID: "msg", Attempts: 1}
}

type env struct {
	t        *testing.T
	srv      http.Handler
	provider *fakeProvider
	notifier *fakeNotifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gdb := testutil.OpenDB(t)
	cache, err := gift.NewSlugCache(64)
	require.NoError(t, err)

	cfg := config.Config{Product: config.DefaultProduct()}
	cfg.Product.MaxGalleryImages = 3

	store := gift.NewStore(gdb, gift.Limits{MaxImages: cfg.Product.MaxGalleryImages}, cache)
	prov := &fakeProvider{}
	notifier := &fakeNotifier{}
	log := logging.Nop()

	svc := httpx.Services{
		Store:  store,
		Reveal: reveal.NewEngine(store, log),
		Checkout: checkout.NewService(prov, store,
			checkout.Pricing{Currency: "usd", Prices: map[gift.Kind]int64{gift.KindMessage: 900, gift.KindCollection: 1900}},
			checkout.URLs{Success: "https://keepsake.test/success", Cancel: "https://keepsake.test/cancel"}, log),
		Webhook: webhook.NewHandler(prov, store, fakeQR{}, notifier, nil, webhook.NewEventLog(gdb),
			webhook.Config{PublicBaseURL: "https://keepsake.test"}, log),
		Tokens: auth.NewEditTokens("secret", time.Hour),
	}
	return &env{t: t, srv: httpx.NewRouter(cfg, svc, log), provider: prov, notifier: notifier}
}

func (e *env) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func (e *env) deliver(sig, eventID, entityID string, kind gift.Kind) *httptest.ResponseRecorder {
	e.t.Helper()
	payload, err := json.Marshal(payment.Event{
		ID:   eventID,
		Type: payment.EventCheckoutCompleted,
		Metadata: map[string]string{
			payment.MetaEntityID:    entityID,
			payment.MetaProductKind: string(kind),
		},
	})
	require.NoError(e.t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	e, ok := decode(t, rec)["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return e["code"].(string)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestMessageLifecycle(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/messages", map[string]any{
		"recipient_name":  "José María",
		"sender_name":     "Luis",
		"message_text":    "hi",
		"purchaser_email": "buyer@example.com",
		"images":          []string{"https://img.test/1.jpg"},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	msg := created["message"].(map[string]any)
	id := msg["id"].(string)
	token := created["edit_token"].(string)
	assert.Equal(t, "pending", msg["status"])
	assert.Nil(t, msg["slug"])

	// editing needs the token issued for this message
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPatch, "/messages/"+id, map[string]any{"message_text": "x"}, "").Code)
	other := decode(t, e.do(http.MethodPost, "/messages", map[string]any{"recipient_name": "Bo"}, ""))
	rec = e.do(http.MethodPatch, "/messages/"+id, map[string]any{"message_text": "x"}, other["edit_token"].(string))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPatch, "/messages/"+id, map[string]any{"message_text": "hello"}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "hello", decode(t, rec)["message_text"])

	rec = e.do(http.MethodPost, "/checkout", map[string]any{"entity_id": id, "product_kind": "message"}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode(t, rec)
	sessionID := sess["session_id"].(string)
	assert.Equal(t, "https://pay.test/"+sessionID, sess["redirect_url"])

	rec = e.do(http.MethodGet, "/checkout/sessions/"+sessionID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decode(t, rec)["status"])

	rec = e.deliver("forged", "evt_1", id, gift.KindMessage)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_signature", errorCode(t, rec))

	rec = e.deliver("good", "evt_1", id, gift.KindMessage)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, webhook.ResultUnlocked, decode(t, rec)["result"])

	rec = e.deliver("good", "evt_1", id, gift.KindMessage)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, webhook.ResultDuplicate, decode(t, rec)["result"])
	assert.Equal(t, 1, e.notifier.sent)

	rec = e.do(http.MethodGet, "/checkout/sessions/"+sessionID, nil, "")
	paid := decode(t, rec)
	assert.Equal(t, "paid", paid["status"])
	slug := paid["slug"].(string)
	assert.True(t, strings.HasPrefix(slug, "jose-maria-"))
	assert.NotContains(t, rec.Body.String(), "buyer@example.com")

	rec = e.do(http.MethodGet, "/m/"+slug, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode(t, rec)
	assert.Equal(t, "hello", page["message_text"])
	assert.Equal(t, float64(1), page["view_count"])

	rec = e.do(http.MethodGet, "/gifts/"+slug, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "message", decode(t, rec)["product_kind"])

	rec = e.do(http.MethodPatch, "/messages/"+id, map[string]any{"message_text": "late"}, token)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_pending", errorCode(t, rec))

	rec = e.do(http.MethodPost, "/checkout", map[string]any{"entity_id": id, "product_kind": "message"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/m/nope", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/c/"+slug, nil, "").Code)
}

func TestCollectionRevealFlow(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/collections", map[string]any{"recipient_name": "Ana", "purchaser_email": "b@example.com"}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "message_text")
	created := decode(t, rec)
	coll := created["collection"].(map[string]any)
	id := coll["id"].(string)
	token := created["edit_token"].(string)
	cards := coll["cards"].([]any)
	require.Len(t, cards, gift.CardsPerCollection)
	first := cards[0].(map[string]any)["id"].(string)
	second := cards[1].(map[string]any)["id"].(string)

	rec = e.do(http.MethodPatch, "/cards/"+first, map[string]any{"message_text": "Happy birthday"}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "Happy birthday")

	require.Equal(t, http.StatusOK, e.deliver("good", "evt_c", id, gift.KindCollection).Code)
	slug := decode(t, e.do(http.MethodGet, "/collections/"+id, nil, ""))["slug"].(string)

	rec = e.do(http.MethodGet, "/cards/"+first+"/can-open", nil, "")
	assert.Equal(t, true, decode(t, rec)["can_open"])

	rec = e.do(http.MethodPost, "/cards/"+first+"/open", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	opened := decode(t, rec)
	assert.Equal(t, false, opened["already_opened"])
	card := opened["card"].(map[string]any)
	assert.Equal(t, "Happy birthday", card["message_text"])
	assert.Equal(t, "opened", card["status"])
	openedAt := card["opened_at"]
	require.NotNil(t, openedAt)

	rec = e.do(http.MethodPost, "/cards/"+first+"/open", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode(t, rec)
	assert.Equal(t, true, again["already_opened"])
	assert.NotContains(t, rec.Body.String(), "message_text")
	assert.Equal(t, openedAt, again["card"].(map[string]any)["opened_at"])

	for _, path := range []string{"/c/" + slug, "/gifts/" + slug, "/collections/" + id} {
		rec = e.do(http.MethodGet, path, nil, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "Happy birthday", path)
		assert.NotContains(t, rec.Body.String(), "message_text", path)
	}

	assert.Equal(t, false, decode(t, e.do(http.MethodGet, "/cards/"+first+"/can-open", nil, ""))["can_open"])

	rec = e.do(http.MethodPatch, "/cards/"+first, map[string]any{"message_text": "rewrite"}, token)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "card_opened", errorCode(t, rec))

	rec = e.do(http.MethodPatch, "/cards/"+second, map[string]any{"title": "Open when you miss me"}, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/cards/missing/open", nil, "").Code)
}

func TestCardOpenBeforePayment(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/collections", map[string]any{"recipient_name": "Ana", "purchaser_email": "b@example.com"}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	id := created["collection"].(map[string]any)["id"].(string)
	token := created["edit_token"].(string)

	coll := decode(t, e.do(http.MethodGet, "/collections/"+id, nil, ""))
	assert.Equal(t, "pending", coll["status"])
	first := coll["cards"].([]any)[0].(map[string]any)["id"].(string)

	rec = e.do(http.MethodPatch, "/cards/"+first, map[string]any{"message_text": "Happy birthday"}, token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/cards/"+first+"/open", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/cards/"+first+"/can-open", nil, "").Code)

	card := decode(t, e.do(http.MethodGet, "/collections/"+id, nil, ""))["cards"].([]any)[0].(map[string]any)
	assert.Equal(t, "unopened", card["status"])
	assert.Nil(t, card["opened_at"])

	require.Equal(t, http.StatusOK, e.deliver("good", "evt_c", id, gift.KindCollection).Code)

	rec = e.do(http.MethodPost, "/cards/"+first+"/open", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	opened := decode(t, rec)
	assert.Equal(t, false, opened["already_opened"])
	assert.Equal(t, "Happy birthday", opened["card"].(map[string]any)["message_text"])
}

func TestNonUUIDPathsAreNotFound(t *testing.T) {
	e := newEnv(t)
	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/messages/42"},
		{http.MethodGet, "/collections/not-a-uuid"},
		{http.MethodPost, "/cards/abc/open"},
		{http.MethodGet, "/cards/abc/can-open"},
	} {
		assert.Equal(t, http.StatusNotFound, e.do(req.method, req.path, nil, "").Code, req.path)
	}
}

func TestValidation(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/messages", map[string]any{"purchaser_email": "nope", "media_url": "ftp://x"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decode(t, rec)["error"].(map[string]any)["fields"].(map[string]any)
	assert.Contains(t, fields, "recipient_name")
	assert.Contains(t, fields, "purchaser_email")
	assert.Contains(t, fields, "media_url")

	rec = e.do(http.MethodPost, "/messages", map[string]any{
		"recipient_name": "Ana",
		"images":         []string{"https://a.test/1", "https://a.test/2", "https://a.test/3", "https://a.test/4"},
	}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"images"`)

	rec = e.do(http.MethodPost, "/messages", map[string]any{"recipient_name": "Ana", "surprise": true}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_json", errorCode(t, rec))

	cards := make([]map[string]any, 11)
	for i := range cards {
		cards[i] = map[string]any{"order": i + 1, "title": "Open when"}
	}
	rec = e.do(http.MethodPost, "/collections", map[string]any{"recipient_name": "Ana", "cards": cards}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cards"`)

	rec = e.do(http.MethodPost, "/checkout", map[string]any{"entity_id": "x", "product_kind": "voucher"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/checkout", map[string]any{"entity_id": "missing", "product_kind": "message"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutProviderFailure(t *testing.T) {
	e := newEnv(t)
	id := decode(t, e.do(http.MethodPost, "/messages", map[string]any{"recipient_name": "Ana"}, ""))["message"].(map[string]any)["id"].(string)
	e.provider.createErr = errors.New("stripe unavailable")

	rec := e.do(http.MethodPost, "/checkout", map[string]any{"entity_id": id, "product_kind": "message"}, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "checkout_creation_failed", errorCode(t, rec))
	assert.Contains(t, rec.Body.String(), "stripe unavailable")

	rec = e.do(http.MethodGet, "/messages/"+id, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookAcknowledgesUnresolvable(t *testing.T) {
	e := newEnv(t)

	rec := e.deliver("good", "evt_x", "", gift.KindMessage)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, webhook.ResultMalformed, decode(t, rec)["result"])

	rec = e.deliver("good", "evt_z", "order-42", gift.KindMessage)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, webhook.ResultMalformed, decode(t, rec)["result"])

	rec = e.deliver("good", "evt_y", "5b7f1f7e-0000-4000-8000-000000000000", gift.KindCollection)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, webhook.ResultNotFound, decode(t, rec)["result"])
	assert.Zero(t, e.notifier.sent)
}
