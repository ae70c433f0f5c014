package handler

import (
	"errors"
	"io"
	"net/http"

	"keepsake/internal/logging"
	"keepsake/internal/webhook"
)

const maxWebhookBytes = 64 << 10

type WebhookHandler struct {
	Pipeline *webhook.Handler
	Log      logging.Logger
}

func (h *WebhookHandler) Payment(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_payload", "unreadable body")
		return
	}

	out, err := h.Pipeline.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil,
		errors.Is(err, webhook.ErrMalformedMetadata),
		errors.Is(err, webhook.ErrEntityNotFound):
		// acknowledged so the provider stops redelivering
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "result": out.Result})
	case errors.Is(err, webhook.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "processing failed")
	}
}
