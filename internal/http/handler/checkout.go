package handler

import (
	"errors"
	"net/http"
	"strings"

	"keepsake/internal/checkout"
	"keepsake/internal/gift"
	"keepsake/internal/logging"

	"github.com/go-chi/chi/v5"
)

type CheckoutHandler struct {
	Svc   *checkout.Service
	Store *gift.Store
	Log   logging.Logger
}

type createCheckoutReq struct {
	EntityID    string `json:"entity_id"`
	ProductKind string `json:"product_kind"`
	Email       string `json:"email"`
}

func (h *CheckoutHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutReq
	if !decodeJSON(w, r, &req) {
		return
	}
	req.EntityID = strings.TrimSpace(req.EntityID)
	req.Email = strings.TrimSpace(req.Email)

	fe := fieldErrors{}
	fe.required("entity_id", req.EntityID, 64)
	fe.email("email", req.Email)
	kind, err := gift.ParseKind(req.ProductKind)
	if err != nil {
		fe["product_kind"] = "must be message or card-collection"
	}
	if len(fe) > 0 {
		writeInvalid(w, fe)
		return
	}

	sess, err := h.Svc.Start(r.Context(), kind, req.EntityID, req.Email)
	var cf *checkout.CreationFailedError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, sess)
	case errors.As(err, &cf):
		writeError(w, http.StatusBadGateway, "checkout_creation_failed", cf.ProviderMessage)
	case errors.Is(err, checkout.ErrAlreadyPaid):
		writeError(w, http.StatusConflict, "already_paid", err.Error())
	case errors.Is(err, checkout.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeStoreError(w, r, h.Log, err)
	}
}

// GetBySession lets the payment success page find the gift, and its slug
// once the webhook has landed, without depending on email.
func (h *CheckoutHandler) GetBySession(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Store.FindBySessionRef(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
