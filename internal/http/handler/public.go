package handler

import (
	"net/http"

	"keepsake/internal/gift"
	"keepsake/internal/logging"

	"github.com/go-chi/chi/v5"
)

// PublicHandler serves gifts by slug. A slug only exists once paid.
type PublicHandler struct {
	Store *gift.Store
	Log   logging.Logger
}

func (h *PublicHandler) Message(w http.ResponseWriter, r *http.Request) {
	h.writeMessage(w, r, chi.URLParam(r, "slug"))
}

func (h *PublicHandler) Collection(w http.ResponseWriter, r *http.Request) {
	h.writeCollection(w, r, chi.URLParam(r, "slug"))
}

func (h *PublicHandler) Gift(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	sum, err := h.Store.FindBySlug(r.Context(), slug)
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	if sum.Kind == gift.KindCollection {
		h.writeCollection(w, r, slug)
		return
	}
	h.writeMessage(w, r, slug)
}

func (h *PublicHandler) writeMessage(w http.ResponseWriter, r *http.Request, slug string) {
	m, err := h.Store.GetMessageBySlug(r.Context(), slug)
	if err == nil && m.Status != gift.StatusPaid {
		err = gift.ErrNotFound
	}
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	if err := h.Store.IncrementViews(r.Context(), m.ID); err != nil {
		h.Log.Warn(r.Context(), "increment views", "message_id", m.ID, "error", err)
	} else {
		m.ViewCount++
	}
	writeJSON(w, http.StatusOK, newMessageView(m))
}

func (h *PublicHandler) writeCollection(w http.ResponseWriter, r *http.Request, slug string) {
	c, err := h.Store.GetCollectionBySlug(r.Context(), slug)
	if err == nil && c.Status != gift.StatusPaid {
		err = gift.ErrNotFound
	}
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, newCollectionView(c))
}
