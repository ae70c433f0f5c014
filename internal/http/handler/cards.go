package handler

import (
	"net/http"

	"keepsake/internal/gift"
	"keepsake/internal/logging"
	"keepsake/internal/reveal"

	"github.com/go-chi/chi/v5"
)

type CardHandler struct {
	Store  *gift.Store
	Reveal *reveal.Engine
	Log    logging.Logger
}

func (h *CardHandler) CanOpen(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Reveal.CanOpen(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"can_open": ok})
}

// Open answers 200 for an existing card of a paid collection; already_opened tells the
// two outcomes apart.
func (h *CardHandler) Open(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reveal.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type updateCardReq struct {
	Title       *string `json:"title"`
	MessageText *string `json:"message_text"`
	ImageURL    *string `json:"image_url"`
	MediaURL    *string `json:"media_url"`
}

func (h *CardHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	card, err := h.Store.GetCard(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	if !owns(w, r, gift.KindCollection, card.CollectionID) {
		return
	}

	var req updateCardReq
	if !decodeJSON(w, r, &req) {
		return
	}
	fe := fieldErrors{}
	fe.optional("title", req.Title, func(f, v string) { fe.required(f, v, maxTitleLen) })
	fe.optional("message_text", req.MessageText, func(f, v string) { fe.maxLen(f, v, maxMessageLen) })
	fe.optional("image_url", req.ImageURL, fe.link)
	fe.optional("media_url", req.MediaURL, fe.link)
	if len(fe) > 0 {
		writeInvalid(w, fe)
		return
	}

	updated, err := h.Store.UpdateCard(r.Context(), id, gift.CardPatch{
		Title:       req.Title,
		MessageText: req.MessageText,
		ImageURL:    req.ImageURL,
		MediaURL:    req.MediaURL,
	})
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, updated.Meta())
}
