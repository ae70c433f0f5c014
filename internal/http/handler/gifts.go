package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"keepsake/internal/auth"
	"keepsake/internal/gift"
	"keepsake/internal/logging"
	"keepsake/internal/reveal"

	"github.com/go-chi/chi/v5"
)

// GiftHandler serves the compose flow: create, fetch by ID, edit while pending.
type GiftHandler struct {
	Store     *gift.Store
	Tokens    *auth.EditTokens
	MaxImages int
	Log       logging.Logger
}

type messageView struct {
	ID            string      `json:"id"`
	ProductKind   gift.Kind   `json:"product_kind"`
	Status        gift.Status `json:"status"`
	Slug          *string     `json:"slug"`
	QRCodeURL     *string     `json:"qr_code_url"`
	RecipientName string      `json:"recipient_name"`
	SenderName    string      `json:"sender_name"`
	MessageText   string      `json:"message_text"`
	TemplateID    string      `json:"template_id"`
	MediaURL      *string     `json:"media_url,omitempty"`
	Images        []string    `json:"images"`
	ViewCount     int64       `json:"view_count"`
	PaidAt        *time.Time  `json:"paid_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

func newMessageView(m *gift.Message) messageView {
	images := []string(m.Images)
	if images == nil {
		images = []string{}
	}
	return messageView{
		ID:            m.ID,
		ProductKind:   gift.KindMessage,
		Status:        m.Status,
		Slug:          m.Slug,
		QRCodeURL:     m.QRCodeURL,
		RecipientName: m.RecipientName,
		SenderName:    m.SenderName,
		MessageText:   m.MessageText,
		TemplateID:    m.TemplateID,
		MediaURL:      m.MediaURL,
		Images:        images,
		ViewCount:     m.ViewCount,
		PaidAt:        m.PaidAt,
		CreatedAt:     m.CreatedAt,
	}
}

type collectionView struct {
	ID            string          `json:"id"`
	ProductKind   gift.Kind       `json:"product_kind"`
	Status        gift.Status     `json:"status"`
	Slug          *string         `json:"slug"`
	QRCodeURL     *string         `json:"qr_code_url"`
	RecipientName string          `json:"recipient_name"`
	SenderName    string          `json:"sender_name"`
	Cards         []gift.CardMeta `json:"cards"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Cards are always projected to metadata here, opened or not.
func newCollectionView(c *gift.CardCollection) collectionView {
	return collectionView{
		ID:            c.ID,
		ProductKind:   gift.KindCollection,
		Status:        c.Status,
		Slug:          c.Slug,
		QRCodeURL:     c.QRCodeURL,
		RecipientName: c.RecipientName,
		SenderName:    c.SenderName,
		Cards:         reveal.Gallery(c.Cards),
		PaidAt:        c.PaidAt,
		CreatedAt:     c.CreatedAt,
	}
}

type createMessageReq struct {
	RecipientName  string   `json:"recipient_name"`
	SenderName     string   `json:"sender_name"`
	MessageText    string   `json:"message_text"`
	TemplateID     string   `json:"template_id"`
	PurchaserEmail string   `json:"purchaser_email"`
	MediaURL       *string  `json:"media_url"`
	Images         []string `json:"images"`
}

func (h *GiftHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageReq
	if !decodeJSON(w, r, &req) {
		return
	}
	req.RecipientName = strings.TrimSpace(req.RecipientName)
	req.SenderName = strings.TrimSpace(req.SenderName)
	req.PurchaserEmail = strings.TrimSpace(req.PurchaserEmail)

	fe := fieldErrors{}
	fe.required("recipient_name", req.RecipientName, maxNameLen)
	fe.maxLen("sender_name", req.SenderName, maxNameLen)
	fe.maxLen("message_text", req.MessageText, maxMessageLen)
	fe.email("purchaser_email", req.PurchaserEmail)
	fe.optional("media_url", req.MediaURL, fe.link)
	h.checkImages(fe, req.Images)
	if len(fe) > 0 {
		writeInvalid(w, fe)
		return
	}

	m, err := h.Store.CreateMessage(r.Context(), gift.NewMessage{
		RecipientName:  req.RecipientName,
		SenderName:     req.SenderName,
		MessageText:    req.MessageText,
		TemplateID:     req.TemplateID,
		PurchaserEmail: req.PurchaserEmail,
		MediaURL:       blankToNil(req.MediaURL),
		Images:         req.Images,
	})
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}

	tok, err := h.Tokens.Sign(gift.KindMessage, m.ID)
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": newMessageView(m), "edit_token": tok})
}

func (h *GiftHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	m, err := h.Store.GetMessage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, newMessageView(m))
}

type updateMessageReq struct {
	RecipientName  *string   `json:"recipient_name"`
	SenderName     *string   `json:"sender_name"`
	MessageText    *string   `json:"message_text"`
	TemplateID     *string   `json:"template_id"`
	PurchaserEmail *string   `json:"purchaser_email"`
	MediaURL       *string   `json:"media_url"`
	Images         *[]string `json:"images"`
}

func (h *GiftHandler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !owns(w, r, gift.KindMessage, id) {
		return
	}

	var req updateMessageReq
	if !decodeJSON(w, r, &req) {
		return
	}

	fe := fieldErrors{}
	fe.optional("recipient_name", req.RecipientName, func(f, v string) { fe.required(f, v, maxNameLen) })
	fe.optional("sender_name", req.SenderName, func(f, v string) { fe.maxLen(f, v, maxNameLen) })
	fe.optional("message_text", req.MessageText, func(f, v string) { fe.maxLen(f, v, maxMessageLen) })
	fe.optional("purchaser_email", req.PurchaserEmail, fe.email)
	fe.optional("media_url", req.MediaURL, fe.link)
	if req.Images != nil {
		h.checkImages(fe, *req.Images)
	}
	if len(fe) > 0 {
		writeInvalid(w, fe)
		return
	}

	m, err := h.Store.UpdateMessage(r.Context(), id, gift.MessagePatch{
		RecipientName:  req.RecipientName,
		SenderName:     req.SenderName,
		MessageText:    req.MessageText,
		TemplateID:     req.TemplateID,
		PurchaserEmail: req.PurchaserEmail,
		MediaURL:       req.MediaURL,
		Images:         req.Images,
	})
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, newMessageView(m))
}

type cardReq struct {
	Order       int    `json:"order"`
	Title       string `json:"title"`
	MessageText string `json:"message_text"`
}

type createCollectionReq struct {
	RecipientName  string    `json:"recipient_name"`
	SenderName     string    `json:"sender_name"`
	PurchaserEmail string    `json:"purchaser_email"`
	Cards          []cardReq `json:"cards"`
}

func (h *GiftHandler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionReq
	if !decodeJSON(w, r, &req) {
		return
	}
	req.RecipientName = strings.TrimSpace(req.RecipientName)
	req.SenderName = strings.TrimSpace(req.SenderName)
	req.PurchaserEmail = strings.TrimSpace(req.PurchaserEmail)

	fe := fieldErrors{}
	fe.required("recipient_name", req.RecipientName, maxNameLen)
	fe.maxLen("sender_name", req.SenderName, maxNameLen)
	fe.email("purchaser_email", req.PurchaserEmail)

	var templates []gift.CardTemplate
	for i, c := range req.Cards {
		fe.required(fmt.Sprintf("cards[%d].title", i), c.Title, maxTitleLen)
		fe.maxLen(fmt.Sprintf("cards[%d].message_text", i), c.MessageText, maxMessageLen)
		templates = append(templates, gift.CardTemplate{Order: c.Order, Title: strings.TrimSpace(c.Title), MessageText: c.MessageText})
	}
	if len(fe) > 0 {
		writeInvalid(w, fe)
		return
	}

	c, err := h.Store.CreateCollection(r.Context(), gift.NewCollection{
		RecipientName:  req.RecipientName,
		SenderName:     req.SenderName,
		PurchaserEmail: req.PurchaserEmail,
	}, templates)
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}

	tok, err := h.Tokens.Sign(gift.KindCollection, c.ID)
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"collection": newCollectionView(c), "edit_token": tok})
}

func (h *GiftHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetCollection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, newCollectionView(c))
}

func (h *GiftHandler) checkImages(fe fieldErrors, images []string) {
	if h.MaxImages > 0 && len(images) > h.MaxImages {
		fe["images"] = fmt.Sprintf("at most %d images", h.MaxImages)
		return
	}
	for i, img := range images {
		if img == "" {
			fe[fmt.Sprintf("images[%d]", i)] = "required"
			continue
		}
		fe.link(fmt.Sprintf("images[%d]", i), img)
	}
}

// owns rejects the request unless the edit token was issued for this gift.
func owns(w http.ResponseWriter, r *http.Request, kind gift.Kind, id string) bool {
	sub, ok := auth.SubjectFromContext(r.Context())
	if !ok || !sub.Owns(kind, id) {
		writeError(w, http.StatusForbidden, "forbidden", "edit token does not grant access to this gift")
		return false
	}
	return true
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
