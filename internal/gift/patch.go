package gift

import (
	"time"

	"github.com/lib/pq"
)

// CardPatch lists the card columns to change. Nil fields are left alone.
// For the nullable URLs a pointer to "" clears the column.
type CardPatch struct {
	Title       *string
	MessageText *string
	ImageURL    *string
	MediaURL    *string
}

func (p CardPatch) Empty() bool {
	return p.Title == nil && p.MessageText == nil && p.ImageURL == nil && p.MediaURL == nil
}

func (p CardPatch) columns(now time.Time) map[string]any {
	cols := map[string]any{"updated_at": now}
	if p.Title != nil {
		cols["title"] = *p.Title
	}
	if p.MessageText != nil {
		cols["message_text"] = *p.MessageText
	}
	if p.ImageURL != nil {
		cols["image_url"] = nullable(*p.ImageURL)
	}
	if p.MediaURL != nil {
		cols["media_url"] = nullable(*p.MediaURL)
	}
	return cols
}

// MessagePatch lists the message columns to change while it is still pending.
type MessagePatch struct {
	RecipientName  *string
	SenderName     *string
	MessageText    *string
	TemplateID     *string
	PurchaserEmail *string
	MediaURL       *string
	Images         *[]string
}

func (p MessagePatch) Empty() bool {
	return p.RecipientName == nil && p.SenderName == nil && p.MessageText == nil &&
		p.TemplateID == nil && p.PurchaserEmail == nil && p.MediaURL == nil && p.Images == nil
}

func (p MessagePatch) columns(now time.Time) map[string]any {
	cols := map[string]any{"updated_at": now}
	if p.RecipientName != nil {
		cols["recipient_name"] = *p.RecipientName
	}
	if p.SenderName != nil {
		cols["sender_name"] = *p.SenderName
	}
	if p.MessageText != nil {
		cols["message_text"] = *p.MessageText
	}
	if p.TemplateID != nil {
		cols["template_id"] = *p.TemplateID
	}
	if p.PurchaserEmail != nil {
		cols["purchaser_email"] = *p.PurchaserEmail
	}
	if p.MediaURL != nil {
		cols["media_url"] = nullable(*p.MediaURL)
	}
	if p.Images != nil {
		cols["images"] = pq.StringArray(*p.Images)
	}
	return cols
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
