package gift

import (
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Kind discriminates the two things a customer can pay for.
type Kind string

const (
	KindMessage    Kind = "message"
	KindCollection Kind = "card-collection"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMessage, KindCollection:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

type CardStatus string

const (
	CardUnopened CardStatus = "unopened"
	CardOpened   CardStatus = "opened"
)

// CardsPerCollection is the fixed size of a card collection.
const CardsPerCollection = 12

// Message is a single personalized page.
type Message struct {
	ID     string `gorm:"primaryKey;size:36"`
	Status Status `gorm:"size:16;not null;default:pending;index"`

	Slug              *string `gorm:"uniqueIndex"`
	QRCodeURL         *string `gorm:"column:qr_code_url"`
	PaymentSessionRef *string `gorm:"index"`

	RecipientName  string         `gorm:"not null"`
	SenderName     string         `gorm:"not null;default:''"`
	MessageText    string         `gorm:"type:text;not null;default:''"`
	TemplateID     string         `gorm:"not null;default:''"`
	PurchaserEmail string         `gorm:"not null;default:''"`
	MediaURL       *string        `gorm:"type:text"`
	Images         pq.StringArray `gorm:"type:text[];not null;default:'{}'"`

	ViewCount int64      `gorm:"not null;default:0"`
	PaidAt    *time.Time `gorm:"type:timestamptz"`
	CreatedAt time.Time  `gorm:"not null"`
	UpdatedAt time.Time  `gorm:"not null"`
}

// CardCollection is the "12 cards" product. Cards are created with it, as a unit.
type CardCollection struct {
	ID     string `gorm:"primaryKey;size:36"`
	Status Status `gorm:"size:16;not null;default:pending;index"`

	Slug              *string `gorm:"uniqueIndex"`
	QRCodeURL         *string `gorm:"column:qr_code_url"`
	PaymentSessionRef *string `gorm:"index"`

	RecipientName  string `gorm:"not null"`
	SenderName     string `gorm:"not null;default:''"`
	PurchaserEmail string `gorm:"not null;default:''"`

	PaidAt    *time.Time `gorm:"type:timestamptz"`
	CreatedAt time.Time  `gorm:"not null"`
	UpdatedAt time.Time  `gorm:"not null"`

	Cards []Card `gorm:"foreignKey:CollectionID"`
}

// Card belongs to a collection. Content is editable only while unopened;
// the unopened -> opened transition happens once.
type Card struct {
	ID           string `gorm:"primaryKey;size:36"`
	CollectionID string `gorm:"size:36;not null;index;uniqueIndex:ux_cards_collection_order,priority:1"`
	Order        int    `gorm:"column:card_order;not null;uniqueIndex:ux_cards_collection_order,priority:2"`

	Title       string  `gorm:"not null"`
	MessageText string  `gorm:"type:text;not null;default:''"`
	ImageURL    *string `gorm:"type:text"`
	MediaURL    *string `gorm:"type:text"`

	Status   CardStatus `gorm:"size:16;not null;default:unopened"`
	OpenedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (CardCollection) TableName() string { return "card_collections" }

// Summary is the kind-independent view of a purchasable entity.
type Summary struct {
	ID                string     `json:"id"`
	Kind              Kind       `json:"product_kind"`
	Status            Status     `json:"status"`
	RecipientName     string     `json:"recipient_name"`
	SenderName        string     `json:"sender_name"`
	PurchaserEmail    string     `json:"-"`
	Slug              *string    `json:"slug"`
	QRCodeURL         *string    `json:"qr_code_url"`
	PaymentSessionRef *string    `json:"-"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (s Summary) Paid() bool { return s.Status == StatusPaid }

func (m *Message) Summary() Summary {
	return Summary{
		ID:                m.ID,
		Kind:              KindMessage,
		Status:            m.Status,
		RecipientName:     m.RecipientName,
		SenderName:        m.SenderName,
		PurchaserEmail:    m.PurchaserEmail,
		Slug:              m.Slug,
		QRCodeURL:         m.QRCodeURL,
		PaymentSessionRef: m.PaymentSessionRef,
		PaidAt:            m.PaidAt,
		CreatedAt:         m.CreatedAt,
	}
}

func (c *CardCollection) Summary() Summary {
	return Summary{
		ID:                c.ID,
		Kind:              KindCollection,
		Status:            c.Status,
		RecipientName:     c.RecipientName,
		SenderName:        c.SenderName,
		PurchaserEmail:    c.PurchaserEmail,
		Slug:              c.Slug,
		QRCodeURL:         c.QRCodeURL,
		PaymentSessionRef: c.PaymentSessionRef,
		PaidAt:            c.PaidAt,
		CreatedAt:         c.CreatedAt,
	}
}

// CardMeta is what listing paths return for a card. It never carries content.
type CardMeta struct {
	ID       string     `json:"id"`
	Order    int        `json:"order"`
	Title    string     `json:"title"`
	Status   CardStatus `json:"status"`
	OpenedAt *time.Time `json:"opened_at"`
}

// CardFull is returned only by the call that opened the card.
type CardFull struct {
	CardMeta
	MessageText string  `json:"message_text"`
	ImageURL    *string `json:"image_url,omitempty"`
	MediaURL    *string `json:"media_url,omitempty"`
}

func (c *Card) Meta() CardMeta {
	return CardMeta{
		ID:       c.ID,
		Order:    c.Order,
		Title:    c.Title,
		Status:   c.Status,
		OpenedAt: c.OpenedAt,
	}
}

func (c *Card) Full() CardFull {
	return CardFull{
		CardMeta:    c.Meta(),
		MessageText: c.MessageText,
		ImageURL:    c.ImageURL,
		MediaURL:    c.MediaURL,
	}
}

// MetaList projects cards for a gallery.
func MetaList(cards []Card) []CardMeta {
	out := make([]CardMeta, 0, len(cards))
	for i := range cards {
		out = append(out, cards[i].Meta())
	}
	return out
}
