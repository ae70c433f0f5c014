package gift

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Limits are product bounds applied at the repository boundary.
type Limits struct {
	MaxImages int
}

// Store persists messages, collections and cards. Every state transition is
// a conditional update guarded by the prior state; that is the only
// concurrency control.
type Store struct {
	db     *gorm.DB
	limits Limits
	slugs  *SlugCache
	now    func() time.Time
}

// NewStore wires a Store. slugs may be nil.
func NewStore(db *gorm.DB, limits Limits, slugs *SlugCache) *Store {
	return &Store{db: db, limits: limits, slugs: slugs, now: func() time.Time { return time.Now().UTC() }}
}

type NewMessage struct {
	RecipientName  string
	SenderName     string
	MessageText    string
	TemplateID     string
	PurchaserEmail string
	MediaURL       *string
	Images         []string
}

type NewCollection struct {
	RecipientName  string
	SenderName     string
	PurchaserEmail string
}

func (s *Store) CreateMessage(ctx context.Context, in NewMessage) (*Message, error) {
	if err := s.checkImages(len(in.Images)); err != nil {
		return nil, err
	}
	now := s.now()
	m := Message{
		ID:             uuid.NewString(),
		Status:         StatusPending,
		RecipientName:  in.RecipientName,
		SenderName:     in.SenderName,
		MessageText:    in.MessageText,
		TemplateID:     in.TemplateID,
		PurchaserEmail: in.PurchaserEmail,
		MediaURL:       in.MediaURL,
		Images:         pq.StringArray(in.Images),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if m.Images == nil {
		m.Images = pq.StringArray{}
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateCollection inserts the collection and its 12 cards in one transaction.
// Either all 13 rows exist afterwards or none do.
func (s *Store) CreateCollection(ctx context.Context, in NewCollection, cards []CardTemplate) (*CardCollection, error) {
	if len(cards) == 0 {
		cards = DefaultCardTemplates()
	}
	if err := ValidateCardSet(cards); err != nil {
		return nil, err
	}

	now := s.now()
	c := CardCollection{
		ID:             uuid.NewString(),
		Status:         StatusPending,
		RecipientName:  in.RecipientName,
		SenderName:     in.SenderName,
		PurchaserEmail: in.PurchaserEmail,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	rows := make([]Card, 0, len(cards))
	for _, t := range cards {
		rows = append(rows, Card{
			ID:           uuid.NewString(),
			CollectionID: c.ID,
			Order:        t.Order,
			Title:        t.Title,
			MessageText:  t.MessageText,
			Status:       CardUnopened,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Cards").Create(&c).Error; err != nil {
			return err
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(rows, func(a, b Card) int { return a.Order - b.Order })
	c.Cards = rows
	return &c, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var m Message
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// GetCollection loads a collection with its cards in order.
func (s *Store) GetCollection(ctx context.Context, id string) (*CardCollection, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var c CardCollection
	err := s.db.WithContext(ctx).
		Preload("Cards", func(db *gorm.DB) *gorm.DB { return db.Order("card_order asc") }).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) GetCard(ctx context.Context, id string) (*Card, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var c Card
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) ListCards(ctx context.Context, collectionID string) ([]Card, error) {
	if !validID(collectionID) {
		return nil, nil
	}
	var cards []Card
	err := s.db.WithContext(ctx).
		Where("collection_id = ?", collectionID).
		Order("card_order asc").
		Find(&cards).Error
	return cards, err
}

// GetSummary loads either kind by primary key.
func (s *Store) GetSummary(ctx context.Context, kind Kind, id string) (Summary, error) {
	switch kind {
	case KindMessage:
		m, err := s.GetMessage(ctx, id)
		if err != nil {
			return Summary{}, err
		}
		return m.Summary(), nil
	case KindCollection:
		if !validID(id) {
			return Summary{}, ErrNotFound
		}
		var c CardCollection
		if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
			return Summary{}, notFound(err)
		}
		return c.Summary(), nil
	default:
		return Summary{}, ErrInvalidKind
	}
}

// FindBySessionRef resolves the entity a checkout session was created for.
// It backs the payment success page, independent of email delivery.
func (s *Store) FindBySessionRef(ctx context.Context, ref string) (Summary, error) {
	if strings.TrimSpace(ref) == "" {
		return Summary{}, ErrNotFound
	}
	return s.findEither(ctx, "payment_session_ref = ?", ref)
}

// FindBySlug resolves a public slug of either kind.
func (s *Store) FindBySlug(ctx context.Context, slug string) (Summary, error) {
	if id, ok := s.slugs.Get(KindMessage, slug); ok {
		return s.GetSummary(ctx, KindMessage, id)
	}
	if id, ok := s.slugs.Get(KindCollection, slug); ok {
		return s.GetSummary(ctx, KindCollection, id)
	}
	sum, err := s.findEither(ctx, "slug = ?", slug)
	if err == nil {
		s.slugs.Add(sum.Kind, slug, sum.ID)
	}
	return sum, err
}

// findEither runs the same lookup against both tables concurrently.
func (s *Store) findEither(ctx context.Context, where string, arg any) (Summary, error) {
	var (
		msg  Message
		coll CardCollection
		mOK  bool
		cOK  bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.db.WithContext(gctx).Where(where, arg).Limit(1).Find(&msg).Error
		mOK = err == nil && msg.ID != ""
		return err
	})
	g.Go(func() error {
		err := s.db.WithContext(gctx).Where(where, arg).Limit(1).Find(&coll).Error
		cOK = err == nil && coll.ID != ""
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	switch {
	case mOK:
		return msg.Summary(), nil
	case cOK:
		return coll.Summary(), nil
	default:
		return Summary{}, ErrNotFound
	}
}

// GetMessageBySlug loads a paid message by its public slug.
func (s *Store) GetMessageBySlug(ctx context.Context, slug string) (*Message, error) {
	if id, ok := s.slugs.Get(KindMessage, slug); ok {
		return s.GetMessage(ctx, id)
	}
	var m Message
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	s.slugs.Add(KindMessage, slug, m.ID)
	return &m, nil
}

// GetCollectionBySlug loads a paid collection and its cards by public slug.
func (s *Store) GetCollectionBySlug(ctx context.Context, slug string) (*CardCollection, error) {
	if id, ok := s.slugs.Get(KindCollection, slug); ok {
		return s.GetCollection(ctx, id)
	}
	var c CardCollection
	if err := s.db.WithContext(ctx).Select("id").Where("slug = ?", slug).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	s.slugs.Add(KindCollection, slug, c.ID)
	return s.GetCollection(ctx, c.ID)
}

// SetPaymentSession records the checkout session on the entity, replacing any
// earlier one: a buyer may restart checkout before paying.
func (s *Store) SetPaymentSession(ctx context.Context, kind Kind, id, ref string) error {
	model, err := modelFor(kind)
	if err != nil {
		return err
	}
	if !validID(id) {
		return ErrNotFound
	}
	res := s.db.WithContext(ctx).Model(model).
		Where("id = ?", id).
		Updates(map[string]any{"payment_session_ref": ref, "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaid flips a pending entity to paid and stores slug and QR URL in the
// same statement. It reports false when no row matched, meaning the entity is
// already paid (or missing); callers treat that as a duplicate delivery.
func (s *Store) MarkPaid(ctx context.Context, kind Kind, id, slug, qrURL string) (bool, error) {
	model, err := modelFor(kind)
	if err != nil {
		return false, err
	}
	if !validID(id) {
		return false, nil
	}
	now := s.now()
	res := s.db.WithContext(ctx).Model(model).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":      StatusPaid,
			"slug":        slug,
			"qr_code_url": qrURL,
			"paid_at":     now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IncrementViews bumps the public view counter of a paid message.
func (s *Store) IncrementViews(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	return s.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND status = ?", id, StatusPaid).
		Updates(map[string]any{
			"view_count": gorm.Expr("view_count + 1"),
			"updated_at": s.now(),
		}).Error
}

// CanOpen answers whether a card of a paid collection is still unopened. It
// is advisory only; MarkCardOpened is the real gate. Cards of unpaid
// collections are reported as ErrNotFound.
func (s *Store) CanOpen(ctx context.Context, cardID string) (bool, error) {
	c, err := s.revealableCard(ctx, cardID)
	if err != nil {
		return false, err
	}
	return c.Status == CardUnopened, nil
}

// MarkCardOpened opens a card if it is still unopened and its collection is
// paid, then returns the stored row. The bool is true only for the call whose
// update matched; every other call gets the row as it already was, with the
// first opened_at. A card whose collection is unpaid is ErrNotFound and stays
// unopened.
func (s *Store) MarkCardOpened(ctx context.Context, cardID string) (*Card, bool, error) {
	if !validID(cardID) {
		return nil, false, ErrNotFound
	}
	now := s.now()
	res := s.db.WithContext(ctx).Model(&Card{}).
		Where("id = ? AND status = ? AND collection_id IN (?)", cardID, CardUnopened, s.paidCollections()).
		Updates(map[string]any{
			"status":     CardOpened,
			"opened_at":  now,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	c, err := s.revealableCard(ctx, cardID)
	if err != nil {
		return nil, false, err
	}
	return c, res.RowsAffected == 1, nil
}

// revealableCard loads a card only if its collection has been paid for.
func (s *Store) revealableCard(ctx context.Context, id string) (*Card, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var c Card
	err := s.db.WithContext(ctx).
		Where("id = ? AND collection_id IN (?)", id, s.paidCollections()).
		First(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) paidCollections() *gorm.DB {
	return s.db.Model(&CardCollection{}).Select("id").Where("status = ?", StatusPaid)
}

// UpdateCard applies a content patch to a card that is still unopened.
func (s *Store) UpdateCard(ctx context.Context, cardID string, p CardPatch) (*Card, error) {
	if p.Empty() {
		return nil, ErrEmptyPatch
	}
	if !validID(cardID) {
		return nil, ErrNotFound
	}
	res := s.db.WithContext(ctx).Model(&Card{}).
		Where("id = ? AND status = ?", cardID, CardUnopened).
		Updates(p.columns(s.now()))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetCard(ctx, cardID); err != nil {
			return nil, err
		}
		return nil, ErrCardOpened
	}
	return s.GetCard(ctx, cardID)
}

// UpdateMessage applies a patch to a message that has not been paid for.
func (s *Store) UpdateMessage(ctx context.Context, id string, p MessagePatch) (*Message, error) {
	if p.Empty() {
		return nil, ErrEmptyPatch
	}
	if p.Images != nil {
		if err := s.checkImages(len(*p.Images)); err != nil {
			return nil, err
		}
	}
	if !validID(id) {
		return nil, ErrNotFound
	}
	res := s.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(p.columns(s.now()))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetMessage(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotPending
	}
	return s.GetMessage(ctx, id)
}

func (s *Store) checkImages(n int) error {
	if s.limits.MaxImages > 0 && n > s.limits.MaxImages {
		return ErrTooManyImages
	}
	return nil
}

func modelFor(kind Kind) (any, error) {
	switch kind {
	case KindMessage:
		return &Message{}, nil
	case KindCollection:
		return &CardCollection{}, nil
	default:
		return nil, ErrInvalidKind
	}
}

// validID reports whether id can be a primary key. Keys are uuid columns, so
// anything else is a miss rather than a query error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
