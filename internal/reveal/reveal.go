// Package reveal performs the one-time opening of a card.
package reveal

import (
	"context"

	"keepsake/internal/gift"
	"keepsake/internal/logging"
)

type Store interface {
	GetCard(ctx context.Context, id string) (*gift.Card, error)
	CanOpen(ctx context.Context, id string) (bool, error)
	MarkCardOpened(ctx context.Context, id string) (*gift.Card, bool, error)
}

// Result is what an open call hands back. Card holds a gift.CardFull when
// this call performed the reveal and a gift.CardMeta otherwise.
type Result struct {
	Card          any  `json:"card"`
	AlreadyOpened bool `json:"already_opened"`
}

type Engine struct {
	store Store
	log   logging.Logger
}

func NewEngine(s Store, log logging.Logger) *Engine {
	return &Engine{store: s, log: log}
}

// Open reveals a card. Opening an already opened card is a normal outcome,
// not an error. A missing card, or one whose collection has not been paid
// for, yields gift.ErrNotFound.
func (e *Engine) Open(ctx context.Context, cardID string) (Result, error) {
	ok, err := e.store.CanOpen(ctx, cardID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		c, err := e.store.GetCard(ctx, cardID)
		if err != nil {
			return Result{}, err
		}
		return Result{Card: c.Meta(), AlreadyOpened: true}, nil
	}

	c, opened, err := e.store.MarkCardOpened(ctx, cardID)
	if err != nil {
		return Result{}, err
	}
	if !opened {
		// Lost a race with a concurrent open of the same card.
		return Result{Card: c.Meta(), AlreadyOpened: true}, nil
	}

	e.log.Info(ctx, "card opened", "card_id", c.ID, "collection_id", c.CollectionID, "order", c.Order)
	return Result{Card: c.Full(), AlreadyOpened: false}, nil
}

func (e *Engine) CanOpen(ctx context.Context, cardID string) (bool, error) {
	return e.store.CanOpen(ctx, cardID)
}

// Gallery is the only projection listing paths may use.
func Gallery(cards []gift.Card) []gift.CardMeta {
	return gift.MetaList(cards)
}
