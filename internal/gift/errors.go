package gift

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrCardOpened rejects content edits on a card that has been revealed.
	ErrCardOpened = errors.New("card already opened")
	// ErrNotPending rejects edits on an entity that has been paid for.
	ErrNotPending = errors.New("gift is no longer pending")

	ErrInvalidKind    = errors.New("invalid product kind")
	ErrInvalidCardSet = errors.New("a collection needs exactly 12 cards ordered 1..12")
	ErrTooManyImages  = errors.New("too many gallery images")
	ErrEmptyPatch     = errors.New("nothing to update")
)
