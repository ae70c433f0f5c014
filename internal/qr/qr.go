// Package qr renders the scannable code printed on a gift and publishes it.
package qr

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"keepsake/internal/gift"
	"keepsake/internal/storage"

	qrcode "github.com/skip2/go-qrcode"
)

// MinSize is the smallest edge, in pixels, that scans reliably once printed.
const MinSize = 300

var (
	ErrSizeTooSmall = fmt.Errorf("qr size must be at least %d px", MinSize)
	ErrInvalidURL   = errors.New("qr target must be an absolute http(s) url")
)

// Artifact is a rendered code and where it was published.
type Artifact struct {
	Key string
	URL string
	PNG []byte
}

type Encoder struct {
	store storage.ObjectStore
	size  int
}

func NewEncoder(store storage.ObjectStore, size int) (*Encoder, error) {
	if size < MinSize {
		return nil, ErrSizeTooSmall
	}
	return &Encoder{store: store, size: size}, nil
}

// Key is the storage key of an entity's code. It depends only on the entity,
// so re-encoding after a redelivered webhook overwrites the same object.
func Key(kind gift.Kind, entityID string) string {
	return fmt.Sprintf("qr/%s/%s.png", kind, entityID)
}

// Render produces the PNG bytes for target without publishing them.
func (e *Encoder) Render(target string) ([]byte, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidURL
	}
	return qrcode.Encode(target, qrcode.Medium, e.size)
}

// Encode renders target and uploads it under Key(kind, entityID).
func (e *Encoder) Encode(ctx context.Context, target string, kind gift.Kind, entityID string) (Artifact, error) {
	png, err := e.Render(target)
	if err != nil {
		return Artifact{}, err
	}
	key := Key(kind, entityID)
	publicURL, err := e.store.Put(ctx, key, png, "image/png")
	if err != nil {
		return Artifact{}, fmt.Errorf("store qr: %w", err)
	}
	return Artifact{Key: key, URL: publicURL, PNG: png}, nil
}
