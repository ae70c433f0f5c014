package qr

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"

	"keepsake/internal/gift"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	objects map[string][]byte
	err     error
}

func (m *memStore) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = body
	return "https://cdn.test/" + key, nil
}

func TestNewEncoder_RejectsSmallSize(t *testing.T) {
	_, err := NewEncoder(&memStore{}, 299)
	assert.ErrorIs(t, err, ErrSizeTooSmall)
}

func TestEncode_ProducesScannableSizedPNG(t *testing.T) {
	store := &memStore{}
	enc, err := NewEncoder(store, MinSize)
	require.NoError(t, err)

	a, err := enc.Encode(context.Background(), "https://keepsake.test/m/ana-m1", gift.KindMessage, "m1")
	require.NoError(t, err)

	assert.Equal(t, "qr/message/m1.png", a.Key)
	assert.Equal(t, "https://cdn.test/qr/message/m1.png", a.URL)
	assert.Equal(t, a.PNG, store.objects[a.Key])

	img, err := png.Decode(bytes.NewReader(a.PNG))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, img.Bounds().Dx(), MinSize)
	assert.GreaterOrEqual(t, img.Bounds().Dy(), MinSize)
}

func TestEncode_SameEntitySameKey(t *testing.T) {
	store := &memStore{}
	enc, err := NewEncoder(store, 512)
	require.NoError(t, err)

	a, err := enc.Encode(context.Background(), "https://keepsake.test/c/x", gift.KindCollection, "c1")
	require.NoError(t, err)
	b, err := enc.Encode(context.Background(), "https://keepsake.test/c/x", gift.KindCollection, "c1")
	require.NoError(t, err)

	assert.Equal(t, a.URL, b.URL)
	assert.Len(t, store.objects, 1)
}

func TestEncode_InvalidURL(t *testing.T) {
	enc, err := NewEncoder(&memStore{}, 512)
	require.NoError(t, err)

	for _, target := range []string{"", "/m/slug", "ftp://x/y", "https://"} {
		_, err := enc.Encode(context.Background(), target, gift.KindMessage, "m1")
		assert.ErrorIs(t, err, ErrInvalidURL, target)
	}
}

func TestEncode_StoreFailure(t *testing.T) {
	boom := errors.New("s3 down")
	enc, err := NewEncoder(&memStore{err: boom}, 512)
	require.NoError(t, err)

	_, err = enc.Encode(context.Background(), "https://keepsake.test/m/a", gift.KindMessage, "m1")
	assert.ErrorIs(t, err, boom)
}
