package gift

import (
	lru "github.com/hashicorp/golang-lru"
)

// SlugCache remembers slug -> entity ID. A slug is written once, at payment,
// and never changes, so entries never go stale. A nil *SlugCache is a no-op.
type SlugCache struct {
	c *lru.Cache
}

func NewSlugCache(size int) (*SlugCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &SlugCache{c: c}, nil
}

type slugKey struct {
	kind Kind
	slug string
}

func (s *SlugCache) Get(kind Kind, slug string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.c.Get(slugKey{kind, slug})
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (s *SlugCache) Add(kind Kind, slug, id string) {
	if s == nil {
		return
	}
	s.c.Add(slugKey{kind, slug}, id)
}

func (s *SlugCache) Len() int {
	if s == nil {
		return 0
	}
	return s.c.Len()
}
