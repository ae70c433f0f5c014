package auth

import (
	"errors"
	"time"

	"keepsake/internal/gift"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Subject is the gift an edit token grants access to.
type Subject struct {
	ID   string
	Kind gift.Kind
}

type editClaims struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// EditTokens issues the bearer tokens a composer uses to keep editing a
// gift before paying for it.
type EditTokens struct {
	secret []byte
	ttl    time.Duration
}

func NewEditTokens(secret string, ttl time.Duration) *EditTokens {
	return &EditTokens{secret: []byte(secret), ttl: ttl}
}

func (e *EditTokens) Sign(kind gift.Kind, id string) (string, error) {
	now := time.Now()
	claims := editClaims{
		Kind: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(e.secret)
}

func (e *EditTokens) Verify(tokenStr string) (Subject, error) {
	var claims editClaims
	t, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (any, error) {
		return e.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !t.Valid {
		return Subject{}, ErrInvalidToken
	}

	kind, err := gift.ParseKind(claims.Kind)
	if err != nil || claims.Subject == "" {
		return Subject{}, ErrInvalidToken
	}
	return Subject{ID: claims.Subject, Kind: kind}, nil
}

// Owns reports whether the token was issued for exactly this gift.
func (s Subject) Owns(kind gift.Kind, id string) bool {
	return s.Kind == kind && s.ID == id
}
