package slug

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"accents", "José María", "jose-maria"},
		{"mixed case and punctuation", "  Anna & Ben!!  ", "anna-ben"},
		{"digits kept", "Team 42", "team-42"},
		{"non-decomposable letters", "Søren Łukasz Straße", "soren-lukasz-strasse"},
		{"umlauts", "Jürgen Möller", "jurgen-moller"},
		{"only symbols", "!!!", Fallback},
		{"empty", "", Fallback},
		{"non latin script", "東京", Fallback},
		{"repeated separators", "a---b___c", "a-b-c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_CapsLength(t *testing.T) {
	got := Normalize(strings.Repeat("ab ", 60))
	assert.LessOrEqual(t, len(got), MaxNameLen)
	assert.False(t, strings.HasSuffix(got, "-"))
}

func TestCompose_ContainsNameAndID(t *testing.T) {
	id := "3F2504E0-4F89-11D3-9A0C-0305E82C3301"
	got := Compose("José María", id)

	assert.Equal(t, "jose-maria-3f2504e0-4f89-11d3-9a0c-0305e82c3301", got)
}

func TestCompose_SameNameDifferentIDsDiffer(t *testing.T) {
	a := Compose("Maria", "id-1")
	b := Compose("maría", "id-2")

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "maria-"))
	assert.True(t, strings.HasPrefix(b, "maria-"))
}
