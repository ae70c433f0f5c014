// Package slug builds the public, URL-safe path segment of a paid gift.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxNameLen caps the name part of a slug, in runes.
const MaxNameLen = 48

// Fallback is used when a name has no usable characters.
const Fallback = "gift"

// letters that carry no combining mark under NFD
var folds = strings.NewReplacer(
	"ß", "ss", "æ", "ae", "Æ", "ae", "œ", "oe", "Œ", "oe",
	"ø", "o", "Ø", "o", "ł", "l", "Ł", "l", "đ", "d", "Đ", "d",
	"þ", "th", "Þ", "th",
)

// Normalize turns a display name into lowercase ASCII words joined by single hyphens.
//
//	Normalize("José María") == "jose-maria"
func Normalize(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, folds.Replace(name))
	if err != nil {
		folded = name
	}

	var b strings.Builder
	n := 0
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if n >= MaxNameLen {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				if n+2 > MaxNameLen {
					break
				}
				b.WriteByte('-')
				n++
			}
			pendingDash = false
			b.WriteRune(r)
			n++
			continue
		}
		pendingDash = true
	}

	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return Fallback
	}
	return out
}

// Compose returns the slug for an entity: normalized name, a hyphen, the entity ID.
// Because the ID is unique, two entities with the same name never collide.
func Compose(name, id string) string {
	return Normalize(name) + "-" + strings.ToLower(strings.TrimSpace(id))
}
