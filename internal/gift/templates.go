package gift

// CardTemplate seeds one card of a new collection.
type CardTemplate struct {
	Order       int    `json:"order"`
	Title       string `json:"title"`
	MessageText string `json:"message_text"`
}

var defaultTitles = [CardsPerCollection]string{
	"Open when you miss me",
	"Open when you can't sleep",
	"Open when you need a laugh",
	"Open when you're proud of yourself",
	"Open when you feel alone",
	"Open when it's raining",
	"Open when you doubt yourself",
	"Open on a good day",
	"Open when you're stressed",
	"Open when you need a hug",
	"Open when you want to remember us",
	"Open last",
}

// DefaultCardTemplates is the emotional-journey set used when a collection is
// composed without explicit cards.
func DefaultCardTemplates() []CardTemplate {
	out := make([]CardTemplate, CardsPerCollection)
	for i, title := range defaultTitles {
		out[i] = CardTemplate{Order: i + 1, Title: title}
	}
	return out
}

// ValidateCardSet checks that ts holds exactly one template for each order 1..12.
func ValidateCardSet(ts []CardTemplate) error {
	if len(ts) != CardsPerCollection {
		return ErrInvalidCardSet
	}
	var seen [CardsPerCollection + 1]bool
	for _, t := range ts {
		if t.Order < 1 || t.Order > CardsPerCollection || seen[t.Order] {
			return ErrInvalidCardSet
		}
		seen[t.Order] = true
	}
	return nil
}
