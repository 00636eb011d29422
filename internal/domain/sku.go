package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SKUPrefix is the brand segment every variant SKU starts with.
const SKUPrefix = "TB"

// NormalizeSKUSegment upper-cases a name, removes whitespace and strips diacritics.
func NormalizeSKUSegment(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, value)
	if err != nil {
		stripped = value
	}
	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// ExpectedSKU composes TB-<COLLECTION>-<DESIGN>-<COLOR>.
func ExpectedSKU(collection, design, color string) string {
	return strings.Join([]string{
		SKUPrefix,
		NormalizeSKUSegment(collection),
		NormalizeSKUSegment(design),
		NormalizeSKUSegment(color),
	}, "-")
}

// ValidSKU reports whether sku matches the expected format for the variant.
func ValidSKU(sku, collection, design, color string) bool {
	return strings.TrimSpace(sku) == ExpectedSKU(collection, design, color)
}

// Slugify lower-cases a name, dashes spaces and drops anything that is not a word character or dash.
func Slugify(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, strings.TrimSpace(value))
	if err != nil {
		stripped = value
	}
	var b strings.Builder
	for _, r := range strings.ToLower(stripped) {
		switch {
		case r == ' ' || r == '-':
			b.WriteRune('-')
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeEnum(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}
