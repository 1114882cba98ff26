// Package canonical normalizes raw retailer product names into the fields
// used for cross-retailer identity resolution.
package canonical

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// OwnBrand is the fallback brand when nothing recognisable is found.
const OwnBrand = "Own Brand"

// Result holds the normalized fields derived from one product name.
type Result struct {
	CanonicalKey string
	BrandGuess   string
	SizeGuess    string
}

// knownBrands maps a lowercase token to the display brand. Tokens are matched
// against the diacritic-folded, lowercased name, so "Nestlé" matches "nestle".
var knownBrands = []struct {
	token string
	name  string
}{
	{"tesco", "Tesco"},
	{"sainsbury", "Sainsbury's"},
	{"waitrose", "Waitrose"},
	{"morrisons", "Morrisons"},
	{"asda", "ASDA"},
	{"iceland", "Iceland"},
	{"co-op", "Co-op"},
	{"aldi", "Aldi"},
	{"lidl", "Lidl"},
	{"hovis", "Hovis"},
	{"warburtons", "Warburtons"},
	{"kingsmill", "Kingsmill"},
	{"cadbury", "Cadbury"},
	{"nestle", "Nestlé"},
	{"heinz", "Heinz"},
	{"kellogg", "Kellogg's"},
	{"walkers", "Walkers"},
	{"coca-cola", "Coca-Cola"},
	{"pepsi", "Pepsi"},
	{"innocent", "Innocent"},
}

// sizePatterns are tried in order; the multipack form goes first so
// "6 x 330ml" is captured whole instead of as "330ml".
var sizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\d+\s?x\s?\d+(?:\.\d+)?\s?(?:kg|g|ml|l)\b`),
	regexp.MustCompile(`(?i)\d+(?:\.\d+)?\s?(?:kg|g|ml|l|litre|pint|pack)\b`),
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Canonicalize derives the dedup key, a brand guess and a size guess from a
// raw product name. It is pure and safe for concurrent use.
func Canonicalize(rawName string) Result {
	return Result{
		CanonicalKey: Key(rawName),
		BrandGuess:   guessBrand(rawName),
		SizeGuess:    guessSize(rawName),
	}
}

// Key returns the deterministic identity key for a name: diacritics folded,
// lowercased, everything outside [a-z0-9] stripped. This is the fallback
// identity when no barcode is present, so it must stay stable.
func Key(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(fold(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fold strips combining marks so accented names compare equal to their
// ASCII spellings.
func fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return s
	}
	return folded
}

func guessBrand(name string) string {
	lower := strings.ToLower(fold(name))
	for _, b := range knownBrands {
		if strings.Contains(lower, b.token) {
			return b.name
		}
	}

	// Fall back to the first capitalized word longer than two characters.
	for _, word := range strings.Fields(name) {
		rs := []rune(word)
		if len(rs) > 2 && unicode.IsUpper(rs[0]) {
			return word
		}
	}
	return OwnBrand
}

func guessSize(name string) string {
	for _, p := range sizePatterns {
		if m := p.FindString(name); m != "" {
			return m
		}
	}
	return ""
}
