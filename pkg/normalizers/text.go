// Package normalizers canonicalizes raw genealogy records into comparable candidate records
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// TextNormalizer is a function that normalizes a string value
type TextNormalizer func(string) string

var registry = make(map[string]TextNormalizer)

func init() {
	Register("trim", strings.TrimSpace)
	Register("lowercase", strings.ToLower)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("strip_diacritics", StripDiacritics)
	Register("remove_punctuation", RemovePunctuation)
	Register("fold", Fold)
	Register("title", TitleCase)
}

// Register adds a text normalizer to the registry
func Register(name string, fn TextNormalizer) {
	registry[name] = fn
}

// Get retrieves a text normalizer by name
func Get(name string) (TextNormalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value. Unknown names leave the value unchanged.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	for _, name := range normalizers {
		value = Apply(value, name)
	}
	return value
}

// CollapseWhitespace trims and reduces whitespace runs to a single space
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StripDiacritics removes combining marks and expands ß
func StripDiacritics(s string) string {
	s = strings.NewReplacer("ß", "ss", "ẞ", "SS", "æ", "ae", "Æ", "AE", "ø", "o", "Ø", "O").Replace(s)
	// transformers carry state, so one is built per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// RemovePunctuation replaces punctuation with spaces, keeping letters, digits and whitespace
func RemovePunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// Fold produces the comparison form of free text: lowercase, no diacritics,
// no punctuation, single spaces
func Fold(s string) string {
	return CollapseWhitespace(RemovePunctuation(strings.ToLower(StripDiacritics(s))))
}

// TitleCase title-cases text that arrived in a single case ("JOHANN SCHMIDT", "anna weber")
// and leaves mixed case text untouched
func TitleCase(s string) string {
	if s != strings.ToUpper(s) && s != strings.ToLower(s) {
		return s
	}
	return cases.Title(language.Und).String(strings.ToLower(s))
}
