package normalizers

import (
	"strings"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/rowan/pkg/models"
)

var honorifics = []string{"mr", "mrs", "ms", "miss", "dr", "rev", "herr", "frau", "fraulein"}

var nameSuffixes = []string{"jr", "sr", "ii", "iii", "iv", "esq", "phd", "md"}

// particles attach to the following family name ("von Braun", "van der Berg")
var particles = []string{"von", "van", "de", "der", "den", "del", "della", "di", "da", "du", "le", "la", "zu", "zum", "zur", "vom", "ten", "ter", "af"}

// ParseName splits a free-text name into first, middle and family parts.
// Supports "First Middle Last" and "Last, First Middle". Single tokens become the first name.
func ParseName(raw string) models.PersonName {
	raw = CollapseWhitespace(strings.Trim(raw, " \t\"'"))
	if raw == "" {
		return models.PersonName{}
	}

	var given, family []string
	if before, after, found := strings.Cut(raw, ","); found && !isSuffixOnly(after) {
		family = trimSuffixes(cleanTokens(before))
		given = trimSuffixes(trimHonorifics(cleanTokens(after)))
	} else {
		if found {
			raw = before
		}
		tokens := trimSuffixes(trimHonorifics(cleanTokens(raw)))
		given, family = splitFamily(tokens)
	}

	name := models.PersonName{}
	if len(given) > 0 {
		name.First = TitleCase(given[0])
		name.Middle = strings.Join(ectolinq.Map(given[1:], titleToken), " ")
	}
	name.Last = strings.Join(ectolinq.Map(family, titleToken), " ")

	tokens := make([]string, 0, len(given)+len(family))
	tokens = append(tokens, ectolinq.Map(given, titleToken)...)
	tokens = append(tokens, ectolinq.Map(family, titleToken)...)
	name.Tokens = tokens
	name.Full = strings.Join(tokens, " ")
	return name
}

// splitFamily takes the last token plus any particles directly before it as the
// family name. One remaining token is kept as the given name.
func splitFamily(tokens []string) (given, family []string) {
	if len(tokens) <= 1 {
		return tokens, nil
	}
	start := len(tokens) - 1
	for start > 1 && IsParticle(tokens[start-1]) {
		start--
	}
	return tokens[:start], tokens[start:]
}

func cleanTokens(s string) []string {
	fields := strings.Fields(s)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:()[]\"'")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func trimHonorifics(tokens []string) []string {
	for len(tokens) > 1 && ectolinq.Contains(honorifics, Fold(tokens[0])) {
		tokens = tokens[1:]
	}
	return tokens
}

func trimSuffixes(tokens []string) []string {
	for len(tokens) > 1 && ectolinq.Contains(nameSuffixes, Fold(tokens[len(tokens)-1])) {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

func isSuffixOnly(s string) bool {
	tokens := cleanTokens(s)
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if !ectolinq.Contains(nameSuffixes, Fold(t)) {
			return false
		}
	}
	return true
}

// IsParticle reports whether a token is a family-name particle such as "von" or "van"
func IsParticle(token string) bool {
	return ectolinq.Contains(particles, Fold(token))
}

func titleToken(token string) string {
	if IsParticle(token) {
		return strings.ToLower(token)
	}
	return TitleCase(token)
}
