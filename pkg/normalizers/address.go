package normalizers

import (
	"strings"
	"unicode"

	"github.com/Ramsey-B/rowan/pkg/models"
)

var streetWords = []string{"street", "avenue", "ave", "road", "rd", "lane", "boulevard", "blvd", "drive", "strasse", "str", "weg", "platz", "gasse"}

// ParseAddress splits a comma-separated address into street, city, region and country.
// defaultCountry fills the country when none is recognized. Returns nil for blank input.
func ParseAddress(raw, defaultCountry string) *models.StructuredAddress {
	parts := splitParts(raw)
	if len(parts) == 0 {
		return nil
	}

	addr := &models.StructuredAddress{}
	if len(parts) > 1 {
		if c := CanonicalCountry(parts[len(parts)-1]); c != "" {
			addr.Country = c
			parts = parts[:len(parts)-1]
		}
	}

	if isStreet(parts[0]) {
		addr.Street = parts[0]
		parts = parts[1:]
	}

	switch len(parts) {
	case 0:
	case 1:
		addr.City = parts[0]
	case 2:
		addr.City, addr.Region = parts[0], parts[1]
	default:
		addr.City = parts[0]
		addr.Region = parts[1]
		if addr.Country == "" {
			addr.Country = strings.Join(parts[2:], ", ")
		}
	}

	if addr.Country == "" {
		addr.Country = defaultCountry
	}
	if addr.IsEmpty() {
		return nil
	}
	return addr
}

// SameAddress compares addresses component by component on their folded form
func SameAddress(a, b models.StructuredAddress) bool {
	return Fold(a.Street) == Fold(b.Street) &&
		Fold(a.City) == Fold(b.City) &&
		Fold(a.Region) == Fold(b.Region) &&
		SameCountryOrBlank(a.Country, b.Country)
}

// SameCountryOrBlank is SameCountry that also treats two blanks as equal
func SameCountryOrBlank(a, b string) bool {
	if strings.TrimSpace(a) == "" && strings.TrimSpace(b) == "" {
		return true
	}
	return SameCountry(a, b)
}

func isStreet(part string) bool {
	runes := []rune(part)
	if len(runes) > 0 && unicode.IsDigit(runes[0]) {
		return true
	}
	for _, w := range strings.Fields(Fold(part)) {
		for _, sw := range streetWords {
			if w == sw {
				return true
			}
		}
	}
	return strings.HasSuffix(Fold(part), "strasse")
}

func splitParts(s string) []string {
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		p = CollapseWhitespace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
