package normalizers

import (
	"strings"
)

const (
	CountryGermany      = "Germany"
	CountryUnitedStates = "United States"
)

// countryAliases maps folded country names, demonyms and historical states to a canonical country
var countryAliases = map[string]string{
	"germany":                  CountryGermany,
	"german":                   CountryGermany,
	"deutschland":              CountryGermany,
	"deutsches reich":          CountryGermany,
	"german empire":            CountryGermany,
	"prussia":                  CountryGermany,
	"prussian":                 CountryGermany,
	"preussen":                 CountryGermany,
	"bavaria":                  CountryGermany,
	"bavarian":                 CountryGermany,
	"bayern":                   CountryGermany,
	"saxony":                   CountryGermany,
	"sachsen":                  CountryGermany,
	"wurttemberg":              CountryGermany,
	"wuerttemberg":             CountryGermany,
	"baden":                    CountryGermany,
	"hesse":                    CountryGermany,
	"hessen":                   CountryGermany,
	"hanover":                  CountryGermany,
	"hannover":                 CountryGermany,
	"westphalia":               CountryGermany,
	"mecklenburg":              CountryGermany,
	"oldenburg":                CountryGermany,
	"austria":                  "Austria",
	"austrian":                 "Austria",
	"osterreich":               "Austria",
	"oesterreich":              "Austria",
	"austria hungary":          "Austria",
	"switzerland":              "Switzerland",
	"swiss":                    "Switzerland",
	"united states":            CountryUnitedStates,
	"united states of america": CountryUnitedStates,
	"usa":                      CountryUnitedStates,
	"u s a":                    CountryUnitedStates,
	"us":                       CountryUnitedStates,
	"u s":                      CountryUnitedStates,
	"america":                  CountryUnitedStates,
	"american":                 CountryUnitedStates,
	"ireland":                  "Ireland",
	"irish":                    "Ireland",
	"italy":                    "Italy",
	"italian":                  "Italy",
	"poland":                   "Poland",
	"polish":                   "Poland",
	"russia":                   "Russia",
	"russian":                  "Russia",
	"sweden":                   "Sweden",
	"swedish":                  "Sweden",
	"norway":                   "Norway",
	"norwegian":                "Norway",
	"denmark":                  "Denmark",
	"danish":                   "Denmark",
	"netherlands":              "Netherlands",
	"holland":                  "Netherlands",
	"dutch":                    "Netherlands",
	"france":                   "France",
	"french":                   "France",
	"hungary":                  "Hungary",
	"hungarian":                "Hungary",
	"england":                  "United Kingdom",
	"english":                  "United Kingdom",
	"scotland":                 "United Kingdom",
	"scottish":                 "United Kingdom",
	"wales":                    "United Kingdom",
	"great britain":            "United Kingdom",
	"united kingdom":           "United Kingdom",
	"uk":                       "United Kingdom",
	"british":                  "United Kingdom",
	"canada":                   "Canada",
	"canadian":                 "Canada",
	"mexico":                   "Mexico",
	"mexican":                  "Mexico",
}

// CanonicalCountry returns the canonical name for a country, demonym or historical
// German state, or "" when the value is not recognized.
func CanonicalCountry(s string) string {
	return countryAliases[Fold(s)]
}

// ExtractCountry finds the country a place string refers to. Comma components
// are checked from last to first, then every word and word pair.
// Unrecognized places yield "".
func ExtractCountry(place string) string {
	parts := splitParts(place)
	for i := len(parts) - 1; i >= 0; i-- {
		if c := CanonicalCountry(parts[i]); c != "" {
			return c
		}
	}
	words := strings.Fields(Fold(place))
	for i := len(words) - 1; i >= 0; i-- {
		if i > 0 {
			if c := countryAliases[words[i-1]+" "+words[i]]; c != "" {
				return c
			}
		}
		// two letter words like "us" are too ambiguous inside free text
		if len(words[i]) > 2 {
			if c := countryAliases[words[i]]; c != "" {
				return c
			}
		}
	}
	return ""
}

// SameCountry compares two countries by their canonical form
func SameCountry(a, b string) bool {
	ca, cb := CanonicalCountry(a), CanonicalCountry(b)
	if ca == "" {
		ca = Fold(a)
	}
	if cb == "" {
		cb = Fold(b)
	}
	return ca != "" && ca == cb
}
