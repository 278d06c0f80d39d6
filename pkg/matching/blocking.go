package matching

import (
	"math"
	"sort"

	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/normalizers"
)

// fullScanEpsilon absorbs float error when comparing weight sums to the review threshold
const fullScanEpsilon = 1e-9

// PhoneticKeys returns the sorted, distinct Soundex keys of the synonym-canonical
// name tokens. Particles are skipped.
func PhoneticKeys(tokens []string) []string {
	seen := make(map[string]bool)
	keys := make([]string, 0, len(tokens))
	for _, t := range FoldTokens(tokens) {
		if normalizers.IsParticle(t) {
			continue
		}
		key := Soundex(CanonicalToken(t))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// LockKeys are the keys a resolution of the name holds: its phonetic keys, so that two
// names sharing any blocking key are resolved one at a time. A name without phonetic
// keys falls back to its FamilyKey.
func LockKeys(name models.PersonName) []string {
	if keys := PhoneticKeys(name.Tokens); len(keys) > 0 {
		return keys
	}
	return []string{FamilyKey(name)}
}

// FamilyKey is the Soundex of the synonym-canonical family name, or of the last
// non-particle token when no family name was recognized.
func FamilyKey(name models.PersonName) string {
	tokens := FoldTokens([]string{name.Last})
	if len(tokens) == 0 {
		tokens = FoldTokens(name.Tokens)
	}
	for i := len(tokens) - 1; i >= 0; i-- {
		if normalizers.IsParticle(tokens[i]) && i > 0 {
			continue
		}
		if key := Soundex(CanonicalToken(tokens[i])); key != "" {
			return key
		}
	}
	return "_"
}

// CandidateQuery returns the blocking query for a candidate. Persons outside it have no
// shared phonetic name key and a birth year far enough away that the date component is 0,
// which keeps them below the review threshold. When that argument does not hold (unknown
// birth date, or the non-date weights alone reach the threshold) every person is scanned.
func (m *Matcher) CandidateQuery(c models.CandidateRecord) models.CandidateQuery {
	q := models.CandidateQuery{PhoneticKeys: PhoneticKeys(c.Name.Tokens)}

	nonDate := m.config.NameWeight + m.config.BirthPlaceWeight + m.config.BirthCountryWeight
	if !c.BirthDate.IsKnown() || nonDate > m.config.ReviewThreshold+fullScanEpsilon {
		q.FullScan = true
		return q
	}

	window := int(math.Ceil(float64(m.toleranceDays())/365)) + 1
	q.MinBirthYear = c.BirthDate.Year - window
	q.MaxBirthYear = c.BirthDate.Year + window
	return q
}
