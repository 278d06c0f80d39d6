// Package matching scores candidate records against existing persons
package matching

import (
	"math"
	"strings"

	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/normalizers"
)

// Decision is the policy outcome for a match score
type Decision string

const (
	DecisionMerge  Decision = "merge"
	DecisionReview Decision = "review"
	DecisionCreate Decision = "create"
)

// Config holds the component weights and thresholds
type Config struct {
	NameWeight         float64
	BirthDateWeight    float64
	BirthPlaceWeight   float64
	BirthCountryWeight float64
	AutoMergeThreshold float64
	ReviewThreshold    float64
	DateToleranceYears int
	NeutralScore       float64
}

// DefaultConfig returns the standard weights (0.4/0.3/0.2/0.1), thresholds (0.90/0.70)
// and a two year date tolerance
func DefaultConfig() Config {
	return Config{
		NameWeight:         0.40,
		BirthDateWeight:    0.30,
		BirthPlaceWeight:   0.20,
		BirthCountryWeight: 0.10,
		AutoMergeThreshold: 0.90,
		ReviewThreshold:    0.70,
		DateToleranceYears: 2,
		NeutralScore:       0.5,
	}
}

// Component is one weighted factor of the match score
type Component struct {
	Name   string
	Weight float64
	Score  func(c models.CandidateRecord, p models.Person) float64
	record func(b *models.ScoreBreakdown, v float64)
}

// Match is a scored person
type Match struct {
	Person    models.Person
	Breakdown models.ScoreBreakdown
}

// Matcher is pure and safe for concurrent use
type Matcher struct {
	config     Config
	components []Component
}

// NewMatcher builds the component list from the config
func NewMatcher(config Config) *Matcher {
	m := &Matcher{config: config}
	m.components = []Component{
		{
			Name:   "name",
			Weight: config.NameWeight,
			Score: func(c models.CandidateRecord, p models.Person) float64 {
				return NameSimilarity(c.Name.Tokens, p.NameTokens())
			},
			record: func(b *models.ScoreBreakdown, v float64) { b.Name = v },
		},
		{
			Name:   "birth_date",
			Weight: config.BirthDateWeight,
			Score: func(c models.CandidateRecord, p models.Person) float64 {
				return DateProximity(c.BirthDate, p.BirthDate, m.toleranceDays(), config.NeutralScore)
			},
			record: func(b *models.ScoreBreakdown, v float64) { b.BirthDate = v },
		},
		{
			Name:   "birth_place",
			Weight: config.BirthPlaceWeight,
			Score: func(c models.CandidateRecord, p models.Person) float64 {
				return PlaceSimilarity(c.BirthPlace, p.BirthPlace, config.NeutralScore)
			},
			record: func(b *models.ScoreBreakdown, v float64) { b.BirthPlace = v },
		},
		{
			Name:   "birth_country",
			Weight: config.BirthCountryWeight,
			Score: func(c models.CandidateRecord, p models.Person) float64 {
				return CountrySimilarity(c.BirthCountry, p.BirthCountry, config.NeutralScore)
			},
			record: func(b *models.ScoreBreakdown, v float64) { b.BirthCountry = v },
		},
	}
	return m
}

// Config returns the matcher configuration
func (m *Matcher) Config() Config {
	return m.config
}

// Components returns the ordered weighted components
func (m *Matcher) Components() []Component {
	return m.components
}

// Score computes every component, clamped to [0,1], and their weighted total
func (m *Matcher) Score(c models.CandidateRecord, p models.Person) models.ScoreBreakdown {
	var b models.ScoreBreakdown
	for _, component := range m.components {
		v := clamp(component.Score(c, p))
		component.record(&b, v)
		b.Total += component.Weight * v
	}
	// float noise must not move a pair across a threshold
	b.Total = math.Round(b.Total*1e9) / 1e9
	return b
}

// Best scores the candidate against every active person and returns the highest total.
// Exact ties go to the lowest person id. ok is false when no active person was given.
func (m *Matcher) Best(c models.CandidateRecord, persons []models.Person) (best Match, ok bool) {
	for _, p := range persons {
		if !p.IsActive() {
			continue
		}
		b := m.Score(c, p)
		if !ok || b.Total > best.Breakdown.Total || (b.Total == best.Breakdown.Total && p.ID < best.Person.ID) {
			best = Match{Person: p, Breakdown: b}
			ok = true
		}
	}
	return best, ok
}

// Decide applies the merge and review thresholds. Both are inclusive lower bounds.
func (m *Matcher) Decide(score float64) Decision {
	switch {
	case score >= m.config.AutoMergeThreshold:
		return DecisionMerge
	case score >= m.config.ReviewThreshold:
		return DecisionReview
	default:
		return DecisionCreate
	}
}

func (m *Matcher) toleranceDays() int {
	return m.config.DateToleranceYears * 365
}

// PlaceSimilarity compares two place strings case and diacritic insensitively.
// The first comma component (usually the town) is compared on its own as well.
func PlaceSimilarity(a, b string, neutral float64) float64 {
	fa, fb := normalizers.Fold(a), normalizers.Fold(b)
	if fa == "" || fb == "" {
		return neutral
	}
	if fa == fb {
		return 1.0
	}
	firstA := normalizers.Fold(strings.Split(a, ",")[0])
	firstB := normalizers.Fold(strings.Split(b, ",")[0])
	return max(TokenSetRatio(fa, fb), 0.95*JaroWinkler(firstA, firstB))
}

// CountrySimilarity is exact on the canonical country with no partial credit
func CountrySimilarity(a, b string, neutral float64) float64 {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return neutral
	}
	return boolScore(normalizers.SameCountry(a, b))
}
