package matching

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/normalizers"
)

func TestSimilarityPrimitives(t *testing.T) {
	t.Run("JaroWinkler", func(t *testing.T) {
		assert.InDelta(t, 0.961, JaroWinkler("MARTHA", "MARHTA"), 0.001)
		assert.Equal(t, 1.0, JaroWinkler("same", "same"))
		assert.Equal(t, 0.0, JaroWinkler("", "abc"))
	})

	t.Run("LevenshteinDistance", func(t *testing.T) {
		assert.Equal(t, 3, LevenshteinDistance("kitten", "sitting"))
		assert.Equal(t, 1, LevenshteinDistance("müller", "muller"))
		assert.Equal(t, 1.0, Levenshtein("", ""))
	})

	t.Run("TokenSortRatio", func(t *testing.T) {
		assert.Equal(t, 1.0, TokenSortRatio("franz mueller", "mueller franz"))
	})

	t.Run("TokenSetRatio subset", func(t *testing.T) {
		assert.Equal(t, 1.0, TokenSetRatio("munich", "munich germany"))
	})

	t.Run("Soundex", func(t *testing.T) {
		tests := map[string]string{
			"Robert":   "R163",
			"Rupert":   "R163",
			"Ashcraft": "A261",
			"Tymczak":  "T522",
			"Pfister":  "P236",
			"Mueller":  "M460",
			"Miller":   "M460",
			"":         "",
		}
		for in, want := range tests {
			assert.Equal(t, want, Soundex(in), in)
		}
	})
}

func TestDateProximity(t *testing.T) {
	tolerance := 730
	tests := []struct {
		name string
		a, b models.PartialDate
		want float64
	}{
		{"same day", models.ExactDate(1925, 3, 15), models.ExactDate(1925, 3, 15), 1.0},
		{"one day", models.ExactDate(1925, 3, 15), models.ExactDate(1925, 3, 14), 1 - 1.0/730},
		{"tolerance boundary", models.ExactDate(1925, 3, 15), models.ExactDate(1927, 3, 15), 0.0},
		{"beyond tolerance", models.ExactDate(1925, 3, 15), models.ExactDate(1940, 1, 1), 0.0},
		{"year only same year", models.YearOnly(1925, 0), models.ExactDate(1925, 7, 1), 1.0},
		{"year only one year", models.YearOnly(1924, 0), models.ExactDate(1925, 7, 1), 0.5},
		{"unknown is neutral", models.UnknownDate(), models.ExactDate(1925, 7, 1), 0.5},
		{"both unknown", models.UnknownDate(), models.UnknownDate(), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DateProximity(tt.a, tt.b, tolerance, 0.5), 1e-9)
		})
	}
}

func TestNameSimilarity(t *testing.T) {
	tokens := func(s string) []string { return normalizers.ParseName(s).Tokens }

	assert.Equal(t, 1.0, NameSimilarity(tokens("Franz Mueller"), tokens("Franz Mueller")))
	assert.Equal(t, 1.0, NameSimilarity(tokens("Mueller, Franz"), tokens("Franz Mueller")))
	assert.Equal(t, 1.0, NameSimilarity(tokens("Franz Müller"), tokens("FRANZ MULLER")))
	assert.Equal(t, 0.0, NameSimilarity(nil, tokens("Franz Mueller")))
	assert.InDelta(t, 0.95, NameSimilarity(tokens("Franz Mueller"), tokens("Franz Heinrich Mueller")), 1e-9)
	assert.Greater(t, NameSimilarity(tokens("Johann Schmidt"), tokens("John Smith")), 0.85)
	assert.Less(t, NameSimilarity(tokens("Johann Schmidt"), tokens("Maria Weber")), 0.6)

	t.Run("Americanization beats edit distance", func(t *testing.T) {
		a, b := tokens("Franz Heinrich Mueller"), tokens("Francis Miller")
		sim := NameSimilarity(a, b)
		assert.InDelta(t, 0.855, sim, 0.01)
		assert.Greater(t, sim, TokenSortRatio("franz heinrich mueller", "francis miller"))
	})
}

func TestPlaceAndCountrySimilarity(t *testing.T) {
	assert.InDelta(t, 0.95, PlaceSimilarity("Munich, Germany", "Munich, Bavaria", 0.5), 1e-9)
	assert.Equal(t, 1.0, PlaceSimilarity("München", "MUNCHEN", 0.5))
	assert.Equal(t, 0.5, PlaceSimilarity("", "Berlin", 0.5))
	assert.Less(t, PlaceSimilarity("Hamburg", "Dublin, Ireland", 0.5), 0.7)

	assert.Equal(t, 1.0, CountrySimilarity("Deutschland", "Germany", 0.5))
	assert.Equal(t, 0.0, CountrySimilarity("Austria", "Germany", 0.5))
	assert.Equal(t, 0.5, CountrySimilarity("", "Germany", 0.5))
}

func exampleCandidate() models.CandidateRecord {
	return models.CandidateRecord{
		SourceType:   models.SourceTypeNaturalization,
		Name:         normalizers.ParseName("Franz Heinrich Mueller"),
		BirthDate:    models.ExactDate(1925, 3, 15),
		BirthPlace:   "Munich, Germany",
		BirthCountry: "Germany",
	}
}

func examplePerson(id int64) models.Person {
	return models.Person{
		ID:           id,
		FirstName:    "Francis",
		LastName:     "Miller",
		BirthDate:    models.ExactDate(1925, 3, 14),
		BirthPlace:   "Munich, Bavaria",
		BirthCountry: "Germany",
	}
}

func TestMatcher_Score(t *testing.T) {
	m := NewMatcher(DefaultConfig())

	t.Run("worked example auto merges", func(t *testing.T) {
		b := m.Score(exampleCandidate(), examplePerson(1))
		assert.InDelta(t, 0.855, b.Name, 0.01)
		assert.InDelta(t, 0.9986, b.BirthDate, 0.001)
		assert.InDelta(t, 0.95, b.BirthPlace, 0.001)
		assert.Equal(t, 1.0, b.BirthCountry)
		assert.InDelta(t, 0.93, b.Total, 0.01)
		assert.Equal(t, DecisionMerge, m.Decide(b.Total))
	})

	t.Run("missing date is not punished as a mismatch", func(t *testing.T) {
		c := exampleCandidate()
		c.BirthDate = models.UnknownDate()
		unknown := m.Score(c, examplePerson(1))

		c.BirthDate = models.ExactDate(1927, 3, 14)
		boundary := m.Score(c, examplePerson(1))

		assert.GreaterOrEqual(t, unknown.BirthDate, boundary.BirthDate)
		assert.Greater(t, unknown.Total, boundary.Total)
	})

	t.Run("components are weighted", func(t *testing.T) {
		b := m.Score(exampleCandidate(), examplePerson(1))
		want := 0.4*b.Name + 0.3*b.BirthDate + 0.2*b.BirthPlace + 0.1*b.BirthCountry
		assert.InDelta(t, want, b.Total, 1e-8)
	})

	t.Run("component names are ordered", func(t *testing.T) {
		names := make([]string, 0)
		for _, c := range m.Components() {
			names = append(names, c.Name)
		}
		assert.Equal(t, []string{"name", "birth_date", "birth_place", "birth_country"}, names)
	})
}

func TestMatcher_Decide(t *testing.T) {
	m := NewMatcher(DefaultConfig())
	assert.Equal(t, DecisionMerge, m.Decide(0.90))
	assert.Equal(t, DecisionMerge, m.Decide(1.0))
	assert.Equal(t, DecisionReview, m.Decide(0.8999))
	assert.Equal(t, DecisionReview, m.Decide(0.70))
	assert.Equal(t, DecisionCreate, m.Decide(0.6999))
	assert.Equal(t, DecisionCreate, m.Decide(0))
}

func TestMatcher_Best(t *testing.T) {
	m := NewMatcher(DefaultConfig())

	t.Run("no persons", func(t *testing.T) {
		_, ok := m.Best(exampleCandidate(), nil)
		assert.False(t, ok)
	})

	t.Run("exact tie goes to lowest id", func(t *testing.T) {
		best, ok := m.Best(exampleCandidate(), []models.Person{examplePerson(9), examplePerson(4), examplePerson(7)})
		require.True(t, ok)
		assert.Equal(t, int64(4), best.Person.ID)
	})

	t.Run("highest score wins", func(t *testing.T) {
		other := examplePerson(1)
		other.FirstName, other.LastName = "Maria", "Weber"
		best, ok := m.Best(exampleCandidate(), []models.Person{other, examplePerson(2)})
		require.True(t, ok)
		assert.Equal(t, int64(2), best.Person.ID)
	})

	t.Run("merged persons are skipped", func(t *testing.T) {
		target := int64(2)
		merged := examplePerson(1)
		merged.MergedInto = &target
		_, ok := m.Best(exampleCandidate(), []models.Person{merged})
		assert.False(t, ok)
	})
}

func TestPhoneticKeys(t *testing.T) {
	assert.Equal(t, []string{"F652", "M460"}, PhoneticKeys([]string{"Franz", "Mueller"}))
	assert.Equal(t, PhoneticKeys([]string{"Franz", "Mueller"}), PhoneticKeys([]string{"Francis", "Miller"}))
	assert.Equal(t, []string{"B650", "W656"}, PhoneticKeys([]string{"Wernher", "von", "Braun"}))
	assert.Empty(t, PhoneticKeys(nil))
}

func TestFamilyKey(t *testing.T) {
	assert.Equal(t, "B650", FamilyKey(normalizers.ParseName("Wernher von Braun")))
	assert.Equal(t, FamilyKey(normalizers.ParseName("Johann Schmidt")), FamilyKey(normalizers.ParseName("John Smith")))
	assert.Equal(t, "A500", FamilyKey(normalizers.ParseName("Anna")))
	assert.Equal(t, "_", FamilyKey(models.PersonName{}))
}

func TestLockKeys(t *testing.T) {
	pfeiffer := LockKeys(normalizers.ParseName("Friedrich Wilhelm Pfeiffer"))
	fifer := LockKeys(normalizers.ParseName("Friedrich Wilhelm Fifer"))

	assert.NotEqual(t, FamilyKey(normalizers.ParseName("Friedrich Wilhelm Pfeiffer")), FamilyKey(normalizers.ParseName("Friedrich Wilhelm Fifer")))
	assert.Equal(t, PhoneticKeys(normalizers.ParseName("Friedrich Wilhelm Pfeiffer").Tokens), pfeiffer)

	shared := 0
	for _, k := range pfeiffer {
		if slices.Contains(fifer, k) {
			shared++
		}
	}
	assert.Equal(t, 2, shared)

	assert.Equal(t, []string{"_"}, LockKeys(models.PersonName{}))
}

func TestMatcher_CandidateQuery(t *testing.T) {
	m := NewMatcher(DefaultConfig())

	t.Run("known birth date blocks by key and year window", func(t *testing.T) {
		q := m.CandidateQuery(exampleCandidate())
		assert.False(t, q.FullScan)
		assert.Equal(t, 1922, q.MinBirthYear)
		assert.Equal(t, 1928, q.MaxBirthYear)
		assert.Contains(t, q.PhoneticKeys, "M460")
	})

	t.Run("unknown birth date scans everything", func(t *testing.T) {
		c := exampleCandidate()
		c.BirthDate = models.UnknownDate()
		assert.True(t, m.CandidateQuery(c).FullScan)
	})

	t.Run("heavy non-date weights scan everything", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.NameWeight, cfg.BirthDateWeight = 0.6, 0.1
		assert.True(t, NewMatcher(cfg).CandidateQuery(exampleCandidate()).FullScan)
	})

	t.Run("blocked out persons stay below review", func(t *testing.T) {
		far := examplePerson(1)
		far.FirstName, far.LastName = "Otto", "Becker"
		far.BirthDate = models.ExactDate(1905, 1, 1)
		b := m.Score(exampleCandidate(), far)
		assert.Less(t, b.Total, DefaultConfig().ReviewThreshold)
	})
}
