package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/store"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestScorer(s store.Store) *Scorer {
	sc := NewScorer(s, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), "Germany")
	sc.now = func() time.Time { return fixedNow }
	return sc
}

type fixture struct {
	t   *testing.T
	ctx context.Context
	s   *store.Memory
}

func newFixture(t *testing.T) *fixture {
	return &fixture{t: t, ctx: context.Background(), s: store.NewMemory()}
}

func (f *fixture) person(name, country string, birth models.PartialDate) int64 {
	p := &models.Person{FirstName: name, BirthCountry: country, BirthDate: birth, IsLiving: true}
	require.NoError(f.t, f.s.CreatePerson(f.ctx, p))
	return p.ID
}

// parent records that parentID is the parent of childID
func (f *fixture) parent(childID, parentID int64) {
	_, err := f.s.AddRelationship(f.ctx, &models.Relationship{PersonID: childID, RelatedPersonID: parentID, Type: models.RelationshipParent})
	require.NoError(f.t, err)
}

func (f *fixture) spouse(a, b int64) {
	_, err := f.s.AddRelationship(f.ctx, &models.Relationship{PersonID: a, RelatedPersonID: b, Type: models.RelationshipSpouse})
	require.NoError(f.t, err)
}

func (f *fixture) sources(personID int64, n int) {
	for range n {
		src := &models.Source{SourceType: models.SourceTypeCensus}
		require.NoError(f.t, f.s.CreateSource(f.ctx, src))
		require.NoError(f.t, f.s.CreateRawPersonRecord(f.ctx, &models.RawPersonRecord{SourceID: src.ID, PersonID: personID, Outcome: models.OutcomeMerged}))
	}
}

func (f *fixture) addresses(personID int64, cities ...string) {
	for i, city := range cities {
		require.NoError(f.t, f.s.AddAddress(f.ctx, &models.Address{PersonID: personID, City: city, EffectiveDate: models.YearOnly(1950+i, 0)}))
	}
}

func TestScore_PointTable(t *testing.T) {
	tests := []struct {
		name       string
		addresses  []string
		wantScore  int
		wantTier   models.ConfidenceTier
		wantParent bool
	}{
		// 25 + 20 + 15 + 15 + 10 + 10 + 5 overflows and is clamped
		{"complete lead", []string{"Milwaukee", "Chicago"}, 100, models.ConfidenceHigh, true},
		{"single address", []string{"Milwaukee"}, 90, models.ConfidenceHigh, true},
		{"no address", nil, 75, models.ConfidenceMedium, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			lead := f.person("Emma", "United States", models.ExactDate(1950, 2, 3))
			ancestor := f.person("Friedrich", "Germany", models.ExactDate(1890, 1, 1))
			spouse := f.person("Tom", "United States", models.UnknownDate())
			child := f.person("Lisa", "United States", models.UnknownDate())
			f.parent(lead, ancestor)
			f.spouse(lead, spouse)
			f.parent(child, lead)
			f.sources(lead, 3)
			f.addresses(lead, tt.addresses...)

			score, err := newTestScorer(f.s).Score(f.ctx, lead)
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, score.Score)
			assert.Equal(t, tt.wantTier, score.Confidence)
			assert.Equal(t, tt.wantParent, score.HasGermanAncestor)
			assert.Equal(t, 3, score.SourcesCount)
			assert.Equal(t, fixedNow, score.ScoredAt)
		})
	}
}

func TestScore_Components(t *testing.T) {
	t.Run("bare person", func(t *testing.T) {
		f := newFixture(t)
		id := f.person("Solo", "", models.UnknownDate())
		score, err := newTestScorer(f.s).Score(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 10, score.Score)
		assert.Equal(t, models.ConfidenceLow, score.Confidence)
	})

	t.Run("two sources and one relationship", func(t *testing.T) {
		f := newFixture(t)
		id := f.person("Solo", "", models.YearOnly(1900, 0))
		other := f.person("Other", "", models.UnknownDate())
		f.spouse(id, other)
		f.sources(id, 2)
		score, err := newTestScorer(f.s).Score(f.ctx, id)
		require.NoError(t, err)
		// 10 sources + 7 relationship + 10 living, year only birth date earns nothing
		assert.Equal(t, 27, score.Score)
	})

	t.Run("deceased with inexact death date", func(t *testing.T) {
		f := newFixture(t)
		p := &models.Person{FirstName: "Gone", BirthDate: models.ExactDate(1900, 1, 1), DeathDate: models.YearOnly(1970, 0)}
		require.NoError(t, f.s.CreatePerson(f.ctx, p))
		score, err := newTestScorer(f.s).Score(f.ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, score.Score)
	})

	t.Run("self born in germany is not an ancestor", func(t *testing.T) {
		f := newFixture(t)
		id := f.person("Hans", "Germany", models.UnknownDate())
		score, err := newTestScorer(f.s).Score(f.ctx, id)
		require.NoError(t, err)
		assert.False(t, score.HasGermanAncestor)
	})
}

func TestScore_Idempotent(t *testing.T) {
	f := newFixture(t)
	lead := f.person("Emma", "United States", models.ExactDate(1950, 2, 3))
	f.parent(lead, f.person("Friedrich", "Germany", models.ExactDate(1890, 1, 1)))
	f.sources(lead, 2)
	f.addresses(lead, "Milwaukee")
	sc := newTestScorer(f.s)

	first, err := sc.ScoreAndSave(f.ctx, lead)
	require.NoError(t, err)
	second, err := sc.ScoreAndSave(f.ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	p, err := f.s.GetPerson(f.ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, first.Score, p.LeadScore)
	assert.Equal(t, first.Confidence, p.Confidence)
	assert.True(t, p.IsGermanAncestorCandidate)
}

func TestNearestAncestor(t *testing.T) {
	t.Run("deep ancestor without depth limit", func(t *testing.T) {
		f := newFixture(t)
		ids := []int64{f.person("Gen0", "United States", models.UnknownDate())}
		for i := 1; i <= 5; i++ {
			country := "United States"
			if i == 5 {
				country = "Prussia"
			}
			ids = append(ids, f.person("Gen", country, models.UnknownDate()))
			f.parent(ids[i-1], ids[i])
		}

		a, err := newTestScorer(f.s).NearestAncestor(f.ctx, ids[0], "Germany")
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.Equal(t, ids[5], a.PersonID)
		assert.Equal(t, 5, a.Generations)
		assert.True(t, a.CitizenshipEligible)
	})

	t.Run("cycle terminates", func(t *testing.T) {
		f := newFixture(t)
		a := f.person("A", "United States", models.UnknownDate())
		b := f.person("B", "United States", models.UnknownDate())
		c := f.person("C", "United States", models.UnknownDate())
		f.parent(a, b)
		f.parent(b, c)
		f.parent(c, a)

		found, err := newTestScorer(f.s).NearestAncestor(f.ctx, a, "Germany")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("diamond picks the nearest once", func(t *testing.T) {
		f := newFixture(t)
		child := f.person("Child", "", models.UnknownDate())
		mother := f.person("Mother", "", models.UnknownDate())
		father := f.person("Father", "Germany", models.UnknownDate())
		grandfather := f.person("Grandfather", "Germany", models.UnknownDate())
		f.parent(child, mother)
		f.parent(child, father)
		f.parent(mother, grandfather)
		f.parent(father, grandfather)

		found, err := newTestScorer(f.s).NearestAncestor(f.ctx, child, "Germany")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, father, found.PersonID)
		assert.Equal(t, 1, found.Generations)
	})

	t.Run("provisional ancestor does not qualify", func(t *testing.T) {
		f := newFixture(t)
		child := f.person("Child", "", models.UnknownDate())
		p := &models.Person{FirstName: "Maybe", BirthCountry: "Germany", IsProvisional: true}
		require.NoError(t, f.s.CreatePerson(f.ctx, p))
		f.parent(child, p.ID)

		found, err := newTestScorer(f.s).NearestAncestor(f.ctx, child, "Germany")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("other country filter", func(t *testing.T) {
		f := newFixture(t)
		child := f.person("Child", "", models.UnknownDate())
		f.parent(child, f.person("Nonna", "Italy", models.UnknownDate()))

		sc := newTestScorer(f.s)
		found, err := sc.NearestAncestor(f.ctx, child, "Italy")
		require.NoError(t, err)
		assert.NotNil(t, found)

		found, err = sc.NearestAncestor(f.ctx, child, "Germany")
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestScorePersons(t *testing.T) {
	f := newFixture(t)
	grandparent := f.person("Old", "Germany", models.UnknownDate())
	parent := f.person("Mid", "United States", models.UnknownDate())
	child := f.person("Young", "United States", models.UnknownDate())
	f.parent(parent, grandparent)
	f.parent(child, parent)

	prov := &models.Person{FirstName: "Maybe", IsProvisional: true}
	require.NoError(t, f.s.CreatePerson(f.ctx, prov))

	count, err := newTestScorer(f.s).ScorePersons(f.ctx, []int64{grandparent, prov.ID, grandparent})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	got, err := f.s.GetPerson(f.ctx, child)
	require.NoError(t, err)
	assert.True(t, got.IsGermanAncestorCandidate)
	require.NotNil(t, got.ScoredAt)

	unscored, err := f.s.GetPerson(f.ctx, prov.ID)
	require.NoError(t, err)
	assert.Nil(t, unscored.ScoredAt)

	f.s.SetUnavailable(true)
	_, err = newTestScorer(f.s).ScorePersons(f.ctx, []int64{child})
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestTier(t *testing.T) {
	tests := []struct {
		score, sources int
		want           models.ConfidenceTier
	}{
		{80, 3, models.ConfidenceHigh},
		{100, 2, models.ConfidenceMedium},
		{79, 3, models.ConfidenceMedium},
		{60, 2, models.ConfidenceMedium},
		{59, 5, models.ConfidenceLow},
		{90, 1, models.ConfidenceLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Tier(tt.score, tt.sources), "score %d sources %d", tt.score, tt.sources)
	}
}
