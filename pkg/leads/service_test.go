package leads

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/scoring"
	"github.com/Ramsey-B/rowan/pkg/store"
)

func newTestService(s *store.Memory) *Service {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewService(s, scoring.NewScorer(s, logger, "Germany"), logger, 70, "Germany")
}

func addPerson(t *testing.T, s *store.Memory, p models.Person, score int, german bool) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreatePerson(ctx, &p))
	if score > 0 {
		require.NoError(t, s.SaveLeadScore(ctx, models.LeadScore{
			PersonID:          p.ID,
			Score:             score,
			Confidence:        scoring.Tier(score, 3),
			HasGermanAncestor: german,
			ScoredAt:          time.Now(),
		}))
	}
	return p.ID
}

func TestListLeads(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	svc := newTestService(s)

	ancestor := addPerson(t, s, models.Person{FirstName: "Friedrich", LastName: "Weber", BirthCountry: "Germany", BirthPlace: "Bremen"}, 0, false)
	strong := addPerson(t, s, models.Person{FirstName: "Emma", LastName: "Weber", IsLiving: true}, 90, true)
	weak := addPerson(t, s, models.Person{FirstName: "Paul", LastName: "Weber", IsLiving: true}, 72, true)
	orphan := addPerson(t, s, models.Person{FirstName: "Lone", LastName: "Wolf", IsLiving: true}, 85, false)
	addPerson(t, s, models.Person{FirstName: "Low", LastName: "Score"}, 20, false)
	addPerson(t, s, models.Person{FirstName: "Maybe", IsProvisional: true}, 99, false)

	for _, child := range []int64{strong, weak} {
		_, err := s.AddRelationship(ctx, &models.Relationship{PersonID: child, RelatedPersonID: ancestor, Type: models.RelationshipParent})
		require.NoError(t, err)
	}
	require.NoError(t, s.AddAddress(ctx, &models.Address{PersonID: strong, City: "Milwaukee", Region: "Wisconsin", EffectiveDate: models.YearOnly(1990, 0)}))
	require.NoError(t, s.AddAddress(ctx, &models.Address{PersonID: strong, Street: "1 Main Street", City: "Chicago", Region: "Illinois", EffectiveDate: models.YearOnly(2010, 0)}))

	t.Run("ancestor country filter", func(t *testing.T) {
		leads, err := svc.ListLeads(ctx, svc.DefaultFilter())
		require.NoError(t, err)
		require.Len(t, leads, 2)
		assert.Equal(t, strong, leads[0].PersonID)
		assert.Equal(t, weak, leads[1].PersonID)

		lead := leads[0]
		assert.Equal(t, "Emma Weber", lead.Name)
		assert.Equal(t, "1 Main Street, Chicago, Illinois", lead.LastKnownAddress)
		assert.Equal(t, 90, lead.LeadScore)
		assert.Equal(t, models.ConfidenceHigh, lead.Confidence)
		require.NotNil(t, lead.Ancestor)
		assert.Equal(t, "Friedrich Weber", lead.Ancestor.Name)
		assert.Equal(t, "Bremen", lead.Ancestor.BirthPlace)
		assert.Equal(t, 1, lead.Ancestor.Generations)
	})

	t.Run("no ancestor filter", func(t *testing.T) {
		leads, err := svc.ListLeads(ctx, models.LeadFilter{MinScore: 70})
		require.NoError(t, err)
		require.Len(t, leads, 3)
		assert.Equal(t, []int64{strong, orphan, weak}, []int64{leads[0].PersonID, leads[1].PersonID, leads[2].PersonID})
		assert.Nil(t, leads[1].Ancestor)
	})

	t.Run("limit", func(t *testing.T) {
		leads, err := svc.ListLeads(ctx, models.LeadFilter{MinScore: 0, Limit: 1})
		require.NoError(t, err)
		require.Len(t, leads, 1)
		assert.Equal(t, strong, leads[0].PersonID)
	})

	t.Run("min score above everyone", func(t *testing.T) {
		leads, err := svc.ListLeads(ctx, models.LeadFilter{MinScore: 100, AncestorCountry: "Germany"})
		require.NoError(t, err)
		assert.Empty(t, leads)
	})

	t.Run("get lead", func(t *testing.T) {
		lead, err := svc.GetLead(ctx, weak)
		require.NoError(t, err)
		assert.Equal(t, 72, lead.LeadScore)
		assert.NotNil(t, lead.Ancestor)
		assert.Empty(t, lead.LastKnownAddress)

		_, err = svc.GetLead(ctx, 424242)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestListLeads_EmptyStore(t *testing.T) {
	svc := newTestService(store.NewMemory())
	leads, err := svc.ListLeads(context.Background(), svc.DefaultFilter())
	require.NoError(t, err)
	assert.Empty(t, leads)
}

func TestStats(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		stats, err := newTestService(store.NewMemory()).Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.Stats{DedupRatePercent: "0.0%"}, stats)
	})

	t.Run("ten records for four persons", func(t *testing.T) {
		s := store.NewMemory()
		var ids []int64
		for i := range 4 {
			ids = append(ids, addPerson(t, s, models.Person{FirstName: "P", IsLiving: true}, 80, i == 0))
		}
		for i := range 10 {
			require.NoError(t, s.CreateRawPersonRecord(ctx, &models.RawPersonRecord{SourceID: int64(100 + i), PersonID: ids[i%4], Outcome: models.OutcomeMerged}))
		}

		stats, err := newTestService(s).Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, stats.TotalRecords)
		assert.Equal(t, 4, stats.UniquePersons)
		assert.Equal(t, 1, stats.LeadsCount)
		assert.InDelta(t, 0.6, stats.DedupRate, 1e-9)
		assert.Equal(t, "60.0%", stats.DedupRatePercent)
	})

	t.Run("store unavailable", func(t *testing.T) {
		s := store.NewMemory()
		s.SetUnavailable(true)
		_, err := newTestService(s).Stats(ctx)
		assert.ErrorIs(t, err, store.ErrUnavailable)
	})
}

func TestDedupRate(t *testing.T) {
	assert.Equal(t, 0.0, DedupRate(0, 0))
	assert.Equal(t, 0.0, DedupRate(5, 3))
	assert.InDelta(t, 0.6, DedupRate(4, 10), 1e-9)
	assert.Equal(t, 0.0, DedupRate(10, 10))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, 10, ClampLimit(10))
	assert.Equal(t, MaxLimit, ClampLimit(10_000))
}
