package dedup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/rowan/pkg/locking"
	"github.com/Ramsey-B/rowan/pkg/matching"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/normalizers"
	"github.com/Ramsey-B/rowan/pkg/store"
)

func newTestDeduplicator(s store.Store) *Deduplicator {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewDeduplicator(s, matching.NewMatcher(matching.DefaultConfig()), locking.NewKeyedMutex(), logger, DefaultMaxRetries)
}

func candidate(sourceID int64, name string, birth models.PartialDate, place, country string) models.CandidateRecord {
	return models.CandidateRecord{
		SourceType:   models.SourceTypeNaturalization,
		SourceID:     sourceID,
		Name:         normalizers.ParseName(name),
		BirthDate:    birth,
		BirthPlace:   place,
		BirthCountry: country,
	}
}

func TestResolve_Decisions(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store creates", func(t *testing.T) {
		d := newTestDeduplicator(store.NewMemory())
		out, err := d.Resolve(ctx, candidate(1, "Francis Miller", models.ExactDate(1925, 3, 14), "Munich, Bavaria", "Germany"))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeCreated, out.Kind)
		assert.NotZero(t, out.PersonID)
		assert.Zero(t, out.Score)
	})

	t.Run("americanized name merges", func(t *testing.T) {
		s := store.NewMemory()
		d := newTestDeduplicator(s)
		first, err := d.Resolve(ctx, candidate(1, "Francis Miller", models.ExactDate(1925, 3, 14), "Munich, Bavaria", "Germany"))
		require.NoError(t, err)

		out, err := d.Resolve(ctx, candidate(2, "Franz Heinrich Mueller", models.ExactDate(1925, 3, 15), "Munich, Germany", "Germany"))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeMerged, out.Kind)
		assert.Equal(t, first.PersonID, out.PersonID)
		assert.GreaterOrEqual(t, out.Score, 0.90)

		p, err := s.GetPerson(ctx, out.PersonID)
		require.NoError(t, err)
		assert.Equal(t, "Heinrich", p.MiddleName)
		assert.Equal(t, models.ExactDate(1925, 3, 14), p.BirthDate)
		assert.Equal(t, 2, p.Version)

		sources, err := s.CountPersonSources(ctx, out.PersonID)
		require.NoError(t, err)
		assert.Equal(t, 2, sources)
	})

	t.Run("review band creates provisional person", func(t *testing.T) {
		s := store.NewMemory()
		d := newTestDeduplicator(s)
		existing, err := d.Resolve(ctx, candidate(1, "Johann Schmidt", models.ExactDate(1890, 1, 1), "Berlin", "Germany"))
		require.NoError(t, err)

		// identical name with everything else unknown lands exactly on the review threshold
		out, err := d.Resolve(ctx, candidate(2, "Johann Schmidt", models.UnknownDate(), "", ""))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeQueuedForReview, out.Kind)
		assert.InDelta(t, 0.70, out.Score, 1e-9)
		assert.NotEqual(t, existing.PersonID, out.PersonID)
		assert.Equal(t, existing.PersonID, out.MatchedPersonID)

		prov, err := s.GetPerson(ctx, out.PersonID)
		require.NoError(t, err)
		assert.True(t, prov.IsProvisional)

		mc, err := s.GetMatchCandidate(ctx, out.MatchCandidateID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchCandidateStatusPending, mc.Status)
		assert.Equal(t, out.PersonID, mc.PersonID)
		assert.Equal(t, existing.PersonID, mc.MatchedPersonID)
		assert.Equal(t, 1.0, mc.Breakdown.Data.Name)

		stats, err := s.CountStats(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.UniquePersons)
		assert.Equal(t, 1, stats.ProvisionalPersons)
		assert.Equal(t, 1, stats.PendingReviews)
	})

	t.Run("low score creates", func(t *testing.T) {
		s := store.NewMemory()
		d := newTestDeduplicator(s)
		_, err := d.Resolve(ctx, candidate(1, "Johann Schmidt", models.ExactDate(1890, 1, 1), "Berlin", "Germany"))
		require.NoError(t, err)

		out, err := d.Resolve(ctx, candidate(2, "Maria Rossi", models.ExactDate(1901, 6, 2), "Naples", "Italy"))
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeCreated, out.Kind)
		assert.Less(t, out.Score, 0.70)

		stats, err := s.CountStats(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.UniquePersons)
		assert.Equal(t, 2, stats.TotalRecords)
	})

	t.Run("empty name is rejected", func(t *testing.T) {
		d := newTestDeduplicator(store.NewMemory())
		_, err := d.Resolve(ctx, candidate(1, "", models.UnknownDate(), "", ""))
		assert.Error(t, err)
	})
}

func TestResolve_FillGaps(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		existing models.PartialDate
		incoming models.PartialDate
		want     models.PartialDate
	}{
		{"exact is not downgraded", models.ExactDate(1925, 3, 14), models.YearOnly(1925, 0), models.ExactDate(1925, 3, 14)},
		{"year only is upgraded", models.YearOnly(1925, 0), models.ExactDate(1925, 3, 14), models.ExactDate(1925, 3, 14)},
		{"unknown is filled", models.UnknownDate(), models.ExactDate(1925, 3, 14), models.ExactDate(1925, 3, 14)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemory()
			d := newTestDeduplicator(s)
			first, err := d.Resolve(ctx, candidate(1, "Anna Weber", tt.existing, "Hamburg", "Germany"))
			require.NoError(t, err)

			out, err := d.Resolve(ctx, candidate(2, "Anna Weber", tt.incoming, "Hamburg", "Germany"))
			require.NoError(t, err)
			require.Equal(t, models.OutcomeMerged, out.Kind)
			assert.Equal(t, first.PersonID, out.PersonID)

			p, err := s.GetPerson(ctx, out.PersonID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.BirthDate)
		})
	}

	t.Run("death marks person deceased", func(t *testing.T) {
		s := store.NewMemory()
		d := newTestDeduplicator(s)
		_, err := d.Resolve(ctx, candidate(1, "Anna Weber", models.ExactDate(1900, 5, 5), "Hamburg", "Germany"))
		require.NoError(t, err)

		obit := candidate(2, "Anna Weber", models.ExactDate(1900, 5, 5), "Hamburg", "Germany")
		obit.SourceType = models.SourceTypeObituary
		obit.DeathDate = models.ExactDate(1980, 1, 2)
		out, err := d.Resolve(ctx, obit)
		require.NoError(t, err)

		p, err := s.GetPerson(ctx, out.PersonID)
		require.NoError(t, err)
		assert.False(t, p.IsLiving)
		assert.Equal(t, models.ExactDate(1980, 1, 2), p.DeathDate)
	})
}

func TestResolve_Addresses(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	d := newTestDeduplicator(s)

	withAddress := func(sourceID int64, addr models.StructuredAddress, year int) models.CandidateRecord {
		c := candidate(sourceID, "Karl Fischer", models.ExactDate(1880, 2, 2), "Bremen", "Germany")
		c.Address = &addr
		c.EventDate = models.YearOnly(year, 0)
		return c
	}
	home := models.StructuredAddress{Street: "12 Elm Street", City: "Milwaukee", Region: "Wisconsin", Country: "United States"}
	moved := models.StructuredAddress{Street: "4 Oak Avenue", City: "Chicago", Region: "Illinois", Country: "United States"}

	first, err := d.Resolve(ctx, withAddress(1, home, 1910))
	require.NoError(t, err)
	assert.True(t, first.AddressCreated)

	same, err := d.Resolve(ctx, withAddress(2, models.StructuredAddress{Street: "12 ELM STREET", City: "milwaukee", Region: "Wisconsin", Country: "USA"}, 1912))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeMerged, same.Kind)
	assert.False(t, same.AddressCreated)

	next, err := d.Resolve(ctx, withAddress(3, moved, 1920))
	require.NoError(t, err)
	assert.True(t, next.AddressCreated)

	addresses, err := s.ListAddresses(ctx, first.PersonID)
	require.NoError(t, err)
	require.Len(t, addresses, 2)
	assert.Equal(t, "Milwaukee", addresses[0].City)
	assert.Equal(t, "Chicago", addresses[1].City)
	require.NotNil(t, addresses[1].SourceID)
	assert.Equal(t, int64(3), *addresses[1].SourceID)
}

func TestResolve_ConcurrentSamePerson(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	d := newTestDeduplicator(s)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Resolve(ctx, candidate(int64(i+1), "Heinrich Bauer", models.ExactDate(1899, 9, 9), "Kassel, Hesse", "Germany"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	persons, err := s.ListPersons(ctx, models.PersonFilter{IncludeProvisional: true})
	require.NoError(t, err)
	assert.Len(t, persons, 1)

	sources, err := s.CountPersonSources(ctx, persons[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 8, sources)
}

func TestResolveReference_DoesNotLinkSource(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	d := newTestDeduplicator(s)

	out, err := d.ResolveReference(ctx, candidate(1, "Greta Bauer", models.UnknownDate(), "", ""))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCreated, out.Kind)

	stats, err := s.CountStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalRecords)
	assert.Equal(t, 1, stats.UniquePersons)
}

func TestResolveReference_ReusesQueuedProvisional(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	d := newTestDeduplicator(s)

	father, err := d.Resolve(ctx, candidate(1, "Franz Mueller", models.ExactDate(1890, 5, 2), "Munich", "Germany"))
	require.NoError(t, err)

	var outcomes []Outcome
	for range 3 {
		out, err := d.ResolveReference(ctx, candidate(0, "Franz Mueller", models.UnknownDate(), "", ""))
		require.NoError(t, err)
		require.Equal(t, models.OutcomeQueuedForReview, out.Kind)
		outcomes = append(outcomes, out)
	}
	for _, out := range outcomes[1:] {
		assert.Equal(t, outcomes[0].PersonID, out.PersonID)
	}
	assert.NotEqual(t, father.PersonID, outcomes[0].PersonID)

	pending, err := s.ListMatchCandidates(ctx, models.MatchCandidateFilter{Status: models.MatchCandidateStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, father.PersonID, pending[0].MatchedPersonID)

	t.Run("records are not folded into a provisional", func(t *testing.T) {
		out, err := d.Resolve(ctx, candidate(9, "Franz Mueller", models.UnknownDate(), "", ""))
		require.NoError(t, err)
		assert.NotEqual(t, outcomes[0].PersonID, out.PersonID)
	})
}

// rendezvousStore holds the first candidate search open until a second search starts
// or the wait elapses, so unserialized resolutions both read an empty store
type rendezvousStore struct {
	*store.Memory
	mu      sync.Mutex
	calls   int
	arrived chan struct{}
}

func (s *rendezvousStore) FindCandidates(ctx context.Context, q models.CandidateQuery) ([]models.Person, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()

	switch n {
	case 1:
		select {
		case <-s.arrived:
		case <-time.After(100 * time.Millisecond):
		}
	case 2:
		close(s.arrived)
	}
	return s.Memory.FindCandidates(ctx, q)
}

func TestResolve_ConcurrentSpellingsShareLock(t *testing.T) {
	ctx := context.Background()

	// Pfeiffer and Fifer have different family keys but share the given-name keys
	a := candidate(1, "Friedrich Wilhelm Pfeiffer", models.ExactDate(1880, 7, 1), "Hamburg", "Germany")
	b := candidate(2, "Friedrich Wilhelm Fifer", models.ExactDate(1880, 7, 1), "Hamburg", "Germany")
	require.NotEqual(t, matching.FamilyKey(a.Name), matching.FamilyKey(b.Name))

	s := &rendezvousStore{Memory: store.NewMemory(), arrived: make(chan struct{})}
	d := newTestDeduplicator(s)

	var wg sync.WaitGroup
	kinds := make([]models.OutcomeKind, 2)
	for i, c := range []models.CandidateRecord{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := d.Resolve(ctx, c)
			assert.NoError(t, err)
			kinds[i] = out.Kind
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []models.OutcomeKind{models.OutcomeCreated, models.OutcomeMerged}, kinds)
	persons, err := s.ListPersons(ctx, models.PersonFilter{IncludeProvisional: true})
	require.NoError(t, err)
	assert.Len(t, persons, 1)
}

// conflictingStore fails every person update with a version conflict
type conflictingStore struct {
	*store.Memory
	updates int
}

func (s *conflictingStore) UpdatePerson(_ context.Context, p *models.Person) error {
	s.updates++
	return fmt.Errorf("person %d: %w", p.ID, store.ErrVersionConflict)
}

func TestResolve_RetriesExhaustedQueuesForReview(t *testing.T) {
	ctx := context.Background()
	s := &conflictingStore{Memory: store.NewMemory()}
	d := newTestDeduplicator(s)

	first, err := d.Resolve(ctx, candidate(1, "Otto Klein", models.ExactDate(1870, 4, 4), "Dresden", "Germany"))
	require.NoError(t, err)

	dup := candidate(2, "Otto Klein", models.ExactDate(1870, 4, 4), "Dresden", "Germany")
	dup.Sex = "M"
	out, err := d.Resolve(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeQueuedForReview, out.Kind)
	assert.Equal(t, first.PersonID, out.MatchedPersonID)
	assert.Equal(t, DefaultMaxRetries+1, s.updates)
}

func TestReview(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*store.Memory, *Deduplicator, Outcome, Outcome) {
		s := store.NewMemory()
		d := newTestDeduplicator(s)
		existing, err := d.Resolve(ctx, candidate(1, "Johann Schmidt", models.ExactDate(1890, 1, 1), "Berlin", "Germany"))
		require.NoError(t, err)

		c := candidate(2, "Johann Schmidt", models.UnknownDate(), "", "")
		c.Address = &models.StructuredAddress{City: "Milwaukee", Region: "Wisconsin", Country: "United States"}
		queued, err := d.Resolve(ctx, c)
		require.NoError(t, err)
		require.Equal(t, models.OutcomeQueuedForReview, queued.Kind)
		return s, d, existing, queued
	}

	t.Run("approve merges provisional person", func(t *testing.T) {
		s, d, existing, queued := setup(t)

		survivor, err := d.Approve(ctx, queued.MatchCandidateID)
		require.NoError(t, err)
		assert.Equal(t, existing.PersonID, survivor)

		prov, err := s.GetPerson(ctx, queued.PersonID)
		require.NoError(t, err)
		require.NotNil(t, prov.MergedInto)
		assert.Equal(t, existing.PersonID, *prov.MergedInto)

		addresses, err := s.ListAddresses(ctx, existing.PersonID)
		require.NoError(t, err)
		assert.Len(t, addresses, 1)

		sources, err := s.CountPersonSources(ctx, existing.PersonID)
		require.NoError(t, err)
		assert.Equal(t, 2, sources)

		mc, err := s.GetMatchCandidate(ctx, queued.MatchCandidateID)
		require.NoError(t, err)
		assert.Equal(t, models.MatchCandidateStatusApproved, mc.Status)

		_, err = d.Approve(ctx, queued.MatchCandidateID)
		assert.ErrorIs(t, err, ErrCandidateNotPending)
		assert.ErrorIs(t, d.Reject(ctx, queued.MatchCandidateID), ErrCandidateNotPending)
	})

	t.Run("reject confirms provisional person", func(t *testing.T) {
		s, d, _, queued := setup(t)

		require.NoError(t, d.Reject(ctx, queued.MatchCandidateID))

		prov, err := s.GetPerson(ctx, queued.PersonID)
		require.NoError(t, err)
		assert.False(t, prov.IsProvisional)
		assert.True(t, prov.IsActive())

		assert.ErrorIs(t, d.Reject(ctx, queued.MatchCandidateID), ErrCandidateNotPending)
		_, err = d.Approve(ctx, queued.MatchCandidateID)
		assert.ErrorIs(t, err, ErrCandidateNotPending)
	})

	t.Run("unknown candidate", func(t *testing.T) {
		_, d, _, _ := setup(t)
		_, err := d.Approve(ctx, 9999)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
