package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/rowan/pkg/models"
)

func TestMemory_Persons(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	p := &models.Person{FirstName: "Franz", LastName: "Mueller", BirthDate: models.ExactDate(1925, 3, 15), PhoneticKeys: []string{"F652", "M460"}}
	require.NoError(t, s.CreatePerson(ctx, p))
	assert.NotZero(t, p.ID)
	assert.Equal(t, 1, p.Version)
	require.NotNil(t, p.BirthYear)
	assert.Equal(t, 1925, *p.BirthYear)

	t.Run("conditional update", func(t *testing.T) {
		stale, err := s.GetPerson(ctx, p.ID)
		require.NoError(t, err)

		fresh, err := s.GetPerson(ctx, p.ID)
		require.NoError(t, err)
		fresh.Sex = "M"
		require.NoError(t, s.UpdatePerson(ctx, &fresh))
		assert.Equal(t, 2, fresh.Version)

		stale.BirthPlace = "Munich"
		err = s.UpdatePerson(ctx, &stale)
		assert.ErrorIs(t, err, ErrVersionConflict)

		got, err := s.GetPerson(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "M", got.Sex)
		assert.Equal(t, "", got.BirthPlace)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.GetPerson(ctx, 9999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("lead score does not bump the version", func(t *testing.T) {
		before, err := s.GetPerson(ctx, p.ID)
		require.NoError(t, err)
		require.NoError(t, s.SaveLeadScore(ctx, models.LeadScore{PersonID: p.ID, Score: 80, Confidence: models.ConfidenceHigh, HasGermanAncestor: true}))
		after, err := s.GetPerson(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, before.Version, after.Version)
		assert.Equal(t, 80, after.LeadScore)
		assert.True(t, after.IsGermanAncestorCandidate)
		assert.NotNil(t, after.ScoredAt)
	})
}

func TestMemory_FindCandidates(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	sameKey := &models.Person{FirstName: "Francis", LastName: "Miller", BirthDate: models.ExactDate(1950, 1, 1), PhoneticKeys: []string{"M460"}}
	nearYear := &models.Person{FirstName: "Otto", LastName: "Becker", BirthDate: models.ExactDate(1926, 1, 1), PhoneticKeys: []string{"B260"}}
	noYear := &models.Person{FirstName: "Anna", LastName: "Weber", PhoneticKeys: []string{"W160"}}
	far := &models.Person{FirstName: "Karl", LastName: "Vogel", BirthDate: models.ExactDate(1890, 1, 1), PhoneticKeys: []string{"V240"}}
	merged := &models.Person{FirstName: "Franz", LastName: "Mueller", BirthDate: models.ExactDate(1925, 1, 1), PhoneticKeys: []string{"M460"}}
	for _, p := range []*models.Person{sameKey, nearYear, noYear, far, merged} {
		require.NoError(t, s.CreatePerson(ctx, p))
	}
	merged.MergedInto = &sameKey.ID
	require.NoError(t, s.UpdatePerson(ctx, merged))

	got, err := s.FindCandidates(ctx, models.CandidateQuery{PhoneticKeys: []string{"M460"}, MinBirthYear: 1922, MaxBirthYear: 1928})
	require.NoError(t, err)
	ids := make([]int64, 0)
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []int64{sameKey.ID, nearYear.ID, noYear.ID}, ids)

	all, err := s.FindCandidates(ctx, models.CandidateQuery{FullScan: true})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMemory_Relationships(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	a, b, c := &models.Person{FirstName: "A"}, &models.Person{FirstName: "B"}, &models.Person{FirstName: "C"}
	for _, p := range []*models.Person{a, b, c} {
		require.NoError(t, s.CreatePerson(ctx, p))
	}

	t.Run("symmetric edges are stored once", func(t *testing.T) {
		created, err := s.AddRelationship(ctx, &models.Relationship{PersonID: b.ID, RelatedPersonID: a.ID, Type: models.RelationshipSpouse})
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.AddRelationship(ctx, &models.Relationship{PersonID: a.ID, RelatedPersonID: b.ID, Type: models.RelationshipSpouse})
		require.NoError(t, err)
		assert.False(t, created)

		rels, err := s.ListRelationships(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Equal(t, a.ID, rels[0].PersonID)
	})

	t.Run("child edges become parent edges", func(t *testing.T) {
		r := &models.Relationship{PersonID: a.ID, RelatedPersonID: c.ID, Type: models.RelationshipChild}
		created, err := s.AddRelationship(ctx, r)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, models.RelationshipParent, r.Type)
		assert.Equal(t, c.ID, r.PersonID)

		created, err = s.AddRelationship(ctx, &models.Relationship{PersonID: c.ID, RelatedPersonID: a.ID, Type: models.RelationshipParent})
		require.NoError(t, err)
		assert.False(t, created)

		rels, err := s.ListRelationships(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, rels, 1)
		other, relation, ok := rels[0].From(c.ID)
		require.True(t, ok)
		assert.Equal(t, a.ID, other)
		assert.Equal(t, models.RelationshipParent, relation)
	})

	t.Run("reassign drops self edges and duplicates", func(t *testing.T) {
		// b is merged into a: the a-b spouse edge would become a self edge
		require.NoError(t, s.ReassignPerson(ctx, b.ID, a.ID))
		rels, err := s.ListRelationships(ctx, a.ID)
		require.NoError(t, err)
		assert.Len(t, rels, 1)
		rels, err = s.ListRelationships(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, rels)
	})
}

func TestMemory_Addresses(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	p := &models.Person{FirstName: "A"}
	require.NoError(t, s.CreatePerson(ctx, p))

	require.NoError(t, s.AddAddress(ctx, &models.Address{PersonID: p.ID, City: "Late", EffectiveDate: models.ExactDate(1950, 1, 1)}))
	require.NoError(t, s.AddAddress(ctx, &models.Address{PersonID: p.ID, City: "Undated"}))
	require.NoError(t, s.AddAddress(ctx, &models.Address{PersonID: p.ID, City: "Early", EffectiveDate: models.YearOnly(1930, 0)}))

	addrs, err := s.ListAddresses(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, addrs, 3)
	assert.Equal(t, []string{"Undated", "Early", "Late"}, []string{addrs[0].City, addrs[1].City, addrs[2].City})

	err = s.AddAddress(ctx, &models.Address{PersonID: 424242})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_MatchCandidates(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	mc := &models.MatchCandidate{PersonID: 1, MatchedPersonID: 2, Score: 0.8}
	require.NoError(t, s.CreateMatchCandidate(ctx, mc))
	assert.Equal(t, models.MatchCandidateStatusPending, mc.Status)

	require.NoError(t, s.TransitionMatchCandidate(ctx, mc.ID, models.MatchCandidateStatusPending, models.MatchCandidateStatusApproved))
	err := s.TransitionMatchCandidate(ctx, mc.ID, models.MatchCandidateStatusPending, models.MatchCandidateStatusRejected)
	assert.ErrorIs(t, err, ErrVersionConflict)

	pending, err := s.ListMatchCandidates(ctx, models.MatchCandidateFilter{Status: models.MatchCandidateStatusPending})
	require.NoError(t, err)
	assert.Empty(t, pending)

	other := &models.MatchCandidate{PersonID: 3, MatchedPersonID: 4, Score: 0.75}
	require.NoError(t, s.CreateMatchCandidate(ctx, other))
	require.NoError(t, s.CreateMatchCandidate(ctx, &models.MatchCandidate{PersonID: 5, MatchedPersonID: 2, Score: 0.75}))

	byMatch, err := s.ListMatchCandidates(ctx, models.MatchCandidateFilter{Status: models.MatchCandidateStatusPending, MatchedPersonID: 4})
	require.NoError(t, err)
	require.Len(t, byMatch, 1)
	assert.Equal(t, other.ID, byMatch[0].ID)
}

func TestMemory_CountStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	lead := &models.Person{FirstName: "Lead"}
	provisional := &models.Person{FirstName: "Maybe", IsProvisional: true}
	for _, p := range []*models.Person{lead, provisional} {
		require.NoError(t, s.CreatePerson(ctx, p))
	}
	require.NoError(t, s.SaveLeadScore(ctx, models.LeadScore{PersonID: lead.ID, Score: 85, HasGermanAncestor: true}))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateRawPersonRecord(ctx, &models.RawPersonRecord{SourceID: int64(i), PersonID: lead.ID}))
	}
	require.NoError(t, s.CreateMatchCandidate(ctx, &models.MatchCandidate{PersonID: provisional.ID, MatchedPersonID: lead.ID}))

	stats, err := s.CountStats(ctx, 70)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRecords)
	assert.Equal(t, 1, stats.UniquePersons, "provisional persons are not unique persons")
	assert.Equal(t, 1, stats.LeadsCount)
	assert.Equal(t, 1, stats.PendingReviews)
	assert.Equal(t, 1, stats.ProvisionalPersons)

	n, err := s.CountPersonSources(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMemory_TransactRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	target := &models.Person{FirstName: "Johann", LastName: "Schmidt"}
	other := &models.Person{FirstName: "Maria", LastName: "Schmidt"}
	for _, p := range []*models.Person{target, other} {
		require.NoError(t, s.CreatePerson(ctx, p))
	}
	_, err := s.AddRelationship(ctx, &models.Relationship{PersonID: other.ID, RelatedPersonID: target.ID, Type: models.RelationshipSpouse})
	require.NoError(t, err)

	boom := errors.New("boom")
	var created models.Person
	err = s.Transact(ctx, func(ctx context.Context) error {
		created = models.Person{FirstName: "Hans", LastName: "Schmidt", IsProvisional: true}
		if err := s.CreatePerson(ctx, &created); err != nil {
			return err
		}
		if err := s.AddAddress(ctx, &models.Address{PersonID: created.ID, City: "Berlin"}); err != nil {
			return err
		}
		if err := s.CreateMatchCandidate(ctx, &models.MatchCandidate{PersonID: created.ID, MatchedPersonID: target.ID}); err != nil {
			return err
		}
		if err := s.CreateRawPersonRecord(ctx, &models.RawPersonRecord{SourceID: 7, PersonID: created.ID}); err != nil {
			return err
		}

		updated := *target
		updated.MiddleName = "Georg"
		if err := s.UpdatePerson(ctx, &updated); err != nil {
			return err
		}
		if err := s.ReassignPerson(ctx, other.ID, created.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetPerson(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetPerson(ctx, target.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MiddleName)
	assert.Equal(t, 1, got.Version)

	rels, err := s.ListRelationships(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	otherID, _, ok := rels[0].From(other.ID)
	require.True(t, ok)
	assert.Equal(t, target.ID, otherID)

	stats, err := s.CountStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{UniquePersons: 2}, stats)

	addrs, err := s.ListAddresses(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, addrs)

	t.Run("success keeps writes", func(t *testing.T) {
		err := s.Transact(ctx, func(ctx context.Context) error {
			return s.CreatePerson(ctx, &models.Person{FirstName: "Kept"})
		})
		require.NoError(t, err)
		stats, err := s.CountStats(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.UniquePersons)
	})
}

func TestMemory_Unavailable(t *testing.T) {
	s := NewMemory()
	s.SetUnavailable(true)
	err := s.Ping(context.Background())
	assert.True(t, IsUnavailable(err))

	s.SetUnavailable(false)
	assert.NoError(t, s.Ping(context.Background()))
}
