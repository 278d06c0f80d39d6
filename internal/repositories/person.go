package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/rowan/pkg/database"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/store"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

var personColumns = []string{
	"id", "first_name", "middle_name", "last_name", "birth_date", "birth_year", "birth_place",
	"birth_country", "death_date", "death_place", "naturalization_date", "sex", "is_living",
	"is_provisional", "merged_into", "phonetic_keys", "is_german_ancestor_candidate",
	"lead_score", "confidence", "scored_at", "version", "created_at", "updated_at",
}

// PersonRepository handles person persistence
type PersonRepository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewPersonRepository creates a new person repository
func NewPersonRepository(db database.DB, logger ectologger.Logger) *PersonRepository {
	return &PersonRepository{
		db:     db,
		logger: logger,
	}
}

// CreatePerson inserts a person at version 1
func (r *PersonRepository) CreatePerson(ctx context.Context, p *models.Person) error {
	ctx, span := tracing.StartSpan(ctx, "repositories.PersonRepository.CreatePerson")
	defer span.End()

	p.Version = 1
	p.BirthYear = p.BirthDate.YearPtr()
	if p.PhoneticKeys == nil {
		p.PhoneticKeys = pq.StringArray{}
	}

	ib := database.NewInsertBuilder("persons")
	ib.Cols(
		"first_name", "middle_name", "last_name", "birth_date", "birth_year", "birth_place",
		"birth_country", "death_date", "death_place", "naturalization_date", "sex", "is_living",
		"is_provisional", "merged_into", "phonetic_keys", "version",
	)
	ib.Values(
		p.FirstName, p.MiddleName, p.LastName, p.BirthDate, p.BirthYear, p.BirthPlace,
		p.BirthCountry, p.DeathDate, p.DeathPlace, p.NaturalizationDate, p.Sex, p.IsLiving,
		p.IsProvisional, p.MergedInto, p.PhoneticKeys, p.Version,
	)
	ib.Returning("id", "created_at", "updated_at")

	query, args := ib.Build()
	if err := r.db.Conn(ctx).GetContext(ctx, p, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("name", p.FullName()).Error("Failed to create person")
		tracing.RecordError(span, err)
		return mapError(err, "create person")
	}
	return nil
}

// GetPerson retrieves a person by id, merged or not
func (r *PersonRepository) GetPerson(ctx context.Context, id int64) (models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, "repositories.PersonRepository.GetPerson")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(personColumns...)
	sb.From("persons")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var p models.Person
	if err := r.db.Conn(ctx).GetContext(ctx, &p, query, args...); err != nil {
		return models.Person{}, mapError(err, "person %d", id)
	}
	return p, nil
}

// UpdatePerson writes the identity fields when the stored version still equals p.Version
func (r *PersonRepository) UpdatePerson(ctx context.Context, p *models.Person) error {
	ctx, span := tracing.StartSpan(ctx, "repositories.PersonRepository.UpdatePerson")
	defer span.End()

	p.BirthYear = p.BirthDate.YearPtr()
	if p.PhoneticKeys == nil {
		p.PhoneticKeys = pq.StringArray{}
	}

	ub := database.NewUpdateBuilder()
	ub.Update("persons")
	ub.Set(
		ub.Assign("first_name", p.FirstName),
		ub.Assign("middle_name", p.MiddleName),
		ub.Assign("last_name", p.LastName),
		ub.Assign("birth_date", p.BirthDate),
		ub.Assign("birth_year", p.BirthYear),
		ub.Assign("birth_place", p.BirthPlace),
		ub.Assign("birth_country", p.BirthCountry),
		ub.Assign("death_date", p.DeathDate),
		ub.Assign("death_place", p.DeathPlace),
		ub.Assign("naturalization_date", p.NaturalizationDate),
		ub.Assign("sex", p.Sex),
		ub.Assign("is_living", p.IsLiving),
		ub.Assign("is_provisional", p.IsProvisional),
		ub.Assign("merged_into", p.MergedInto),
		ub.Assign("phonetic_keys", p.PhoneticKeys),
		"version = version + 1",
		"updated_at = now()",
	)
	ub.Where(ub.Equal("id", p.ID), ub.Equal("version", p.Version))

	query, args := ub.Build()
	query += " RETURNING version, created_at, updated_at"

	err := r.db.Conn(ctx).GetContext(ctx, p, query, args...)
	if err == nil {
		return nil
	}

	mapped := mapError(err, "update person %d", p.ID)
	if !errors.Is(mapped, store.ErrNotFound) {
		r.logger.WithContext(ctx).WithError(err).WithField("person_id", p.ID).Error("Failed to update person")
		tracing.RecordError(span, err)
		return mapped
	}

	// no row matched: either the person is gone or another writer bumped the version
	stored, getErr := r.GetPerson(ctx, p.ID)
	if getErr != nil {
		return getErr
	}
	return fmt.Errorf("person %d at version %d, have %d: %w", p.ID, stored.Version, p.Version, store.ErrVersionConflict)
}

// FindCandidates returns active persons that share a phonetic key with the query or
// were born within its year window. Persons without a birth year always qualify.
func (r *PersonRepository) FindCandidates(ctx context.Context, q models.CandidateQuery) ([]models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, "repositories.PersonRepository.FindCandidates")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(personColumns...)
	sb.From("persons")
	sb.Where(sb.IsNull("merged_into"))
	if !q.FullScan {
		sb.Where(sb.Or(
			sb.IsNull("birth_year"),
			sb.Between("birth_year", q.MinBirthYear, q.MaxBirthYear),
			fmt.Sprintf("phonetic_keys && %s", sb.Var(pq.StringArray(q.PhoneticKeys))),
		))
	}
	sb.OrderBy("id")

	query, args := sb.Build()
	persons := make([]models.Person, 0)
	if err := r.db.Conn(ctx).SelectContext(ctx, &persons, query, args...); err != nil {
		tracing.RecordError(span, err)
		return nil, mapError(err, "find candidates")
	}
	return persons, nil
}

// ListPersons returns active persons ordered by lead score desc, then id
func (r *PersonRepository) ListPersons(ctx context.Context, filter models.PersonFilter) ([]models.Person, error) {
	ctx, span := tracing.StartSpan(ctx, "repositories.PersonRepository.ListPersons")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(personColumns...)
	sb.From("persons")
	sb.Where(
		sb.IsNull("merged_into"),
		sb.GreaterEqualThan("lead_score", filter.MinScore),
	)
	if !filter.IncludeProvisional {
		sb.Where(sb.Equal("is_provisional", false))
	}
	sb.OrderBy("lead_score DESC", "id")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}

	query, args := sb.Build()
	persons := make([]models.Person, 0)
	if err := r.db.Conn(ctx).SelectContext(ctx, &persons, query, args...); err != nil {
		tracing.RecordError(span, err)
		return nil, mapError(err, "list persons")
	}
	return persons, nil
}

// SaveLeadScore stores the derived score fields without touching the version
func (r *PersonRepository) SaveLeadScore(ctx context.Context, score models.LeadScore) error {
	ctx, span := tracing.StartSpan(ctx, "repositories.PersonRepository.SaveLeadScore")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("persons")
	ub.Set(
		ub.Assign("lead_score", score.Score),
		ub.Assign("confidence", score.Confidence),
		ub.Assign("is_german_ancestor_candidate", score.HasGermanAncestor),
		ub.Assign("scored_at", score.ScoredAt),
	)
	ub.Where(ub.Equal("id", score.PersonID))

	query, args := ub.Build()
	res, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err)
		return mapError(err, "save lead score of person %d", score.PersonID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("person %d: %w", score.PersonID, store.ErrNotFound)
	}
	return nil
}
