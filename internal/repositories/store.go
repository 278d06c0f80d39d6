// Package repositories implements the persistence contract on PostgreSQL
package repositories

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/rowan/pkg/database"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/store"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

// Store combines the repositories into a store.Store
type Store struct {
	*SourceRepository
	*PersonRepository
	*AddressRepository
	*RelationshipRepository
	*MatchCandidateRepository
	*JobRepository

	db     database.DB
	logger ectologger.Logger
}

var _ store.Store = (*Store)(nil)

// NewStore creates a PostgreSQL backed store
func NewStore(db database.DB, logger ectologger.Logger) *Store {
	return &Store{
		SourceRepository:         NewSourceRepository(db, logger),
		PersonRepository:         NewPersonRepository(db, logger),
		AddressRepository:        NewAddressRepository(db, logger),
		RelationshipRepository:   NewRelationshipRepository(db, logger),
		MatchCandidateRepository: NewMatchCandidateRepository(db, logger),
		JobRepository:            NewJobRepository(db, logger),
		db:                       db,
		logger:                   logger,
	}
}

// Transact runs fn in a transaction. Repositories called with the returned context
// join it.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := database.WithTx(ctx, s.db, fn); err != nil {
		return mapError(err, "transaction")
	}
	return nil
}

// Ping checks that PostgreSQL answers
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// ReassignPerson re-points addresses, source links and relationships from one person
// to another. Edges that would become self edges or duplicates are dropped.
func (s *Store) ReassignPerson(ctx context.Context, fromID, toID int64) error {
	ctx, span := tracing.StartSpan(ctx, "repositories.Store.ReassignPerson")
	defer span.End()

	err := s.Transact(ctx, func(ctx context.Context) error {
		conn := s.db.Conn(ctx)

		for _, table := range []string{"addresses", "raw_person_records"} {
			ub := database.NewUpdateBuilder()
			ub.Update(table)
			ub.Set(ub.Assign("person_id", toID))
			ub.Where(ub.Equal("person_id", fromID))
			query, args := ub.Build()
			if _, err := conn.ExecContext(ctx, query, args...); err != nil {
				return mapError(err, "reassign %s", table)
			}
		}

		rels, err := s.ListRelationships(ctx, fromID)
		if err != nil {
			return err
		}
		if len(rels) == 0 {
			return nil
		}

		ids := make([]any, 0, len(rels))
		for _, rel := range rels {
			ids = append(ids, rel.ID)
		}
		dlb := database.NewDeleteBuilder()
		dlb.DeleteFrom("relationships")
		dlb.Where(dlb.In("id", ids...))
		query, args := dlb.Build()
		if _, err := conn.ExecContext(ctx, query, args...); err != nil {
			return mapError(err, "remove reassigned relationships")
		}

		for _, rel := range rels {
			if rel.PersonID == fromID {
				rel.PersonID = toID
			}
			if rel.RelatedPersonID == fromID {
				rel.RelatedPersonID = toID
			}
			if rel.PersonID == rel.RelatedPersonID {
				continue
			}
			if _, err := s.AddRelationship(ctx, &rel); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"from_person_id": fromID,
			"to_person_id":   toID,
		}).Error("Failed to reassign person")
		tracing.RecordError(span, err)
	}
	return err
}

type statsRow struct {
	TotalRecords       int `db:"total_records"`
	UniquePersons      int `db:"unique_persons"`
	ProvisionalPersons int `db:"provisional_persons"`
	LeadsCount         int `db:"leads_count"`
	PendingReviews     int `db:"pending_reviews"`
}

const statsQuery = `
	SELECT
		(SELECT COUNT(*) FROM raw_person_records) AS total_records,
		COUNT(*) FILTER (WHERE merged_into IS NULL AND NOT is_provisional) AS unique_persons,
		COUNT(*) FILTER (WHERE merged_into IS NULL AND is_provisional) AS provisional_persons,
		COUNT(*) FILTER (WHERE merged_into IS NULL AND NOT is_provisional
			AND is_german_ancestor_candidate AND lead_score >= $1) AS leads_count,
		(SELECT COUNT(*) FROM match_candidates WHERE status = 'pending') AS pending_reviews
	FROM persons`

// CountStats fills the count fields of models.Stats
func (s *Store) CountStats(ctx context.Context, leadMinScore int) (models.Stats, error) {
	ctx, span := tracing.StartSpan(ctx, "repositories.Store.CountStats")
	defer span.End()

	var row statsRow
	if err := s.db.Conn(ctx).GetContext(ctx, &row, statsQuery, leadMinScore); err != nil {
		tracing.RecordError(span, err)
		return models.Stats{}, mapError(err, "count stats")
	}
	return models.Stats{
		TotalRecords:       row.TotalRecords,
		UniquePersons:      row.UniquePersons,
		ProvisionalPersons: row.ProvisionalPersons,
		LeadsCount:         row.LeadsCount,
		PendingReviews:     row.PendingReviews,
	}, nil
}
