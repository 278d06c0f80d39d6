package repositories

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/rowan/pkg/database"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/store"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

var relationshipColumns = []string{"id", "person_id", "related_person_id", "relationship_type", "source_id", "created_at"}

// RelationshipRepository handles family edge persistence
type RelationshipRepository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRelationshipRepository creates a new relationship repository
func NewRelationshipRepository(db database.DB, logger ectologger.Logger) *RelationshipRepository {
	return &RelationshipRepository{
		db:     db,
		logger: logger,
	}
}

// AddRelationship stores the canonical form of rel. An existing edge is loaded into rel
// and created is false.
func (r *RelationshipRepository) AddRelationship(ctx context.Context, rel *models.Relationship) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "repositories.RelationshipRepository.AddRelationship")
	defer span.End()

	*rel = rel.Canonical()

	ib := database.NewInsertBuilder("relationships")
	ib.Cols("person_id", "related_person_id", "relationship_type", "source_id")
	ib.Values(rel.PersonID, rel.RelatedPersonID, rel.Type, rel.SourceID)
	ib.OnConflictDoNothing("person_id", "related_person_id", "relationship_type")
	ib.Returning("id", "created_at")

	query, args := ib.Build()
	err := r.db.Conn(ctx).GetContext(ctx, rel, query, args...)
	if err == nil {
		return true, nil
	}
	if mapped := mapError(err, "add relationship"); !errors.Is(mapped, store.ErrNotFound) {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"person_id":         rel.PersonID,
			"related_person_id": rel.RelatedPersonID,
			"relationship_type": rel.Type,
		}).Error("Failed to add relationship")
		tracing.RecordError(span, err)
		return false, mapped
	}

	// conflict: the edge already exists
	sb := database.NewSelectBuilder()
	sb.Select(relationshipColumns...)
	sb.From("relationships")
	sb.Where(
		sb.Equal("person_id", rel.PersonID),
		sb.Equal("related_person_id", rel.RelatedPersonID),
		sb.Equal("relationship_type", rel.Type),
	)
	query, args = sb.Build()
	if err := r.db.Conn(ctx).GetContext(ctx, rel, query, args...); err != nil {
		return false, mapError(err, "load existing relationship")
	}
	return false, nil
}

// ListRelationships returns every edge touching the person
func (r *RelationshipRepository) ListRelationships(ctx context.Context, personID int64) ([]models.Relationship, error) {
	ctx, span := tracing.StartSpan(ctx, "repositories.RelationshipRepository.ListRelationships")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(relationshipColumns...)
	sb.From("relationships")
	sb.Where(sb.Or(
		sb.Equal("person_id", personID),
		sb.Equal("related_person_id", personID),
	))
	sb.OrderBy("id")

	query, args := sb.Build()
	rels := make([]models.Relationship, 0)
	if err := r.db.Conn(ctx).SelectContext(ctx, &rels, query, args...); err != nil {
		return nil, mapError(err, "list relationships of person %d", personID)
	}
	return rels, nil
}
