package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/rowan/pkg/database"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

var sourceColumns = []string{"id", "source_type", "file_name", "record_data", "created_at"}

// SourceRepository handles source and raw person record persistence
type SourceRepository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewSourceRepository creates a new source repository
func NewSourceRepository(db database.DB, logger ectologger.Logger) *SourceRepository {
	return &SourceRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSource stores a submitted record payload
func (r *SourceRepository) CreateSource(ctx context.Context, src *models.Source) error {
	ctx, span := tracing.StartSpan(ctx, "repositories.SourceRepository.CreateSource")
	defer span.End()

	ib := database.NewInsertBuilder("sources")
	ib.Cols("source_type", "file_name", "record_data")
	ib.Values(src.SourceType, src.FileName, src.RecordData)
	ib.Returning("id", "created_at")

	query, args := ib.Build()
	if err := r.db.Conn(ctx).GetContext(ctx, src, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("file_name", src.FileName).Error("Failed to create source")
		tracing.RecordError(span, err)
		return mapError(err, "create source")
	}
	return nil
}

// GetSource retrieves a source by id
func (r *SourceRepository) GetSource(ctx context.Context, id int64) (models.Source, error) {
	ctx, span := tracing.StartSpan(ctx, "repositories.SourceRepository.GetSource")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(sourceColumns...)
	sb.From("sources")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var src models.Source
	if err := r.db.Conn(ctx).GetContext(ctx, &src, query, args...); err != nil {
		return models.Source{}, mapError(err, "source %d", id)
	}
	return src, nil
}

// CreateRawPersonRecord links a source to the person it resolved to
func (r *SourceRepository) CreateRawPersonRecord(ctx context.Context, rec *models.RawPersonRecord) error {
	ctx, span := tracing.StartSpan(ctx, "repositories.SourceRepository.CreateRawPersonRecord")
	defer span.End()

	ib := database.NewInsertBuilder("raw_person_records")
	ib.Cols("source_id", "person_id", "outcome")
	ib.Values(rec.SourceID, rec.PersonID, rec.Outcome)
	ib.Returning("id", "created_at")

	query, args := ib.Build()
	if err := r.db.Conn(ctx).GetContext(ctx, rec, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source_id": rec.SourceID,
			"person_id": rec.PersonID,
		}).Error("Failed to link source to person")
		tracing.RecordError(span, err)
		return mapError(err, "create raw person record")
	}
	return nil
}

// CountPersonSources counts the distinct sources linked to a person
func (r *SourceRepository) CountPersonSources(ctx context.Context, personID int64) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "repositories.SourceRepository.CountPersonSources")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(DISTINCT source_id)")
	sb.From("raw_person_records")
	sb.Where(sb.Equal("person_id", personID))

	query, args := sb.Build()
	var count int
	if err := r.db.Conn(ctx).GetContext(ctx, &count, query, args...); err != nil {
		return 0, mapError(err, "count sources of person %d", personID)
	}
	return count, nil
}
