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

var matchCandidateColumns = []string{
	"id", "source_id", "person_id", "matched_person_id", "score", "breakdown", "status", "reviewed_at", "created_at",
}

// MatchCandidateRepository handles review queue persistence
type MatchCandidateRepository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewMatchCandidateRepository creates a new match candidate repository
func NewMatchCandidateRepository(db database.DB, logger ectologger.Logger) *MatchCandidateRepository {
	return &MatchCandidateRepository{
		db:     db,
		logger: logger,
	}
}

// CreateMatchCandidate queues a provisional person for review
func (r *MatchCandidateRepository) CreateMatchCandidate(ctx context.Context, mc *models.MatchCandidate) error {
	ctx, span := tracing.StartSpan(ctx, "repositories.MatchCandidateRepository.CreateMatchCandidate")
	defer span.End()

	if mc.Status == "" {
		mc.Status = models.MatchCandidateStatusPending
	}

	ib := database.NewInsertBuilder("match_candidates")
	ib.Cols("source_id", "person_id", "matched_person_id", "score", "breakdown", "status")
	ib.Values(mc.SourceID, mc.PersonID, mc.MatchedPersonID, mc.Score, mc.Breakdown, mc.Status)
	ib.Returning("id", "created_at")

	query, args := ib.Build()
	if err := r.db.Conn(ctx).GetContext(ctx, mc, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"person_id":         mc.PersonID,
			"matched_person_id": mc.MatchedPersonID,
		}).Error("Failed to create match candidate")
		tracing.RecordError(span, err)
		return mapError(err, "create match candidate")
	}
	return nil
}

// GetMatchCandidate retrieves a match candidate by id
func (r *MatchCandidateRepository) GetMatchCandidate(ctx context.Context, id int64) (models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "repositories.MatchCandidateRepository.GetMatchCandidate")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(matchCandidateColumns...)
	sb.From("match_candidates")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var mc models.MatchCandidate
	if err := r.db.Conn(ctx).GetContext(ctx, &mc, query, args...); err != nil {
		return models.MatchCandidate{}, mapError(err, "match candidate %d", id)
	}
	return mc, nil
}

// ListMatchCandidates returns candidates in creation order
func (r *MatchCandidateRepository) ListMatchCandidates(ctx context.Context, filter models.MatchCandidateFilter) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "repositories.MatchCandidateRepository.ListMatchCandidates")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(matchCandidateColumns...)
	sb.From("match_candidates")
	if filter.Status != "" {
		sb.Where(sb.Equal("status", filter.Status))
	}
	if filter.MatchedPersonID != 0 {
		sb.Where(sb.Equal("matched_person_id", filter.MatchedPersonID))
	}
	sb.OrderBy("id")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}

	query, args := sb.Build()
	candidates := make([]models.MatchCandidate, 0)
	if err := r.db.Conn(ctx).SelectContext(ctx, &candidates, query, args...); err != nil {
		return nil, mapError(err, "list match candidates")
	}
	return candidates, nil
}

// TransitionMatchCandidate moves a candidate from one status to another
func (r *MatchCandidateRepository) TransitionMatchCandidate(ctx context.Context, id int64, from, to models.MatchCandidateStatus) error {
	ctx, span := tracing.StartSpan(ctx, "repositories.MatchCandidateRepository.TransitionMatchCandidate")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("match_candidates")
	ub.Set(ub.Assign("status", to), "reviewed_at = now()")
	ub.Where(ub.Equal("id", id), ub.Equal("status", from))

	query, args := ub.Build()
	res, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err)
		return mapError(err, "transition match candidate %d", id)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	// nothing updated: the candidate is missing or already decided
	mc, err := r.GetMatchCandidate(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("match candidate %d is %s: %w", id, mc.Status, store.ErrVersionConflict)
}
