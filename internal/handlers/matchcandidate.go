package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

const (
	defaultCandidateLimit = 50
	maxCandidateLimit     = 500
)

// CandidateStore reads match candidates
type CandidateStore interface {
	GetMatchCandidate(ctx context.Context, id int64) (models.MatchCandidate, error)
	ListMatchCandidates(ctx context.Context, filter models.MatchCandidateFilter) ([]models.MatchCandidate, error)
}

// Reviewer applies a reviewer's decision on a match candidate
type Reviewer interface {
	Approve(ctx context.Context, candidateID int64) (int64, error)
	Reject(ctx context.Context, candidateID int64) error
}

// Rescorer recomputes lead scores for persons changed by a decision
type Rescorer interface {
	ScorePersons(ctx context.Context, personIDs []int64) (int, error)
}

// Projector mirrors persons into the relationship graph
type Projector interface {
	Project(ctx context.Context, personIDs []int64) error
}

// ReviewResponse is the outcome of a review decision
type ReviewResponse struct {
	MatchCandidateID int64                       `json:"match_candidate_id"`
	Status           models.MatchCandidateStatus `json:"status"`
	PersonID         int64                       `json:"person_id"`
}

// MatchCandidateHandler handles the review queue endpoints
type MatchCandidateHandler struct {
	candidates CandidateStore
	reviewer   Reviewer
	scorer     Rescorer
	projector  Projector
	logger     ectologger.Logger
}

// NewMatchCandidateHandler creates a new match candidate handler. projector may be nil.
func NewMatchCandidateHandler(candidates CandidateStore, reviewer Reviewer, scorer Rescorer, projector Projector, logger ectologger.Logger) *MatchCandidateHandler {
	return &MatchCandidateHandler{
		candidates: candidates,
		reviewer:   reviewer,
		scorer:     scorer,
		projector:  projector,
		logger:     logger,
	}
}

// Register registers match candidate routes
func (h *MatchCandidateHandler) Register(g *echo.Group) {
	mc := g.Group("/match-candidates")
	mc.GET("", h.List)
	mc.GET("/:id", h.Get)
	mc.POST("/:id/approve", h.Approve)
	mc.POST("/:id/reject", h.Reject)
}

// List returns match candidates, pending ones by default
func (h *MatchCandidateHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchCandidateHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	filter := models.MatchCandidateFilter{
		Status: models.MatchCandidateStatusPending,
		Limit:  defaultCandidateLimit,
	}

	switch status := models.MatchCandidateStatus(c.QueryParam("status")); status {
	case "":
	case models.MatchCandidateStatusPending, models.MatchCandidateStatusApproved, models.MatchCandidateStatusRejected:
		filter.Status = status
	default:
		return BadRequest("invalid status: must be one of pending, approved, rejected")
	}

	limit, err := QueryInt(c, "limit")
	if err != nil {
		return err
	}
	if limit != nil {
		if *limit <= 0 {
			return BadRequest("invalid limit: must be a positive integer")
		}
		filter.Limit = min(*limit, maxCandidateLimit)
	}

	candidates, err := h.candidates.ListMatchCandidates(ctx, filter)
	if err != nil {
		tracing.RecordError(span, err)
		return MapError(err)
	}

	return SuccessResponse(c, candidates)
}

// Get returns one match candidate
func (h *MatchCandidateHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchCandidateHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	mc, err := h.candidates.GetMatchCandidate(ctx, id)
	if err != nil {
		return MapError(err)
	}

	return SuccessResponse(c, mc)
}

// Approve merges the candidate's provisional person into its match
func (h *MatchCandidateHandler) Approve(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchCandidateHandler.Approve")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	survivorID, err := h.reviewer.Approve(ctx, id)
	if err != nil {
		tracing.RecordError(span, err)
		return MapError(err)
	}

	h.refresh(ctx, survivorID)

	return SuccessResponse(c, ReviewResponse{
		MatchCandidateID: id,
		Status:           models.MatchCandidateStatusApproved,
		PersonID:         survivorID,
	})
}

// Reject confirms the candidate's provisional person as a distinct person
func (h *MatchCandidateHandler) Reject(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MatchCandidateHandler.Reject")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	mc, err := h.candidates.GetMatchCandidate(ctx, id)
	if err != nil {
		return MapError(err)
	}

	if err := h.reviewer.Reject(ctx, id); err != nil {
		tracing.RecordError(span, err)
		return MapError(err)
	}

	h.refresh(ctx, mc.PersonID)

	return SuccessResponse(c, ReviewResponse{
		MatchCandidateID: id,
		Status:           models.MatchCandidateStatusRejected,
		PersonID:         mc.PersonID,
	})
}

// refresh rescores and reprojects a person after a decision. The decision already
// committed, so failures are only logged.
func (h *MatchCandidateHandler) refresh(ctx context.Context, personID int64) {
	log := h.logger.WithContext(ctx).WithField("person_id", personID)
	ids := []int64{personID}

	if _, err := h.scorer.ScorePersons(ctx, ids); err != nil {
		log.WithError(err).Warn("Failed to rescore person after review")
	}
	if h.projector != nil {
		if err := h.projector.Project(ctx, ids); err != nil {
			log.WithError(err).Warn("Failed to project person after review")
		}
	}
}
