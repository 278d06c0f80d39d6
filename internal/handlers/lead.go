package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

// LeadService answers lead and statistics queries
type LeadService interface {
	DefaultFilter() models.LeadFilter
	ListLeads(ctx context.Context, filter models.LeadFilter) ([]models.LeadView, error)
	GetLead(ctx context.Context, personID int64) (models.LeadView, error)
	Stats(ctx context.Context) (models.Stats, error)
}

// LeadHandler handles lead endpoints
type LeadHandler struct {
	leads  LeadService
	logger ectologger.Logger
}

// NewLeadHandler creates a new lead handler
func NewLeadHandler(leads LeadService, logger ectologger.Logger) *LeadHandler {
	return &LeadHandler{
		leads:  leads,
		logger: logger,
	}
}

// Register registers lead routes
func (h *LeadHandler) Register(g *echo.Group) {
	g.GET("/leads", h.List)
	g.GET("/leads/:id", h.Get)
	g.GET("/stats", h.Stats)
}

// List returns the leads matching the query filter.
// An absent ancestor_country uses the configured country, an empty one disables the filter.
func (h *LeadHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "LeadHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	filter, err := h.parseFilter(c)
	if err != nil {
		return err
	}

	leads, err := h.leads.ListLeads(ctx, filter)
	if err != nil {
		tracing.RecordError(span, err)
		return MapError(err)
	}

	return SuccessResponse(c, leads)
}

func (h *LeadHandler) parseFilter(c echo.Context) (models.LeadFilter, error) {
	filter := h.leads.DefaultFilter()

	minScore, err := QueryInt(c, "min_score")
	if err != nil {
		return filter, err
	}
	if minScore != nil {
		if *minScore < 0 || *minScore > 100 {
			return filter, BadRequest("invalid min_score: must be between 0 and 100")
		}
		filter.MinScore = *minScore
	}

	limit, err := QueryInt(c, "limit")
	if err != nil {
		return filter, err
	}
	if limit != nil {
		if *limit <= 0 {
			return filter, BadRequest("invalid limit: must be a positive integer")
		}
		filter.Limit = *limit
	}

	if _, ok := c.QueryParams()["ancestor_country"]; ok {
		filter.AncestorCountry = c.QueryParam("ancestor_country")
	}

	return filter, nil
}

// Get returns the lead view of one person
func (h *LeadHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "LeadHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	lead, err := h.leads.GetLead(ctx, id)
	if err != nil {
		return MapError(err)
	}

	return SuccessResponse(c, lead)
}

// Stats returns aggregate counts of the store
func (h *LeadHandler) Stats(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "LeadHandler.Stats")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	stats, err := h.leads.Stats(ctx)
	if err != nil {
		return MapError(err)
	}

	return SuccessResponse(c, stats)
}
