package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

// JobService exposes job status and cancellation
type JobService interface {
	GetJob(ctx context.Context, jobID int64) (models.ProcessingJob, error)
	GetBatch(ctx context.Context, batchID string) ([]models.ProcessingJob, error)
	Cancel(ctx context.Context, jobID int64, reason string) (models.ProcessingJob, error)
}

// JobView is the status of a job with its progress percentage
type JobView struct {
	models.ProcessingJob
	Progress int `json:"progress"`
}

func newJobView(job models.ProcessingJob) JobView {
	return JobView{ProcessingJob: job, Progress: job.Progress()}
}

// CancelJobRequest represents the cancel job request body
type CancelJobRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// JobHandler handles job endpoints
type JobHandler struct {
	jobs   JobService
	logger ectologger.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs JobService, logger ectologger.Logger) *JobHandler {
	return &JobHandler{
		jobs:   jobs,
		logger: logger,
	}
}

// Register registers job routes
func (h *JobHandler) Register(g *echo.Group) {
	g.GET("/jobs/:id", h.Get)
	g.POST("/jobs/:id/cancel", h.Cancel)
	g.GET("/batches/:id", h.GetBatch)
}

// Get returns the state of a job
func (h *JobHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "JobHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	job, err := h.jobs.GetJob(ctx, id)
	if err != nil {
		return MapError(err)
	}

	return SuccessResponse(c, newJobView(job))
}

// Cancel asks a pending or running job to stop
func (h *JobHandler) Cancel(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "JobHandler.Cancel")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	id, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	var req CancelJobRequest
	if c.Request().ContentLength > 0 {
		if req, err = BindRequest[CancelJobRequest](c); err != nil {
			return err
		}
	}

	job, err := h.jobs.Cancel(ctx, id, req.Reason)
	if err != nil {
		return MapError(err)
	}

	h.logger.WithContext(ctx).WithField("job_id", id).Info("Cancel requested")
	return AcceptedResponse(c, newJobView(job))
}

// GetBatch returns every job of a batch
func (h *JobHandler) GetBatch(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "JobHandler.GetBatch")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	batchID := c.Param("id")
	jobs, err := h.jobs.GetBatch(ctx, batchID)
	if err != nil {
		return MapError(err)
	}
	if len(jobs) == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("batch %s not found", batchID))
	}

	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	return SuccessResponse(c, views)
}
