package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/rowan/pkg/loader"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

// IngestService accepts ingest submissions
type IngestService interface {
	Submit(ctx context.Context, req models.IngestRequest) (models.IngestResponse, error)
}

// DirLoader submits a directory of record files
type DirLoader interface {
	Dir() string
	LoadDir(ctx context.Context) (loader.Result, error)
}

// IngestHandler handles record submission endpoints
type IngestHandler struct {
	ingest IngestService
	loader DirLoader
	logger ectologger.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(ingest IngestService, dirLoader DirLoader, logger ectologger.Logger) *IngestHandler {
	return &IngestHandler{
		ingest: ingest,
		loader: dirLoader,
		logger: logger,
	}
}

// Register registers ingest routes
func (h *IngestHandler) Register(g *echo.Group) {
	g.POST("/ingest", h.Ingest)
	g.POST("/ingest/load-all", h.LoadAll)
	g.GET("/files", h.ListFiles)
}

// Ingest queues the records of one source file
func (h *IngestHandler) Ingest(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "IngestHandler.Ingest")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	req, err := BindRequest[models.IngestRequest](c)
	if err != nil {
		return err
	}

	res, err := h.ingest.Submit(ctx, req)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("file_name", req.FileName).Error("Failed to submit records")
		tracing.RecordError(span, err)
		return MapError(err)
	}

	return AcceptedResponse(c, res)
}

// LoadAll submits every record file of the data directory as one batch
func (h *IngestHandler) LoadAll(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "IngestHandler.LoadAll")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	res, err := h.loader.LoadDir(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithField("dir", h.loader.Dir()).Error("Failed to load record files")
		tracing.RecordError(span, err)
		return MapError(err)
	}

	return AcceptedResponse(c, res)
}

// ListFiles lists the record files of the data directory
func (h *IngestHandler) ListFiles(c echo.Context) error {
	files, err := loader.ListFiles(h.loader.Dir())
	if err != nil {
		return MapError(err)
	}
	return SuccessResponse(c, files)
}
