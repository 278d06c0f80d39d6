package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/rowan/pkg/models"
)

// DefaultHeartbeat is how often an idle progress stream sends a keep-alive comment
const DefaultHeartbeat = 15 * time.Second

// ProgressSource hands out live progress subscriptions
type ProgressSource interface {
	Subscribe() (<-chan models.ProgressEvent, func())
}

// ProgressHandler streams progress events as server-sent events
type ProgressHandler struct {
	source    ProgressSource
	heartbeat time.Duration
	logger    ectologger.Logger
}

// NewProgressHandler creates a new progress handler
func NewProgressHandler(source ProgressSource, heartbeat time.Duration, logger ectologger.Logger) *ProgressHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &ProgressHandler{
		source:    source,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// Register registers progress routes
func (h *ProgressHandler) Register(g *echo.Group) {
	g.GET("/progress", h.Stream)
}

type progressFilter struct {
	jobID   int64
	batchID string
}

func (f progressFilter) match(event models.ProgressEvent) bool {
	if f.jobID != 0 && event.JobID != f.jobID {
		return false
	}
	if f.batchID != "" && event.BatchID != f.batchID {
		return false
	}
	return true
}

// Stream writes progress events until the client disconnects. Only events published
// after the subscription are delivered.
func (h *ProgressHandler) Stream(c echo.Context) error {
	ctx := c.Request().Context()

	filter := progressFilter{batchID: c.QueryParam("batch_id")}
	if raw := c.QueryParam("job_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return BadRequest("invalid job_id: must be a positive integer")
		}
		filter.jobID = id
	}

	events, cancel := h.source.Subscribe()
	defer cancel()

	res := c.Response()
	// the stream outlives the server write timeout
	if err := http.NewResponseController(res).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	h.logger.WithContext(ctx).Debug("Progress subscriber connected")
	defer h.logger.WithContext(ctx).Debug("Progress subscriber disconnected")

	return h.pump(ctx, res, events, filter)
}

func (h *ProgressHandler) pump(ctx context.Context, res *echo.Response, events <-chan models.ProgressEvent, filter progressFilter) error {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if !filter.match(event) {
				continue
			}
			if err := writeEvent(res, event); err != nil {
				h.logger.WithContext(ctx).WithError(err).Debug("Failed to write progress event")
				return nil
			}
			res.Flush()
		}
	}
}

func writeEvent(res *echo.Response, event models.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event.Status, data)
	return err
}
