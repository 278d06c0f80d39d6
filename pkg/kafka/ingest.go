package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/store"
)

// Submitter accepts an ingest request as a pipeline job
type Submitter interface {
	Submit(ctx context.Context, req models.IngestRequest) (models.IngestResponse, error)
}

// NewIngestHandler decodes ingest requests from message values and submits them.
// Undecodable or invalid messages are poison; store outages are retried.
func NewIngestHandler(submitter Submitter, validate *validator.Validate, logger ectologger.Logger) MessageHandler {
	return func(ctx context.Context, msg *IncomingMessage) error {
		var req models.IngestRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			return fmt.Errorf("%w: invalid ingest json: %v", ErrPoisonMessage, err)
		}
		if req.FileName == "" {
			req.FileName = msg.Key
		}
		if err := validate.Struct(req); err != nil {
			return fmt.Errorf("%w: invalid ingest request: %v", ErrPoisonMessage, err)
		}

		resp, err := submitter.Submit(ctx, req)
		if err != nil {
			if store.IsUnavailable(err) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrPoisonMessage, err)
		}

		logger.WithContext(ctx).WithFields(map[string]any{
			"job_id":    resp.JobID,
			"file_name": req.FileName,
			"records":   resp.RecordsSubmitted,
		}).Info("Submitted ingest request from Kafka")
		return nil
	}
}
