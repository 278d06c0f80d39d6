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

var jobColumns = []string{
	"id", "job_type", "state", "source_type", "file_name", "batch_id", "records_processed",
	"total_records", "result_data", "error_message", "started_at", "completed_at", "created_at",
}

// JobRepository handles processing job persistence
type JobRepository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewJobRepository creates a new job repository
func NewJobRepository(db database.DB, logger ectologger.Logger) *JobRepository {
	return &JobRepository{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a job
func (r *JobRepository) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	ctx, span := tracing.StartSpan(ctx, "repositories.JobRepository.CreateJob")
	defer span.End()

	ib := database.NewInsertBuilder("processing_jobs")
	ib.Cols("job_type", "state", "source_type", "file_name", "batch_id", "records_processed",
		"total_records", "result_data", "error_message", "started_at", "completed_at")
	ib.Values(job.JobType, job.State, job.SourceType, job.FileName, job.BatchID, job.RecordsProcessed,
		job.TotalRecords, job.Result, job.ErrorMessage, job.StartedAt, job.CompletedAt)
	ib.Returning("id", "created_at")

	query, args := ib.Build()
	if err := r.db.Conn(ctx).GetContext(ctx, job, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("file_name", job.FileName).Error("Failed to create job")
		tracing.RecordError(span, err)
		return mapError(err, "create job")
	}
	return nil
}

// GetJob retrieves a job by id
func (r *JobRepository) GetJob(ctx context.Context, id int64) (models.ProcessingJob, error) {
	ctx, span := tracing.StartSpan(ctx, "repositories.JobRepository.GetJob")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(jobColumns...)
	sb.From("processing_jobs")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var job models.ProcessingJob
	if err := r.db.Conn(ctx).GetContext(ctx, &job, query, args...); err != nil {
		return models.ProcessingJob{}, mapError(err, "job %d", id)
	}
	return job, nil
}

// UpdateJob writes the mutable job fields
func (r *JobRepository) UpdateJob(ctx context.Context, job *models.ProcessingJob) error {
	ctx, span := tracing.StartSpan(ctx, "repositories.JobRepository.UpdateJob")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("processing_jobs")
	ub.Set(
		ub.Assign("state", job.State),
		ub.Assign("records_processed", job.RecordsProcessed),
		ub.Assign("total_records", job.TotalRecords),
		ub.Assign("result_data", job.Result),
		ub.Assign("error_message", job.ErrorMessage),
		ub.Assign("started_at", job.StartedAt),
		ub.Assign("completed_at", job.CompletedAt),
	)
	ub.Where(ub.Equal("id", job.ID))

	query, args := ub.Build()
	res, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err)
		return mapError(err, "update job %d", job.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %d: %w", job.ID, store.ErrNotFound)
	}
	return nil
}

// ListBatchJobs returns the jobs of a batch in id order
func (r *JobRepository) ListBatchJobs(ctx context.Context, batchID string) ([]models.ProcessingJob, error) {
	ctx, span := tracing.StartSpan(ctx, "repositories.JobRepository.ListBatchJobs")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(jobColumns...)
	sb.From("processing_jobs")
	sb.Where(sb.Equal("batch_id", batchID))
	sb.OrderBy("id")

	query, args := sb.Build()
	jobs := make([]models.ProcessingJob, 0)
	if err := r.db.Conn(ctx).SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, mapError(err, "list jobs of batch %s", batchID)
	}
	return jobs, nil
}
