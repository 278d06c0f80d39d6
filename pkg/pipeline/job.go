package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/rowan/pkg/context"
	"github.com/Ramsey-B/rowan/pkg/metrics"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/normalizers"
	"github.com/Ramsey-B/rowan/pkg/relationships"
	"github.com/Ramsey-B/rowan/pkg/store"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

// execution carries the mutable state of one running job
type execution struct {
	job     *models.ProcessingJob
	result  models.JobResult
	touched []int64
	log     ectologger.Logger
}

func (e *execution) recordError(sourceID int64, index int, err error) {
	e.result.RecordsFailed++
	if len(e.result.RecordErrors) < MaxRecordErrors {
		e.result.RecordErrors = append(e.result.RecordErrors, models.RecordError{
			SourceID: sourceID,
			Index:    index,
			Error:    err.Error(),
		})
	}
}

// run executes one queued job to a terminal state
func (s *Service) run(ctx context.Context, item queuedJob) {
	ctx = appctx.SetJobID(ctx, item.jobID)
	ctx, span := tracing.StartSpan(ctx, "pipeline.Service.run")
	defer span.End()

	defer s.clearCancel(item.jobID)

	job, err := s.deps.Store.GetJob(ctx, item.jobID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("job_id", item.jobID).Error("Failed to load queued job")
		tracing.RecordError(span, err)
		if s.finishBatch(item.batchID) {
			s.completeBatch(ctx, item.batchID)
		}
		return
	}
	ctx = appctx.SetBatchID(ctx, job.BatchID)

	if job.State.IsTerminal() {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"job_id": job.ID,
			"state":  job.State,
		}).Info("Skipping job that is already terminal")
		if s.finishBatch(job.BatchID) {
			s.completeBatch(ctx, job.BatchID)
		}
		return
	}

	exec := &execution{
		job: &job,
		log: s.logger.WithContext(ctx).WithFields(map[string]any{
			"job_id":   job.ID,
			"batch_id": job.BatchID,
			"file":     job.FileName,
		}),
	}

	if reason, ok := s.cancelRequested(job.ID); ok {
		s.finish(ctx, exec, time.Now(), fmt.Errorf("%w: %s", ErrCancelled, reason))
		return
	}

	start := time.Now()
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	startedAt := s.now()
	job.State = models.JobStateRunning
	job.StartedAt = &startedAt
	if err := s.deps.Store.UpdateJob(ctx, &job); err != nil {
		exec.log.WithError(err).Error("Failed to mark job running")
		tracing.RecordError(span, err)
		s.finish(ctx, exec, start, err)
		return
	}
	exec.log.Infof("Processing %d records", job.TotalRecords)

	err = s.process(ctx, exec, item.sourceIDs)
	if err == nil || errors.Is(err, ErrCancelled) {
		// merges committed before a cancel stand, so their scores must follow
		if scoreErr := s.finalize(ctx, exec); scoreErr != nil && err == nil {
			err = scoreErr
		}
	}
	if err != nil {
		tracing.RecordError(span, err)
	}
	s.finish(ctx, exec, start, err)
}

// process walks the job's sources in order. Only store outages and cancellation stop it.
func (s *Service) process(ctx context.Context, exec *execution, sourceIDs []int64) error {
	for _, sourceID := range sourceIDs {
		if reason, ok := s.cancelRequested(exec.job.ID); ok {
			exec.log.WithField("reason", reason).Info("Job cancelled, skipping remaining records")
			return fmt.Errorf("%w: %s", ErrCancelled, reason)
		}

		if err := s.processSource(ctx, exec, sourceID); err != nil {
			if store.IsUnavailable(err) {
				exec.log.WithError(err).WithField("source_id", sourceID).Error("Store unavailable, failing job")
				return err
			}
			exec.log.WithError(err).WithField("source_id", sourceID).Warn("Failed to process source")
			exec.recordError(sourceID, 0, err)
		}

		exec.job.RecordsProcessed++
		exec.job.Result.Data = exec.result
		if err := s.deps.Store.UpdateJob(ctx, exec.job); err != nil {
			exec.log.WithError(err).Error("Failed to update job progress")
			return err
		}
		s.publish(ctx, *exec.job, models.ProgressProcessing, "")
	}
	return nil
}

// processSource resolves every person record in one source. Errors of individual
// records are recorded on the job; only store outages are returned.
func (s *Service) processSource(ctx context.Context, exec *execution, sourceID int64) error {
	src, err := s.deps.Store.GetSource(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("failed to load source %d: %w", sourceID, err)
	}

	var household []relationships.Member
	for _, raw := range normalizers.SplitRecords(src) {
		personID, role, err := s.processRecord(ctx, exec, raw)
		if store.IsUnavailable(err) {
			return err
		}
		if err != nil {
			exec.log.WithError(err).WithFields(map[string]any{
				"source_id":    raw.SourceID,
				"record_index": raw.Index,
			}).Warn("Failed to process record")
			exec.recordError(raw.SourceID, raw.Index, err)
			metrics.RecordsProcessed.WithLabelValues(string(raw.SourceType), "failed").Inc()
			continue
		}
		metrics.RecordsProcessed.WithLabelValues(string(raw.SourceType), "success").Inc()
		if src.SourceType == models.SourceTypeCensus {
			household = append(household, relationships.Member{PersonID: personID, Role: role})
		}
	}

	if len(household) > 1 {
		rel, err := s.deps.Extractor.ExtractHousehold(ctx, src.ID, household)
		if err != nil {
			return err
		}
		exec.result.RelationshipsCreated += rel.Created
		exec.touched = append(exec.touched, rel.Touched...)
	}
	return nil
}

// processRecord runs one person record through normalize, resolve and extract. A panic
// is contained to the record.
func (s *Service) processRecord(ctx context.Context, exec *execution, raw models.RawRecord) (personID int64, role string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("record processing panicked: %v", r)
		}
	}()

	candidate := s.deps.Normalizer.Normalize(raw)

	outcome, err := s.deps.Resolver.Resolve(ctx, candidate)
	if err != nil {
		return 0, "", err
	}
	switch outcome.Kind {
	case models.OutcomeMerged:
		exec.result.PersonsMerged++
	case models.OutcomeQueuedForReview:
		exec.result.QueuedForReview++
	case models.OutcomeCreated:
		exec.result.PersonsCreated++
	}
	if outcome.AddressCreated {
		exec.result.AddressesCreated++
	}
	exec.touched = append(exec.touched, outcome.PersonID)

	rel, err := s.deps.Extractor.Extract(ctx, outcome.PersonID, candidate)
	if err != nil {
		return 0, "", err
	}
	exec.result.RelationshipsCreated += rel.Created
	exec.touched = append(exec.touched, rel.Touched...)

	return outcome.PersonID, candidate.HouseholdRole, nil
}

// finalize rescores the touched persons and projects them into the graph
func (s *Service) finalize(ctx context.Context, exec *execution) error {
	touched := slices.Clone(exec.touched)
	slices.Sort(touched)
	touched = slices.Compact(touched)
	if len(touched) == 0 {
		return nil
	}

	scored, err := s.deps.Scorer.ScorePersons(ctx, touched)
	if err != nil {
		exec.log.WithError(err).Error("Failed to score touched persons")
		if store.IsUnavailable(err) {
			return err
		}
	}
	exec.result.PersonsScored = scored

	if s.deps.Projector != nil {
		if err := s.deps.Projector.Project(ctx, touched); err != nil {
			exec.log.WithError(err).Warn("Failed to project persons to graph")
		}
	}
	return nil
}

// finish moves the job to completed or failed and reports batch completion
func (s *Service) finish(ctx context.Context, exec *execution, start time.Time, cause error) {
	job := exec.job
	job.Result.Data = exec.result

	if cause != nil {
		s.fail(ctx, job, cause.Error())
		exec.log.WithError(cause).Warnf("Job failed after %d of %d records", job.RecordsProcessed, job.TotalRecords)
	} else {
		completedAt := s.now()
		job.State = models.JobStateCompleted
		job.CompletedAt = &completedAt
		if err := s.deps.Store.UpdateJob(ctx, job); err != nil {
			exec.log.WithError(err).Error("Failed to mark job completed")
		}
		s.publish(ctx, *job, models.ProgressCompleted, "")
		exec.log.WithFields(map[string]any{
			"created":         exec.result.PersonsCreated,
			"merged":          exec.result.PersonsMerged,
			"review":          exec.result.QueuedForReview,
			"relationships":   exec.result.RelationshipsCreated,
			"records_failed":  exec.result.RecordsFailed,
			"persons_scored":  exec.result.PersonsScored,
			"duration_millis": time.Since(start).Milliseconds(),
		}).Info("Job completed")
	}
	metrics.RecordJob(string(job.SourceType), string(job.State), time.Since(start).Seconds())

	if s.finishBatch(job.BatchID) {
		s.completeBatch(ctx, job.BatchID)
	}
}

// fail records a terminal failure. The store may be the reason for the failure, so a
// failed write is only logged.
func (s *Service) fail(ctx context.Context, job *models.ProcessingJob, message string) {
	completedAt := s.now()
	job.State = models.JobStateFailed
	job.ErrorMessage = &message
	job.CompletedAt = &completedAt
	if err := s.deps.Store.UpdateJob(ctx, job); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("job_id", job.ID).Error("Failed to mark job failed")
	}
	s.publish(ctx, *job, models.ProgressFailed, message)
}
