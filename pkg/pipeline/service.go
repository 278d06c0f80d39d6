// Package pipeline runs submitted source files through normalization, resolution,
// relationship extraction and lead scoring on a bounded pool of workers
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/rowan/pkg/database"
	"github.com/Ramsey-B/rowan/pkg/dedup"
	"github.com/Ramsey-B/rowan/pkg/events"
	"github.com/Ramsey-B/rowan/pkg/metrics"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/normalizers"
	"github.com/Ramsey-B/rowan/pkg/relationships"
	"github.com/Ramsey-B/rowan/pkg/store"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

var (
	// ErrJobNotFound is returned when a job id is unknown
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when cancelling a completed or failed job
	ErrJobTerminal = errors.New("job is already terminal")

	// ErrCancelled is the cause recorded on jobs stopped by a cancel request
	ErrCancelled = errors.New("cancelled")

	// ErrStopped is returned when submitting to a pipeline that is not running
	ErrStopped = errors.New("pipeline stopped")

	// ErrQueueFull is returned when no worker slot is free for a new job
	ErrQueueFull = errors.New("pipeline queue is full")

	// ErrInvalidRequest is returned for submissions that can not be queued at all
	ErrInvalidRequest = errors.New("invalid ingest request")
)

const (
	// DefaultWorkerCount is the default number of jobs processed concurrently
	DefaultWorkerCount = 4

	// DefaultQueueSize is the default number of jobs waiting for a worker
	DefaultQueueSize = 100

	// MaxRecordErrors caps the per-record errors kept in a job result
	MaxRecordErrors = 100
)

// Config holds configuration for the pipeline
type Config struct {
	// Number of worker goroutines
	WorkerCount int

	// Number of jobs that may wait for a worker
	QueueSize int

	// Minimum score counted in the batch lead count
	LeadMinScore int
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		WorkerCount:  DefaultWorkerCount,
		QueueSize:    DefaultQueueSize,
		LeadMinScore: 70,
	}
}

// Resolver decides which person a candidate record belongs to
type Resolver interface {
	Resolve(ctx context.Context, c models.CandidateRecord) (dedup.Outcome, error)
}

// RelationshipExtractor records the family edges implied by a record
type RelationshipExtractor interface {
	Extract(ctx context.Context, personID int64, c models.CandidateRecord) (relationships.Result, error)
	ExtractHousehold(ctx context.Context, sourceID int64, members []relationships.Member) (relationships.Result, error)
}

// LeadScorer rescores persons touched by a job
type LeadScorer interface {
	ScorePersons(ctx context.Context, personIDs []int64) (int, error)
}

// Projector mirrors touched persons into a derived read model
type Projector interface {
	Project(ctx context.Context, personIDs []int64) error
}

// Dependencies are the components a job drives
type Dependencies struct {
	Store      store.Store
	Normalizer *normalizers.Normalizer
	Resolver   Resolver
	Extractor  RelationshipExtractor
	Scorer     LeadScorer
	// Projector is optional
	Projector Projector
	Publisher events.Publisher
}

type queuedJob struct {
	jobID     int64
	batchID   string
	sourceIDs []int64
}

type batchState struct {
	expected int
	done     int
}

// Service accepts ingest submissions and processes them asynchronously
type Service struct {
	config Config
	deps   Dependencies
	logger ectologger.Logger

	jobsCh   chan queuedJob
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex

	// cancels only holds jobs in inflight, the jobs queued or running in this process
	cancelMu sync.Mutex
	cancels  map[int64]string
	inflight map[int64]bool

	batchMu sync.Mutex
	batches map[string]*batchState

	now func() time.Time
}

// NewService creates a pipeline. Zero config values select the defaults.
func NewService(config Config, deps Dependencies, logger ectologger.Logger) *Service {
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultWorkerCount
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Discard{}
	}

	return &Service{
		config:  config,
		deps:    deps,
		logger:  logger,
		jobsCh:  make(chan queuedJob, config.QueueSize),
		cancels:  make(map[int64]string),
		inflight: make(map[int64]bool),
		batches: make(map[string]*batchState),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit stores one source per record, creates a pending job and queues it.
// Malformed records are accepted and fail individually while the job runs.
func (s *Service) Submit(ctx context.Context, req models.IngestRequest) (models.IngestResponse, error) {
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}
	s.expectBatch(ctx, req.BatchID, 1)
	res, err := s.submit(ctx, req)
	if err != nil {
		s.expectBatch(ctx, req.BatchID, -1)
		return models.IngestResponse{}, err
	}
	return res, nil
}

// SubmitBatch submits several files under one batch id. The batch complete event is
// emitted once every job of the batch is terminal.
func (s *Service) SubmitBatch(ctx context.Context, batchID string, reqs []models.IngestRequest) ([]models.IngestResponse, error) {
	if batchID == "" {
		batchID = uuid.NewString()
	}
	s.expectBatch(ctx, batchID, len(reqs))

	responses := make([]models.IngestResponse, 0, len(reqs))
	for i, req := range reqs {
		req.BatchID = batchID
		res, err := s.submit(ctx, req)
		if err != nil {
			// files that were never queued will never finish
			s.expectBatch(ctx, batchID, -(len(reqs) - i))
			return responses, fmt.Errorf("failed to submit %s: %w", req.FileName, err)
		}
		responses = append(responses, res)
	}
	return responses, nil
}

func (s *Service) submit(ctx context.Context, req models.IngestRequest) (models.IngestResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Service.Submit")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"file_name":   req.FileName,
		"source_type": req.SourceType,
		"batch_id":    req.BatchID,
	})

	sourceType, err := models.ParseSourceType(req.SourceType)
	if err != nil {
		return models.IngestResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(req.Records) == 0 {
		return models.IngestResponse{}, fmt.Errorf("%w: no records", ErrInvalidRequest)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return models.IngestResponse{}, ErrStopped
	}

	sourceIDs := make([]int64, 0, len(req.Records))
	for _, record := range req.Records {
		if record == nil {
			record = map[string]any{}
		}
		src := &models.Source{
			SourceType: sourceType,
			FileName:   req.FileName,
			RecordData: database.NewJSONB(record),
		}
		if err := s.deps.Store.CreateSource(ctx, src); err != nil {
			log.WithError(err).Error("Failed to store source record")
			tracing.RecordError(span, err)
			return models.IngestResponse{}, fmt.Errorf("failed to store source record: %w", err)
		}
		sourceIDs = append(sourceIDs, src.ID)
	}

	job := &models.ProcessingJob{
		JobType:      models.JobTypeIngest,
		State:        models.JobStatePending,
		SourceType:   sourceType,
		FileName:     req.FileName,
		BatchID:      req.BatchID,
		TotalRecords: len(sourceIDs),
	}
	if err := s.deps.Store.CreateJob(ctx, job); err != nil {
		log.WithError(err).Error("Failed to create job")
		tracing.RecordError(span, err)
		return models.IngestResponse{}, fmt.Errorf("failed to create job: %w", err)
	}

	s.publish(ctx, *job, models.ProgressSubmitted, "")

	s.track(job.ID)
	select {
	case s.jobsCh <- queuedJob{jobID: job.ID, batchID: job.BatchID, sourceIDs: sourceIDs}:
		metrics.QueueDepth.Inc()
	default:
		log.WithField("job_id", job.ID).Warn("Pipeline queue is full, rejecting job")
		s.clearCancel(job.ID)
		s.fail(ctx, job, ErrQueueFull.Error())
		return models.IngestResponse{}, ErrQueueFull
	}
	log.WithField("job_id", job.ID).Infof("Queued job with %d records", job.TotalRecords)

	return models.IngestResponse{
		JobID:            job.ID,
		BatchID:          job.BatchID,
		Message:          fmt.Sprintf("Processing %d records from %s", job.TotalRecords, job.FileName),
		RecordsSubmitted: job.TotalRecords,
		Status:           job.State,
	}, nil
}

// GetJob returns the current state of a job
func (s *Service) GetJob(ctx context.Context, jobID int64) (models.ProcessingJob, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Service.GetJob")
	defer span.End()

	job, err := s.deps.Store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return models.ProcessingJob{}, fmt.Errorf("job %d: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return models.ProcessingJob{}, err
	}
	return job, nil
}

// GetBatch returns every job submitted under a batch id
func (s *Service) GetBatch(ctx context.Context, batchID string) ([]models.ProcessingJob, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Service.GetBatch")
	defer span.End()

	jobs, err := s.deps.Store.ListBatchJobs(ctx, batchID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	return jobs, nil
}

// Cancel asks a job to stop. A running job finishes its in-flight record first; a
// queued job fails as soon as a worker picks it up. A pending job no worker of this
// process holds, such as one left over from a previous run, fails immediately.
func (s *Service) Cancel(ctx context.Context, jobID int64, reason string) (models.ProcessingJob, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return models.ProcessingJob{}, err
	}
	if job.State.IsTerminal() {
		return job, fmt.Errorf("job %d is %s: %w", jobID, job.State, ErrJobTerminal)
	}
	if reason == "" {
		reason = "requested by user"
	}
	log := s.logger.WithContext(ctx).WithFields(map[string]any{"job_id": jobID, "reason": reason})

	s.cancelMu.Lock()
	if s.inflight[jobID] {
		s.cancels[jobID] = reason
		s.cancelMu.Unlock()
		log.Info("Cancellation requested")
		return job, nil
	}
	s.cancelMu.Unlock()

	// the worker may have finished it since the first read
	job, err = s.GetJob(ctx, jobID)
	if err != nil {
		return models.ProcessingJob{}, err
	}
	if job.State.IsTerminal() {
		return job, fmt.Errorf("job %d is %s: %w", jobID, job.State, ErrJobTerminal)
	}
	s.fail(ctx, &job, fmt.Errorf("%w: %s", ErrCancelled, reason).Error())
	log.Info("Cancelled job that is not queued in this process")
	return job, nil
}

func (s *Service) track(jobID int64) {
	s.cancelMu.Lock()
	s.inflight[jobID] = true
	s.cancelMu.Unlock()
}

func (s *Service) cancelRequested(jobID int64) (string, bool) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	reason, ok := s.cancels[jobID]
	return reason, ok
}

func (s *Service) clearCancel(jobID int64) {
	s.cancelMu.Lock()
	delete(s.cancels, jobID)
	delete(s.inflight, jobID)
	s.cancelMu.Unlock()
}

// expectBatch adjusts the number of jobs a batch waits for. Shrinking a batch whose
// remaining jobs already finished completes it.
func (s *Service) expectBatch(ctx context.Context, batchID string, n int) {
	s.batchMu.Lock()
	b, ok := s.batches[batchID]
	if !ok {
		b = &batchState{}
		s.batches[batchID] = b
	}
	b.expected += n
	complete := n < 0 && b.done > 0 && b.done >= b.expected
	if b.expected <= 0 || complete {
		delete(s.batches, batchID)
	}
	s.batchMu.Unlock()

	if complete {
		s.completeBatch(ctx, batchID)
	}
}

// finishBatch counts a terminal job and reports whether it was the last of its batch
func (s *Service) finishBatch(batchID string) bool {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return false
	}
	b.done++
	if b.done < b.expected {
		return false
	}
	delete(s.batches, batchID)
	return true
}

// completeBatch emits the batch level event carrying the current lead count
func (s *Service) completeBatch(ctx context.Context, batchID string) {
	event := models.ProgressEvent{
		Status:    models.ProgressComplete,
		BatchID:   batchID,
		Progress:  100,
		Timestamp: s.now(),
	}

	jobs, err := s.deps.Store.ListBatchJobs(ctx, batchID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("batch_id", batchID).Warn("Failed to list batch jobs")
	}
	for _, job := range jobs {
		event.RecordsProcessed += job.RecordsProcessed
		event.TotalRecords += job.TotalRecords
	}

	stats, err := s.deps.Store.CountStats(ctx, s.config.LeadMinScore)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("batch_id", batchID).Warn("Failed to count leads for batch")
	} else {
		leads := stats.LeadsCount
		event.LeadsCount = &leads
	}

	s.deps.Publisher.Publish(ctx, event)
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_id": batchID,
		"jobs":     len(jobs),
	}).Info("Batch complete")
}

func (s *Service) publish(ctx context.Context, job models.ProcessingJob, status models.ProgressStatus, errMsg string) {
	s.deps.Publisher.Publish(ctx, models.ProgressEvent{
		Status:           status,
		JobID:            job.ID,
		BatchID:          job.BatchID,
		File:             job.FileName,
		Progress:         job.Progress(),
		RecordsProcessed: job.RecordsProcessed,
		TotalRecords:     job.TotalRecords,
		Error:            errMsg,
		Timestamp:        s.now(),
	})
}
