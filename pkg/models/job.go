package models

import (
	"time"

	"github.com/Ramsey-B/rowan/pkg/database"
)

// JobState is the lifecycle state of a processing job
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// CanTransitionTo enforces pending -> running -> completed|failed.
// A pending job may also fail directly when it is cancelled before it starts.
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case JobStatePending:
		return next == JobStateRunning || next == JobStateFailed
	case JobStateRunning:
		return next == JobStateCompleted || next == JobStateFailed
	default:
		return false
	}
}

const JobTypeIngest = "ingest_and_process"

// RecordError describes a record that could not be processed
type RecordError struct {
	SourceID int64  `json:"source_id"`
	Index    int    `json:"index"`
	Error    string `json:"error"`
}

// JobResult summarizes what a job did
type JobResult struct {
	PersonsCreated       int           `json:"persons_created"`
	PersonsMerged        int           `json:"persons_merged"`
	QueuedForReview      int           `json:"queued_for_review"`
	AddressesCreated     int           `json:"addresses_created"`
	RelationshipsCreated int           `json:"relationships_created"`
	PersonsScored        int           `json:"persons_scored"`
	RecordsFailed        int           `json:"records_failed"`
	RecordErrors         []RecordError `json:"record_errors,omitempty"`
}

// ProcessingJob is the audit and status record of one submitted batch
type ProcessingJob struct {
	ID               int64                     `json:"job_id" db:"id"`
	JobType          string                    `json:"job_type" db:"job_type"`
	State            JobState                  `json:"status" db:"state"`
	SourceType       SourceType                `json:"source_type" db:"source_type"`
	FileName         string                    `json:"file_name" db:"file_name"`
	BatchID          string                    `json:"batch_id" db:"batch_id"`
	RecordsProcessed int                       `json:"records_processed" db:"records_processed"`
	TotalRecords     int                       `json:"total_records" db:"total_records"`
	Result           database.JSONB[JobResult] `json:"result_summary" db:"result_data"`
	ErrorMessage     *string                   `json:"error_message,omitempty" db:"error_message"`
	StartedAt        *time.Time                `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time                `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt        time.Time                 `json:"created_at" db:"created_at"`
}

// Progress returns the percentage of records processed
func (j ProcessingJob) Progress() int {
	if j.State.IsTerminal() {
		return 100
	}
	if j.TotalRecords == 0 {
		return 0
	}
	return j.RecordsProcessed * 100 / j.TotalRecords
}
