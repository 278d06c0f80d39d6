package models

import "time"

// ProgressStatus is the status carried by a progress event
type ProgressStatus string

const (
	ProgressSubmitted  ProgressStatus = "submitted"
	ProgressProcessing ProgressStatus = "processing"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
	// ProgressComplete is the batch level event emitted once every job of a batch is terminal
	ProgressComplete ProgressStatus = "complete"
)

// ProgressEvent is pushed to progress subscribers. Consumers must tolerate gaps.
type ProgressEvent struct {
	Status           ProgressStatus `json:"status"`
	JobID            int64          `json:"job_id,omitempty"`
	BatchID          string         `json:"batch_id,omitempty"`
	File             string         `json:"file,omitempty"`
	Progress         int            `json:"progress"`
	RecordsProcessed int            `json:"records_processed,omitempty"`
	TotalRecords     int            `json:"total_records,omitempty"`
	LeadsCount       *int           `json:"leads_count,omitempty"`
	Error            string         `json:"error,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}
