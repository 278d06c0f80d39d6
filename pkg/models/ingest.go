package models

// IngestRequest submits the records of one source file
type IngestRequest struct {
	SourceType string           `json:"source_type" validate:"required,oneof=naturalization immigration census obituary birth"`
	FileName   string           `json:"file_name" validate:"required,max=255"`
	Records    []map[string]any `json:"records" validate:"required,min=1"`
	BatchID    string           `json:"batch_id,omitempty" validate:"omitempty,max=64"`
}

// IngestResponse acknowledges a submitted file
type IngestResponse struct {
	JobID            int64    `json:"job_id"`
	BatchID          string   `json:"batch_id,omitempty"`
	Message          string   `json:"message"`
	RecordsSubmitted int      `json:"records_submitted"`
	Status           JobState `json:"status"`
}
