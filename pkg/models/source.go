package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/Ramsey-B/rowan/pkg/database"
)

// SourceType identifies the kind of historical document a record came from
type SourceType string

const (
	SourceTypeNaturalization SourceType = "naturalization"
	SourceTypeImmigration    SourceType = "immigration"
	SourceTypeCensus         SourceType = "census"
	SourceTypeObituary       SourceType = "obituary"
	SourceTypeBirth          SourceType = "birth"
)

// SourceTypes lists every supported source type
var SourceTypes = []SourceType{
	SourceTypeNaturalization,
	SourceTypeImmigration,
	SourceTypeCensus,
	SourceTypeObituary,
	SourceTypeBirth,
}

// ParseSourceType validates a source type string
func ParseSourceType(s string) (SourceType, error) {
	st := SourceType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range SourceTypes {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown source type %q", s)
}

// Source is the original payload of one submitted record. Never mutated after insert.
type Source struct {
	ID         int64                          `json:"id" db:"id"`
	SourceType SourceType                     `json:"source_type" db:"source_type"`
	FileName   string                         `json:"file_name" db:"file_name"`
	RecordData database.JSONB[map[string]any] `json:"record_data" db:"record_data"`
	CreatedAt  time.Time                      `json:"created_at" db:"created_at"`
}

// RawRecord is one person-level record extracted from a Source
type RawRecord struct {
	SourceType SourceType
	SourceID   int64
	Index      int
	Fields     map[string]any
}

// OutcomeKind is the disposition of a resolved record
type OutcomeKind string

const (
	OutcomeMerged          OutcomeKind = "merged"
	OutcomeQueuedForReview OutcomeKind = "queued_for_review"
	OutcomeCreated         OutcomeKind = "created"
)

// RawPersonRecord links a Source to the person one of its records resolved to
type RawPersonRecord struct {
	ID        int64       `json:"id" db:"id"`
	SourceID  int64       `json:"source_id" db:"source_id"`
	PersonID  int64       `json:"person_id" db:"person_id"`
	Outcome   OutcomeKind `json:"outcome" db:"outcome"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}
