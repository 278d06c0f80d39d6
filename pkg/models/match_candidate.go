package models

import (
	"time"

	"github.com/Ramsey-B/rowan/pkg/database"
)

// MatchCandidateStatus is the review state of a match candidate
type MatchCandidateStatus string

const (
	MatchCandidateStatusPending  MatchCandidateStatus = "pending"
	MatchCandidateStatusApproved MatchCandidateStatus = "approved"
	MatchCandidateStatusRejected MatchCandidateStatus = "rejected"
)

// ScoreBreakdown holds the per-component similarities and the weighted total
type ScoreBreakdown struct {
	Name         float64 `json:"name"`
	BirthDate    float64 `json:"birth_date"`
	BirthPlace   float64 `json:"birth_place"`
	BirthCountry float64 `json:"birth_country"`
	Total        float64 `json:"total"`
}

// MatchCandidate pairs a provisional person with the existing person it
// resembles, pending a reviewer decision
type MatchCandidate struct {
	ID              int64                          `json:"id" db:"id"`
	SourceID        *int64                         `json:"source_id,omitempty" db:"source_id"`
	PersonID        int64                          `json:"person_id" db:"person_id"`
	MatchedPersonID int64                          `json:"matched_person_id" db:"matched_person_id"`
	Score           float64                        `json:"score" db:"score"`
	Breakdown       database.JSONB[ScoreBreakdown] `json:"breakdown" db:"breakdown"`
	Status          MatchCandidateStatus           `json:"status" db:"status"`
	ReviewedAt      *time.Time                     `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt       time.Time                      `json:"created_at" db:"created_at"`
}

// MatchCandidateFilter narrows a match candidate listing
type MatchCandidateFilter struct {
	Status          MatchCandidateStatus
	MatchedPersonID int64
	Limit           int
}
