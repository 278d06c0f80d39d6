// Package store defines the persistence contract of the pipeline
package store

import (
	"context"
	"errors"

	"github.com/Ramsey-B/rowan/pkg/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a conditional update lost a race
	ErrVersionConflict = errors.New("version conflict")
	// ErrUnavailable is returned when the backing store cannot be reached
	ErrUnavailable = errors.New("store unavailable")
)

// SourceStore persists immutable source payloads and their person links
type SourceStore interface {
	CreateSource(ctx context.Context, src *models.Source) error
	GetSource(ctx context.Context, id int64) (models.Source, error)
	CreateRawPersonRecord(ctx context.Context, rec *models.RawPersonRecord) error
	// CountPersonSources counts the distinct sources linked to a person
	CountPersonSources(ctx context.Context, personID int64) (int, error)
}

// PersonStore persists deduplicated persons
type PersonStore interface {
	CreatePerson(ctx context.Context, p *models.Person) error
	GetPerson(ctx context.Context, id int64) (models.Person, error)
	// UpdatePerson writes p only if the stored version equals p.Version and then
	// increments p.Version. Returns ErrVersionConflict otherwise.
	UpdatePerson(ctx context.Context, p *models.Person) error
	// FindCandidates returns active persons selected by the query, ordered by id
	FindCandidates(ctx context.Context, q models.CandidateQuery) ([]models.Person, error)
	// ListPersons returns active persons ordered by lead score desc, then id
	ListPersons(ctx context.Context, filter models.PersonFilter) ([]models.Person, error)
	// SaveLeadScore stores derived score fields without touching the version
	SaveLeadScore(ctx context.Context, score models.LeadScore) error
}

// AddressStore persists address history
type AddressStore interface {
	AddAddress(ctx context.Context, a *models.Address) error
	// ListAddresses returns a person's addresses oldest first, unknown dates first
	ListAddresses(ctx context.Context, personID int64) ([]models.Address, error)
}

// RelationshipStore persists family edges in canonical orientation
type RelationshipStore interface {
	// AddRelationship stores the canonical form of r. created is false when the edge already existed.
	AddRelationship(ctx context.Context, r *models.Relationship) (created bool, err error)
	// ListRelationships returns every edge touching the person
	ListRelationships(ctx context.Context, personID int64) ([]models.Relationship, error)
}

// MatchCandidateStore persists review band pairings
type MatchCandidateStore interface {
	CreateMatchCandidate(ctx context.Context, mc *models.MatchCandidate) error
	GetMatchCandidate(ctx context.Context, id int64) (models.MatchCandidate, error)
	ListMatchCandidates(ctx context.Context, filter models.MatchCandidateFilter) ([]models.MatchCandidate, error)
	// TransitionMatchCandidate moves a candidate from one status to another.
	// Returns ErrVersionConflict when the stored status is not from.
	TransitionMatchCandidate(ctx context.Context, id int64, from, to models.MatchCandidateStatus) error
}

// JobStore persists processing jobs
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ProcessingJob) error
	GetJob(ctx context.Context, id int64) (models.ProcessingJob, error)
	UpdateJob(ctx context.Context, job *models.ProcessingJob) error
	ListBatchJobs(ctx context.Context, batchID string) ([]models.ProcessingJob, error)
}

// Store is the full persistence contract
type Store interface {
	SourceStore
	PersonStore
	AddressStore
	RelationshipStore
	MatchCandidateStore
	JobStore

	// ReassignPerson re-points addresses, source links and relationships from one
	// person to another. Edges that would become self edges or duplicates are dropped.
	ReassignPerson(ctx context.Context, fromID, toID int64) error
	// CountStats fills the count fields of models.Stats
	CountStats(ctx context.Context, leadMinScore int) (models.Stats, error)
	// Transact runs fn atomically where the backend supports it
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error
}

// IsUnavailable reports whether err means the store cannot be reached
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
