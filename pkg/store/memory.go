package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ramsey-B/rowan/pkg/models"
)

// Memory is an in-process Store used by tests and by deployments without PostgreSQL
type Memory struct {
	mu              sync.RWMutex
	seq             int64
	sources         map[int64]models.Source
	rawRecords      []models.RawPersonRecord
	persons         map[int64]models.Person
	addresses       map[int64]models.Address
	relationships   map[models.RelationshipKey]models.Relationship
	matchCandidates map[int64]models.MatchCandidate
	jobs            map[int64]models.ProcessingJob
	unavailable     atomic.Bool
	now             func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		sources:         make(map[int64]models.Source),
		persons:         make(map[int64]models.Person),
		addresses:       make(map[int64]models.Address),
		relationships:   make(map[models.RelationshipKey]models.Relationship),
		matchCandidates: make(map[int64]models.MatchCandidate),
		jobs:            make(map[int64]models.ProcessingJob),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetUnavailable makes every operation fail with ErrUnavailable until reset
func (m *Memory) SetUnavailable(unavailable bool) {
	m.unavailable.Store(unavailable)
}

func (m *Memory) check() error {
	if m.unavailable.Load() {
		return fmt.Errorf("memory store: %w", ErrUnavailable)
	}
	return nil
}

// nextID must be called with the write lock held
func (m *Memory) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *Memory) Ping(_ context.Context) error {
	return m.check()
}

type journalKey struct{}

// journal holds the undo steps of one transaction. Steps run with the write lock held.
type journal struct {
	mu    sync.Mutex
	steps []func()
}

// undo must be called with the write lock held
func (m *Memory) undo(ctx context.Context, step func()) {
	j, ok := ctx.Value(journalKey{}).(*journal)
	if !ok {
		return
	}
	j.mu.Lock()
	j.steps = append(j.steps, step)
	j.mu.Unlock()
}

// Transact journals the writes made through the context passed to fn and reverts them
// in reverse order when fn fails. Created rows are removed and updated rows get their
// prior value; ids are not reused. A nested Transact joins the outer one.
func (m *Memory) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}

	j := &journal{}
	err := fn(context.WithValue(ctx, journalKey{}, j))
	if err != nil {
		m.mu.Lock()
		for i := len(j.steps) - 1; i >= 0; i-- {
			j.steps[i]()
		}
		m.mu.Unlock()
	}
	return err
}

func (m *Memory) CreateSource(ctx context.Context, src *models.Source) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	src.ID = m.nextID()
	src.CreatedAt = m.now()
	m.sources[src.ID] = *src
	id := src.ID
	m.undo(ctx, func() { delete(m.sources, id) })
	return nil
}

func (m *Memory) GetSource(_ context.Context, id int64) (models.Source, error) {
	if err := m.check(); err != nil {
		return models.Source{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	src, ok := m.sources[id]
	if !ok {
		return models.Source{}, fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	return src, nil
}

func (m *Memory) CreateRawPersonRecord(ctx context.Context, rec *models.RawPersonRecord) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.ID = m.nextID()
	rec.CreatedAt = m.now()
	m.rawRecords = append(m.rawRecords, *rec)
	id := rec.ID
	m.undo(ctx, func() {
		m.rawRecords = slices.DeleteFunc(m.rawRecords, func(r models.RawPersonRecord) bool { return r.ID == id })
	})
	return nil
}

func (m *Memory) CountPersonSources(_ context.Context, personID int64) (int, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[int64]bool)
	for _, rec := range m.rawRecords {
		if rec.PersonID == personID {
			seen[rec.SourceID] = true
		}
	}
	return len(seen), nil
}

func (m *Memory) CreatePerson(ctx context.Context, p *models.Person) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	p.ID = m.nextID()
	p.Version = 1
	p.BirthYear = p.BirthDate.YearPtr()
	p.CreatedAt, p.UpdatedAt = now, now
	m.persons[p.ID] = clonePerson(*p)
	id := p.ID
	m.undo(ctx, func() { delete(m.persons, id) })
	return nil
}

func (m *Memory) GetPerson(_ context.Context, id int64) (models.Person, error) {
	if err := m.check(); err != nil {
		return models.Person{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.persons[id]
	if !ok {
		return models.Person{}, fmt.Errorf("person %d: %w", id, ErrNotFound)
	}
	return clonePerson(p), nil
}

func (m *Memory) UpdatePerson(ctx context.Context, p *models.Person) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.persons[p.ID]
	if !ok {
		return fmt.Errorf("person %d: %w", p.ID, ErrNotFound)
	}
	if stored.Version != p.Version {
		return fmt.Errorf("person %d at version %d, have %d: %w", p.ID, stored.Version, p.Version, ErrVersionConflict)
	}

	p.Version++
	p.BirthYear = p.BirthDate.YearPtr()
	p.UpdatedAt = m.now()
	p.CreatedAt = stored.CreatedAt
	m.persons[p.ID] = clonePerson(*p)
	m.undo(ctx, func() { m.persons[stored.ID] = stored })
	return nil
}

func (m *Memory) FindCandidates(_ context.Context, q models.CandidateQuery) ([]models.Person, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Person, 0)
	for _, p := range m.persons {
		if !p.IsActive() {
			continue
		}
		if q.FullScan || p.BirthYear == nil ||
			(*p.BirthYear >= q.MinBirthYear && *p.BirthYear <= q.MaxBirthYear) ||
			sharesKey(p.PhoneticKeys, q.PhoneticKeys) {
			out = append(out, clonePerson(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListPersons(_ context.Context, filter models.PersonFilter) ([]models.Person, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Person, 0)
	for _, p := range m.persons {
		if !p.IsActive() || (p.IsProvisional && !filter.IncludeProvisional) || p.LeadScore < filter.MinScore {
			continue
		}
		out = append(out, clonePerson(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LeadScore != out[j].LeadScore {
			return out[i].LeadScore > out[j].LeadScore
		}
		return out[i].ID < out[j].ID
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func (m *Memory) SaveLeadScore(ctx context.Context, score models.LeadScore) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.persons[score.PersonID]
	if !ok {
		return fmt.Errorf("person %d: %w", score.PersonID, ErrNotFound)
	}
	prev := clonePerson(p)
	m.undo(ctx, func() { m.persons[prev.ID] = prev })
	scoredAt := score.ScoredAt
	p.LeadScore = score.Score
	p.Confidence = score.Confidence
	p.IsGermanAncestorCandidate = score.HasGermanAncestor
	p.ScoredAt = &scoredAt
	m.persons[p.ID] = p
	return nil
}

func (m *Memory) AddAddress(ctx context.Context, a *models.Address) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.persons[a.PersonID]; !ok {
		return fmt.Errorf("person %d: %w", a.PersonID, ErrNotFound)
	}
	a.ID = m.nextID()
	a.CreatedAt = m.now()
	m.addresses[a.ID] = *a
	id := a.ID
	m.undo(ctx, func() { delete(m.addresses, id) })
	return nil
}

func (m *Memory) ListAddresses(_ context.Context, personID int64) ([]models.Address, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Address, 0)
	for _, a := range m.addresses {
		if a.PersonID == personID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return models.AddressLess(out[i], out[j]) })
	return out, nil
}

func (m *Memory) AddRelationship(ctx context.Context, r *models.Relationship) (bool, error) {
	if err := m.check(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	*r = r.Canonical()
	if existing, ok := m.relationships[r.Key()]; ok {
		*r = existing
		return false, nil
	}
	r.ID = m.nextID()
	r.CreatedAt = m.now()
	key := r.Key()
	m.relationships[key] = *r
	m.undo(ctx, func() { delete(m.relationships, key) })
	return true, nil
}

func (m *Memory) ListRelationships(_ context.Context, personID int64) ([]models.Relationship, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Relationship, 0)
	for _, r := range m.relationships {
		if r.PersonID == personID || r.RelatedPersonID == personID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateMatchCandidate(ctx context.Context, mc *models.MatchCandidate) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mc.ID = m.nextID()
	mc.CreatedAt = m.now()
	if mc.Status == "" {
		mc.Status = models.MatchCandidateStatusPending
	}
	m.matchCandidates[mc.ID] = *mc
	id := mc.ID
	m.undo(ctx, func() { delete(m.matchCandidates, id) })
	return nil
}

func (m *Memory) GetMatchCandidate(_ context.Context, id int64) (models.MatchCandidate, error) {
	if err := m.check(); err != nil {
		return models.MatchCandidate{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	mc, ok := m.matchCandidates[id]
	if !ok {
		return models.MatchCandidate{}, fmt.Errorf("match candidate %d: %w", id, ErrNotFound)
	}
	return mc, nil
}

func (m *Memory) ListMatchCandidates(_ context.Context, filter models.MatchCandidateFilter) ([]models.MatchCandidate, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.MatchCandidate, 0)
	for _, mc := range m.matchCandidates {
		if filter.Status != "" && mc.Status != filter.Status {
			continue
		}
		if filter.MatchedPersonID != 0 && mc.MatchedPersonID != filter.MatchedPersonID {
			continue
		}
		out = append(out, mc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, 0, filter.Limit), nil
}

func (m *Memory) TransitionMatchCandidate(ctx context.Context, id int64, from, to models.MatchCandidateStatus) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.matchCandidates[id]
	if !ok {
		return fmt.Errorf("match candidate %d: %w", id, ErrNotFound)
	}
	if mc.Status != from {
		return fmt.Errorf("match candidate %d is %s: %w", id, mc.Status, ErrVersionConflict)
	}
	prev := mc
	m.undo(ctx, func() { m.matchCandidates[id] = prev })
	now := m.now()
	mc.Status = to
	mc.ReviewedAt = &now
	m.matchCandidates[id] = mc
	return nil
}

func (m *Memory) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	job.ID = m.nextID()
	job.CreatedAt = m.now()
	m.jobs[job.ID] = cloneJob(*job)
	id := job.ID
	m.undo(ctx, func() { delete(m.jobs, id) })
	return nil
}

func (m *Memory) GetJob(_ context.Context, id int64) (models.ProcessingJob, error) {
	if err := m.check(); err != nil {
		return models.ProcessingJob{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return models.ProcessingJob{}, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return cloneJob(job), nil
}

func (m *Memory) UpdateJob(ctx context.Context, job *models.ProcessingJob) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %d: %w", job.ID, ErrNotFound)
	}
	m.undo(ctx, func() { m.jobs[prev.ID] = prev })
	m.jobs[job.ID] = cloneJob(*job)
	return nil
}

func (m *Memory) ListBatchJobs(_ context.Context, batchID string) ([]models.ProcessingJob, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ProcessingJob, 0)
	for _, job := range m.jobs {
		if job.BatchID == batchID {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ReassignPerson(ctx context.Context, fromID, toID int64) error {
	if err := m.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var movedAddresses, movedRecords []int64
	removed := make(map[models.RelationshipKey]models.Relationship)
	var added []models.RelationshipKey
	m.undo(ctx, func() {
		for _, id := range movedAddresses {
			a := m.addresses[id]
			a.PersonID = fromID
			m.addresses[id] = a
		}
		for i := range m.rawRecords {
			if slices.Contains(movedRecords, m.rawRecords[i].ID) {
				m.rawRecords[i].PersonID = fromID
			}
		}
		for _, key := range added {
			delete(m.relationships, key)
		}
		for key, r := range removed {
			m.relationships[key] = r
		}
	})

	for id, a := range m.addresses {
		if a.PersonID == fromID {
			a.PersonID = toID
			m.addresses[id] = a
			movedAddresses = append(movedAddresses, id)
		}
	}
	for i := range m.rawRecords {
		if m.rawRecords[i].PersonID == fromID {
			m.rawRecords[i].PersonID = toID
			movedRecords = append(movedRecords, m.rawRecords[i].ID)
		}
	}
	for key, r := range m.relationships {
		if r.PersonID != fromID && r.RelatedPersonID != fromID {
			continue
		}
		removed[key] = r
		delete(m.relationships, key)
		if r.PersonID == fromID {
			r.PersonID = toID
		}
		if r.RelatedPersonID == fromID {
			r.RelatedPersonID = toID
		}
		if r.PersonID == r.RelatedPersonID {
			continue
		}
		r = r.Canonical()
		if _, exists := m.relationships[r.Key()]; !exists {
			m.relationships[r.Key()] = r
			added = append(added, r.Key())
		}
	}
	return nil
}

func (m *Memory) CountStats(_ context.Context, leadMinScore int) (models.Stats, error) {
	if err := m.check(); err != nil {
		return models.Stats{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := models.Stats{TotalRecords: len(m.rawRecords)}
	for _, p := range m.persons {
		if !p.IsActive() {
			continue
		}
		if p.IsProvisional {
			stats.ProvisionalPersons++
			continue
		}
		stats.UniquePersons++
		if p.IsGermanAncestorCandidate && p.LeadScore >= leadMinScore {
			stats.LeadsCount++
		}
	}
	for _, mc := range m.matchCandidates {
		if mc.Status == models.MatchCandidateStatusPending {
			stats.PendingReviews++
		}
	}
	return stats, nil
}

func sharesKey(a, b []string) bool {
	for _, k := range a {
		if slices.Contains(b, k) {
			return true
		}
	}
	return false
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func clonePerson(p models.Person) models.Person {
	p.PhoneticKeys = slices.Clone(p.PhoneticKeys)
	return p
}

func cloneJob(j models.ProcessingJob) models.ProcessingJob {
	j.Result.Data.RecordErrors = slices.Clone(j.Result.Data.RecordErrors)
	return j
}
