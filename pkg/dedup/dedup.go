// Package dedup resolves candidate records to persons with a merge, review or create decision
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/rowan/pkg/database"
	"github.com/Ramsey-B/rowan/pkg/locking"
	"github.com/Ramsey-B/rowan/pkg/matching"
	"github.com/Ramsey-B/rowan/pkg/metrics"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/normalizers"
	"github.com/Ramsey-B/rowan/pkg/store"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

// ErrCandidateNotPending is returned when a reviewer acts on a decided match candidate
var ErrCandidateNotPending = errors.New("match candidate is not pending")

// DefaultMaxRetries bounds re-reads after a version conflict
const DefaultMaxRetries = 3

// Outcome is the result of resolving one candidate record
type Outcome struct {
	Kind             models.OutcomeKind `json:"kind"`
	PersonID         int64              `json:"person_id"`
	MatchCandidateID int64              `json:"match_candidate_id,omitempty"`
	MatchedPersonID  int64              `json:"matched_person_id,omitempty"`
	Score            float64            `json:"score"`
	AddressCreated   bool               `json:"address_created"`
}

// provisionalReuseThreshold is the name similarity at which a referenced relative is
// taken to be a provisional person already queued against the same match
const provisionalReuseThreshold = 0.9

// Deduplicator owns every write to persons. Resolutions sharing any phonetic name key
// are serialized through the locker; merges are additionally guarded by the person version.
type Deduplicator struct {
	store      store.Store
	matcher    *matching.Matcher
	locker     locking.Locker
	logger     ectologger.Logger
	maxRetries int
}

// NewDeduplicator creates a deduplicator. A negative maxRetries selects DefaultMaxRetries.
func NewDeduplicator(s store.Store, matcher *matching.Matcher, locker locking.Locker, logger ectologger.Logger, maxRetries int) *Deduplicator {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Deduplicator{
		store:      s,
		matcher:    matcher,
		locker:     locker,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Resolve matches the candidate against existing persons, applies the decision
// and links the candidate's source to the resulting person
func (d *Deduplicator) Resolve(ctx context.Context, c models.CandidateRecord) (Outcome, error) {
	return d.resolve(ctx, c, true)
}

// ResolveReference resolves a relative named by another record. The source is not
// linked to the relative since the record does not describe them.
func (d *Deduplicator) ResolveReference(ctx context.Context, c models.CandidateRecord) (Outcome, error) {
	return d.resolve(ctx, c, false)
}

func (d *Deduplicator) resolve(ctx context.Context, c models.CandidateRecord, link bool) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "dedup.Deduplicator.Resolve")
	defer span.End()

	log := d.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id":   c.SourceID,
		"source_type": c.SourceType,
	})

	if c.Name.IsEmpty() {
		return Outcome{}, errors.New("candidate record has no name")
	}

	unlock, err := locking.LockAll(ctx, d.locker, matching.LockKeys(c.Name)...)
	if err != nil {
		log.WithError(err).Error("Failed to acquire resolution lock")
		return Outcome{}, fmt.Errorf("failed to lock name keys: %w", err)
	}
	defer unlock()

	var last matching.Match
	var hasLast bool
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		outcome, best, ok, err := d.resolveOnce(ctx, c, link)
		if err == nil {
			metrics.RecordResolution(string(c.SourceType), string(outcome.Kind), outcome.Score)
			return outcome, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			tracing.RecordError(span, err)
			return Outcome{}, err
		}
		metrics.MergeConflicts.Inc()
		log.WithField("attempt", attempt+1).Debug("Person changed during merge, retrying")
		last, hasLast = best, ok
	}

	if !hasLast {
		return Outcome{}, fmt.Errorf("resolve retries exhausted: %w", store.ErrVersionConflict)
	}
	log.WithField("person_id", last.Person.ID).Warn("Resolve retries exhausted, queueing for review")

	var outcome Outcome
	err = d.store.Transact(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = d.queueForReview(ctx, c, last, link)
		return err
	})
	if err != nil {
		tracing.RecordError(span, err)
		return Outcome{}, err
	}
	metrics.RecordResolution(string(c.SourceType), string(outcome.Kind), outcome.Score)
	return outcome, nil
}

// resolveOnce runs one read-decide-write cycle. On a version conflict it returns the
// match it was attempting so the caller can fall back to review.
func (d *Deduplicator) resolveOnce(ctx context.Context, c models.CandidateRecord, link bool) (Outcome, matching.Match, bool, error) {
	persons, err := d.store.FindCandidates(ctx, d.matcher.CandidateQuery(c))
	if err != nil {
		return Outcome{}, matching.Match{}, false, fmt.Errorf("failed to find candidates: %w", err)
	}

	best, ok := d.matcher.Best(c, persons)
	decision := matching.DecisionCreate
	if ok {
		decision = d.matcher.Decide(best.Breakdown.Total)
	}

	if decision == matching.DecisionReview && !link {
		outcome, found, err := d.reuseProvisional(ctx, c, best)
		if err != nil || found {
			return outcome, best, ok, err
		}
	}

	var outcome Outcome
	err = d.store.Transact(ctx, func(ctx context.Context) error {
		var err error
		switch decision {
		case matching.DecisionMerge:
			outcome, err = d.merge(ctx, c, best, link)
		case matching.DecisionReview:
			outcome, err = d.queueForReview(ctx, c, best, link)
		default:
			outcome, err = d.create(ctx, c, link)
			if ok {
				outcome.Score = best.Breakdown.Total
			}
		}
		return err
	})
	return outcome, best, ok, err
}

func (d *Deduplicator) merge(ctx context.Context, c models.CandidateRecord, best matching.Match, link bool) (Outcome, error) {
	p := best.Person
	if applyFacts(&p, candidateFacts(c)) {
		if err := d.store.UpdatePerson(ctx, &p); err != nil {
			return Outcome{}, err
		}
	}

	outcome := Outcome{
		Kind:     models.OutcomeMerged,
		PersonID: p.ID,
		Score:    best.Breakdown.Total,
	}
	created, err := d.appendAddress(ctx, p.ID, c)
	if err != nil {
		return Outcome{}, err
	}
	outcome.AddressCreated = created
	return outcome, d.link(ctx, c, outcome, link)
}

func (d *Deduplicator) queueForReview(ctx context.Context, c models.CandidateRecord, best matching.Match, link bool) (Outcome, error) {
	p := newPerson(c, true)
	if err := d.store.CreatePerson(ctx, p); err != nil {
		return Outcome{}, fmt.Errorf("failed to create provisional person: %w", err)
	}

	mc := &models.MatchCandidate{
		PersonID:        p.ID,
		MatchedPersonID: best.Person.ID,
		Score:           best.Breakdown.Total,
		Breakdown:       database.NewJSONB(best.Breakdown),
		Status:          models.MatchCandidateStatusPending,
	}
	if c.SourceID != 0 {
		mc.SourceID = &c.SourceID
	}
	if err := d.store.CreateMatchCandidate(ctx, mc); err != nil {
		return Outcome{}, fmt.Errorf("failed to create match candidate: %w", err)
	}

	outcome := Outcome{
		Kind:             models.OutcomeQueuedForReview,
		PersonID:         p.ID,
		MatchCandidateID: mc.ID,
		MatchedPersonID:  best.Person.ID,
		Score:            best.Breakdown.Total,
	}
	created, err := d.appendAddress(ctx, p.ID, c)
	if err != nil {
		return Outcome{}, err
	}
	outcome.AddressCreated = created
	return outcome, d.link(ctx, c, outcome, link)
}

// reuseProvisional finds a provisional person already queued for review against the same
// match under a similar name. References carry only a name, so every sibling naming the
// same parent would otherwise queue a duplicate of that parent.
func (d *Deduplicator) reuseProvisional(ctx context.Context, c models.CandidateRecord, best matching.Match) (Outcome, bool, error) {
	similar := func(p models.Person) bool {
		return p.IsActive() && p.IsProvisional &&
			matching.NameSimilarity(c.Name.Tokens, p.NameTokens()) >= provisionalReuseThreshold
	}

	if similar(best.Person) {
		return Outcome{
			Kind:     models.OutcomeQueuedForReview,
			PersonID: best.Person.ID,
			Score:    best.Breakdown.Total,
		}, true, nil
	}

	pending, err := d.store.ListMatchCandidates(ctx, models.MatchCandidateFilter{
		Status:          models.MatchCandidateStatusPending,
		MatchedPersonID: best.Person.ID,
	})
	if err != nil {
		return Outcome{}, false, fmt.Errorf("failed to list match candidates: %w", err)
	}
	for _, mc := range pending {
		p, err := d.store.GetPerson(ctx, mc.PersonID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return Outcome{}, false, err
		}
		if similar(p) {
			return Outcome{
				Kind:             models.OutcomeQueuedForReview,
				PersonID:         p.ID,
				MatchCandidateID: mc.ID,
				MatchedPersonID:  best.Person.ID,
				Score:            best.Breakdown.Total,
			}, true, nil
		}
	}
	return Outcome{}, false, nil
}

func (d *Deduplicator) create(ctx context.Context, c models.CandidateRecord, link bool) (Outcome, error) {
	p := newPerson(c, false)
	if err := d.store.CreatePerson(ctx, p); err != nil {
		return Outcome{}, fmt.Errorf("failed to create person: %w", err)
	}

	outcome := Outcome{Kind: models.OutcomeCreated, PersonID: p.ID}
	created, err := d.appendAddress(ctx, p.ID, c)
	if err != nil {
		return Outcome{}, err
	}
	outcome.AddressCreated = created
	return outcome, d.link(ctx, c, outcome, link)
}

// appendAddress adds the candidate's address unless it equals the most recent one on file
func (d *Deduplicator) appendAddress(ctx context.Context, personID int64, c models.CandidateRecord) (bool, error) {
	if c.Address == nil || c.Address.IsEmpty() {
		return false, nil
	}

	existing, err := d.store.ListAddresses(ctx, personID)
	if err != nil {
		return false, fmt.Errorf("failed to list addresses: %w", err)
	}
	if len(existing) > 0 && normalizers.SameAddress(existing[len(existing)-1].Structured(), *c.Address) {
		return false, nil
	}

	a := &models.Address{
		PersonID:      personID,
		Street:        c.Address.Street,
		City:          c.Address.City,
		Region:        c.Address.Region,
		Country:       c.Address.Country,
		EffectiveDate: c.EventDate,
	}
	if c.SourceID != 0 {
		a.SourceID = &c.SourceID
	}
	if err := d.store.AddAddress(ctx, a); err != nil {
		return false, fmt.Errorf("failed to add address: %w", err)
	}
	return true, nil
}

func (d *Deduplicator) link(ctx context.Context, c models.CandidateRecord, outcome Outcome, link bool) error {
	if !link || c.SourceID == 0 {
		return nil
	}
	err := d.store.CreateRawPersonRecord(ctx, &models.RawPersonRecord{
		SourceID: c.SourceID,
		PersonID: outcome.PersonID,
		Outcome:  outcome.Kind,
	})
	if err != nil {
		return fmt.Errorf("failed to link source to person: %w", err)
	}
	return nil
}
