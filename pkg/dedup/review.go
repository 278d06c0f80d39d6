package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ramsey-B/rowan/pkg/locking"
	"github.com/Ramsey-B/rowan/pkg/matching"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/store"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

// maxMergeChain bounds how many merged_into hops are followed to find the surviving person
const maxMergeChain = 32

// Approve merges the provisional person of a pending match candidate into the person
// it matched and returns the surviving person id
func (d *Deduplicator) Approve(ctx context.Context, candidateID int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "dedup.Deduplicator.Approve")
	defer span.End()

	log := d.logger.WithContext(ctx).WithField("match_candidate_id", candidateID)

	mc, err := d.claim(ctx, candidateID, models.MatchCandidateStatusApproved)
	if err != nil {
		return 0, err
	}

	target, err := d.survivor(ctx, mc.MatchedPersonID)
	if err != nil {
		return 0, err
	}

	prov, err := d.store.GetPerson(ctx, mc.PersonID)
	if err != nil {
		d.release(ctx, candidateID, models.MatchCandidateStatusApproved)
		return 0, err
	}

	keys := append(personLockKeys(target), personLockKeys(prov)...)
	unlock, err := locking.LockAll(ctx, d.locker, keys...)
	if err != nil {
		d.release(ctx, candidateID, models.MatchCandidateStatusApproved)
		return 0, fmt.Errorf("failed to lock name keys: %w", err)
	}
	defer unlock()

	var survivorID int64
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		survivorID, err = d.absorb(ctx, mc.PersonID, mc.MatchedPersonID)
		if !errors.Is(err, store.ErrVersionConflict) {
			break
		}
		log.WithField("attempt", attempt+1).Debug("Person changed during approval, retrying")
	}
	if err != nil {
		log.WithError(err).Error("Failed to merge approved match candidate")
		d.release(ctx, candidateID, models.MatchCandidateStatusApproved)
		tracing.RecordError(span, err)
		return 0, err
	}

	log.WithFields(map[string]any{
		"provisional_person_id": mc.PersonID,
		"person_id":             survivorID,
	}).Info("Match candidate approved")
	return survivorID, nil
}

func personLockKeys(p models.Person) []string {
	return matching.LockKeys(models.PersonName{Last: p.LastName, Tokens: p.NameTokens()})
}

// Reject confirms the provisional person of a pending match candidate as a distinct person
func (d *Deduplicator) Reject(ctx context.Context, candidateID int64) error {
	ctx, span := tracing.StartSpan(ctx, "dedup.Deduplicator.Reject")
	defer span.End()

	mc, err := d.claim(ctx, candidateID, models.MatchCandidateStatusRejected)
	if err != nil {
		return err
	}

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		var p models.Person
		p, err = d.store.GetPerson(ctx, mc.PersonID)
		if err != nil {
			break
		}
		if !p.IsProvisional {
			return nil
		}
		p.IsProvisional = false
		err = d.store.UpdatePerson(ctx, &p)
		if !errors.Is(err, store.ErrVersionConflict) {
			break
		}
	}
	if err != nil {
		d.release(ctx, candidateID, models.MatchCandidateStatusRejected)
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to confirm provisional person: %w", err)
	}

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"match_candidate_id": candidateID,
		"person_id":          mc.PersonID,
	}).Info("Match candidate rejected")
	return nil
}

// claim moves a pending candidate to the reviewer's decision
func (d *Deduplicator) claim(ctx context.Context, candidateID int64, to models.MatchCandidateStatus) (models.MatchCandidate, error) {
	mc, err := d.store.GetMatchCandidate(ctx, candidateID)
	if err != nil {
		return models.MatchCandidate{}, err
	}
	if mc.Status != models.MatchCandidateStatusPending {
		return models.MatchCandidate{}, ErrCandidateNotPending
	}
	err = d.store.TransitionMatchCandidate(ctx, candidateID, models.MatchCandidateStatusPending, to)
	if errors.Is(err, store.ErrVersionConflict) {
		return models.MatchCandidate{}, ErrCandidateNotPending
	}
	if err != nil {
		return models.MatchCandidate{}, err
	}
	mc.Status = to
	return mc, nil
}

// release returns a claimed candidate to pending after a failed decision
func (d *Deduplicator) release(ctx context.Context, candidateID int64, from models.MatchCandidateStatus) {
	if err := d.store.TransitionMatchCandidate(context.WithoutCancel(ctx), candidateID, from, models.MatchCandidateStatusPending); err != nil {
		d.logger.WithContext(ctx).WithError(err).WithField("match_candidate_id", candidateID).Warn("Failed to return match candidate to pending")
	}
}

// survivor follows merged_into links to the active person
func (d *Deduplicator) survivor(ctx context.Context, personID int64) (models.Person, error) {
	for range maxMergeChain {
		p, err := d.store.GetPerson(ctx, personID)
		if err != nil {
			return models.Person{}, err
		}
		if p.IsActive() {
			return p, nil
		}
		personID = *p.MergedInto
	}
	return models.Person{}, fmt.Errorf("merge chain from person %d is too long", personID)
}

// absorb merges the provisional person into the survivor of matchedID
func (d *Deduplicator) absorb(ctx context.Context, provisionalID, matchedID int64) (int64, error) {
	target, err := d.survivor(ctx, matchedID)
	if err != nil {
		return 0, err
	}
	prov, err := d.store.GetPerson(ctx, provisionalID)
	if err != nil {
		return 0, err
	}
	if !prov.IsActive() || prov.ID == target.ID {
		return target.ID, nil
	}

	err = d.store.Transact(ctx, func(ctx context.Context) error {
		if applyFacts(&target, personFacts(prov)) {
			if err := d.store.UpdatePerson(ctx, &target); err != nil {
				return err
			}
		}
		if err := d.store.ReassignPerson(ctx, prov.ID, target.ID); err != nil {
			return fmt.Errorf("failed to reassign person: %w", err)
		}
		prov.MergedInto = &target.ID
		prov.IsProvisional = false
		return d.store.UpdatePerson(ctx, &prov)
	})
	if err != nil {
		return 0, err
	}
	return target.ID, nil
}
