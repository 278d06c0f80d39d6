// Package relationships derives family edges from resolved records
package relationships

import (
	"context"
	"errors"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/rowan/pkg/dedup"
	"github.com/Ramsey-B/rowan/pkg/matching"
	"github.com/Ramsey-B/rowan/pkg/metrics"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/store"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

// knownRelativeThreshold is the name similarity at which a reference is taken to
// name a relative already linked to the subject
const knownRelativeThreshold = 0.9

// Store is the persistence the extractor needs
type Store interface {
	store.RelationshipStore
	GetPerson(ctx context.Context, id int64) (models.Person, error)
}

// Resolver resolves a referenced relative to a person
type Resolver interface {
	ResolveReference(ctx context.Context, c models.CandidateRecord) (dedup.Outcome, error)
}

// householdRoles maps a census role to the relation the member has to the head
var householdRoles = map[string]models.RelationshipType{
	"wife":     models.RelationshipSpouse,
	"husband":  models.RelationshipSpouse,
	"spouse":   models.RelationshipSpouse,
	"son":      models.RelationshipChild,
	"daughter": models.RelationshipChild,
	"child":    models.RelationshipChild,
	"stepson":  models.RelationshipChild,
	"father":   models.RelationshipParent,
	"mother":   models.RelationshipParent,
	"brother":  models.RelationshipSibling,
	"sister":   models.RelationshipSibling,
	"sibling":  models.RelationshipSibling,
}

// Member is a resolved census household member
type Member struct {
	PersonID int64
	Role     string
}

// Result counts what an extraction did
type Result struct {
	Created  int
	Existing int
	Skipped  int
	Touched  []int64
}

func (r *Result) add(o Result) {
	r.Created += o.Created
	r.Existing += o.Existing
	r.Skipped += o.Skipped
	r.Touched = append(r.Touched, o.Touched...)
}

// Extractor writes relationship edges. References that cannot be resolved are skipped.
type Extractor struct {
	resolver Resolver
	store    Store
	logger   ectologger.Logger
}

func NewExtractor(resolver Resolver, s Store, logger ectologger.Logger) *Extractor {
	return &Extractor{
		resolver: resolver,
		store:    s,
		logger:   logger,
	}
}

// Extract resolves every family reference of the record and links it to personID.
// A reference naming a relative of the same type already linked to the person reuses
// that relative; other references go through the resolver. Only store errors are returned.
func (e *Extractor) Extract(ctx context.Context, personID int64, c models.CandidateRecord) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "relationships.Extractor.Extract")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"person_id": personID,
		"source_id": c.SourceID,
	})

	var result Result
	for _, ref := range c.References {
		if ref.Name.IsEmpty() {
			result.Skipped++
			metrics.RelationshipsTotal.WithLabelValues(string(ref.Type), "skipped").Inc()
			continue
		}

		relatedID, found, err := e.knownRelative(ctx, personID, ref)
		if err != nil {
			return result, err
		}
		if found {
			linked, err := e.link(ctx, personID, relatedID, ref.Type, c.SourceID)
			if err != nil {
				return result, err
			}
			result.add(linked)
			continue
		}

		outcome, err := e.resolver.ResolveReference(ctx, models.CandidateRecord{
			SourceType: c.SourceType,
			SourceID:   c.SourceID,
			Name:       ref.Name,
		})
		if err != nil {
			if store.IsUnavailable(err) {
				return result, err
			}
			log.WithError(err).WithField("reference", ref.Name.Full).Debug("Skipping unresolvable family reference")
			result.Skipped++
			metrics.RelationshipsTotal.WithLabelValues(string(ref.Type), "skipped").Inc()
			continue
		}

		linked, err := e.link(ctx, personID, outcome.PersonID, ref.Type, c.SourceID)
		if err != nil {
			return result, err
		}
		result.add(linked)
	}
	return result, nil
}

// knownRelative finds an existing relative of the reference's type with a matching name
func (e *Extractor) knownRelative(ctx context.Context, personID int64, ref models.FamilyReference) (int64, bool, error) {
	edges, err := e.store.ListRelationships(ctx, personID)
	if err != nil {
		return 0, false, err
	}
	for _, edge := range edges {
		other, relation, ok := edge.From(personID)
		if !ok || relation != ref.Type {
			continue
		}
		p, err := e.store.GetPerson(ctx, other)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return 0, false, err
		}
		if p.IsActive() && matching.NameSimilarity(ref.Name.Tokens, p.NameTokens()) >= knownRelativeThreshold {
			return p.ID, true, nil
		}
	}
	return 0, false, nil
}

// ExtractHousehold links every census member to the household head. The head is the
// member with role "head", else the first member.
func (e *Extractor) ExtractHousehold(ctx context.Context, sourceID int64, members []Member) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "relationships.Extractor.ExtractHousehold")
	defer span.End()

	var result Result
	if len(members) < 2 {
		return result, nil
	}

	head := members[0]
	for _, m := range members {
		if strings.EqualFold(strings.TrimSpace(m.Role), "head") {
			head = m
			break
		}
	}

	for _, m := range members {
		if m.PersonID == head.PersonID {
			continue
		}
		relation, ok := householdRoles[strings.ToLower(strings.TrimSpace(m.Role))]
		if !ok {
			result.Skipped++
			continue
		}
		linked, err := e.link(ctx, head.PersonID, m.PersonID, relation, sourceID)
		if err != nil {
			return result, err
		}
		result.add(linked)
	}
	return result, nil
}

// link stores "related is the relation of person"
func (e *Extractor) link(ctx context.Context, personID, relatedID int64, relation models.RelationshipType, sourceID int64) (Result, error) {
	var result Result
	if personID == relatedID {
		result.Skipped++
		metrics.RelationshipsTotal.WithLabelValues(string(relation), "skipped").Inc()
		return result, nil
	}

	r := &models.Relationship{
		PersonID:        personID,
		RelatedPersonID: relatedID,
		Type:            relation,
	}
	if sourceID != 0 {
		r.SourceID = &sourceID
	}
	created, err := e.store.AddRelationship(ctx, r)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to store relationship")
		return result, err
	}

	result.Touched = []int64{personID, relatedID}
	if created {
		result.Created++
		metrics.RelationshipsTotal.WithLabelValues(string(relation), "created").Inc()
	} else {
		result.Existing++
		metrics.RelationshipsTotal.WithLabelValues(string(relation), "existing").Inc()
	}
	return result, nil
}
