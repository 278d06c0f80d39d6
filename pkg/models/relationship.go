package models

import "time"

// RelationshipType is the kind of family edge
type RelationshipType string

const (
	RelationshipParent  RelationshipType = "parent"
	RelationshipChild   RelationshipType = "child"
	RelationshipSpouse  RelationshipType = "spouse"
	RelationshipSibling RelationshipType = "sibling"
)

// IsSymmetric reports whether the edge reads the same from both ends
func (t RelationshipType) IsSymmetric() bool {
	return t == RelationshipSpouse || t == RelationshipSibling
}

// Inverse returns the type seen from the other endpoint
func (t RelationshipType) Inverse() RelationshipType {
	switch t {
	case RelationshipParent:
		return RelationshipChild
	case RelationshipChild:
		return RelationshipParent
	default:
		return t
	}
}

// Relationship states that RelatedPersonID is the Type of PersonID.
// Stored edges are canonical: child edges become the inverse parent edge and
// symmetric edges have PersonID < RelatedPersonID.
type Relationship struct {
	ID              int64            `json:"id" db:"id"`
	PersonID        int64            `json:"person_id" db:"person_id"`
	RelatedPersonID int64            `json:"related_person_id" db:"related_person_id"`
	Type            RelationshipType `json:"relationship_type" db:"relationship_type"`
	SourceID        *int64           `json:"source_id,omitempty" db:"source_id"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
}

// Canonical returns the stored orientation of the edge
func (r Relationship) Canonical() Relationship {
	switch {
	case r.Type == RelationshipChild:
		r.PersonID, r.RelatedPersonID = r.RelatedPersonID, r.PersonID
		r.Type = RelationshipParent
	case r.Type.IsSymmetric() && r.PersonID > r.RelatedPersonID:
		r.PersonID, r.RelatedPersonID = r.RelatedPersonID, r.PersonID
	}
	return r
}

// Key identifies the canonical edge
func (r Relationship) Key() RelationshipKey {
	c := r.Canonical()
	return RelationshipKey{PersonID: c.PersonID, RelatedPersonID: c.RelatedPersonID, Type: c.Type}
}

// From returns the other endpoint and the relation it has to personID.
// ok is false when personID is not an endpoint.
func (r Relationship) From(personID int64) (other int64, relation RelationshipType, ok bool) {
	switch personID {
	case r.PersonID:
		return r.RelatedPersonID, r.Type, true
	case r.RelatedPersonID:
		return r.PersonID, r.Type.Inverse(), true
	default:
		return 0, "", false
	}
}

// RelationshipKey is the uniqueness key of a canonical edge
type RelationshipKey struct {
	PersonID        int64
	RelatedPersonID int64
	Type            RelationshipType
}
