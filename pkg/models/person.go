package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// ConfidenceTier classifies how well supported a lead is
type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "high"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceLow    ConfidenceTier = "low"
)

// Person is the deduplicated master entity
type Person struct {
	ID                        int64          `json:"id" db:"id"`
	FirstName                 string         `json:"first_name" db:"first_name"`
	MiddleName                string         `json:"middle_name" db:"middle_name"`
	LastName                  string         `json:"last_name" db:"last_name"`
	BirthDate                 PartialDate    `json:"birth_date" db:"birth_date"`
	BirthYear                 *int           `json:"-" db:"birth_year"`
	BirthPlace                string         `json:"birth_place" db:"birth_place"`
	BirthCountry              string         `json:"birth_country" db:"birth_country"`
	DeathDate                 PartialDate    `json:"death_date" db:"death_date"`
	DeathPlace                string         `json:"death_place" db:"death_place"`
	NaturalizationDate        PartialDate    `json:"naturalization_date" db:"naturalization_date"`
	Sex                       string         `json:"sex" db:"sex"`
	IsLiving                  bool           `json:"is_living" db:"is_living"`
	IsProvisional             bool           `json:"is_provisional" db:"is_provisional"`
	MergedInto                *int64         `json:"merged_into,omitempty" db:"merged_into"`
	PhoneticKeys              pq.StringArray `json:"-" db:"phonetic_keys"`
	IsGermanAncestorCandidate bool           `json:"is_german_ancestor_candidate" db:"is_german_ancestor_candidate"`
	LeadScore                 int            `json:"lead_score" db:"lead_score"`
	Confidence                ConfidenceTier `json:"confidence" db:"confidence"`
	ScoredAt                  *time.Time     `json:"scored_at,omitempty" db:"scored_at"`
	Version                   int            `json:"version" db:"version"`
	CreatedAt                 time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt                 time.Time      `json:"updated_at" db:"updated_at"`
}

// FullName joins the known name parts
func (p Person) FullName() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.FirstName, p.MiddleName, p.LastName} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// NameTokens returns the whitespace separated tokens of the full name
func (p Person) NameTokens() []string {
	return strings.Fields(p.FullName())
}

// IsActive reports whether the person has not been merged into another
func (p Person) IsActive() bool {
	return p.MergedInto == nil
}

// IsConfirmed reports whether the person is active and not pending review
func (p Person) IsConfirmed() bool {
	return p.IsActive() && !p.IsProvisional
}

// Address is a time-scoped residence of one person
type Address struct {
	ID            int64       `json:"id" db:"id"`
	PersonID      int64       `json:"person_id" db:"person_id"`
	Street        string      `json:"street" db:"street"`
	City          string      `json:"city" db:"city"`
	Region        string      `json:"region" db:"region"`
	Country       string      `json:"country" db:"country"`
	EffectiveDate PartialDate `json:"effective_date" db:"effective_date"`
	SourceID      *int64      `json:"source_id,omitempty" db:"source_id"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

// Structured returns the address components
func (a Address) Structured() StructuredAddress {
	return StructuredAddress{Street: a.Street, City: a.City, Region: a.Region, Country: a.Country}
}

// AddressLess orders addresses by effective date (unknown first), then insertion
func AddressLess(a, b Address) bool {
	if a.EffectiveDate.IsKnown() != b.EffectiveDate.IsKnown() {
		return !a.EffectiveDate.IsKnown()
	}
	if a.EffectiveDate.IsKnown() {
		at, bt := a.EffectiveDate.Time(), b.EffectiveDate.Time()
		if !at.Equal(bt) {
			return at.Before(bt)
		}
	}
	return a.ID < b.ID
}
