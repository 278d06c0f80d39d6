package models

import "strings"

// PersonName is a parsed personal name. Tokens holds every name token in order,
// including particles, for matching.
type PersonName struct {
	Full   string   `json:"full"`
	First  string   `json:"first"`
	Middle string   `json:"middle"`
	Last   string   `json:"last"`
	Tokens []string `json:"tokens"`
}

// IsEmpty reports whether no name tokens were recognized
func (n PersonName) IsEmpty() bool {
	return len(n.Tokens) == 0
}

// StructuredAddress is a comma-split address
type StructuredAddress struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
}

// IsEmpty reports whether every component is null
func (a StructuredAddress) IsEmpty() bool {
	return a.Street == "" && a.City == "" && a.Region == "" && a.Country == ""
}

// String joins the known components
func (a StructuredAddress) String() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.City, a.Region, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// FamilyReference names a relative mentioned by a record
type FamilyReference struct {
	Type RelationshipType `json:"type"`
	Name PersonName       `json:"name"`
}

// CandidateRecord is the normalized, comparable form of a RawRecord.
// Unknown values are empty strings, unknown-precision dates or nil pointers.
type CandidateRecord struct {
	SourceType    SourceType         `json:"source_type"`
	SourceID      int64              `json:"source_id"`
	Name          PersonName         `json:"name"`
	BirthDate     PartialDate        `json:"birth_date"`
	BirthPlace    string             `json:"birth_place,omitempty"`
	BirthCountry  string             `json:"birth_country,omitempty"`
	DeathDate     PartialDate        `json:"death_date"`
	DeathPlace    string             `json:"death_place,omitempty"`
	EventDate     PartialDate        `json:"event_date"`
	Sex           string             `json:"sex,omitempty"`
	Address       *StructuredAddress `json:"address,omitempty"`
	References    []FamilyReference  `json:"references,omitempty"`
	HouseholdRole string             `json:"household_role,omitempty"`
}

// IsDeceased reports whether the record documents a death
func (c CandidateRecord) IsDeceased() bool {
	return c.SourceType == SourceTypeObituary || c.DeathDate.IsKnown()
}

// NaturalizationDate returns the event date of naturalization records
func (c CandidateRecord) NaturalizationDate() PartialDate {
	if c.SourceType == SourceTypeNaturalization {
		return c.EventDate
	}
	return UnknownDate()
}

// CandidateQuery selects the persons worth scoring against a candidate record.
// A person is selected when it shares a phonetic key, has a birth year inside
// [MinBirthYear, MaxBirthYear], or has no birth year. FullScan selects every active person.
type CandidateQuery struct {
	PhoneticKeys []string
	MinBirthYear int
	MaxBirthYear int
	FullScan     bool
}
