package models

import "time"

// LeadScore is the derived lead quality of a person
type LeadScore struct {
	PersonID          int64          `json:"person_id"`
	Score             int            `json:"lead_score"`
	Confidence        ConfidenceTier `json:"data_confidence"`
	HasGermanAncestor bool           `json:"has_german_ancestor"`
	SourcesCount      int            `json:"sources_count"`
	ScoredAt          time.Time      `json:"scored_at"`
}

// AncestorView describes the qualifying ancestor of a lead
type AncestorView struct {
	PersonID            int64       `json:"person_id"`
	Name                string      `json:"name"`
	BirthPlace          string      `json:"birth_place"`
	BirthCountry        string      `json:"birth_country"`
	BirthDate           PartialDate `json:"birth_date"`
	NaturalizationDate  PartialDate `json:"naturalization_date"`
	Generations         int         `json:"generations"`
	CitizenshipEligible bool        `json:"citizenship_eligible"`
}

// LeadView is the externally visible shape of a lead
type LeadView struct {
	PersonID         int64          `json:"person_id"`
	Name             string         `json:"name"`
	LastKnownAddress string         `json:"last_known_address"`
	Ancestor         *AncestorView  `json:"german_ancestor,omitempty"`
	LeadScore        int            `json:"lead_score"`
	Confidence       ConfidenceTier `json:"data_confidence"`
	SourcesCount     int            `json:"sources_count"`
}

// LeadFilter narrows a lead listing
type LeadFilter struct {
	MinScore        int
	AncestorCountry string
	Limit           int
}

// PersonFilter narrows a person listing in the store
type PersonFilter struct {
	MinScore           int
	IncludeProvisional bool
	Limit              int
	Offset             int
}

// Stats is the on-demand aggregate of the store
type Stats struct {
	TotalRecords       int     `json:"total_records"`
	UniquePersons      int     `json:"unique_persons"`
	LeadsCount         int     `json:"leads_count"`
	DedupRate          float64 `json:"dedup_rate"`
	DedupRatePercent   string  `json:"dedup_rate_percent"`
	PendingReviews     int     `json:"pending_reviews"`
	ProvisionalPersons int     `json:"provisional_persons"`
}
