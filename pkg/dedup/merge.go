package dedup

import (
	"slices"

	"github.com/Ramsey-B/rowan/pkg/matching"
	"github.com/Ramsey-B/rowan/pkg/models"
)

// facts are the mergeable attributes of a candidate record or a person
type facts struct {
	first, middle, last string
	birthDate           models.PartialDate
	birthPlace          string
	birthCountry        string
	deathDate           models.PartialDate
	deathPlace          string
	naturalizationDate  models.PartialDate
	sex                 string
	deceased            bool
	phoneticKeys        []string
}

func candidateFacts(c models.CandidateRecord) facts {
	return facts{
		first:              c.Name.First,
		middle:             c.Name.Middle,
		last:               c.Name.Last,
		birthDate:          c.BirthDate,
		birthPlace:         c.BirthPlace,
		birthCountry:       c.BirthCountry,
		deathDate:          c.DeathDate,
		deathPlace:         c.DeathPlace,
		naturalizationDate: c.NaturalizationDate(),
		sex:                c.Sex,
		deceased:           c.IsDeceased(),
		phoneticKeys:       matching.PhoneticKeys(c.Name.Tokens),
	}
}

func personFacts(p models.Person) facts {
	return facts{
		first:              p.FirstName,
		middle:             p.MiddleName,
		last:               p.LastName,
		birthDate:          p.BirthDate,
		birthPlace:         p.BirthPlace,
		birthCountry:       p.BirthCountry,
		deathDate:          p.DeathDate,
		deathPlace:         p.DeathPlace,
		naturalizationDate: p.NaturalizationDate,
		sex:                p.Sex,
		deceased:           !p.IsLiving,
		phoneticKeys:       p.PhoneticKeys,
	}
}

// newPerson builds a person from a candidate record
func newPerson(c models.CandidateRecord, provisional bool) *models.Person {
	f := candidateFacts(c)
	return &models.Person{
		FirstName:          f.first,
		MiddleName:         f.middle,
		LastName:           f.last,
		BirthDate:          f.birthDate,
		BirthPlace:         f.birthPlace,
		BirthCountry:       f.birthCountry,
		DeathDate:          f.deathDate,
		DeathPlace:         f.deathPlace,
		NaturalizationDate: f.naturalizationDate,
		Sex:                f.sex,
		IsLiving:           !f.deceased,
		IsProvisional:      provisional,
		PhoneticKeys:       f.phoneticKeys,
		Confidence:         models.ConfidenceLow,
	}
}

// applyFacts fills gaps in p from f. Known values are never replaced by
// less precise ones and non-null values are never replaced by null.
// Reports whether p changed.
func applyFacts(p *models.Person, f facts) bool {
	changed := false
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	refine := func(dst *models.PartialDate, src models.PartialDate) {
		if src.MorePreciseThan(*dst) {
			*dst = src
			changed = true
		}
	}

	fill(&p.FirstName, f.first)
	fill(&p.MiddleName, f.middle)
	fill(&p.LastName, f.last)
	refine(&p.BirthDate, f.birthDate)
	fill(&p.BirthPlace, f.birthPlace)
	fill(&p.BirthCountry, f.birthCountry)
	refine(&p.DeathDate, f.deathDate)
	fill(&p.DeathPlace, f.deathPlace)
	refine(&p.NaturalizationDate, f.naturalizationDate)
	fill(&p.Sex, f.sex)

	if f.deceased && p.IsLiving {
		p.IsLiving = false
		changed = true
	}

	keys := unionKeys(p.PhoneticKeys, f.phoneticKeys)
	if len(keys) != len(p.PhoneticKeys) {
		p.PhoneticKeys = keys
		changed = true
	}
	return changed
}

func unionKeys(a, b []string) []string {
	out := slices.Clone(a)
	for _, k := range b {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}
