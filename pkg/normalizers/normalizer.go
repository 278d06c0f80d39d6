package normalizers

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/Ramsey-B/rowan/pkg/models"
)

// ErrUnknownSourceType is returned when a source type has no field schema
var ErrUnknownSourceType = errors.New("unknown source type")

// fieldSchema lists the raw keys each candidate field is read from. The first present key wins.
type fieldSchema struct {
	name               []string
	birthDate          []string
	birthPlace         []string
	countryHints       []string
	eventDate          []string
	address            []string
	destinationAddress bool
}

var commonBirthCountry = []string{"birth_country", "country_of_birth"}

var schemas = map[models.SourceType]fieldSchema{
	models.SourceTypeNaturalization: {
		name:               []string{"petitioner_name", "name"},
		birthDate:          []string{"birth_date", "date_of_birth"},
		birthPlace:         []string{"birth_place", "birthplace", "place_of_birth"},
		countryHints:       []string{"former_nationality", "nationality", "country_of_origin"},
		eventDate:          []string{"naturalization_date", "date"},
		address:            []string{"residence_at_naturalization", "residence", "address"},
		destinationAddress: true,
	},
	models.SourceTypeImmigration: {
		name:         []string{"passenger_name", "name"},
		birthDate:    []string{"birth_date", "date_of_birth"},
		birthPlace:   []string{"birthplace", "birth_place", "place_of_birth"},
		countryHints: []string{"last_residence", "nationality"},
		eventDate:    []string{"arrival_date", "date"},
		address:      []string{"destination_address", "address"},
	},
	models.SourceTypeCensus: {
		name:               []string{"name", "member_name"},
		birthDate:          []string{"birth_year", "birth_date"},
		birthPlace:         []string{"birthplace", "birth_place"},
		eventDate:          []string{"census_year", "year", "census_date"},
		address:            []string{"address", "residence"},
		destinationAddress: true,
	},
	models.SourceTypeObituary: {
		name:       []string{"deceased_name", "name"},
		birthDate:  []string{"birth_date", "date_of_birth"},
		birthPlace: []string{"birth_place", "birthplace", "place_of_birth"},
		eventDate:  []string{"death_date", "date_of_death", "publication_date"},
		address:    []string{"last_residence", "residence", "address"},
	},
	models.SourceTypeBirth: {
		name:       []string{"child_name", "name"},
		birthDate:  []string{"birth_date", "date_of_birth"},
		birthPlace: []string{"birth_place", "birthplace", "place_of_birth"},
		eventDate:  []string{"birth_date", "date_of_birth"},
		address:    []string{"parents_residence", "residence", "address"},
	},
}

// Normalizer converts raw records into candidate records. It holds no mutable state.
type Normalizer struct {
	destinationCountry string
}

// NewNormalizer creates a Normalizer. destinationCountry fills the address country of
// record types that document residence in the destination nation.
func NewNormalizer(destinationCountry string) *Normalizer {
	return &Normalizer{destinationCountry: destinationCountry}
}

// Supports reports whether a source type has a field schema
func Supports(sourceType models.SourceType) bool {
	_, ok := schemas[sourceType]
	return ok
}

// Normalize is total: unparseable values degrade to null instead of failing
func (n *Normalizer) Normalize(raw models.RawRecord) models.CandidateRecord {
	schema, ok := schemas[raw.SourceType]
	if !ok {
		schema = schemas[models.SourceTypeNaturalization]
		schema.destinationAddress = false
	}
	f := raw.Fields

	c := models.CandidateRecord{
		SourceType: raw.SourceType,
		SourceID:   raw.SourceID,
		Name:       ParseName(stringField(f, schema.name...)),
		BirthDate:  ParseDate(firstValue(f, schema.birthDate...)),
		BirthPlace: CollapseWhitespace(stringField(f, schema.birthPlace...)),
		DeathDate:  ParseDate(firstValue(f, "death_date", "date_of_death")),
		DeathPlace: CollapseWhitespace(stringField(f, "death_place", "place_of_death")),
		EventDate:  ParseDate(firstValue(f, schema.eventDate...)),
		Sex:        normalizeSex(stringField(f, "sex", "gender")),
	}

	if raw.SourceType == models.SourceTypeCensus && !c.BirthDate.IsKnown() && c.EventDate.IsKnown() {
		if age, ok := intField(f, "age"); ok && age >= 0 {
			c.BirthDate = checkRange(models.YearOnly(c.EventDate.Year-age, 0))
		}
	}

	c.BirthCountry = n.birthCountry(f, schema, c.BirthPlace)

	defaultCountry := ""
	if schema.destinationAddress {
		defaultCountry = n.destinationCountry
	}
	c.Address = ParseAddress(stringField(f, schema.address...), defaultCountry)

	c.HouseholdRole = strings.ToLower(CollapseWhitespace(stringField(f, "relation", "relationship", "role")))
	c.References = references(f, c.Name)
	return c
}

// birthCountry never falls back to the destination country
func (n *Normalizer) birthCountry(f map[string]any, schema fieldSchema, birthPlace string) string {
	if explicit := CollapseWhitespace(stringField(f, commonBirthCountry...)); explicit != "" {
		if c := CanonicalCountry(explicit); c != "" {
			return c
		}
		return TitleCase(explicit)
	}
	if c := ExtractCountry(birthPlace); c != "" {
		return c
	}
	for _, key := range schema.countryHints {
		if c := ExtractCountry(stringField(f, key)); c != "" {
			return c
		}
	}
	return ""
}

// references collects the relatives a record names. A bare given name for a father
// (or mother without maiden name) inherits the subject's family name.
func references(f map[string]any, subject models.PersonName) []models.FamilyReference {
	refs := make([]models.FamilyReference, 0)
	add := func(t models.RelationshipType, raw string, inheritFamily bool) {
		name := ParseName(raw)
		if name.IsEmpty() {
			return
		}
		if inheritFamily && name.Last == "" && subject.Last != "" {
			name = ParseName(name.First + " " + subject.Last)
		}
		refs = append(refs, models.FamilyReference{Type: t, Name: name})
	}

	add(models.RelationshipParent, stringField(f, "father_name", "father"), true)
	if mother := stringField(f, "mother_name", "mother"); mother != "" {
		add(models.RelationshipParent, mother, true)
	} else {
		add(models.RelationshipParent, stringField(f, "mother_maiden_name"), false)
	}
	add(models.RelationshipSpouse, stringField(f, "spouse_name", "spouse"), false)
	for _, child := range listField(f, "children") {
		add(models.RelationshipChild, child, true)
	}
	for _, sibling := range listField(f, "siblings") {
		add(models.RelationshipSibling, sibling, true)
	}
	return refs
}

// SplitRecords turns a stored source into person-level raw records. Census households
// yield one record per member carrying the household address and census year.
func SplitRecords(src models.Source) []models.RawRecord {
	fields := src.RecordData.Data
	if fields == nil {
		fields = map[string]any{}
	}

	members, ok := fields["household_members"].([]any)
	if src.SourceType != models.SourceTypeCensus || !ok || len(members) == 0 {
		return []models.RawRecord{{SourceType: src.SourceType, SourceID: src.ID, Fields: fields}}
	}

	household := map[string]any{}
	if addr := firstValue(fields, "address", "residence"); addr != nil {
		household["address"] = addr
	}
	if year := firstValue(fields, "census_year", "year", "census_date"); year != nil {
		household["census_year"] = year
	}

	records := make([]models.RawRecord, 0, len(members))
	for i, m := range members {
		member := map[string]any{}
		switch v := m.(type) {
		case map[string]any:
			member = maps.Clone(v)
		case string:
			member["name"] = v
		default:
			continue
		}
		for k, v := range household {
			if _, exists := member[k]; !exists {
				member[k] = v
			}
		}
		records = append(records, models.RawRecord{SourceType: src.SourceType, SourceID: src.ID, Index: i, Fields: member})
	}
	return records
}

func firstValue(f map[string]any, keys ...string) any {
	for _, key := range keys {
		v, ok := f[key]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}

func stringField(f map[string]any, keys ...string) string {
	switch v := firstValue(f, keys...).(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool, map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intField(f map[string]any, keys ...string) (int, bool) {
	switch v := firstValue(f, keys...).(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		return i, err == nil
	default:
		return 0, false
	}
}

// listField accepts a JSON array of names or a comma/semicolon separated string
func listField(f map[string]any, key string) []string {
	switch v := f[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch i := item.(type) {
			case string:
				out = append(out, i)
			case map[string]any:
				out = append(out, stringField(i, "name", "full_name"))
			}
		}
		return out
	case string:
		return strings.FieldsFunc(v, func(r rune) bool { return r == ';' || r == ',' })
	default:
		return nil
	}
}

func normalizeSex(s string) string {
	switch Fold(s) {
	case "m", "male", "man", "mannlich":
		return "M"
	case "f", "female", "woman", "w", "weiblich":
		return "F"
	default:
		return ""
	}
}
