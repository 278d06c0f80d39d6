package normalizers

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/rowan/pkg/models"
)

const (
	minYear = 1000
	maxYear = 2100
)

// exactLayouts are tried in order. Slashed and dashed numeric dates are read month first.
var exactLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006/1/2",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
	"02.01.2006",
	"2.1.2006",
	"2 January 2006",
	"2 Jan 2006",
	"2 Jan. 2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"Jan 2 2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var monthLayouts = []string{
	"2006-01",
	"2006/01",
	"January 2006",
	"Jan 2006",
	"Jan. 2006",
	"01/2006",
}

var approximatePrefixes = []string{"circa", "ca.", "ca", "c.", "abt.", "abt", "about", "approx.", "approximately", "est.", "estimated", "around", "bef.", "before", "aft.", "after"}

var (
	yearOnlyPattern = regexp.MustCompile(`^\d{4}$`)
	yearPattern     = regexp.MustCompile(`\b(\d{4})\b`)
)

// ParseDate converts a raw field value into a PartialDate. Strings, JSON numbers
// and time.Time are accepted. Anything unparseable, two-digit years and years
// outside 1000..2100 yield an unknown date.
func ParseDate(value any) models.PartialDate {
	switch v := value.(type) {
	case nil:
		return models.UnknownDate()
	case time.Time:
		return checkRange(models.ExactDate(v.Year(), int(v.Month()), v.Day()))
	case float64:
		return yearFromNumber(v)
	case int:
		return yearFromNumber(float64(v))
	case int64:
		return yearFromNumber(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return models.UnknownDate()
		}
		return yearFromNumber(f)
	case string:
		return parseDateString(v)
	default:
		return models.UnknownDate()
	}
}

func yearFromNumber(f float64) models.PartialDate {
	if f != math.Trunc(f) {
		return models.UnknownDate()
	}
	return checkRange(models.YearOnly(int(f), 0))
}

func parseDateString(raw string) models.PartialDate {
	s := CollapseWhitespace(raw)
	if s == "" {
		return models.UnknownDate()
	}

	s, approximate := stripApproximation(s)

	d := parseDateLayouts(s)
	if !d.IsKnown() {
		// free text with exactly one four digit year, e.g. "spring of 1925"
		matches := yearPattern.FindAllString(s, -1)
		if len(matches) == 1 {
			year, _ := strconv.Atoi(matches[0])
			d = models.YearOnly(year, 0)
		}
	}

	d = checkRange(d)
	if approximate && d.IsExact() {
		d = models.YearOnly(d.Year, d.Month)
	}
	return d
}

func parseDateLayouts(s string) models.PartialDate {
	if yearOnlyPattern.MatchString(s) {
		year, _ := strconv.Atoi(s)
		return models.YearOnly(year, 0)
	}
	for _, layout := range exactLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.ExactDate(t.Year(), int(t.Month()), t.Day())
		}
	}
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.YearOnly(t.Year(), int(t.Month()))
		}
	}
	return models.UnknownDate()
}

func stripApproximation(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, prefix := range approximatePrefixes {
		if strings.HasPrefix(lower, prefix+" ") {
			return strings.TrimSpace(s[len(prefix):]), true
		}
	}
	return s, false
}

func checkRange(d models.PartialDate) models.PartialDate {
	if !d.IsKnown() || d.Year < minYear || d.Year > maxYear {
		return models.UnknownDate()
	}
	return d
}
