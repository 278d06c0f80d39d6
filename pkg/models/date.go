package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DatePrecision tags how much of a PartialDate is known
type DatePrecision string

const (
	DatePrecisionExact    DatePrecision = "exact"
	DatePrecisionYearOnly DatePrecision = "year_only"
	DatePrecisionUnknown  DatePrecision = "unknown"
)

// rank orders precisions so that higher is more precise
func (p DatePrecision) rank() int {
	switch p {
	case DatePrecisionExact:
		return 2
	case DatePrecisionYearOnly:
		return 1
	default:
		return 0
	}
}

// PartialDate is a calendar date that may only be partly known.
// Month is retained for year_only dates when the source supplied one.
type PartialDate struct {
	Year      int
	Month     int
	Day       int
	Precision DatePrecision
}

// UnknownDate returns the null date
func UnknownDate() PartialDate {
	return PartialDate{Precision: DatePrecisionUnknown}
}

// ExactDate builds a fully known date
func ExactDate(year, month, day int) PartialDate {
	return PartialDate{Year: year, Month: month, Day: day, Precision: DatePrecisionExact}
}

// YearOnly builds a date where only the year (and optionally the month) is known
func YearOnly(year, month int) PartialDate {
	return PartialDate{Year: year, Month: month, Precision: DatePrecisionYearOnly}
}

// IsKnown reports whether at least the year is known
func (d PartialDate) IsKnown() bool {
	return d.Precision == DatePrecisionExact || d.Precision == DatePrecisionYearOnly
}

// IsExact reports whether year, month and day are known
func (d PartialDate) IsExact() bool {
	return d.Precision == DatePrecisionExact
}

// MorePreciseThan reports whether d carries strictly more precision than other
func (d PartialDate) MorePreciseThan(other PartialDate) bool {
	return d.Precision.rank() > other.Precision.rank()
}

// Time returns the date as midnight UTC. Year-only dates resolve to January 1st.
func (d PartialDate) Time() time.Time {
	if !d.IsKnown() {
		return time.Time{}
	}
	if d.IsExact() {
		return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(d.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// YearPtr returns the year or nil when unknown
func (d PartialDate) YearPtr() *int {
	if !d.IsKnown() {
		return nil
	}
	year := d.Year
	return &year
}

// String renders "YYYY-MM-DD", "YYYY-MM", "YYYY" or "" for unknown
func (d PartialDate) String() string {
	switch {
	case d.IsExact():
		return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
	case d.Precision == DatePrecisionYearOnly && d.Month > 0:
		return fmt.Sprintf("%04d-%02d", d.Year, d.Month)
	case d.Precision == DatePrecisionYearOnly:
		return fmt.Sprintf("%04d", d.Year)
	default:
		return ""
	}
}

// ParsePartialDate parses the canonical forms produced by String
func ParsePartialDate(s string) (PartialDate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return UnknownDate(), nil
	}
	parts := strings.Split(s, "-")
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return UnknownDate(), fmt.Errorf("invalid partial date %q: %w", s, err)
		}
		nums = append(nums, n)
	}
	switch len(nums) {
	case 1:
		return YearOnly(nums[0], 0), nil
	case 2:
		return YearOnly(nums[0], nums[1]), nil
	case 3:
		return ExactDate(nums[0], nums[1], nums[2]), nil
	default:
		return UnknownDate(), fmt.Errorf("invalid partial date %q", s)
	}
}

func (d PartialDate) MarshalJSON() ([]byte, error) {
	if !d.IsKnown() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *PartialDate) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil {
		*d = UnknownDate()
		return nil
	}
	parsed, err := ParsePartialDate(*s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores the date in its canonical text form, NULL when unknown
func (d PartialDate) Value() (driver.Value, error) {
	if !d.IsKnown() {
		return nil, nil
	}
	return d.String(), nil
}

func (d *PartialDate) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = UnknownDate()
		return nil
	case string:
		parsed, err := ParsePartialDate(v)
		*d = parsed
		return err
	case []byte:
		parsed, err := ParsePartialDate(string(v))
		*d = parsed
		return err
	default:
		return fmt.Errorf("PartialDate.Scan: unsupported type %T", src)
	}
}
