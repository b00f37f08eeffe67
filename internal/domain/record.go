package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrInvalidCriteria marks filter criteria that are structurally malformed.
	ErrInvalidCriteria = errors.New("invalid filter criteria")

	// ErrUnknownDimension marks a grouping field that does not exist.
	ErrUnknownDimension = errors.New("unknown dimension")

	// ErrInvalidGrouping marks a grouping with too few or too many dimensions.
	ErrInvalidGrouping = errors.New("invalid grouping")
)

// Gender values of the fixed gender set.
const (
	GenderMale   = "Male"
	GenderFemale = "Female"
)

// Genders lists the recognized gender categories in display order.
var Genders = []string{GenderMale, GenderFemale}

// NormalizeGender maps a gender value to its spelling in Genders, ignoring
// case and surrounding space. It reports false for values outside the set.
func NormalizeGender(v string) (string, bool) {
	v = strings.TrimSpace(v)
	for _, g := range Genders {
		if strings.EqualFold(v, g) {
			return g, true
		}
	}
	return v, false
}

// AllValues is the sentinel meaning "no restriction" for a categorical filter.
const AllValues = "all"

// Record is one employee's exit record. Records are immutable once loaded.
type Record struct {
	EmployeeID    string  `json:"employeeId"`
	Gender        string  `json:"gender"`
	Age           int     `json:"age"`
	Department    string  `json:"department"`
	Reason        string  `json:"reason"`
	Year          int     `json:"year"`
	TenureYears   float64 `json:"tenureYears"`
	MonthlySalary float64 `json:"monthlySalary"`
}

// FilterCriteria narrows a dataset by user-selected dimensions.
// Empty strings and "all" mean no restriction. A nil year bound is open.
type FilterCriteria struct {
	Department  string   `json:"department,omitempty"`
	Departments []string `json:"departments,omitempty"`
	Gender      string   `json:"gender,omitempty"`
	YearFrom    *int     `json:"yearFrom,omitempty"`
	YearTo      *int     `json:"yearTo,omitempty"`
}

// Validate reports structural problems with the criteria.
// Category values that match nothing are not errors; they produce an empty view.
func (c FilterCriteria) Validate() error {
	if c.YearFrom != nil && c.YearTo != nil && *c.YearFrom > *c.YearTo {
		return fmt.Errorf("%w: yearFrom %d is after yearTo %d", ErrInvalidCriteria, *c.YearFrom, *c.YearTo)
	}
	if c.Department != "" && !IsAll(c.Department) && len(c.Departments) > 0 {
		return fmt.Errorf("%w: department and departments are mutually exclusive", ErrInvalidCriteria)
	}
	for _, d := range c.Departments {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("%w: empty value in departments", ErrInvalidCriteria)
		}
	}
	return nil
}

// Key returns a stable textual form of the criteria, used for cache keys.
// Values are quoted so separators inside them cannot merge distinct criteria.
func (c FilterCriteria) Key() string {
	var b strings.Builder
	b.WriteString("dept=")
	if IsAll(c.Department) {
		b.WriteString(AllValues)
	} else {
		b.WriteString(strconv.Quote(strings.ToLower(c.Department)))
	}
	if len(c.Departments) > 0 {
		depts := make([]string, len(c.Departments))
		for i, d := range c.Departments {
			depts[i] = strings.ToLower(d)
		}
		sort.Strings(depts)
		b.WriteString("|depts=")
		for i, d := range depts {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(d))
		}
	}
	b.WriteString("|gender=")
	if IsAll(c.Gender) {
		b.WriteString(AllValues)
	} else {
		b.WriteString(strconv.Quote(strings.ToLower(c.Gender)))
	}
	b.WriteString("|years=")
	if c.YearFrom != nil {
		fmt.Fprintf(&b, "%d", *c.YearFrom)
	}
	b.WriteString("-")
	if c.YearTo != nil {
		fmt.Fprintf(&b, "%d", *c.YearTo)
	}
	return b.String()
}

// IsAll reports whether a categorical filter value means "no restriction".
func IsAll(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, AllValues)
}

// YearRange builds inclusive year bounds for FilterCriteria.
func YearRange(from, to int) (*int, *int) {
	return &from, &to
}
