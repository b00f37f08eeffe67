package domain

import (
	"fmt"
	"strings"
)

// Dimension is a categorical field records can be grouped by.
type Dimension string

const (
	DimDepartment Dimension = "department"
	DimGender     Dimension = "gender"
	DimReason     Dimension = "reason"
	DimYear       Dimension = "year"

	// Derived bands, computed from numeric fields.
	DimAgeBand    Dimension = "age_band"
	DimTenureBand Dimension = "tenure_band"
	DimSalaryBand Dimension = "salary_band"
)

// Dimensions lists every groupable dimension.
var Dimensions = []Dimension{
	DimDepartment,
	DimGender,
	DimReason,
	DimYear,
	DimAgeBand,
	DimTenureBand,
	DimSalaryBand,
}

// ParseDimension resolves a dimension name, case-insensitively.
func ParseDimension(s string) (Dimension, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, d := range Dimensions {
		if string(d) == name {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDimension, s)
}

// ParseDimensions resolves a comma-separated list of dimension names.
func ParseDimensions(s string) ([]Dimension, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	dims := make([]Dimension, 0, len(parts))
	for _, p := range parts {
		d, err := ParseDimension(p)
		if err != nil {
			return nil, err
		}
		dims = append(dims, d)
	}
	return dims, nil
}

// GroupingKey returns the canonical key of a grouping, e.g. "department,gender".
func GroupingKey(dims []Dimension) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

// AggregateTable maps grouping keys to summary statistics.
// Tables are recomputed per filter application and never mutated.
type AggregateTable struct {
	GroupBy []Dimension  `json:"groupBy"`
	Total   int          `json:"total"`
	Rows    []GroupStats `json:"rows"`
}

// GroupStats holds the statistics of one group.
// Share keeps full precision for rule evaluation; SharePct is for display.
type GroupStats struct {
	Key        []string    `json:"key"`
	Label      string      `json:"label"`
	Count      int         `json:"count"`
	Share      float64     `json:"share"`
	SharePct   float64     `json:"sharePct"`
	MeanSalary float64     `json:"meanSalary"`
	MeanTenure float64     `json:"meanTenure"`
	MeanAge    float64     `json:"meanAge"`
	ByYear     []YearCount `json:"byYear,omitempty"`
}

// YearCount is the number of departures in a year.
type YearCount struct {
	Year  int `json:"year"`
	Count int `json:"count"`
}

// Row returns the row with the given label.
func (t *AggregateTable) Row(label string) (GroupStats, bool) {
	for _, r := range t.Rows {
		if r.Label == label {
			return r, true
		}
	}
	return GroupStats{}, false
}

// Summary holds headline statistics of a view.
type Summary struct {
	Total             int          `json:"total"`
	MaleCount         int          `json:"maleCount"`
	FemaleCount       int          `json:"femaleCount"`
	MalePct           float64      `json:"malePct"`
	FemalePct         float64      `json:"femalePct"`
	MeanAge           float64      `json:"meanAge"`
	MeanTenure        float64      `json:"meanTenure"`
	MeanSalary        float64      `json:"meanSalary"`
	YearMin           int          `json:"yearMin,omitempty"`
	YearMax           int          `json:"yearMax,omitempty"`
	UniqueReasons     int          `json:"uniqueReasons"`
	UniqueDepartments int          `json:"uniqueDepartments"`
	LongServiceCount  int          `json:"longServiceCount"`
	HighSalaryCount   int          `json:"highSalaryCount"`
	TopDepartments    []GroupCount `json:"topDepartments,omitempty"`
}

// GroupCount pairs a category with its count.
type GroupCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// YearsLabel renders the year range, e.g. "2015 - 2024".
func (s Summary) YearsLabel() string {
	if s.Total == 0 {
		return ""
	}
	return fmt.Sprintf("%d - %d", s.YearMin, s.YearMax)
}

// FilterOptions is the domain of values a filter can select from.
type FilterOptions struct {
	Departments []string `json:"departments"`
	Genders     []string `json:"genders"`
	Reasons     []string `json:"reasons"`
	YearMin     int      `json:"yearMin"`
	YearMax     int      `json:"yearMax"`
}
