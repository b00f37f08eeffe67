// Package aggregate computes grouped statistics over a filtered view.
package aggregate

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// MaxDimensions is the largest grouping Aggregate accepts.
const MaxDimensions = 2

// LabelSeparator joins the values of a multi-dimension key into a label.
const LabelSeparator = " / "

// Grouping is an aggregate table together with the records behind each row:
// Members[i] holds the records of Table.Rows[i].
type Grouping struct {
	Table   *domain.AggregateTable
	Members [][]domain.Record
}

// Aggregate groups the view by one or two dimensions.
// An empty view yields a table with no rows.
func Aggregate(view []domain.Record, groupBy ...domain.Dimension) (*domain.AggregateTable, error) {
	g, err := Group(view, groupBy...)
	if err != nil {
		return nil, err
	}
	return g.Table, nil
}

// Group partitions the view by one or two dimensions. Rows are ordered by
// count descending, then label ascending; groups with no records are omitted.
func Group(view []domain.Record, groupBy ...domain.Dimension) (*Grouping, error) {
	if len(groupBy) == 0 || len(groupBy) > MaxDimensions {
		return nil, fmt.Errorf("%w: expected 1 to %d grouping dimensions, got %d",
			domain.ErrInvalidGrouping, MaxDimensions, len(groupBy))
	}
	dims := make([]domain.Dimension, len(groupBy))
	for i, d := range groupBy {
		parsed, err := domain.ParseDimension(string(d))
		if err != nil {
			return nil, err
		}
		dims[i] = parsed
	}
	groupBy = dims

	type bucket struct {
		key     []string
		label   string
		members []domain.Record
	}

	// Buckets are keyed on the value tuple; labels of distinct tuples can
	// coincide when a value contains the separator.
	buckets := make(map[[MaxDimensions]string]*bucket)
	for _, r := range view {
		var tuple [MaxDimensions]string
		for i, d := range groupBy {
			tuple[i] = Value(r, d)
		}
		b, ok := buckets[tuple]
		if !ok {
			key := append([]string(nil), tuple[:len(groupBy)]...)
			b = &bucket{key: key, label: strings.Join(key, LabelSeparator)}
			buckets[tuple] = b
		}
		b.members = append(b.members, r)
	}

	ordered := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i].members) != len(ordered[j].members) {
			return len(ordered[i].members) > len(ordered[j].members)
		}
		if ordered[i].label != ordered[j].label {
			return ordered[i].label < ordered[j].label
		}
		return slices.Compare(ordered[i].key, ordered[j].key) < 0
	})

	total := len(view)
	g := &Grouping{
		Table: &domain.AggregateTable{
			GroupBy: groupBy,
			Total:   total,
			Rows:    make([]domain.GroupStats, 0, len(ordered)),
		},
		Members: make([][]domain.Record, 0, len(ordered)),
	}
	for _, b := range ordered {
		g.Table.Rows = append(g.Table.Rows, stats(b.key, b.label, b.members, total))
		g.Members = append(g.Members, b.members)
	}
	return g, nil
}

func stats(key []string, label string, members []domain.Record, total int) domain.GroupStats {
	salary := make([]float64, len(members))
	tenure := make([]float64, len(members))
	age := make([]float64, len(members))
	for i, r := range members {
		salary[i] = r.MonthlySalary
		tenure[i] = r.TenureYears
		age[i] = float64(r.Age)
	}

	share := float64(len(members)) / float64(total)
	return domain.GroupStats{
		Key:        key,
		Label:      label,
		Count:      len(members),
		Share:      share,
		SharePct:   Pct(share),
		MeanSalary: Mean(salary),
		MeanTenure: Mean(tenure),
		MeanAge:    Mean(age),
		ByYear:     Yearly(members),
	}
}

// Value returns the record's value for a dimension.
func Value(r domain.Record, d domain.Dimension) string {
	switch d {
	case domain.DimDepartment:
		return r.Department
	case domain.DimGender:
		return r.Gender
	case domain.DimReason:
		return r.Reason
	case domain.DimYear:
		return strconv.Itoa(r.Year)
	case domain.DimAgeBand:
		return AgeBand(r.Age)
	case domain.DimTenureBand:
		return TenureBand(r.TenureYears)
	case domain.DimSalaryBand:
		return SalaryBand(r.MonthlySalary)
	}
	return ""
}

// DistinctValues counts the distinct values a dimension takes in the view.
func DistinctValues(view []domain.Record, d domain.Dimension) int {
	seen := make(map[string]struct{})
	for _, r := range view {
		seen[Value(r, d)] = struct{}{}
	}
	return len(seen)
}

// Yearly counts departures per year, in ascending year order.
func Yearly(view []domain.Record) []domain.YearCount {
	counts := make(map[int]int)
	for _, r := range view {
		counts[r.Year]++
	}
	out := make([]domain.YearCount, 0, len(counts))
	for y, c := range counts {
		out = append(out, domain.YearCount{Year: y, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// ReasonCounts counts departures per reason, most frequent first.
func ReasonCounts(view []domain.Record) []domain.GroupCount {
	return countBy(view, func(r domain.Record) string { return r.Reason })
}

func countBy(view []domain.Record, value func(domain.Record) string) []domain.GroupCount {
	counts := make(map[string]int)
	for _, r := range view {
		counts[value(r)]++
	}
	out := make([]domain.GroupCount, 0, len(counts))
	for label, c := range counts {
		out = append(out, domain.GroupCount{Label: label, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Mean is the arithmetic mean of xs, or 0 when xs is empty.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// Pct converts a fraction to a percentage rounded to one decimal.
func Pct(fraction float64) float64 {
	return math.Round(fraction*1000) / 10
}
