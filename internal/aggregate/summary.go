package aggregate

import (
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Thresholds of the summary indicators.
const (
	LongServiceYears   = 5.0
	HighSalary         = 12000.0
	TopDepartmentCount = 3
)

// Summarize computes the headline statistics of a view.
// Means of an empty view are zero.
func Summarize(view []domain.Record) domain.Summary {
	s := domain.Summary{Total: len(view)}
	if len(view) == 0 {
		return s
	}

	ages := make([]float64, len(view))
	tenures := make([]float64, len(view))
	salaries := make([]float64, len(view))
	reasons := make(map[string]struct{})
	depts := make(map[string]struct{})

	s.YearMin, s.YearMax = view[0].Year, view[0].Year
	for i, r := range view {
		switch {
		case strings.EqualFold(r.Gender, domain.GenderMale):
			s.MaleCount++
		case strings.EqualFold(r.Gender, domain.GenderFemale):
			s.FemaleCount++
		}
		ages[i] = float64(r.Age)
		tenures[i] = r.TenureYears
		salaries[i] = r.MonthlySalary
		reasons[r.Reason] = struct{}{}
		depts[r.Department] = struct{}{}

		s.YearMin = min(s.YearMin, r.Year)
		s.YearMax = max(s.YearMax, r.Year)

		if r.TenureYears > LongServiceYears {
			s.LongServiceCount++
		}
		if r.MonthlySalary > HighSalary {
			s.HighSalaryCount++
		}
	}

	total := float64(len(view))
	s.MalePct = Pct(float64(s.MaleCount) / total)
	s.FemalePct = Pct(float64(s.FemaleCount) / total)
	s.MeanAge = Mean(ages)
	s.MeanTenure = Mean(tenures)
	s.MeanSalary = Mean(salaries)
	s.UniqueReasons = len(reasons)
	s.UniqueDepartments = len(depts)

	top := countBy(view, func(r domain.Record) string { return r.Department })
	if len(top) > TopDepartmentCount {
		top = top[:TopDepartmentCount]
	}
	s.TopDepartments = top

	return s
}
