// Package dataset provides the attrition records Harrier analyzes.
package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/opensource-finance/harrier/internal/domain"
	"gonum.org/v1/gonum/stat/distuv"
)

// Departments of the synthetic organization.
var Departments = []string{
	"Human Resources",
	"Finance & Accounting",
	"Marketing",
	"Sales",
	"Information Technology",
	"Operations",
	"Customer Service",
	"Production",
	"Research & Development",
	"Quality",
}

// Reasons for leaving, with the probability of each in synthetic data.
var Reasons = []string{
	"Better opportunity",
	"Salary",
	"Work environment",
	"No promotion",
	"Long hours",
	"Family commitments",
	"Personal reasons",
	"Job dissatisfaction",
	"Management issues",
	"Relocation",
	"Health",
	"Further study",
	"Career change",
	"Job instability",
}

var reasonWeights = []float64{0.15, 0.12, 0.10, 0.08, 0.08, 0.07, 0.06, 0.06, 0.05, 0.05, 0.04, 0.04, 0.05, 0.05}

// Years covered by synthetic data, with their weights.
var (
	firstYear   = 2015
	yearWeights = []float64{0.08, 0.09, 0.10, 0.11, 0.12, 0.13, 0.12, 0.11, 0.09, 0.05}
)

// Generate builds n synthetic attrition records. The same seed always
// produces the same records.
func Generate(seed int64, n int) []domain.Record {
	if n <= 0 {
		return nil
	}

	src := rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)

	gender := distuv.NewCategorical([]float64{0.6, 0.4}, src)
	dept := distuv.NewCategorical(uniform(len(Departments)), src)
	reason := distuv.NewCategorical(reasonWeights, src)
	year := distuv.NewCategorical(yearWeights, src)
	age := distuv.Normal{Mu: 35, Sigma: 8, Src: src}
	tenure := distuv.Exponential{Rate: 1.0 / 3.0, Src: src}
	salary := distuv.Normal{Mu: 8000, Sigma: 2500, Src: src}

	records := make([]domain.Record, n)
	for i := range records {
		records[i] = domain.Record{
			EmployeeID:    fmt.Sprintf("E%05d", i+1),
			Gender:        domain.Genders[int(gender.Rand())],
			Age:           clampInt(int(age.Rand()), 22, 65),
			Department:    Departments[int(dept.Rand())],
			Reason:        Reasons[int(reason.Rand())],
			Year:          firstYear + int(year.Rand()),
			TenureYears:   math.Round(clamp(tenure.Rand(), 0.5, 20)*10) / 10,
			MonthlySalary: math.Round(clamp(salary.Rand(), 3000, 25000)),
		}
	}
	return records
}

func uniform(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
