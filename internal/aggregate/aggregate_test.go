package aggregate

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/domain"
)

func rec(id, dept, gender, reason string, year, age int, tenure, salary float64) domain.Record {
	return domain.Record{
		EmployeeID:    id,
		Department:    dept,
		Gender:        gender,
		Reason:        reason,
		Year:          year,
		Age:           age,
		TenureYears:   tenure,
		MonthlySalary: salary,
	}
}

func testView() []domain.Record {
	return []domain.Record{
		rec("1", "Sales", "Male", "Salary", 2020, 24, 1, 4000),
		rec("2", "Sales", "Female", "Salary", 2021, 30, 2, 6000),
		rec("3", "Sales", "Male", "Health", 2021, 40, 6, 8000),
		rec("4", "Finance", "Female", "Relocation", 2022, 50, 12, 14000),
		rec("5", "Finance", "Male", "Salary", 2022, 60, 4, 10000),
		rec("6", "Quality", "Female", "Health", 2023, 33, 0.5, 5000),
	}
}

func TestAggregate(t *testing.T) {
	t.Run("SingleDimension", func(t *testing.T) {
		table, err := Aggregate(testView(), domain.DimDepartment)
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		if table.Total != 6 {
			t.Errorf("expected total 6, got %d", table.Total)
		}

		labels := make([]string, len(table.Rows))
		for i, r := range table.Rows {
			labels[i] = r.Label
		}
		if want := []string{"Sales", "Finance", "Quality"}; !reflect.DeepEqual(labels, want) {
			t.Errorf("expected order %v, got %v", want, labels)
		}

		sales := table.Rows[0]
		if sales.Count != 3 {
			t.Errorf("expected 3 sales records, got %d", sales.Count)
		}
		if sales.Share != 0.5 || sales.SharePct != 50 {
			t.Errorf("expected share 0.5 / 50%%, got %v / %v", sales.Share, sales.SharePct)
		}
		if sales.MeanSalary != 6000 {
			t.Errorf("expected mean salary 6000, got %v", sales.MeanSalary)
		}
		if sales.MeanTenure != 3 {
			t.Errorf("expected mean tenure 3, got %v", sales.MeanTenure)
		}
		if want := []domain.YearCount{{Year: 2020, Count: 1}, {Year: 2021, Count: 2}}; !reflect.DeepEqual(sales.ByYear, want) {
			t.Errorf("expected by-year %v, got %v", want, sales.ByYear)
		}
	})

	t.Run("SharesSumToOne", func(t *testing.T) {
		table, err := Aggregate(dataset.Generate(42, 2000), domain.DimReason)
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		var sum float64
		count := 0
		for _, r := range table.Rows {
			sum += r.Share
			count += r.Count
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("shares should sum to 1, got %v", sum)
		}
		if count != table.Total {
			t.Errorf("counts should sum to total %d, got %d", table.Total, count)
		}
	})

	t.Run("TwoDimensions", func(t *testing.T) {
		table, err := Aggregate(testView(), domain.DimDepartment, domain.DimGender)
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		row, ok := table.Row("Sales / Male")
		if !ok {
			t.Fatal("expected a Sales / Male row")
		}
		if row.Count != 2 || !reflect.DeepEqual(row.Key, []string{"Sales", "Male"}) {
			t.Errorf("unexpected row: %+v", row)
		}
		if _, ok := table.Row("Quality / Male"); ok {
			t.Error("empty groups should be omitted")
		}
	})

	t.Run("SeparatorInValues", func(t *testing.T) {
		view := []domain.Record{
			{EmployeeID: "1", Department: "R / D", Reason: "salary", Gender: domain.GenderMale, Age: 30, Year: 2020},
			{EmployeeID: "2", Department: "R", Reason: "D / salary", Gender: domain.GenderMale, Age: 40, Year: 2020},
		}
		table, err := Aggregate(view, domain.DimDepartment, domain.DimReason)
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		if len(table.Rows) != 2 {
			t.Fatalf("expected 2 rows, got %d: %+v", len(table.Rows), table.Rows)
		}
		for _, row := range table.Rows {
			if row.Count != 1 || row.Share != 0.5 {
				t.Errorf("unexpected row: %+v", row)
			}
		}
		if !reflect.DeepEqual(table.Rows[0].Key, []string{"R", "D / salary"}) ||
			!reflect.DeepEqual(table.Rows[1].Key, []string{"R / D", "salary"}) {
			t.Errorf("unexpected keys: %v, %v", table.Rows[0].Key, table.Rows[1].Key)
		}
	})

	t.Run("EmptyView", func(t *testing.T) {
		table, err := Aggregate(nil, domain.DimDepartment)
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		if table.Total != 0 || len(table.Rows) != 0 {
			t.Errorf("expected empty table, got %+v", table)
		}
		if table.Rows == nil {
			t.Error("rows should be empty, not nil")
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		view := dataset.Generate(42, 1000)
		a, _ := Aggregate(view, domain.DimDepartment, domain.DimAgeBand)
		b, _ := Aggregate(view, domain.DimDepartment, domain.DimAgeBand)
		if !reflect.DeepEqual(a, b) {
			t.Error("aggregation should be deterministic")
		}
	})

	t.Run("InvalidGrouping", func(t *testing.T) {
		if _, err := Aggregate(testView()); !errors.Is(err, domain.ErrInvalidGrouping) {
			t.Errorf("expected ErrInvalidGrouping for no dimensions, got %v", err)
		}
		_, err := Aggregate(testView(), domain.DimDepartment, domain.DimGender, domain.DimYear)
		if !errors.Is(err, domain.ErrInvalidGrouping) {
			t.Errorf("expected ErrInvalidGrouping for three dimensions, got %v", err)
		}
		if _, err := Aggregate(testView(), domain.Dimension("manager")); !errors.Is(err, domain.ErrUnknownDimension) {
			t.Errorf("expected ErrUnknownDimension, got %v", err)
		}
	})
}

func TestGroupMembers(t *testing.T) {
	g, err := Group(testView(), domain.DimReason)
	if err != nil {
		t.Fatalf("Group failed: %v", err)
	}
	if len(g.Members) != len(g.Table.Rows) {
		t.Fatalf("expected one member list per row")
	}
	for i, row := range g.Table.Rows {
		if len(g.Members[i]) != row.Count {
			t.Errorf("row %s: expected %d members, got %d", row.Label, row.Count, len(g.Members[i]))
		}
		for _, r := range g.Members[i] {
			if r.Reason != row.Label {
				t.Errorf("row %s contains record with reason %s", row.Label, r.Reason)
			}
		}
	}
}

func TestBands(t *testing.T) {
	ageTests := []struct {
		age  int
		want string
	}{
		{22, "<25"}, {25, "<25"}, {26, "25-35"}, {35, "25-35"}, {45, "35-45"}, {55, "45-55"}, {56, ">55"},
	}
	for _, tt := range ageTests {
		if got := AgeBand(tt.age); got != tt.want {
			t.Errorf("AgeBand(%d) = %s, want %s", tt.age, got, tt.want)
		}
	}

	tenureTests := []struct {
		years float64
		want  string
	}{
		{0.5, "<1"}, {1, "<1"}, {1.1, "1-3"}, {5, "3-5"}, {7, "5-10"}, {10.5, ">10"},
	}
	for _, tt := range tenureTests {
		if got := TenureBand(tt.years); got != tt.want {
			t.Errorf("TenureBand(%v) = %s, want %s", tt.years, got, tt.want)
		}
	}

	salaryTests := []struct {
		salary float64
		want   string
	}{
		{3000, "<5000"}, {5000, "<5000"}, {7000, "5000-8000"}, {12000, "8000-12000"}, {15000, "12000-20000"}, {25000, ">20000"},
	}
	for _, tt := range salaryTests {
		if got := SalaryBand(tt.salary); got != tt.want {
			t.Errorf("SalaryBand(%v) = %s, want %s", tt.salary, got, tt.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(testView())

	if s.Total != 6 || s.MaleCount != 3 || s.FemaleCount != 3 {
		t.Errorf("unexpected counts: %+v", s)
	}
	if s.MalePct != 50 {
		t.Errorf("expected 50%% male, got %v", s.MalePct)
	}
	if s.YearMin != 2020 || s.YearMax != 2023 || s.YearsLabel() != "2020 - 2023" {
		t.Errorf("unexpected years: %d-%d", s.YearMin, s.YearMax)
	}
	if s.UniqueDepartments != 3 || s.UniqueReasons != 3 {
		t.Errorf("unexpected unique counts: %d departments, %d reasons", s.UniqueDepartments, s.UniqueReasons)
	}
	if s.LongServiceCount != 2 {
		t.Errorf("expected 2 long-service records, got %d", s.LongServiceCount)
	}
	if s.HighSalaryCount != 1 {
		t.Errorf("expected 1 high-salary record, got %d", s.HighSalaryCount)
	}
	if len(s.TopDepartments) != 3 || s.TopDepartments[0].Label != "Sales" {
		t.Errorf("unexpected top departments: %+v", s.TopDepartments)
	}
	if s.MeanSalary != 47000.0/6 {
		t.Errorf("unexpected mean salary %v", s.MeanSalary)
	}

	lower := testView()
	for i := range lower {
		lower[i].Gender = strings.ToLower(lower[i].Gender)
	}
	if ls := Summarize(lower); ls.MaleCount != 3 || ls.FemaleCount != 3 {
		t.Errorf("gender counts should ignore case, got %d male and %d female", ls.MaleCount, ls.FemaleCount)
	}

	empty := Summarize(nil)
	if empty.Total != 0 || empty.MeanSalary != 0 || empty.YearsLabel() != "" {
		t.Errorf("expected zero summary, got %+v", empty)
	}
}

func TestYearlyAndReasons(t *testing.T) {
	years := Yearly(testView())
	if want := []domain.YearCount{{Year: 2020, Count: 1}, {Year: 2021, Count: 2}, {Year: 2022, Count: 2}, {Year: 2023, Count: 1}}; !reflect.DeepEqual(years, want) {
		t.Errorf("expected %v, got %v", want, years)
	}

	reasons := ReasonCounts(testView())
	if want := []domain.GroupCount{{Label: "Salary", Count: 3}, {Label: "Health", Count: 2}, {Label: "Relocation", Count: 1}}; !reflect.DeepEqual(reasons, want) {
		t.Errorf("expected %v, got %v", want, reasons)
	}

	if n := DistinctValues(testView(), domain.DimGender); n != 2 {
		t.Errorf("expected 2 genders, got %d", n)
	}
}
