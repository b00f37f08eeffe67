package insight

import (
	"strings"
	"sync"

	"github.com/opensource-finance/harrier/internal/aggregate"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Fact thresholds.
const (
	YoungAge         = 30
	ShortTenureYears = 2.0
	LongTenureYears  = 5.0
	RecentYears      = 3
)

// Facts are the variables a rule expression sees for one subject.
// Field names map to snake_case CEL variables, e.g. TopReasonShare is
// top_reason_share.
type Facts struct {
	Subject       string
	Count         int
	Share         float64
	Groups        int
	BaselineShare float64
	MeanCount     float64
	Total         int

	MeanSalary float64
	MeanTenure float64
	MeanAge    float64

	OverallMeanSalary float64
	OverallMeanTenure float64
	OverallMeanAge    float64

	TopReason      string
	TopReasonCount int
	TopReasonShare float64

	YoungShare       float64
	ShortTenureShare float64
	LongTenureShare  float64
	MaleShare        float64
	FemaleShare      float64

	RecentMean  float64
	EarlierMean float64
	Years       int
}

func (f *Facts) activation() map[string]any {
	return map[string]any{
		"subject":             f.Subject,
		"count":               int64(f.Count),
		"share":               f.Share,
		"groups":              int64(f.Groups),
		"baseline_share":      f.BaselineShare,
		"mean_count":          f.MeanCount,
		"total":               int64(f.Total),
		"mean_salary":         f.MeanSalary,
		"mean_tenure":         f.MeanTenure,
		"mean_age":            f.MeanAge,
		"overall_mean_salary": f.OverallMeanSalary,
		"overall_mean_tenure": f.OverallMeanTenure,
		"overall_mean_age":    f.OverallMeanAge,
		"top_reason":          f.TopReason,
		"top_reason_count":    int64(f.TopReasonCount),
		"top_reason_share":    f.TopReasonShare,
		"young_share":         f.YoungShare,
		"short_tenure_share":  f.ShortTenureShare,
		"long_tenure_share":   f.LongTenureShare,
		"male_share":          f.MaleShare,
		"female_share":        f.FemaleShare,
		"recent_mean":         f.RecentMean,
		"earlier_mean":        f.EarlierMean,
		"years":               int64(f.Years),
	}
}

// population holds the whole-view statistics shared by every subject.
type population struct {
	total  int
	salary float64
	tenure float64
	age    float64
}

func newPopulation(view []domain.Record) population {
	salary := make([]float64, len(view))
	tenure := make([]float64, len(view))
	age := make([]float64, len(view))
	for i, r := range view {
		salary[i] = r.MonthlySalary
		tenure[i] = r.TenureYears
		age[i] = float64(r.Age)
	}
	return population{
		total:  len(view),
		salary: aggregate.Mean(salary),
		tenure: aggregate.Mean(tenure),
		age:    aggregate.Mean(age),
	}
}

// subjectFacts computes the facts of one group of a table with the given
// number of rows.
func subjectFacts(pop population, row domain.GroupStats, members []domain.Record, groups int) *Facts {
	f := &Facts{
		Subject:           row.Label,
		Count:             row.Count,
		Share:             row.Share,
		Groups:            groups,
		BaselineShare:     1 / float64(groups),
		MeanCount:         float64(pop.total) / float64(groups),
		Total:             pop.total,
		MeanSalary:        row.MeanSalary,
		MeanTenure:        row.MeanTenure,
		MeanAge:           row.MeanAge,
		OverallMeanSalary: pop.salary,
		OverallMeanTenure: pop.tenure,
		OverallMeanAge:    pop.age,
	}

	n := float64(len(members))
	var young, short, long, male, female int
	for _, r := range members {
		if r.Age < YoungAge {
			young++
		}
		if r.TenureYears < ShortTenureYears {
			short++
		}
		if r.TenureYears > LongTenureYears {
			long++
		}
		switch {
		case strings.EqualFold(r.Gender, domain.GenderMale):
			male++
		case strings.EqualFold(r.Gender, domain.GenderFemale):
			female++
		}
	}
	f.YoungShare = float64(young) / n
	f.ShortTenureShare = float64(short) / n
	f.LongTenureShare = float64(long) / n
	f.MaleShare = float64(male) / n
	f.FemaleShare = float64(female) / n

	if reasons := aggregate.ReasonCounts(members); len(reasons) > 0 {
		f.TopReason = reasons[0].Label
		f.TopReasonCount = reasons[0].Count
		f.TopReasonShare = float64(reasons[0].Count) / n
	}

	f.RecentMean, f.EarlierMean, f.Years = trend(row.ByYear)
	return f
}

// trend splits a yearly series into the mean count of its last RecentYears
// years and the mean of the years before them. With RecentYears or fewer
// years the earlier mean is zero.
func trend(series []domain.YearCount) (recent, earlier float64, years int) {
	years = len(series)
	if years == 0 {
		return 0, 0, 0
	}
	split := max(0, years-RecentYears)

	counts := make([]float64, years)
	for i, yc := range series {
		counts[i] = float64(yc.Count)
	}
	return aggregate.Mean(counts[split:]), aggregate.Mean(counts[:split]), years
}

// tableCache memoizes groupings for one evaluation pass, so rules sharing a
// grouping aggregate the view once.
type tableCache struct {
	view []domain.Record

	mu      sync.Mutex
	entries map[string]*tableEntry
}

type tableEntry struct {
	once     sync.Once
	grouping *aggregate.Grouping
	err      error
}

func newTableCache(view []domain.Record) *tableCache {
	return &tableCache{
		view:    view,
		entries: make(map[string]*tableEntry),
	}
}

// get returns the grouping of the view by dims. An empty dims groups the
// whole view into the single subject "All".
func (c *tableCache) get(dims []domain.Dimension) (*aggregate.Grouping, error) {
	key := domain.GroupingKey(dims)

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &tableEntry{}
		c.entries[key] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		if len(dims) == 0 {
			e.grouping = wholeView(c.view)
			return
		}
		e.grouping, e.err = aggregate.Group(c.view, dims...)
	})
	return e.grouping, e.err
}

// size reports how many distinct groupings were computed.
func (c *tableCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func wholeView(view []domain.Record) *aggregate.Grouping {
	g := &aggregate.Grouping{
		Table: &domain.AggregateTable{Total: len(view), Rows: []domain.GroupStats{}},
	}
	if len(view) == 0 {
		return g
	}

	pop := newPopulation(view)
	g.Table.Rows = append(g.Table.Rows, domain.GroupStats{
		Key:        []string{domain.SubjectAll},
		Label:      domain.SubjectAll,
		Count:      len(view),
		Share:      1,
		SharePct:   100,
		MeanSalary: pop.salary,
		MeanTenure: pop.tenure,
		MeanAge:    pop.age,
		ByYear:     aggregate.Yearly(view),
	})
	g.Members = [][]domain.Record{view}
	return g
}
