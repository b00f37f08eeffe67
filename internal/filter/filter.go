// Package filter narrows a dataset to the records matching user criteria.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Apply returns the records matching every criterion, in their original order.
// Categories are matched case-insensitively; values within the departments
// multi-select are OR-combined. The only error is a malformed criteria set.
func Apply(records []domain.Record, c domain.FilterCriteria) ([]domain.Record, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("failed to apply filter: %w", err)
	}

	var depts map[string]bool
	switch {
	case len(c.Departments) > 0:
		depts = toLowerSet(c.Departments)
	case !domain.IsAll(c.Department):
		depts = toLowerSet([]string{c.Department})
	}

	gender := ""
	if !domain.IsAll(c.Gender) {
		gender = strings.ToLower(strings.TrimSpace(c.Gender))
	}

	view := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if depts != nil && !depts[strings.ToLower(r.Department)] {
			continue
		}
		if gender != "" && strings.ToLower(r.Gender) != gender {
			continue
		}
		if c.YearFrom != nil && r.Year < *c.YearFrom {
			continue
		}
		if c.YearTo != nil && r.Year > *c.YearTo {
			continue
		}
		view = append(view, r)
	}
	return view, nil
}

// Options returns the values a filter can select from the records.
func Options(records []domain.Record) domain.FilterOptions {
	opts := domain.FilterOptions{
		Departments: []string{},
		Genders:     []string{},
		Reasons:     []string{},
	}

	depts := make(map[string]bool)
	genders := make(map[string]bool)
	reasons := make(map[string]bool)
	for i, r := range records {
		depts[r.Department] = true
		genders[r.Gender] = true
		reasons[r.Reason] = true
		if i == 0 || r.Year < opts.YearMin {
			opts.YearMin = r.Year
		}
		if i == 0 || r.Year > opts.YearMax {
			opts.YearMax = r.Year
		}
	}

	opts.Departments = sortedKeys(depts)
	opts.Reasons = sortedKeys(reasons)

	// Known genders first, in display order.
	for _, g := range domain.Genders {
		if genders[g] {
			opts.Genders = append(opts.Genders, g)
			delete(genders, g)
		}
	}
	opts.Genders = append(opts.Genders, sortedKeys(genders)...)

	return opts
}

func toLowerSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[strings.ToLower(strings.TrimSpace(item))] = true
	}
	return set
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
