// Package export writes analysis results as delimited and plain text files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/dataset"
	"github.com/opensource-finance/harrier/internal/domain"
)

// Text directions.
const (
	DirectionLTR = "ltr"
	DirectionRTL = "rtl"
)

// rtlMark is the right-to-left mark prefixed to text lines in rtl mode.
const rtlMark = "\u200f"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Bundle file names.
const (
	RecordsFile         = "employee_attrition_data.csv"
	StatisticsFile      = "attrition_statistics.csv"
	RecommendationsFile = "recommendations.txt"
	ReportFile          = "report.json"
)

// Options controls the encoding of exported files.
type Options struct {
	// BOM prefixes CSV output with a UTF-8 byte order mark.
	BOM bool

	// Direction is "ltr" or "rtl".
	Direction string
}

// OptionsFromConfig maps the export configuration to writer options.
func OptionsFromConfig(cfg domain.ExportConfig) Options {
	return Options{BOM: cfg.BOM, Direction: cfg.Direction}
}

// WriteRecordsCSV writes the view in the record format.
func WriteRecordsCSV(w io.Writer, view []domain.Record, opts Options) error {
	return dataset.WriteCSV(w, view, opts.BOM)
}

// ReadRecordsCSV parses records written by WriteRecordsCSV.
func ReadRecordsCSV(r io.Reader) ([]domain.Record, error) {
	return dataset.ReadCSV(r)
}

// statisticsHeader names the columns of the statistics export.
var statisticsHeader = []string{
	"total",
	"male_count",
	"female_count",
	"male_pct",
	"female_pct",
	"mean_age",
	"mean_tenure",
	"mean_salary",
	"years_range",
	"unique_reasons",
	"unique_departments",
	"long_service_count",
	"high_salary_count",
}

// WriteSummaryCSV writes the summary as a header row and a single value row.
func WriteSummaryCSV(w io.Writer, s domain.Summary, opts Options) error {
	row := []string{
		strconv.Itoa(s.Total),
		strconv.Itoa(s.MaleCount),
		strconv.Itoa(s.FemaleCount),
		formatFloat(s.MalePct, 1),
		formatFloat(s.FemalePct, 1),
		formatFloat(s.MeanAge, 1),
		formatFloat(s.MeanTenure, 1),
		formatFloat(s.MeanSalary, 2),
		s.YearsLabel(),
		strconv.Itoa(s.UniqueReasons),
		strconv.Itoa(s.UniqueDepartments),
		strconv.Itoa(s.LongServiceCount),
		strconv.Itoa(s.HighSalaryCount),
	}
	return writeCSV(w, opts, statisticsHeader, [][]string{row})
}

// WriteTableCSV writes an aggregate table, one row per group.
func WriteTableCSV(w io.Writer, t *domain.AggregateTable, opts Options) error {
	header := make([]string, 0, len(t.GroupBy)+6)
	for _, d := range t.GroupBy {
		header = append(header, string(d))
	}
	header = append(header, "count", "share_pct", "mean_salary", "mean_tenure", "mean_age")

	rows := make([][]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		row := append([]string{}, r.Key...)
		row = append(row,
			strconv.Itoa(r.Count),
			formatFloat(r.SharePct, 1),
			formatFloat(r.MeanSalary, 2),
			formatFloat(r.MeanTenure, 1),
			formatFloat(r.MeanAge, 1),
		)
		rows = append(rows, row)
	}
	return writeCSV(w, opts, header, rows)
}

// WriteRecommendationsText writes the recommendations as numbered lines,
// "1. ...". In rtl mode each line starts with a right-to-left mark.
func WriteRecommendationsText(w io.Writer, rep *domain.InsightReport, opts Options) error {
	prefix := ""
	if strings.EqualFold(opts.Direction, DirectionRTL) {
		prefix = rtlMark
	}
	for i, rec := range rep.Recommendations {
		if _, err := fmt.Fprintf(w, "%s%d. %s\n", prefix, i+1, rec); err != nil {
			return err
		}
	}
	return nil
}

// WriteReportJSON writes the report as indented JSON.
func WriteReportJSON(w io.Writer, rep *domain.InsightReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// TableFile returns the bundle file name of an aggregate table,
// e.g. "aggregates_department_gender.csv".
func TableFile(t *domain.AggregateTable) string {
	parts := make([]string, len(t.GroupBy))
	for i, d := range t.GroupBy {
		parts[i] = string(d)
	}
	return "aggregates_" + strings.Join(parts, "_") + ".csv"
}

// Bundle is the set of artifacts of one pass.
type Bundle struct {
	Report *domain.InsightReport
	View   []domain.Record
	Tables []*domain.AggregateTable
}

// WriteBundle writes every artifact of the bundle into dir, creating it if
// needed, and returns the file names written.
func WriteBundle(dir string, b Bundle, opts Options) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	var files []string
	write := func(name string, fn func(io.Writer) error) error {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
		if err := fn(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", name, err)
		}
		files = append(files, name)
		return nil
	}

	if err := write(RecordsFile, func(w io.Writer) error {
		return WriteRecordsCSV(w, b.View, opts)
	}); err != nil {
		return files, err
	}

	if b.Report != nil {
		if err := write(StatisticsFile, func(w io.Writer) error {
			return WriteSummaryCSV(w, b.Report.Summary, opts)
		}); err != nil {
			return files, err
		}
		if err := write(RecommendationsFile, func(w io.Writer) error {
			return WriteRecommendationsText(w, b.Report, opts)
		}); err != nil {
			return files, err
		}
		if err := write(ReportFile, func(w io.Writer) error {
			return WriteReportJSON(w, b.Report)
		}); err != nil {
			return files, err
		}
	}

	for _, t := range b.Tables {
		if err := write(TableFile(t), func(w io.Writer) error {
			return WriteTableCSV(w, t, opts)
		}); err != nil {
			return files, err
		}
	}

	return files, nil
}

func writeCSV(w io.Writer, opts Options, header []string, rows [][]string) error {
	if opts.BOM {
		if _, err := w.Write(utf8BOM); err != nil {
			return err
		}
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func formatFloat(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}
