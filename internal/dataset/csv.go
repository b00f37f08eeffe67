package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Column names of the delimited record format.
const (
	ColEmployeeID    = "employee_id"
	ColGender        = "gender"
	ColAge           = "age"
	ColDepartment    = "department"
	ColReason        = "reason"
	ColYear          = "year"
	ColTenureYears   = "tenure_years"
	ColMonthlySalary = "monthly_salary"
)

// Header is the column order written by WriteCSV.
var Header = []string{
	ColEmployeeID,
	ColGender,
	ColAge,
	ColDepartment,
	ColReason,
	ColYear,
	ColTenureYears,
	ColMonthlySalary,
}

// Numeric precision of the delimited format. Values round-trip exactly up to
// these many decimals.
const (
	TenureDecimals = 1
	SalaryDecimals = 2
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrMalformedRow is returned for rows that cannot be parsed into a record.
var ErrMalformedRow = errors.New("malformed record row")

// WriteCSV serializes records with a header row. If bom is set the output
// starts with a UTF-8 byte order mark so spreadsheet tools detect the encoding.
func WriteCSV(w io.Writer, records []domain.Record, bom bool) error {
	if bom {
		if _, err := w.Write(utf8BOM); err != nil {
			return err
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.EmployeeID,
			r.Gender,
			strconv.Itoa(r.Age),
			r.Department,
			r.Reason,
			strconv.Itoa(r.Year),
			strconv.FormatFloat(r.TenureYears, 'f', TenureDecimals, 64),
			strconv.FormatFloat(r.MonthlySalary, 'f', SalaryDecimals, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses records written by WriteCSV. Columns are matched by header
// name, so their order is free; unknown columns are ignored. Text values are
// kept as written, except gender which is normalized to its canonical spelling.
func ReadCSV(r io.Reader) ([]domain.Record, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	index := make(map[string]int, len(headers))
	for i, h := range headers {
		index[toSnakeCase(h)] = i
	}
	for _, col := range Header {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var records []domain.Record
	seen := make(map[string]bool)
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rec, err := parseRow(row, index)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if seen[rec.EmployeeID] {
			return nil, fmt.Errorf("line %d: %w: duplicate employee id %q", line, ErrMalformedRow, rec.EmployeeID)
		}
		seen[rec.EmployeeID] = true
		records = append(records, rec)
	}

	return records, nil
}

func parseRow(row []string, index map[string]int) (domain.Record, error) {
	get := func(col string) string {
		return row[index[col]]
	}
	num := func(col string) string {
		return strings.TrimSpace(get(col))
	}

	var rec domain.Record
	var err error

	rec.EmployeeID = get(ColEmployeeID)
	rec.Gender, _ = domain.NormalizeGender(get(ColGender))
	rec.Department = get(ColDepartment)
	rec.Reason = get(ColReason)

	if rec.Age, err = strconv.Atoi(num(ColAge)); err != nil {
		return rec, fmt.Errorf("%w: age: %v", ErrMalformedRow, err)
	}
	if rec.Year, err = strconv.Atoi(num(ColYear)); err != nil {
		return rec, fmt.Errorf("%w: year: %v", ErrMalformedRow, err)
	}
	if rec.TenureYears, err = strconv.ParseFloat(num(ColTenureYears), 64); err != nil {
		return rec, fmt.Errorf("%w: tenure_years: %v", ErrMalformedRow, err)
	}
	if rec.MonthlySalary, err = strconv.ParseFloat(num(ColMonthlySalary), 64); err != nil {
		return rec, fmt.Errorf("%w: monthly_salary: %v", ErrMalformedRow, err)
	}

	return rec, Validate(rec)
}

// Validate checks a single record against the data model. Gender must be
// spelled as in domain.Genders.
func Validate(r domain.Record) error {
	switch {
	case r.EmployeeID == "":
		return fmt.Errorf("%w: employee id is required", ErrMalformedRow)
	case r.Age <= 0:
		return fmt.Errorf("%w: age must be positive, got %d", ErrMalformedRow, r.Age)
	case r.TenureYears < 0:
		return fmt.Errorf("%w: tenure must not be negative, got %g", ErrMalformedRow, r.TenureYears)
	case r.MonthlySalary < 0:
		return fmt.Errorf("%w: salary must not be negative, got %g", ErrMalformedRow, r.MonthlySalary)
	case r.Department == "":
		return fmt.Errorf("%w: department is required", ErrMalformedRow)
	case r.Gender == "":
		return fmt.Errorf("%w: gender is required", ErrMalformedRow)
	case !slices.Contains(domain.Genders, r.Gender):
		return fmt.Errorf("%w: unknown gender %q", ErrMalformedRow, r.Gender)
	}
	return nil
}

// Normalize canonicalizes the gender of each record in place and validates it.
func Normalize(records []domain.Record) error {
	for i := range records {
		records[i].Gender, _ = domain.NormalizeGender(records[i].Gender)
		if err := Validate(records[i]); err != nil {
			return fmt.Errorf("record %q: %w", records[i].EmployeeID, err)
		}
	}
	return nil
}

// toSnakeCase normalizes a header, e.g. "Monthly Salary" → "monthly_salary".
func toSnakeCase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return s
}
