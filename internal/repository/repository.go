// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRecords upserts records in a single transaction.
func (r *SQLRepository) SaveRecords(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if records[i].EmployeeID == "" {
			return fmt.Errorf("%w: record %d has no employee id", ErrInvalidInput, i+1)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO attrition_records (
			employee_id, gender, age, department, reason, year, tenure_years, monthly_salary, loaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id) DO UPDATE SET
			gender = excluded.gender,
			age = excluded.age,
			department = excluded.department,
			reason = excluded.reason,
			year = excluded.year,
			tenure_years = excluded.tenure_years,
			monthly_salary = excluded.monthly_salary,
			loaded_at = excluded.loaded_at
	`

	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.EmployeeID, rec.Gender, rec.Age,
			rec.Department, rec.Reason, rec.Year,
			rec.TenureYears, rec.MonthlySalary, now,
		)
		if err != nil {
			return fmt.Errorf("insert record %s: %w", rec.EmployeeID, err)
		}
	}

	return tx.Commit()
}

const selectRecords = `
	SELECT employee_id, gender, age, department, reason, year, tenure_years, monthly_salary
	FROM attrition_records
`

// ListRecords returns every stored record ordered by employee ID.
func (r *SQLRepository) ListRecords(ctx context.Context) ([]domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, selectRecords+" ORDER BY employee_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		var rec domain.Record
		if err := scanRecord(rows, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetRecord retrieves one record by employee ID.
func (r *SQLRepository) GetRecord(ctx context.Context, employeeID string) (*domain.Record, error) {
	if employeeID == "" {
		return nil, fmt.Errorf("%w: employee id is required", ErrInvalidInput)
	}

	var rec domain.Record
	row := r.db.QueryRowContext(ctx, r.rebind(selectRecords+" WHERE employee_id = ?"), employeeID)
	err := scanRecord(row, &rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountRecords returns the number of stored records.
func (r *SQLRepository) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM attrition_records").Scan(&n)
	return n, err
}

// DeleteRecords removes every stored record.
func (r *SQLRepository) DeleteRecords(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM attrition_records")
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner, rec *domain.Record) error {
	return s.Scan(
		&rec.EmployeeID, &rec.Gender, &rec.Age,
		&rec.Department, &rec.Reason, &rec.Year,
		&rec.TenureYears, &rec.MonthlySalary,
	)
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
