package repository

// Schema definitions for the Harrier records store.
// Compatible with both SQLite and PostgreSQL.

const schemaRecords = `
CREATE TABLE IF NOT EXISTS attrition_records (
    employee_id TEXT PRIMARY KEY,
    gender TEXT NOT NULL,
    age INTEGER NOT NULL,
    department TEXT NOT NULL,
    reason TEXT NOT NULL,
    year INTEGER NOT NULL,
    tenure_years REAL NOT NULL,
    monthly_salary REAL NOT NULL,
    loaded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attrition_records_department ON attrition_records(department);
CREATE INDEX IF NOT EXISTS idx_attrition_records_year ON attrition_records(year);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRecords,
	}
}
