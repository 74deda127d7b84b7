package storage

import "fmt"

// Dialect hides the handful of SQL-syntax differences between SQLite
// and Postgres that the two backends cannot share verbatim: parameter
// placeholder style and the schema_version bootstrap statements.
type Dialect interface {
	// Placeholder returns the n-th (1-indexed) bind parameter marker.
	Placeholder(n int) string
	CreateSchemaVersionTable() string
	InsertSchemaVersion() string
}

type sqliteDialect struct{}

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) CreateSchemaVersionTable() string {
	return `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`
}

func (sqliteDialect) InsertSchemaVersion() string {
	return "INSERT INTO schema_version (version) VALUES (?)"
}

type postgresDialect struct{}

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) CreateSchemaVersionTable() string {
	return `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
}

func (postgresDialect) InsertSchemaVersion() string {
	return "INSERT INTO schema_version (version) VALUES ($1)"
}
