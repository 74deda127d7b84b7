// Versioned, idempotent migrations shared by both backends. Grounded on
// the teacher's core/database/migration.go (sorted migration list,
// apply-in-a-transaction loop), adapted to use an explicit
// schema_version table — matching
// original_source/src/db/schema.rs's run_migration — rather than the
// teacher's `PRAGMA user_version`, since Postgres has no such pragma.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Migration is one forward step. Statements run inside a single
// transaction; Version must be unique and positive.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Migrator applies pending migrations to a *sql.DB, tracking applied
// versions in a schema_version table.
type Migrator struct {
	db         *sql.DB
	dialect    Dialect
	migrations []Migration
}

// NewMigrator sorts migrations by version ascending.
func NewMigrator(db *sql.DB, dialect Dialect, migrations []Migration) *Migrator {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &Migrator{db: db, dialect: dialect, migrations: sorted}
}

// Migrate creates the schema_version table if absent, then applies
// every migration whose version has not already been recorded.
func (m *Migrator) Migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, m.dialect.CreateSchemaVersionTable()); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}

	for _, migration := range m.migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.apply(ctx, migration); err != nil {
			return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
		}
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) apply(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := migration.Up(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if _, err := tx.Exec(m.dialect.InsertSchemaVersion(), migration.Version); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// CurrentVersion returns the highest applied migration version, or 0 if
// none have run.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}
	max := 0
	for v := range applied {
		if v > max {
			max = v
		}
	}
	return max, nil
}
