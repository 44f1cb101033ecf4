// Package persistence provides the SQLite-backed repositories behind the
// versioning, deployment, and project surfaces.
package persistence

import (
	"embed"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/pandaura/pandaura/internal/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to the SQLite database at path, applying the pragmas the
// repositories rely on, and runs pending migrations.
func Open(path string) (*sqlx.DB, error) {
	const op = "persistence.Open"

	if path == "" {
		return nil, errors.Validation(op, "database path is required")
	}
	dsn := fmt.Sprintf("file:%s?%s", url.PathEscape(path), url.Values{
		"_foreign_keys": {"on"},
		"_journal_mode": {"WAL"},
		"_busy_timeout": {"5000"},
		"_loc":          {"UTC"},
	}.Encode())

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, op, "failed to open database")
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent repository calls.
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sqlx.DB) error {
	const op = "persistence.Migrate"

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to set migration dialect")
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return errors.Wrap(err, errors.KindInternal, op, "failed to apply migrations")
	}
	return nil
}
