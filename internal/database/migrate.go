package database

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigratePostgres applies dir/postgres to the database at dbURL.
func MigratePostgres(dir, dbURL string) error {
	m, err := migrate.New(sourceURL(dir, "postgres"), dbURL)
	if err != nil {
		return err
	}
	return up(m)
}

// MigrateSQLite applies dir/sqlite3 to an open SQLite handle.
func MigrateSQLite(db *sql.DB, dir string) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(sourceURL(dir, "sqlite3"), "sqlite3", driver)
	if err != nil {
		return err
	}
	return up(m)
}

func sourceURL(dir, driver string) string {
	return "file://" + filepath.ToSlash(filepath.Join(dir, driver))
}

func up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
