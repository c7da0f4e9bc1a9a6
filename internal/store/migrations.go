package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// newMigrator binds the embedded migrations to db. Closing the returned
// migrate instance closes db as well.
func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// migrateUp applies all pending embedded migrations to db.
// The migrate instance is not closed because that would close db as well.
func migrateUp(db *sql.DB) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Migrate applies pending migrations to the database at path, creating it
// if needed, and returns the resulting schema version.
func Migrate(path string) (uint, error) {
	return withMigrator(path, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		return nil
	})
}

// Rollback reverts the most recent migration and returns the resulting
// schema version. Version 0 means no migration is applied.
func Rollback(path string) (uint, error) {
	return withMigrator(path, func(m *migrate.Migrate) error {
		if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("roll back migration: %w", err)
		}
		return nil
	})
}

func withMigrator(path string, fn func(*migrate.Migrate) error) (uint, error) {
	db, err := connection(path)
	if err != nil {
		return 0, err
	}
	m, err := newMigrator(db)
	if err != nil {
		db.Close()
		return 0, err
	}
	defer m.Close()

	if err := fn(m); err != nil {
		return 0, err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}
