package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// newMigrator builds a migrate instance over db. An empty sourceURL selects
// the migrations compiled into the binary; anything else is handed to
// golang-migrate as a source URL (file:///path/to/migrations).
func newMigrator(db *sql.DB, sourceURL string) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres migrate driver: %w", err)
	}
	if sourceURL != "" {
		m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
		if err != nil {
			return nil, fmt.Errorf("open migrations at %s: %w", sourceURL, err)
		}
		return m, nil
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending versioned migration shipped with the
// binary. Running it on an up-to-date schema is a no-op.
func RunMigrations(db *sql.DB) error { return RunMigrationsFromPath(db, "") }

// RunMigrationsFromPath is RunMigrations with an explicit source URL.
func RunMigrationsFromPath(db *sql.DB, sourceURL string) error {
	m, err := newMigrator(db, sourceURL)
	if err != nil {
		return err
	}
	log := slog.Default().With(slog.String("component", "db_migrate"))
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("schema up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		log.Warn("could not read schema version", slog.Any("err", err))
		return nil
	}
	if dirty {
		return fmt.Errorf("schema dirty at version %d, fix manually", version)
	}
	log.Info("migrations applied", slog.Uint64("version", uint64(version)))
	return nil
}

// MigrateDown reverts the most recent migration. It can drop data.
func MigrateDown(db *sql.DB) error { return MigrateDownFromPath(db, "") }

// MigrateDownFromPath is MigrateDown with an explicit source URL.
func MigrateDownFromPath(db *sql.DB, sourceURL string) error {
	m, err := newMigrator(db, sourceURL)
	if err != nil {
		return err
	}
	log := slog.Default().With(slog.String("component", "db_migrate"))
	if err := m.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("nothing to roll back")
			return nil
		}
		return fmt.Errorf("roll back migration: %w", err)
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Info("rolled back to an empty schema")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema dirty at version %d after rollback, fix manually", version)
	}
	log.Info("migration rolled back", slog.Uint64("version", uint64(version)))
	return nil
}

// GetMigrationVersion reports the applied schema version. A database that
// has never been migrated reports version 0.
func GetMigrationVersion(db *sql.DB) (version uint, dirty bool, err error) {
	m, err := newMigrator(db, "")
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}
