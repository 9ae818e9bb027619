// Package sqlite is the SQLite storage backend. Timestamps are stored as
// RFC 3339 text, amounts as decimal text and vectors as JSON arrays.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/dvloznov/finance-importer/internal/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to the database at path with WAL journaling, a busy
// timeout and foreign keys enabled. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: %s: %w", path, err)
	}

	// An in-memory database lives only as long as its single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: ping %s: %w", path, err)
	}
	return db, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	// m.Close would close db through the driver, so callers never call it.
	return m, nil
}

// Migrate applies all pending schema migrations. It leaves db open.
func Migrate(ctx context.Context, db *sql.DB) error {
	log := logger.Component(ctx, "sqlite")

	m, err := newMigrator(db)
	if err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug().Msg("no new database migrations to apply")
			return nil
		}
		return fmt.Errorf("Migrate: apply: %w", err)
	}
	log.Info().Msg("database migrations applied")
	return nil
}

// Rollback reverts every migration.
func Rollback(ctx context.Context, db *sql.DB) error {
	m, err := newMigrator(db)
	if err != nil {
		return fmt.Errorf("Rollback: %w", err)
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("Rollback: %w", err)
	}
	return nil
}

// Version reports the applied schema version. ok is false when no
// migration has been applied.
func Version(ctx context.Context, db *sql.DB) (version uint, dirty, ok bool, err error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, false, false, fmt.Errorf("Version: %w", err)
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("Version: %w", err)
	}
	return version, dirty, true, nil
}

// Store implements store.Store on SQLite.
type Store struct {
	db *sql.DB
}

// New wraps an open, migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// OpenStore opens path, applies migrations and returns a ready Store.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
