package store

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/recio/trading-core/internal/domain"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending fixed-schema migration (system, live_data,
// users, historical_data, analytics schemas and the non-per-user tables).
// Per-user tables are created lazily by EnsureUserSchema since the set of
// users is not known at migration time.
func (db *DB) Migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return &domain.ConfigError{Component: "store", Message: "failed to load embedded migrations", Err: err}
	}

	driver, err := postgres.WithInstance(db.conn.DB, &postgres.Config{})
	if err != nil {
		return &domain.ConfigError{Component: "store", Message: "failed to init migration driver", Err: err}
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return &domain.ConfigError{Component: "store", Message: "failed to construct migrator", Err: err}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return &domain.ConfigError{Component: "store", Message: "migration failed", Err: err}
	}

	return nil
}
