package database

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"brokercrm/internal/config"
)

//go:embed migrations/mysql/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

// newMigrator opens a dedicated connection for the migrator; closing the
// migrator closes that connection as well.
func newMigrator(ctx context.Context, cfg config.DatabaseConfig) (*migrate.Migrate, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	dir := "migrations/" + cfg.Driver
	src, err := iofs.New(migrationFiles, dir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration source %s: %w", dir, err)
	}

	var drv migratedb.Driver
	switch cfg.Driver {
	case "mysql":
		drv, err = migratemysql.WithInstance(db.DB, &migratemysql.Config{})
	case "postgres":
		drv, err = migratepg.WithInstance(db.DB, &migratepg.Config{})
	default:
		err = fmt.Errorf("migrations are not available for driver %q", cfg.Driver)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, cfg.Driver, drv)
}

// MigrateUp applies every pending migration.
func MigrateUp(ctx context.Context, cfg config.DatabaseConfig) error {
	m, err := newMigrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MigrateDown rolls back the given number of steps.
func MigrateDown(ctx context.Context, cfg config.DatabaseConfig, steps int) error {
	if steps <= 0 {
		return errors.New("steps must be positive")
	}
	m, err := newMigrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// MigrationVersion reports the current schema version (0 when nothing is applied).
func MigrationVersion(ctx context.Context, cfg config.DatabaseConfig) (uint, bool, error) {
	m, err := newMigrator(ctx, cfg)
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = m.Close() }()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
