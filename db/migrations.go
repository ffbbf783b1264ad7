package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var fs embed.FS

func (db *DB) migrator() (*migrate.Migrate, error) {
	d, err := iofs.New(fs, "migrations/"+db.driver)
	if err != nil {
		return nil, err
	}

	var driver database.Driver
	switch db.driver {
	case DriverSQLite:
		driver, err = migratesqlite.WithInstance(db.db, &migratesqlite.Config{})
	case DriverPostgres:
		driver, err = migratepg.WithInstance(db.db, &migratepg.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", db.driver)
	}
	if err != nil {
		return nil, err
	}

	return migrate.NewWithInstance("iofs", d, db.driver, driver)
}

// Migrate applies all pending migrations
func (db *DB) Migrate() error {
	log.WithFields(log.Fields{"driver": db.driver}).Info("Running migrations")
	m, err := db.migrator()
	if err != nil {
		return fmt.Errorf("error creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Rollback reverts the last applied migration
func (db *DB) Rollback() error {
	log.WithFields(log.Fields{"driver": db.driver}).Info("Rolling back migration")
	m, err := db.migrator()
	if err != nil {
		return fmt.Errorf("error creating migrate instance: %w", err)
	}

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
