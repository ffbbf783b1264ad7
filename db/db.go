package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrSourceNotFound = errors.New("source not found")

const queryTimeout = 30 * time.Second

// DB handles all database operations with a shared connection pool
type DB struct {
	db     *sql.DB
	driver string
	flavor sqlbuilder.Flavor
	now    func() time.Time
}

// Open connects to a sqlite file or a postgres server
func Open(driver, dsn string) (*DB, error) {
	var (
		conn   *sql.DB
		flavor sqlbuilder.Flavor
		err    error
	)

	switch driver {
	case DriverSQLite:
		conn, err = sqliteConnection(dsn)
		flavor = sqlbuilder.SQLite
	case DriverPostgres:
		conn, err = postgresConnection(dsn)
		flavor = sqlbuilder.PostgreSQL
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	log.WithFields(log.Fields{
		"driver": driver,
	}).Info("Database connected")

	return &DB{db: conn, driver: driver, flavor: flavor, now: time.Now}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) Driver() string {
	return db.driver
}

// SetClock replaces the time source used for created/updated stamps
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
