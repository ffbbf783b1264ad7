package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"rssagg/config"
	"rssagg/db"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the TOML configuration file",
		EnvVars: []string{"RSSAGG_CONFIG"},
	}
}

// databaseFlags override the [database] section of the config file
func databaseFlags() []cli.Flag {
	return []cli.Flag{
		configFlag(),
		&cli.StringFlag{
			Name:    "database-driver",
			Usage:   "Database driver, sqlite or postgres",
			EnvVars: []string{"RSSAGG_DATABASE_DRIVER"},
		},
		&cli.StringFlag{
			Name:    "database",
			Aliases: []string{"d"},
			Usage:   "SQLite file or PostgreSQL connection string",
			EnvVars: []string{"RSSAGG_DATABASE"},
		},
		&cli.StringFlag{
			Name:    "db-host",
			Usage:   "PostgreSQL host, builds the connection string from the db-* flags",
			EnvVars: []string{"RSSAGG_DB_HOST"},
		},
		&cli.IntFlag{
			Name:    "db-port",
			Usage:   "PostgreSQL port",
			EnvVars: []string{"RSSAGG_DB_PORT"},
			Value:   5432,
		},
		&cli.StringFlag{
			Name:    "db-user",
			Usage:   "PostgreSQL user",
			EnvVars: []string{"RSSAGG_DB_USER"},
			Value:   "rssagg",
		},
		&cli.StringFlag{
			Name:    "db-password",
			Usage:   "PostgreSQL password",
			EnvVars: []string{"RSSAGG_DB_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "db-name",
			Usage:   "PostgreSQL database name",
			EnvVars: []string{"RSSAGG_DB_NAME"},
			Value:   "rssagg",
		},
	}
}

// loadConfig reads the config file and applies the database flags on top
func loadConfig(ctx *cli.Context) (*config.TomlConfig, error) {
	conf, err := config.LoadConfig(ctx.String("config"))
	if err != nil {
		return nil, err
	}

	if driver := ctx.String("database-driver"); driver != "" {
		conf.Database.Driver = driver
	}
	if dsn := ctx.String("database"); dsn != "" {
		conf.Database.DSN = dsn
	}
	if host := ctx.String("db-host"); host != "" {
		conf.Database.Driver = db.DriverPostgres
		conf.Database.DSN = db.PostgresDSN(
			host,
			ctx.Int("db-port"),
			ctx.String("db-user"),
			ctx.String("db-password"),
			ctx.String("db-name"),
		)
	}
	return conf, nil
}

// openDatabase loads the config and connects to the configured database
func openDatabase(ctx *cli.Context) (*config.TomlConfig, *db.DB, error) {
	conf, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	log.WithFields(log.Fields{
		"driver": conf.Database.Driver,
	}).Info("Database configured")

	database, err := db.Open(conf.Database.Driver, conf.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open database: %w", err)
	}
	return conf, database, nil
}
