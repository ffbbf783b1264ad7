package cmd

import (
	"github.com/urfave/cli/v2"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Runs database migrations on the configured database. Will create the SQLite database if it does not exist.`,
		Flags:       databaseFlags(),
		Action: func(ctx *cli.Context) error {
			_, database, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer database.Close()
			return database.Migrate()
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:        "rollback",
		Usage:       "Rollback database migration",
		Description: `Rolls back the last database migration`,
		Flags:       databaseFlags(),
		Action: func(ctx *cli.Context) error {
			_, database, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer database.Close()
			return database.Rollback()
		},
	}
}
