package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by removing expired guest quota windows.

		Posts are never removed, only the per-guest counters whose window has passed.`,
		Flags: databaseFlags(),
		Action: func(ctx *cli.Context) error {
			_, database, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			removed, err := database.Tidy(ctx.Context, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired guest quotas\n", removed)
			return nil
		},
	}
}
