package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"rssagg/models"
)

func refreshCmd() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Refresh sources once and exit",
		Description: `Runs one sweep in the foreground.

		Without flags every enabled source is refreshed. --owner limits the sweep
		to one owner's sources and --id to the given source ids.`,
		Flags: append(databaseFlags(),
			&cli.StringFlag{
				Name:  "owner",
				Usage: "Only refresh sources owned by this owner",
			},
			&cli.Int64SliceFlag{
				Name:  "id",
				Usage: "Only refresh these source ids",
			},
		),
		Action: func(ctx *cli.Context) error {
			conf, database, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			p := newPipeline(ctx.Context, conf, database)

			var result models.BatchResult
			switch {
			case len(ctx.Int64Slice("id")) > 0:
				result, err = p.orchestrator.RunTargetedSweep(ctx.Context, ctx.Int64Slice("id"))
			case ctx.String("owner") != "":
				result, err = p.orchestrator.RunOwnerSweep(ctx.Context, ctx.String("owner"))
			default:
				result, err = p.orchestrator.RunScheduledSweep(ctx.Context)
			}
			if err != nil {
				return err
			}

			for _, outcome := range result.Outcomes {
				if outcome.Succeeded() {
					fmt.Printf("%-24s %-8s %d items\n", outcome.Slug, outcome.Status, outcome.ItemCount)
					continue
				}
				fmt.Printf("%-24s %-8s %d items: %v\n", outcome.Slug, outcome.Status, outcome.ItemCount, outcome.Reason)
			}
			fmt.Printf("Refreshed %d/%d sources, %d items upserted\n",
				result.SourcesSucceeded, result.SourcesAttempted, result.ItemsUpserted)
			return nil
		},
	}
}
