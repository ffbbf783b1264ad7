package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"rssagg/ingest"
	"rssagg/models"
	"rssagg/query"
)

func sourcesCmd() *cli.Command {
	return &cli.Command{
		Name:  "sources",
		Usage: "Manage sources",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List sources",
				Flags: append(databaseFlags(),
					&cli.StringFlag{
						Name:  "owner",
						Usage: "Include sources owned by this owner",
					},
				),
				Action: func(ctx *cli.Context) error {
					_, database, err := openDatabase(ctx)
					if err != nil {
						return err
					}
					defer database.Close()

					sources, err := database.ListSources(ctx.Context, &query.AccessibleFilter{Owner: ctx.String("owner")})
					if err != nil {
						return err
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tSLUG\tKIND\tENABLED\tOWNER\tLOCATOR")
					for _, src := range sources {
						fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\n", src.Id, src.Slug, src.Kind, src.Enabled, src.Owner, src.Locator)
					}
					return w.Flush()
				},
			},
			{
				Name:      "add",
				Usage:     "Add a source and refresh it",
				ArgsUsage: "<locator>",
				Flags: append(databaseFlags(),
					&cli.StringFlag{
						Name:  "kind",
						Usage: "syndication, video or scraped",
						Value: string(models.KindSyndication),
					},
					&cli.StringFlag{
						Name:  "title",
						Usage: "Display title, derived from the locator when empty",
					},
					&cli.StringFlag{
						Name:  "slug",
						Usage: "Slug, derived from the title when empty",
					},
					&cli.StringFlag{
						Name:  "owner",
						Usage: "Owner of the source, empty for a shared source",
					},
				),
				Action: func(ctx *cli.Context) error {
					conf, database, err := openDatabase(ctx)
					if err != nil {
						return err
					}
					defer database.Close()

					p := newPipeline(ctx.Context, conf, database)
					src, err := ingest.PrepareSource(ctx.Context, p.resolver, models.Source{
						Slug:    ctx.String("slug"),
						Title:   ctx.String("title"),
						Kind:    models.SourceKind(ctx.String("kind")),
						Locator: ctx.Args().First(),
						Enabled: true,
						Owner:   ctx.String("owner"),
					})
					if err != nil {
						return err
					}

					created, err := database.CreateSource(ctx.Context, src)
					if err != nil {
						return err
					}
					fmt.Printf("Created source %d (%s)\n", created.Id, created.Slug)

					result, err := p.orchestrator.RunTargetedSweep(ctx.Context, []int64{created.Id})
					if err != nil {
						return err
					}
					fmt.Printf("Upserted %d items\n", result.ItemsUpserted)
					return nil
				},
			},
		},
	}
}
