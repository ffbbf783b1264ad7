package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "rssagg",
		Usage: "Aggregates feeds, video channels and scraped pages into one catalogue",
		Description: `Collects posts from syndication feeds, video channel feeds and
		scraped web pages into one deduplicated catalogue.

		Sources are refreshed on a schedule and on demand. The catalogue is
		served over an HTTP API where anonymous guests get a limited preview.

		Flags can generally be set via environment variables, e.g.:

		--config => RSSAGG_CONFIG=rssagg.toml
		--database => RSSAGG_DATABASE=feed.db
		--port => RSSAGG_PORT=3000
		`,
		Commands: []*cli.Command{
			serveCmd(),
			refreshCmd(),
			sourcesCmd(),
			resolveCmd(),
			migrateCmd(),
			rollbackCmd(),
			tidyCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
