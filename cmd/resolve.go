package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"rssagg/config"
	"rssagg/resolver"
	"rssagg/webclient"
)

func resolveCmd() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Resolve a channel handle or URL to its feed locator",
		ArgsUsage: "<handle or url>",
		Flags:     []cli.Flag{configFlag()},
		Action: func(ctx *cli.Context) error {
			raw := ctx.Args().First()
			if raw == "" {
				return errors.New("please specify a channel handle or url")
			}

			conf, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return err
			}

			client := webclient.New(webclient.Options{
				Timeout: conf.Fetch.Timeout.Duration,
				Retries: conf.Fetch.Retries,
			})
			locator, err := resolver.New(client).Resolve(ctx.Context, raw)
			if err != nil {
				return err
			}
			fmt.Println(locator)
			return nil
		},
	}
}
