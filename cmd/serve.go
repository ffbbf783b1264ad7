package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"rssagg/catalog"
	"rssagg/config"
	"rssagg/db"
	"rssagg/ingest"
	"rssagg/quota"
	"rssagg/server"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the aggregated catalogue",
		Description: `Starts the HTTP server and the refresh scheduler.

		Seeds the default shared sources, sweeps every enabled source on the
		configured interval and serves posts over the HTTP API. Anonymous
		readers are metered by the guest quota.`,
		Flags: append(databaseFlags(),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on, overrides the config file",
				EnvVars: []string{"RSSAGG_PORT"},
			},
			&cli.StringFlag{
				Name:    "cors-origin",
				Usage:   "Allowed CORS origins, comma separated",
				EnvVars: []string{"RSSAGG_CORS_ORIGIN"},
			},
			&cli.BoolFlag{
				Name:    "migrate",
				Usage:   "Run database migrations before serving",
				EnvVars: []string{"RSSAGG_MIGRATE"},
				Value:   true,
			},
		),
		Action: func(ctx *cli.Context) error {
			conf, database, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			if port := ctx.Int("port"); port != 0 {
				conf.Server.Port = port
			}
			if origin := ctx.String("cors-origin"); origin != "" {
				conf.Server.CorsOrigin = origin
			}

			if ctx.Bool("migrate") {
				if err := database.Migrate(); err != nil {
					return err
				}
			}

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := newPipeline(runCtx, conf, database)

			seeded, err := p.seeds.EnsureSeeded(runCtx, database)
			if err != nil {
				return fmt.Errorf("could not seed sources: %w", err)
			}
			log.WithFields(log.Fields{
				"seeded": seeded,
			}).Info("Default sources ready")

			quotaStore, closeQuota, err := openQuotaStore(runCtx, conf, database)
			if err != nil {
				return err
			}
			defer closeQuota()

			app := server.Server(&server.ServerConfig{
				Catalog:    catalog.New(database, p.orchestrator),
				Gate:       quota.NewGate(quotaStore, quotaLimits(conf)),
				Sweeps:     p.orchestrator,
				Sources:    database,
				Resolver:   p.resolver,
				CorsOrigin: conf.Server.CorsOrigin,
				Health:     database.Ping,
			})

			scheduler := ingest.NewScheduler(p.orchestrator, conf.Scheduler.Interval.Duration, conf.Scheduler.RunOnStart)
			go scheduler.Run(runCtx)

			go func() {
				<-runCtx.Done()
				log.Info("Gracefully shutting down...")
				if err := app.ShutdownWithTimeout(60 * time.Second); err != nil {
					log.WithFields(log.Fields{
						"error": err,
					}).Error("Server shutdown failed")
				}
			}()

			log.WithFields(log.Fields{
				"port": conf.Server.Port,
			}).Info("Starting server")
			if err := app.Listen(fmt.Sprintf(":%d", conf.Server.Port)); err != nil {
				return err
			}

			log.Info("Done!")
			return nil
		},
	}
}

// openQuotaStore picks the guest quota backend named in the config
func openQuotaStore(ctx context.Context, conf *config.TomlConfig, database *db.DB) (quota.Store, func(), error) {
	if conf.Quota.Backend != "redis" {
		return database, func() {}, nil
	}

	store, err := quota.NewRedisStore(ctx, conf.Quota.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func quotaLimits(conf *config.TomlConfig) quota.Limits {
	return quota.Limits{
		Total:      conf.Quota.Total,
		Global:     conf.Quota.Global,
		AllSources: conf.Quota.AllSources,
		Source:     conf.Quota.Source,
		Window:     conf.Quota.Window.Duration,
	}
}
