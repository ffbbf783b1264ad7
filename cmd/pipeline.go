package cmd

import (
	"context"

	"rssagg/config"
	"rssagg/db"
	"rssagg/feeds"
	"rssagg/ingest"
	"rssagg/resolver"
	"rssagg/scraper"
	"rssagg/webclient"
)

// pipeline is the ingestion side shared by serve, refresh and sources
type pipeline struct {
	resolver     *resolver.Resolver
	seeds        *ingest.Seeds
	orchestrator *ingest.Orchestrator
}

func newPipeline(base context.Context, conf *config.TomlConfig, database *db.DB) *pipeline {
	client := webclient.New(webclient.Options{
		Timeout: conf.Fetch.Timeout.Duration,
		Retries: conf.Fetch.Retries,
		PerHost: conf.Fetch.PerHost,
	})

	res := resolver.New(client)
	seeds := ingest.NewSeeds(conf.Sources)

	fetcher := feeds.NewFetcher(feeds.Config{
		Client:    client,
		UserAgent: conf.Fetch.FeedUserAgent,
		Fallbacks: seeds,
		Locators:  database,
		Recoverer: res,
	})

	return &pipeline{
		resolver: res,
		seeds:    seeds,
		orchestrator: ingest.NewOrchestrator(ingest.OrchestratorConfig{
			Sources: database,
			Posts:   database,
			Feeds:   fetcher,
			Scraper: scraper.New(client, conf.Fetch.ScraperUserAgent),
			Base:    base,
		}),
	}
}
