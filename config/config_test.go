package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rssagg/config"
	"rssagg/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rssagg.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestExampleFileMatchesDefaults(t *testing.T) {
	conf, err := config.LoadConfig("rssagg.toml")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), conf)
}

func TestLoadConfigWithoutPath(t *testing.T) {
	conf, err := config.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", conf.Database.Driver)
	assert.Equal(t, 12*time.Hour, conf.Scheduler.Interval.Duration)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
[quota]
backend = "redis"
redis_url = "redis://localhost:6379/0"
source = 4

[[sources]]
slug = "blog"
title = "Blog"
kind = "scraped"
locator = "https://example.com/blog"

[sources.scrape]
url = "https://example.com/blog"
entry_selector = "article"
`)
	conf, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", conf.Quota.Backend)
	assert.Equal(t, 4, conf.Quota.Source)
	assert.Equal(t, 30, conf.Quota.Total)
	require.Len(t, conf.Sources, 1)
	assert.Equal(t, models.KindScraped, conf.Sources[0].Kind)
	require.NotNil(t, conf.Sources[0].Scrape)
	assert.Equal(t, "https://example.com/blog", conf.Sources[0].Scrape.URL)
}

func TestLoadConfigKeepsDefaultSourcesWhenOmitted(t *testing.T) {
	conf, err := config.LoadConfig(writeConfig(t, "[server]\nport = 8080\n"))
	require.NoError(t, err)
	assert.Equal(t, 8080, conf.Server.Port)
	assert.Len(t, conf.Sources, len(config.Default().Sources))
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "driver", body: "[database]\ndriver = \"mysql\"\n"},
		{name: "quota backend", body: "[quota]\nbackend = \"memcached\"\n"},
		{name: "redis without url", body: "[quota]\nbackend = \"redis\"\n"},
		{name: "zero interval", body: "[scheduler]\ninterval = \"0s\"\n"},
		{name: "seed without slug", body: "[[sources]]\ntitle = \"x\"\n"},
		{name: "bad duration", body: "[fetch]\ntimeout = \"soon\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
