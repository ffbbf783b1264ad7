package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"rssagg/models"
)

// Duration lets TOML values like "12h" decode into time.Duration
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// TomlDatabase selects the storage driver
type TomlDatabase struct {
	Driver string `toml:"driver"` // sqlite or postgres
	DSN    string `toml:"dsn"`
}

type TomlServer struct {
	Port       int    `toml:"port"`
	CorsOrigin string `toml:"cors_origin"`
}

type TomlScheduler struct {
	Interval   Duration `toml:"interval"`
	RunOnStart bool     `toml:"run_on_start"`
}

// TomlFetch configures outbound requests
type TomlFetch struct {
	Timeout          Duration `toml:"timeout"`
	FeedUserAgent    string   `toml:"feed_user_agent"`
	ScraperUserAgent string   `toml:"scraper_user_agent"`
	Retries          uint64   `toml:"retries"`
	PerHost          int64    `toml:"per_host"`
}

// TomlQuota holds the guest preview limits
type TomlQuota struct {
	Backend    string   `toml:"backend"` // sql or redis
	RedisURL   string   `toml:"redis_url"`
	Window     Duration `toml:"window"`
	Total      int      `toml:"total"`
	Global     int      `toml:"global"`
	AllSources int      `toml:"all_sources"`
	Source     int      `toml:"source"`
}

// TomlSource is a default shared source seeded at startup
type TomlSource struct {
	Slug         string               `toml:"slug"`
	Title        string               `toml:"title"`
	Kind         models.SourceKind    `toml:"kind"`
	Locator      string               `toml:"locator"`
	DisplayOrder int                  `toml:"display_order"`
	LegacySlugs  []string             `toml:"legacy_slugs"`
	Scrape       *models.ScrapeConfig `toml:"scrape"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Database  TomlDatabase  `toml:"database"`
	Server    TomlServer    `toml:"server"`
	Scheduler TomlScheduler `toml:"scheduler"`
	Fetch     TomlFetch     `toml:"fetch"`
	Quota     TomlQuota     `toml:"quota"`
	Sources   []TomlSource  `toml:"sources"`
}

// Default returns the configuration used when no file is given
func Default() *TomlConfig {
	return &TomlConfig{
		Database: TomlDatabase{Driver: "sqlite", DSN: "feed.db"},
		Server:   TomlServer{Port: 3000, CorsOrigin: "*"},
		Scheduler: TomlScheduler{
			Interval:   Duration{12 * time.Hour},
			RunOnStart: true,
		},
		Fetch: TomlFetch{
			Timeout:          Duration{12 * time.Second},
			FeedUserAgent:    "rssagg/1.0 (+feed reader)",
			ScraperUserAgent: "Mozilla/5.0 (compatible; rssagg/1.0)",
			Retries:          2,
			PerHost:          2,
		},
		Quota: TomlQuota{
			Backend:    "sql",
			Window:     Duration{60 * time.Minute},
			Total:      30,
			Global:     7,
			AllSources: 5,
			Source:     3,
		},
		Sources: []TomlSource{
			{
				Slug:         "hacker-news",
				Title:        "Hacker News",
				Kind:         models.KindSyndication,
				Locator:      "https://hnrss.org/frontpage",
				DisplayOrder: 1,
				LegacySlugs:  []string{"hackernews"},
			},
			{
				Slug:         "economymedia",
				Title:        "Economy Media",
				Kind:         models.KindVideo,
				Locator:      "https://www.youtube.com/feeds/videos.xml?channel_id=UCc8q4B1bj-668LMHyNXnTxQ",
				DisplayOrder: 2,
				LegacySlugs:  []string{"economy-media"},
			},
		},
	}
}

// LoadConfig reads a TOML file on top of the defaults. Sources in the file
// replace the default seed list entirely.
func LoadConfig(path string) (*TomlConfig, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var probe TomlConfig
	meta, err := toml.Decode(string(data), &probe)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if meta.IsDefined("sources") {
		config.Sources = nil
	}
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *TomlConfig) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Quota.Backend {
	case "sql", "redis":
	default:
		return fmt.Errorf("unsupported quota backend %q", c.Quota.Backend)
	}
	if c.Quota.Backend == "redis" && c.Quota.RedisURL == "" {
		return fmt.Errorf("quota backend redis needs redis_url")
	}
	if c.Scheduler.Interval.Duration <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	for _, src := range c.Sources {
		if src.Slug == "" {
			return fmt.Errorf("seed source %q has no slug", src.Title)
		}
	}
	return nil
}
