package ingest

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"rssagg/config"
	"rssagg/models"
	"rssagg/query"
)

var slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)

// LocatorResolver turns whatever a user typed for a video source into a feed locator
type LocatorResolver interface {
	Resolve(ctx context.Context, raw string) (string, error)
}

// Slugify lowercases s and joins its alphanumeric runs with dashes
func Slugify(s string) string {
	slug := slugSeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	return strings.Trim(slug, "-")
}

// PrepareSource fills in the defaults of a source about to be created or
// edited and validates it. Video locators are resolved to a feed URL.
func PrepareSource(ctx context.Context, resolver LocatorResolver, src models.Source) (models.Source, error) {
	src.Title = strings.TrimSpace(src.Title)
	src.Locator = strings.TrimSpace(src.Locator)

	if src.Kind == models.KindScraped {
		sc := models.ScrapeConfig{}
		if src.ScrapeConfig != nil {
			sc = *src.ScrapeConfig
		}
		sc.URL = strings.TrimSpace(lo.Ternary(sc.URL != "", sc.URL, src.Locator))
		if len(sc.HeadingSelectors) == 0 {
			sc.HeadingSelectors = models.SplitSelectors(models.DefaultHeadingSelectors)
		}
		if sc.MaxItems <= 0 {
			sc.MaxItems = models.CreatedMaxItems
		}
		src.ScrapeConfig = &sc
		src.Locator = sc.URL
	}

	if src.Title == "" {
		src.Title = titleFromURL(src.Locator)
	}
	if src.Slug == "" {
		src.Slug = Slugify(src.Title)
	} else {
		src.Slug = Slugify(src.Slug)
	}
	if src.Slug == "" {
		src.Slug = "source-" + strconv.FormatInt(time.Now().Unix(), 10)
	}

	if src.Kind == models.KindVideo && src.Locator != "" {
		locator, err := resolver.Resolve(ctx, src.Locator)
		if err != nil {
			return src, err
		}
		src.Locator = locator
	}

	if err := src.Validate(); err != nil {
		return src, err
	}
	return src, nil
}

func titleFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// SeedStore is what seeding needs from the database
type SeedStore interface {
	ListSources(ctx context.Context, filters ...query.FilterStrategy) ([]models.Source, error)
	CreateSource(ctx context.Context, src models.Source) (models.Source, error)
	UpdateSource(ctx context.Context, src models.Source) error
}

// Seeds is the set of shared default sources from the configuration. It also
// knows their built-in locators for the feed fetcher's fallback candidate.
type Seeds struct {
	list     []config.TomlSource
	locators map[string]string
}

func NewSeeds(list []config.TomlSource) *Seeds {
	s := &Seeds{list: list, locators: map[string]string{}}
	for _, seed := range list {
		if seed.Locator == "" {
			continue
		}
		s.locators[seed.Slug] = seed.Locator
		for _, legacy := range seed.LegacySlugs {
			s.locators[legacy] = seed.Locator
		}
	}
	return s
}

// FallbackLocator returns the seed locator of a shared source. Owned sources
// never borrow a seed's locator, even when their slug matches.
func (s *Seeds) FallbackLocator(src models.Source) (string, bool) {
	if !src.Shared() {
		return "", false
	}
	locator, ok := s.locators[src.Slug]
	return locator, ok
}

// EnsureSeeded creates missing shared seeds. A shared source found under a
// legacy slug or with the seed's title is renamed instead of duplicated.
// Returns the number of sources created or migrated.
func (s *Seeds) EnsureSeeded(ctx context.Context, store SeedStore) (int, error) {
	shared, err := store.ListSources(ctx, &query.SharedFilter{})
	if err != nil {
		return 0, fmt.Errorf("list shared sources: %w", err)
	}

	changed := 0
	for _, seed := range s.list {
		if lo.ContainsBy(shared, func(src models.Source) bool { return src.Slug == seed.Slug }) {
			continue
		}

		legacy, found := lo.Find(shared, func(src models.Source) bool {
			return lo.Contains(seed.LegacySlugs, src.Slug) || src.Title == seed.Title
		})
		if found {
			previous := legacy.Slug
			legacy.Slug = seed.Slug
			if err := store.UpdateSource(ctx, legacy); err != nil {
				return changed, fmt.Errorf("migrate seed %s: %w", seed.Slug, err)
			}
			log.WithFields(log.Fields{
				"source_id": legacy.Id,
				"from":      previous,
				"to":        seed.Slug,
			}).Info("Migrated legacy seed slug")
			changed++
			continue
		}

		src := models.Source{
			Slug:         seed.Slug,
			Title:        seed.Title,
			Kind:         seed.Kind,
			Locator:      seed.Locator,
			ScrapeConfig: seed.Scrape,
			Enabled:      true,
			DisplayOrder: seed.DisplayOrder,
		}
		if src.Kind == models.KindScraped && src.ScrapeConfig != nil && src.Locator == "" {
			src.Locator = src.ScrapeConfig.URL
		}
		if err := src.Validate(); err != nil {
			return changed, fmt.Errorf("seed %s: %w", seed.Slug, err)
		}
		if _, err := store.CreateSource(ctx, src); err != nil {
			return changed, fmt.Errorf("create seed %s: %w", seed.Slug, err)
		}
		changed++
	}
	return changed, nil
}
