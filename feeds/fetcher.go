package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"

	"rssagg/models"
	"rssagg/webclient"
)

// Strategy names one way of turning a locator into parsed items
type Strategy string

const (
	StrategyStructured Strategy = "structured"
	StrategyRaw        Strategy = "raw"
)

const rawAccept = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8"

var (
	errParse     = errors.New("feed could not be parsed")
	errEmptyFeed = errors.New("feed has no items")
	errSameFeed  = errors.New("recovered locator is unchanged")
)

// Fallbacks knows the built-in locator of default sources
type Fallbacks interface {
	FallbackLocator(src models.Source) (string, bool)
}

// LocatorStore persists a re-resolved locator on a source
type LocatorStore interface {
	UpdateSourceLocator(ctx context.Context, id int64, locator string) error
}

// Recoverer re-resolves a video feed locator that stopped working
type Recoverer interface {
	Recover(ctx context.Context, locator string) (string, error)
}

// Result records which candidate and strategy produced the items
type Result struct {
	Items     []models.RawItem
	Locator   string
	Candidate string
	Strategy  Strategy
	Recovered bool
}

type Config struct {
	Client    *webclient.Client
	UserAgent string
	Fallbacks Fallbacks
	Locators  LocatorStore
	Recoverer Recoverer
}

// Fetcher retrieves syndication and video feeds
type Fetcher struct {
	client     *webclient.Client
	userAgent  string
	fallbacks  Fallbacks
	locators   LocatorStore
	recoverer  Recoverer
	strategies []strategy
}

type strategy struct {
	name  Strategy
	fetch func(ctx context.Context, locator string) ([]models.RawItem, error)
}

type candidate struct {
	label   string
	locator string
}

func NewFetcher(config Config) *Fetcher {
	f := &Fetcher{
		client:    config.Client,
		userAgent: config.UserAgent,
		fallbacks: config.Fallbacks,
		locators:  config.Locators,
		recoverer: config.Recoverer,
	}
	if f.userAgent == "" {
		f.userAgent = "rssagg/1.0 (+feed reader)"
	}
	f.strategies = []strategy{
		{name: StrategyStructured, fetch: f.structured},
		{name: StrategyRaw, fetch: f.raw},
	}
	return f
}

// Fetch tries every candidate locator with every strategy and returns the
// first non-empty parse. Video sources get one re-resolution attempt when
// all candidates fail.
func (f *Fetcher) Fetch(ctx context.Context, src models.Source) (*Result, error) {
	result, err := f.fetchCandidates(ctx, src)
	if err == nil {
		return result, nil
	}
	if src.Kind != models.KindVideo || f.recoverer == nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"source_id": src.Id,
		"slug":      src.Slug,
		"locator":   src.Locator,
		"error":     err,
	}).Warn("All feed candidates failed, re-resolving video source")

	next, recoverErr := f.recover(ctx, src)
	if recoverErr != nil {
		return nil, recoverErr
	}

	src.Locator = next
	result, err = f.fetchCandidates(ctx, src)
	if err != nil {
		return nil, err
	}
	result.Recovered = true
	return result, nil
}

func (f *Fetcher) recover(ctx context.Context, src models.Source) (string, error) {
	next, err := f.recoverer.Recover(ctx, src.Locator)
	if err != nil {
		return "", err
	}
	if next == src.Locator {
		return "", models.Fail(models.FailureResolution, src.Locator, errSameFeed)
	}

	if f.locators != nil {
		if err := f.locators.UpdateSourceLocator(ctx, src.Id, next); err != nil {
			log.WithFields(log.Fields{
				"source_id": src.Id,
				"locator":   next,
				"error":     err,
			}).Error("Failed to persist re-resolved locator")
		}
	}
	return next, nil
}

func (f *Fetcher) candidates(src models.Source) []candidate {
	list := []candidate{{label: "primary", locator: src.Locator}}
	if f.fallbacks == nil {
		return list
	}
	if fallback, ok := f.fallbacks.FallbackLocator(src); ok && fallback != src.Locator {
		list = append(list, candidate{label: "fallback", locator: fallback})
	}
	return list
}

func (f *Fetcher) fetchCandidates(ctx context.Context, src models.Source) (*Result, error) {
	var failures []error
	parseFailed := false

	for _, c := range f.candidates(src) {
		for _, s := range f.strategies {
			items, err := s.fetch(ctx, c.locator)
			if err == nil && len(items) == 0 {
				err = fmt.Errorf("%w: %w", errParse, errEmptyFeed)
			}
			if err == nil {
				log.WithFields(log.Fields{
					"source_id": src.Id,
					"slug":      src.Slug,
					"candidate": c.label,
					"strategy":  s.name,
					"items":     len(items),
				}).Info("Fetched feed")
				strategyWins.WithLabelValues(string(s.name), c.label).Inc()

				return &Result{
					Items:     items,
					Locator:   c.locator,
					Candidate: c.label,
					Strategy:  s.name,
				}, nil
			}

			if errors.Is(err, errParse) {
				parseFailed = true
			}
			failures = append(failures, fmt.Errorf("%s/%s: %w", c.label, s.name, err))
		}
	}

	kind := models.FailureFetch
	if parseFailed {
		kind = models.FailureParse
	}
	return nil, models.Fail(kind, src.Locator, errors.Join(failures...))
}

// structured lets gofeed do the request with the feed-reader user agent
func (f *Fetcher) structured(ctx context.Context, locator string) ([]models.RawItem, error) {
	ctx, cancel := context.WithTimeout(ctx, f.client.Timeout())
	defer cancel()

	parser := gofeed.NewParser()
	parser.Client = f.client.HTTP()
	parser.UserAgent = f.userAgent

	feed, err := parser.ParseURLWithContext(locator, ctx)
	if err != nil {
		return nil, classify(err)
	}
	return toRawItems(feed), nil
}

// raw fetches with permissive browser headers and parses the body
func (f *Fetcher) raw(ctx context.Context, locator string) ([]models.RawItem, error) {
	ctx, cancel := context.WithTimeout(ctx, f.client.Timeout())
	defer cancel()

	resp, err := f.client.Get(ctx, locator, map[string]string{
		"User-Agent": webclient.BrowserUserAgent,
		"Accept":     rawAccept,
	})
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errParse, err)
	}
	return toRawItems(feed), nil
}

// classify separates transport errors from documents gofeed could not read
func classify(err error) error {
	var httpErr gofeed.HTTPError
	var urlErr *url.Error
	if errors.As(err, &httpErr) || errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", errParse, err)
}
