package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"rssagg/models"
	"rssagg/webclient"
)

var (
	ErrMissingURL = errors.New("scrape config has no url")
	ErrNoItems    = errors.New("page yielded no items")
)

// Scraper turns arbitrary web pages into raw items
type Scraper struct {
	client    *webclient.Client
	userAgent string
	now       func() time.Time
}

func New(client *webclient.Client, userAgent string) *Scraper {
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; rssagg/1.0)"
	}
	return &Scraper{client: client, userAgent: userAgent, now: time.Now}
}

// NormalizeTarget drops the fragment and makes sure the URL has a path
func NormalizeTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("not an absolute url: %q", raw)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u, nil
}

// Scrape fetches the configured page and extracts items from it
func (s *Scraper) Scrape(ctx context.Context, config models.ScrapeConfig) ([]models.RawItem, error) {
	if strings.TrimSpace(config.URL) == "" {
		return nil, models.Fail(models.FailureScrape, "", ErrMissingURL)
	}
	target, err := NormalizeTarget(config.URL)
	if err != nil {
		return nil, models.Fail(models.FailureScrape, config.URL, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.client.Timeout())
	defer cancel()

	resp, err := s.client.Get(ctx, target.String(), map[string]string{
		"User-Agent": s.userAgent,
		"Accept":     "text/html,application/xhtml+xml",
	})
	if err != nil {
		return nil, models.Fail(models.FailureScrape, target.String(), err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, models.Fail(models.FailureScrape, target.String(), fmt.Errorf("parse html: %w", err))
	}

	items, mode := Extract(doc, target, config, s.now())
	log.WithFields(log.Fields{
		"url":   target.String(),
		"mode":  mode,
		"items": len(items),
	}).Info("Scraped page")

	if len(items) == 0 {
		return nil, models.Fail(models.FailureScrape, target.String(), ErrNoItems)
	}
	return items, nil
}
