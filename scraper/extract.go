package scraper

import (
	"fmt"
	"iter"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rssagg/models"
)

// MinAnchorFallback is the number of heading items below which the anchor
// scan replaces heading mode
const MinAnchorFallback = 5

const minWords = 3

// Mode names the extraction strategy that produced a result
type Mode string

const (
	ModeEntries  Mode = "entries"
	ModeHeadings Mode = "headings"
	ModeAnchors  Mode = "anchors"
)

// Candidate is an extracted item before acceptance filtering
type Candidate struct {
	Title   string
	Link    string
	Summary string
}

// Extract runs the strategy the configuration asks for. Without an entry
// selector heading mode is used, and a sparse heading result is discarded in
// favour of the same-host anchor scan.
func Extract(doc *goquery.Document, base *url.URL, config models.ScrapeConfig, now time.Time) ([]models.RawItem, Mode) {
	if config.EntrySelector != "" {
		return Collect(Entries(doc, base, config), config, now), ModeEntries
	}

	items := Collect(Headings(doc, base, config), config, now)
	if len(items) >= MinAnchorFallback {
		return items, ModeHeadings
	}
	return Collect(Anchors(doc, base), config, now), ModeAnchors
}

// Entries yields one candidate per element matching the entry selector
func Entries(doc *goquery.Document, base *url.URL, config models.ScrapeConfig) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		doc.Find(config.EntrySelector).EachWithBreak(func(_ int, entry *goquery.Selection) bool {
			titleNode := entry
			if config.TitleSelector != "" {
				titleNode = entry.Find(config.TitleSelector).First()
			}

			href := ""
			if config.LinkSelector != "" {
				href, _ = entry.Find(config.LinkSelector).First().Attr("href")
			}
			if href == "" {
				href = hrefOf(titleNode)
			}
			link := absolute(base, href)
			if link == "" {
				link = base.String()
			}

			summary := ""
			if config.ContentSelector != "" {
				summary = CleanText(entry.Find(config.ContentSelector).First().Text())
			}

			return yield(Candidate{
				Title:   CleanText(titleNode.Text()),
				Link:    link,
				Summary: summary,
			})
		})
	}
}

// Headings yields one candidate per heading element. The link comes from an
// anchor inside the heading, the heading itself or an enclosing anchor, and
// otherwise points at the heading within the page.
func Headings(doc *goquery.Document, base *url.URL, config models.ScrapeConfig) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		doc.Find(config.Headings()).EachWithBreak(func(i int, heading *goquery.Selection) bool {
			href := hrefOf(heading)
			if href == "" {
				href, _ = heading.Closest("a[href]").Attr("href")
			}

			link := absolute(base, href)
			if link == "" {
				if id, ok := heading.Attr("id"); ok && id != "" {
					link = withFragment(base, id)
				} else {
					link = withFragment(base, fmt.Sprintf("heading-%d", i+1))
				}
			}

			return yield(Candidate{
				Title: CleanText(heading.Text()),
				Link:  link,
			})
		})
	}
}

// Anchors yields every anchor that stays on the page's host
func Anchors(doc *goquery.Document, base *url.URL) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		doc.Find("a[href]").EachWithBreak(func(_ int, anchor *goquery.Selection) bool {
			href, _ := anchor.Attr("href")
			link := absolute(base, href)
			if link == "" {
				return true
			}
			if parsed, err := url.Parse(link); err != nil || parsed.Host != base.Host {
				return true
			}

			return yield(Candidate{
				Title: CleanText(anchor.Text()),
				Link:  link,
			})
		})
	}
}

// Collect keeps accepted candidates, drops repeated (title, link) pairs and
// stops at the configured maximum
func Collect(candidates iter.Seq[Candidate], config models.ScrapeConfig, now time.Time) []models.RawItem {
	limit := config.Limit()
	stamp := now.UTC().Format(time.RFC3339)
	seen := make(map[string]struct{})
	items := []models.RawItem{}

	for c := range candidates {
		if len(items) >= limit {
			break
		}
		if !Accept(c.Title, config) {
			continue
		}
		key := c.Title + "|" + c.Link
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		items = append(items, models.RawItem{
			Title:   c.Title,
			Link:    c.Link,
			Summary: c.Summary,
			ISODate: stamp,
		})
	}
	return items
}

// Accept reports whether cleaned text passes the word count and the
// filters, matchOneOf and matchAllOf rules. Matching is case-insensitive
// substring matching.
func Accept(text string, config models.ScrapeConfig) bool {
	if text == "" || len(strings.Fields(text)) < minWords {
		return false
	}
	lower := strings.ToLower(text)
	contains := func(term string) bool {
		return strings.Contains(lower, strings.ToLower(term))
	}

	for _, f := range config.Filters {
		if contains(f) {
			return false
		}
	}
	if len(config.MatchOneOf) > 0 {
		matched := false
		for _, m := range config.MatchOneOf {
			if contains(m) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, m := range config.MatchAllOf {
		if !contains(m) {
			return false
		}
	}
	return true
}

// CleanText collapses whitespace runs into single spaces
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func hrefOf(s *goquery.Selection) string {
	if href, ok := s.Find("a[href]").First().Attr("href"); ok && href != "" {
		return href
	}
	href, _ := s.Attr("href")
	return href
}

func absolute(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

func withFragment(base *url.URL, fragment string) string {
	u := *base
	u.Fragment = fragment
	return u.String()
}
