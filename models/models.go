package models

import (
	"encoding/json"
	"strings"
	"time"
)

// SourceKind tells the orchestrator which fetch path a source goes through
type SourceKind string

const (
	KindScraped     SourceKind = "scraped"
	KindSyndication SourceKind = "syndication"
	KindVideo       SourceKind = "video"
)

func (k SourceKind) Valid() bool {
	switch k {
	case KindScraped, KindSyndication, KindVideo:
		return true
	}
	return false
}

const (
	DefaultHeadingSelectors = "h1, h2, h3"
	DefaultMaxItems         = 50
	// Sources created through PrepareSource get a roomier cap
	CreatedMaxItems = 100
)

// Source is a configured origin of content. An empty Owner marks a shared source.
type Source struct {
	Id           int64         `json:"id"`
	Slug         string        `json:"slug"`
	Title        string        `json:"title"`
	Kind         SourceKind    `json:"kind"`
	Locator      string        `json:"locator,omitempty"`
	ScrapeConfig *ScrapeConfig `json:"scrapeConfig,omitempty"`
	Enabled      bool          `json:"enabled"`
	DisplayOrder int           `json:"displayOrder"`
	Owner        string        `json:"owner,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (s Source) Shared() bool {
	return s.Owner == ""
}

// Selectors holds CSS selectors. Accepts a JSON array or a comma separated string.
type Selectors []string

func (s *Selectors) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*s = SplitSelectors(single)
	return nil
}

func (s Selectors) String() string {
	return strings.Join(s, ", ")
}

func SplitSelectors(raw string) Selectors {
	var out Selectors
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ScrapeConfig describes how to extract items from an arbitrary web page
type ScrapeConfig struct {
	URL              string    `json:"url" toml:"url"`
	EntrySelector    string    `json:"entrySelector,omitempty" toml:"entry_selector"`
	TitleSelector    string    `json:"titleSelector,omitempty" toml:"title_selector"`
	LinkSelector     string    `json:"linkSelector,omitempty" toml:"link_selector"`
	ContentSelector  string    `json:"contentSelector,omitempty" toml:"content_selector"`
	HeadingSelectors Selectors `json:"headingSelectors,omitempty" toml:"heading_selectors"`
	MaxItems         int       `json:"maxItems,omitempty" toml:"max_items"`
	Filters          []string  `json:"filters,omitempty" toml:"filters"`
	MatchOneOf       []string  `json:"matchOneOf,omitempty" toml:"match_one_of"`
	MatchAllOf       []string  `json:"matchAllOf,omitempty" toml:"match_all_of"`
}

// Headings returns the configured heading selector or the default h1-h3
func (c ScrapeConfig) Headings() string {
	if len(c.HeadingSelectors) == 0 {
		return DefaultHeadingSelectors
	}
	return c.HeadingSelectors.String()
}

func (c ScrapeConfig) Limit() int {
	if c.MaxItems <= 0 {
		return DefaultMaxItems
	}
	return c.MaxItems
}

// Media describes the thumbnail and view count of video items
type Media struct {
	Thumbnail string `json:"thumbnail,omitempty"`
	Views     int64  `json:"views,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// RawItem is the neutral shape produced by the feed fetcher and the web scraper
type RawItem struct {
	Title          string
	Link           string
	GUID           string
	Summary        string
	Snippet        string
	Content        string
	EncodedContent string
	ISODate        string
	Media          *Media
}

// Post is a normalized, stored item. (SourceId, Link) is unique.
type Post struct {
	Id          int64     `json:"id"`
	SourceId    int64     `json:"sourceId"`
	Owner       string    `json:"owner,omitempty"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Summary     string    `json:"summary"`
	Content     string    `json:"content,omitempty"`
	SourceLabel string    `json:"source"`
	PublishedAt time.Time `json:"publishedAt"`
	Media       *Media    `json:"media,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// QuotaCounts is what a quota store returns after one atomic consume
type QuotaCounts struct {
	WindowStart time.Time
	ExpiresAt   time.Time
	Total       int
	ScopeCount  int
}

// GuestQuota is the full per-fingerprint record
type GuestQuota struct {
	Fingerprint string
	WindowStart time.Time
	Total       int
	ScopeCounts map[string]int
	ExpiresAt   time.Time
}

type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome is the tagged result of refreshing a single source.
// ItemCount counts posts written, which may be non-zero for a skipped source
// when an upsert failed midway.
type Outcome struct {
	SourceId  int64
	Slug      string
	Status    OutcomeStatus
	ItemCount int
	Reason    error
}

func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// BatchResult summarizes a sweep
type BatchResult struct {
	SourcesAttempted int       `json:"sourcesAttempted"`
	SourcesSucceeded int       `json:"sourcesSucceeded"`
	ItemsUpserted    int       `json:"itemsUpserted"`
	Outcomes         []Outcome `json:"-"`
}
