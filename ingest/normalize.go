package ingest

import (
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"rssagg/models"
)

// DropReason explains why a raw item did not become a post. Empty means kept.
type DropReason string

const (
	Kept           DropReason = ""
	DropNoLink     DropReason = "no-link"
	DropShortVideo DropReason = "short-video"
)

const (
	Untitled     = "Untitled"
	SummaryLimit = 500
	shortsMarker = "/shorts/"
)

var plainText = bluemonday.StrictPolicy()

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize maps a raw item onto the canonical post shape of src
func Normalize(src models.Source, raw models.RawItem, now time.Time) (models.Post, DropReason) {
	link := strings.TrimSpace(raw.Link)
	if link == "" {
		link = strings.TrimSpace(raw.GUID)
	}
	if link == "" {
		return models.Post{}, DropNoLink
	}
	if src.Kind == models.KindVideo && IsShortVideo(link) {
		return models.Post{}, DropShortVideo
	}

	title := strings.TrimSpace(html.UnescapeString(raw.Title))
	if title == "" {
		title = Untitled
	}

	summary := raw.Summary
	if strings.TrimSpace(summary) == "" {
		summary = raw.Snippet
	}

	content := raw.EncodedContent
	if strings.TrimSpace(content) == "" {
		content = raw.Content
	}

	return models.Post{
		SourceId:    src.Id,
		Owner:       src.Owner,
		Title:       title,
		Link:        link,
		Summary:     PlainSummary(summary),
		Content:     content,
		SourceLabel: src.Title,
		PublishedAt: ParseDate(raw.ISODate, now),
		Media:       raw.Media,
	}, Kept
}

// IsShortVideo reports whether link points at a short-form video
func IsShortVideo(link string) bool {
	return strings.Contains(strings.ToLower(link), shortsMarker)
}

// PlainSummary strips markup, collapses whitespace and caps the length
func PlainSummary(s string) string {
	text := html.UnescapeString(plainText.Sanitize(s))
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) > SummaryLimit {
		return strings.TrimSpace(string(runes[:SummaryLimit]))
	}
	return text
}

// ParseDate reads the upstream timestamp, falling back to now
func ParseDate(value string, now time.Time) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return now.UTC()
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return now.UTC()
}
