package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"rssagg/models"
	"rssagg/webclient"
)

const (
	DefaultSiteBase = "https://www.youtube.com"
	DefaultFeedBase = "https://www.youtube.com/feeds/videos.xml"
)

var ErrNoMatch = errors.New("no channel or playlist id found")

var (
	feedURLPattern  = regexp.MustCompile(`feeds/videos\.xml`)
	playlistPattern = regexp.MustCompile(`[?&]list=([^&#]+)`)
	channelPattern  = regexp.MustCompile(`(?:^|/)channel/(UC[\w-]+)`)
	userPattern     = regexp.MustCompile(`(?:^|/)user/([\w-]+)`)
	handlePattern   = regexp.MustCompile(`(?:^|/)@([\w.-]+)`)

	// Tried in order against a fetched profile page
	pagePatterns = []*regexp.Regexp{
		regexp.MustCompile(`"channelId":"(UC[\w-]+)"`),
		regexp.MustCompile(`"browseId":"(UC[\w-]+)"`),
		regexp.MustCompile(`channelId=?(UC[\w-]+)`),
		regexp.MustCompile(`youtube\.com/channel/(UC[\w-]+)`),
	}

	feedChannelParam  = regexp.MustCompile(`[?&]channel_id=(UC[\w-]+)`)
	feedPlaylistParam = regexp.MustCompile(`[?&]playlist_id=([^&#]+)`)
	feedUserParam     = regexp.MustCompile(`[?&]user=([^&#]+)`)
)

// Strategy is one link in the resolution chain. ok is false when the
// strategy does not apply to the input.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, raw string) (locator string, ok bool, err error)
}

// Resolver turns a channel handle, profile URL or playlist URL into a feed locator
type Resolver struct {
	client     *webclient.Client
	siteBase   string
	feedBase   string
	strategies []Strategy
}

type Option func(*Resolver)

// WithSiteBase points profile page lookups at another host
func WithSiteBase(base string) Option {
	return func(r *Resolver) {
		r.siteBase = strings.TrimSuffix(base, "/")
	}
}

// WithFeedBase changes the feed endpoint used to build locators
func WithFeedBase(base string) Option {
	return func(r *Resolver) {
		r.feedBase = base
	}
}

func New(client *webclient.Client, opts ...Option) *Resolver {
	r := &Resolver{
		client:   client,
		siteBase: DefaultSiteBase,
		feedBase: DefaultFeedBase,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.strategies = []Strategy{
		&feedURLStrategy{},
		&patternStrategy{name: "playlist", pattern: playlistPattern, build: r.PlaylistFeed},
		&patternStrategy{name: "channel", pattern: channelPattern, build: r.ChannelFeed},
		&patternStrategy{name: "user", pattern: userPattern, build: r.UserFeed},
		&handleStrategy{resolver: r},
	}
	return r
}

func (r *Resolver) ChannelFeed(id string) string {
	return r.feedBase + "?channel_id=" + id
}

func (r *Resolver) PlaylistFeed(id string) string {
	return r.feedBase + "?playlist_id=" + id
}

func (r *Resolver) UserFeed(name string) string {
	return r.feedBase + "?user=" + name
}

// Resolve walks the strategy chain and returns the first locator produced
func (r *Resolver) Resolve(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", models.Fail(models.FailureResolution, raw, ErrNoMatch)
	}

	for _, strategy := range r.strategies {
		locator, ok, err := strategy.Resolve(ctx, raw)
		if err != nil {
			return "", models.Fail(models.FailureResolution, raw, err)
		}
		if ok {
			log.WithFields(log.Fields{
				"input":    raw,
				"strategy": strategy.Name(),
				"locator":  locator,
			}).Debug("Resolved source")
			return locator, nil
		}
	}

	return "", models.Fail(models.FailureResolution, raw, ErrNoMatch)
}

// Recover looks up the channel behind an existing feed locator again by
// scanning the profile pages derived from the id it carries
func (r *Resolver) Recover(ctx context.Context, locator string) (string, error) {
	pages := r.profilePages(locator)
	if len(pages) == 0 {
		return "", models.Fail(models.FailureResolution, locator, ErrNoMatch)
	}

	id, err := r.scanPages(ctx, pages)
	if err != nil {
		return "", models.Fail(models.FailureResolution, locator, err)
	}
	return r.ChannelFeed(id), nil
}

func (r *Resolver) profilePages(locator string) []string {
	if m := feedChannelParam.FindStringSubmatch(locator); m != nil {
		return []string{r.siteBase + "/channel/" + m[1], r.siteBase + "/channel/" + m[1] + "/about"}
	}
	if m := feedPlaylistParam.FindStringSubmatch(locator); m != nil {
		return []string{r.siteBase + "/playlist?list=" + url.QueryEscape(m[1])}
	}
	if m := feedUserParam.FindStringSubmatch(locator); m != nil {
		return []string{r.siteBase + "/user/" + m[1], r.siteBase + "/user/" + m[1] + "/about"}
	}
	if pages, ok := r.handlePages(locator); ok {
		return pages
	}
	return nil
}

// handlePages builds the pages worth scanning for a handle: the input itself,
// its about page and the canonical handle page
func (r *Resolver) handlePages(raw string) ([]string, bool) {
	loc := handlePattern.FindStringSubmatchIndex(raw)
	if loc == nil {
		return nil, false
	}
	name := raw[loc[2]:loc[3]]
	canonical := r.siteBase + "/@" + name

	var pages []string
	if strings.Contains(raw, "://") {
		pages = append(pages, strings.TrimSuffix(raw, "/"), raw[:loc[3]]+"/about")
	}
	pages = append(pages, canonical, canonical+"/about")
	return lo.Uniq(pages), true
}

func (r *Resolver) scanPages(ctx context.Context, pages []string) (string, error) {
	var lastErr error
	for _, page := range pages {
		id, err := r.scanPage(ctx, page)
		if err != nil {
			log.WithFields(log.Fields{
				"page":  page,
				"error": err,
			}).Debug("Profile page scan failed")
			lastErr = err
			continue
		}
		if id != "" {
			return id, nil
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrNoMatch, lastErr)
	}
	return "", ErrNoMatch
}

func (r *Resolver) scanPage(ctx context.Context, page string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.client.Timeout())
	defer cancel()

	resp, err := r.client.Get(ctx, page, map[string]string{
		"User-Agent":      webclient.BrowserUserAgent,
		"Accept":          "text/html,application/xhtml+xml",
		"Accept-Language": "en-US,en;q=0.9",
	})
	if err != nil {
		return "", err
	}

	body := string(resp.Body)
	for _, pattern := range pagePatterns {
		if m := pattern.FindStringSubmatch(body); m != nil {
			return m[1], nil
		}
	}
	return "", nil
}
