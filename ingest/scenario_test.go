package ingest_test

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rssagg/db"
	"rssagg/feeds"
	"rssagg/ingest"
	"rssagg/models"
	"rssagg/query"
	"rssagg/webclient"
)

type feedItem struct {
	title string
	link  string
}

// upstream serves an RSS document that tests can swap or take offline
type upstream struct {
	mu     sync.Mutex
	items  []feedItem
	online bool
}

func (u *upstream) set(online bool, items ...feedItem) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.online = online
	u.items = items
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.online {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Example</title>`)
	for _, it := range u.items {
		fmt.Fprintf(&b, "<item><title>%s</title><link>%s</link></item>", it.title, it.link)
	}
	b.WriteString(`</channel></rss>`)
	w.Header().Set("Content-Type", "application/rss+xml")
	_, _ = w.Write([]byte(b.String()))
}

func newStore(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func postsByLink(t *testing.T, database *db.DB) map[string]models.Post {
	t.Helper()
	posts, err := database.ListPosts(context.Background(), query.Page{})
	require.NoError(t, err)
	out := map[string]models.Post{}
	for _, p := range posts {
		out[p.Link] = p
	}
	return out
}

func TestIngestionNeverDeletesAndUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	feed := &upstream{}
	srv := httptest.NewServer(feed)
	defer srv.Close()

	database := newStore(t)
	_, err := database.CreateSource(ctx, models.Source{
		Slug: "example", Title: "Example", Kind: models.KindSyndication,
		Locator: srv.URL + "/feed.xml", Enabled: true,
	})
	require.NoError(t, err)

	client := webclient.New(webclient.Options{Timeout: 2 * time.Second, InitialInterval: time.Millisecond})
	orch := ingest.NewOrchestrator(ingest.OrchestratorConfig{
		Sources: database,
		Posts:   database,
		Feeds:   feeds.NewFetcher(feeds.Config{Client: client}),
	})

	const (
		l1 = "https://example.com/l1"
		l2 = "https://example.com/l2"
		l3 = "https://example.com/l3"
	)

	feed.set(true, feedItem{"First", l1}, feedItem{"Second", l2})
	result, err := orch.RunScheduledSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SourcesSucceeded)
	assert.Equal(t, 2, result.ItemsUpserted)
	before := postsByLink(t, database)
	require.Len(t, before, 2)

	feed.set(false)
	result, err = orch.RunScheduledSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SourcesAttempted)
	assert.Equal(t, 0, result.SourcesSucceeded)
	assert.Equal(t, models.FailureFetch, models.KindOf(result.Outcomes[0].Reason))
	assert.Equal(t, before, postsByLink(t, database))

	feed.set(true, feedItem{"First, edited", l1}, feedItem{"Third", l3})
	result, err = orch.RunScheduledSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemsUpserted)

	after := postsByLink(t, database)
	require.Len(t, after, 3)
	assert.Equal(t, "First, edited", after[l1].Title)
	assert.Equal(t, before[l1].Id, after[l1].Id)
	assert.Equal(t, before[l1].CreatedAt, after[l1].CreatedAt)
	assert.Equal(t, before[l2], after[l2])
	assert.Equal(t, "Third", after[l3].Title)
}

func TestInvalidScrapeConfigOnlySkipsThatSource(t *testing.T) {
	ctx := context.Background()
	feed := &upstream{}
	feed.set(true, feedItem{"First", "https://example.com/1"}, feedItem{"Second", "https://example.com/2"})
	srv := httptest.NewServer(feed)
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "ingest.db")
	database, err := db.Open(db.DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { _ = database.Close() })

	sources := []models.Source{
		{Slug: "first", Title: "First", Kind: models.KindSyndication, Locator: srv.URL + "/a.xml", Enabled: true},
		{Slug: "scraped", Title: "Scraped", Kind: models.KindScraped, Locator: "https://e.com", Enabled: true,
			ScrapeConfig: &models.ScrapeConfig{URL: "https://e.com", MaxItems: 20}},
		{Slug: "third", Title: "Third", Kind: models.KindSyndication, Locator: srv.URL + "/b.xml", Enabled: true},
	}
	var broken models.Source
	for _, src := range sources {
		created, err := database.CreateSource(ctx, src)
		require.NoError(t, err)
		if src.Kind == models.KindScraped {
			broken = created
		}
	}

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.ExecContext(ctx, `UPDATE sources SET scrape_config = ? WHERE id = ?`,
		`{"url":"https://e.com","maxItems":"20"}`, broken.Id)
	require.NoError(t, err)

	client := webclient.New(webclient.Options{Timeout: 2 * time.Second, InitialInterval: time.Millisecond})
	orch := ingest.NewOrchestrator(ingest.OrchestratorConfig{
		Sources: database,
		Posts:   database,
		Feeds:   feeds.NewFetcher(feeds.Config{Client: client}),
	})

	result, err := orch.RunScheduledSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.SourcesAttempted)
	assert.Equal(t, 2, result.SourcesSucceeded)
	assert.Equal(t, 4, result.ItemsUpserted)

	for _, outcome := range result.Outcomes {
		if outcome.SourceId == broken.Id {
			assert.ErrorIs(t, outcome.Reason, ingest.ErrMissingScrapeConfig)
			assert.Equal(t, models.FailureScrape, models.KindOf(outcome.Reason))
		}
	}
}

func TestRepeatedSweepsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	feed := &upstream{}
	feed.set(true, feedItem{"One", "https://example.com/1"}, feedItem{"Two", "https://example.com/2"})
	srv := httptest.NewServer(feed)
	defer srv.Close()

	database := newStore(t)
	_, err := database.CreateSource(ctx, models.Source{
		Slug: "example", Title: "Example", Kind: models.KindSyndication, Locator: srv.URL, Enabled: true,
	})
	require.NoError(t, err)

	client := webclient.New(webclient.Options{Timeout: 2 * time.Second, InitialInterval: time.Millisecond})
	orch := ingest.NewOrchestrator(ingest.OrchestratorConfig{
		Sources: database,
		Posts:   database,
		Feeds:   feeds.NewFetcher(feeds.Config{Client: client}),
	})

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = orch.RunScheduledSweep(ctx)
		}()
	}
	wg.Wait()

	count, err := database.CountPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
