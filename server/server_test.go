package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/singleflight"

	"rssagg/catalog"
	"rssagg/db"
	"rssagg/models"
	"rssagg/quota"
	"rssagg/server"
)

type recordedSweeps struct {
	mu       sync.Mutex
	owners   []string
	targeted [][]int64
}

func done() <-chan singleflight.Result {
	ch := make(chan singleflight.Result, 1)
	ch <- singleflight.Result{}
	return ch
}

func (r *recordedSweeps) QueueOwnerSweep(owner string) <-chan singleflight.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = append(r.owners, owner)
	return done()
}

func (r *recordedSweeps) QueueTargetedSweep(ids []int64) <-chan singleflight.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targeted = append(r.targeted, ids)
	return done()
}

type staticResolver struct{}

func (staticResolver) Resolve(context.Context, string) (string, error) {
	return "https://www.youtube.com/feeds/videos.xml?channel_id=UC123", nil
}

type testServer struct {
	app    *fiber.App
	db     *db.DB
	sweeps *recordedSweeps
	shared models.Source
	owned  models.Source
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	database, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { _ = database.Close() })

	ts := &testServer{db: database, sweeps: &recordedSweeps{}}
	ts.shared, err = database.CreateSource(ctx, models.Source{Slug: "news", Title: "News", Kind: models.KindSyndication, Locator: "a", Enabled: true})
	require.NoError(t, err)
	ts.owned, err = database.CreateSource(ctx, models.Source{Slug: "mine", Title: "Mine", Kind: models.KindSyndication, Locator: "b", Enabled: true, Owner: "alice"})
	require.NoError(t, err)

	for _, link := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		_, err := database.UpsertPost(ctx, models.Post{SourceId: ts.shared.Id, Title: "Story " + link, Link: "https://news/" + link, PublishedAt: time.Now()})
		require.NoError(t, err)
	}

	ts.app = server.Server(&server.ServerConfig{
		Catalog:  catalog.New(database, nil),
		Gate:     quota.NewGate(database, quota.DefaultLimits()),
		Sweeps:   ts.sweeps,
		Sources:  database,
		Resolver: staticResolver{},
		Health:   database.Ping,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestGuestPostsArePreviewedAndCounted(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/posts?feed=global&limit=20", nil)
	resp, body := ts.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == server.GuestKeyCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	var list catalog.ListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Posts, 7)
	assert.Equal(t, 7, list.Total)
	require.NotNil(t, list.Remaining)
	assert.Equal(t, 6, *list.Remaining)
	require.NotNil(t, list.Preview)
	assert.Equal(t, 8, list.Preview.Available)

	for i := 0; i < 7; i++ {
		req = httptest.NewRequest(http.MethodGet, "/api/posts?feed=global", nil)
		req.AddCookie(&http.Cookie{Name: server.GuestKeyCookie, Value: cookie.Value})
		_, body = ts.do(t, req)
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Empty(t, list.Posts)
	assert.Equal(t, 0, *list.Remaining)
}

func TestOwnerPostsAreNotGated(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/posts?feed=news&page=2&limit=5", nil)
	req.Header.Set(server.OwnerHeader, "alice")
	resp, body := ts.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Cookies())

	var list catalog.ListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 2, list.Page)
	assert.Len(t, list.Posts, 3)
	assert.Equal(t, 8, list.Total)
	assert.Nil(t, list.Preview)
}

func TestUnknownFeedIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/posts?feed=mine", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type countingStore struct {
	quota.Store
	mu       sync.Mutex
	consumes int
}

func (s *countingStore) ConsumeQuota(ctx context.Context, fingerprint, scope string, now time.Time, window time.Duration) (models.QuotaCounts, error) {
	s.mu.Lock()
	s.consumes++
	s.mu.Unlock()
	return s.Store.ConsumeQuota(ctx, fingerprint, scope, now, window)
}

func TestUnknownFeedDoesNotChargeGuests(t *testing.T) {
	ts := newTestServer(t)
	store := &countingStore{Store: ts.db}
	app := server.Server(&server.ServerConfig{
		Catalog: catalog.New(ts.db, nil),
		Gate:    quota.NewGate(store, quota.DefaultLimits()),
		Sweeps:  ts.sweeps,
		Sources: ts.db,
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/posts?feed=nope", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, store.consumes)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/posts?feed=news", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, store.consumes)
}

func TestRefreshEndpoints(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		owner  string
		status int
	}{
		{name: "owner sweep", path: "/api/refresh", owner: "alice", status: http.StatusAccepted},
		{name: "owner sweep without owner", path: "/api/refresh", status: http.StatusUnauthorized},
		{name: "shared source", path: "/api/sources/1/refresh", owner: "bob", status: http.StatusAccepted},
		{name: "owned source", path: "/api/sources/2/refresh", owner: "alice", status: http.StatusAccepted},
		{name: "someone else's source", path: "/api/sources/2/refresh", owner: "bob", status: http.StatusNotFound},
		{name: "missing source", path: "/api/sources/99/refresh", owner: "alice", status: http.StatusNotFound},
		{name: "bad id", path: "/api/sources/abc/refresh", owner: "alice", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			if tt.owner != "" {
				req.Header.Set(server.OwnerHeader, tt.owner)
			}
			resp, _ := ts.do(t, req)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	assert.Equal(t, []string{"alice"}, ts.sweeps.owners)
	assert.Equal(t, [][]int64{{ts.shared.Id}, {ts.owned.Id}}, ts.sweeps.targeted)
}

func TestCreateSource(t *testing.T) {
	ts := newTestServer(t)

	body := `{"title":"Some Channel","kind":"video","locator":"@somechannel"}`
	req := httptest.NewRequest(http.MethodPost, "/api/sources", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.OwnerHeader, "alice")
	resp, raw := ts.do(t, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var created models.Source
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.Equal(t, "some-channel", created.Slug)
	assert.Equal(t, "alice", created.Owner)
	assert.Contains(t, created.Locator, "channel_id=UC123")
	assert.Equal(t, [][]int64{{created.Id}}, ts.sweeps.targeted)

	req = httptest.NewRequest(http.MethodPost, "/api/sources", strings.NewReader(`{"title":"x","kind":"syndication"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.OwnerHeader, "alice")
	resp, _ = ts.do(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPublicSourcesAndHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/sources/public", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sources []models.Source
	require.NoError(t, json.Unmarshal(body, &sources))
	require.Len(t, sources, 1)
	assert.Equal(t, "news", sources[0].Slug)

	resp, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, body = ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
