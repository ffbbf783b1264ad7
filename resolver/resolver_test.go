package resolver_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rssagg/models"
	"rssagg/resolver"
	"rssagg/webclient"
)

const feedBase = "https://feeds.test/feeds/videos.xml"

func newResolver(siteBase string) *resolver.Resolver {
	client := webclient.New(webclient.Options{Timeout: 2 * time.Second, InitialInterval: time.Millisecond})
	return resolver.New(client, resolver.WithSiteBase(siteBase), resolver.WithFeedBase(feedBase))
}

func TestResolveStaticInputs(t *testing.T) {
	r := newResolver("http://127.0.0.1:1")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "feed url passes through",
			input:    "https://www.youtube.com/feeds/videos.xml?channel_id=UCabc",
			expected: "https://www.youtube.com/feeds/videos.xml?channel_id=UCabc",
		},
		{
			name:     "playlist url",
			input:    "https://www.youtube.com/watch?v=xyz&list=PL123-abc",
			expected: feedBase + "?playlist_id=PL123-abc",
		},
		{
			name:     "channel url",
			input:    "https://www.youtube.com/channel/UCc8q4B1bj-668LMHyNXnTxQ/videos",
			expected: feedBase + "?channel_id=UCc8q4B1bj-668LMHyNXnTxQ",
		},
		{
			name:     "legacy user url",
			input:    "https://www.youtube.com/user/someone",
			expected: feedBase + "?user=someone",
		},
		{
			name:     "surrounding whitespace",
			input:    "  https://www.youtube.com/channel/UCxyz  ",
			expected: feedBase + "?channel_id=UCxyz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locator, err := r.Resolve(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, locator)
		})
	}
}

func TestResolveHandleScansProfilePages(t *testing.T) {
	tests := []struct {
		name string
		page string
	}{
		{name: "channelId json", page: `{"channelId":"UCfromjson"}`},
		{name: "browseId json", page: `{"browseId":"UCfromjson"}`},
		{name: "query parameter", page: `<link href="/feed?channelId=UCfromjson">`},
		{name: "canonical link", page: `<link rel="canonical" href="https://www.youtube.com/channel/UCfromjson">`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/@someone" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				assert.Equal(t, webclient.BrowserUserAgent, r.Header.Get("User-Agent"))
				_, _ = w.Write([]byte(tt.page))
			}))
			defer srv.Close()

			locator, err := newResolver(srv.URL).Resolve(context.Background(), "@someone")
			require.NoError(t, err)
			assert.Equal(t, feedBase+"?channel_id=UCfromjson", locator)
		})
	}
}

func TestResolveHandleFallsBackToAboutPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/@someone":
			_, _ = w.Write([]byte("<html>consent wall</html>"))
		case "/@someone/about":
			_, _ = w.Write([]byte(`"channelId":"UCabout"`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	locator, err := newResolver(srv.URL).Resolve(context.Background(), srv.URL+"/@someone")
	require.NoError(t, err)
	assert.Equal(t, feedBase+"?channel_id=UCabout", locator)
}

func TestResolveFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>nothing here</html>"))
	}))
	defer srv.Close()

	for _, input := range []string{"", "https://example.com/blog", "@nobody"} {
		t.Run(input, func(t *testing.T) {
			_, err := newResolver(srv.URL).Resolve(context.Background(), input)
			require.Error(t, err)
			assert.Equal(t, models.FailureResolution, models.KindOf(err))
			assert.True(t, errors.Is(err, resolver.ErrNoMatch))
		})
	}
}

func TestRecoverFromChannelLocator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/channel/UCold" {
			_, _ = w.Write([]byte(`"channelId":"UCnew"`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	locator, err := newResolver(srv.URL).Recover(context.Background(), feedBase+"?channel_id=UCold")
	require.NoError(t, err)
	assert.Equal(t, feedBase+"?channel_id=UCnew", locator)
}

func TestRecoverWithoutEmbeddedId(t *testing.T) {
	_, err := newResolver("http://127.0.0.1:1").Recover(context.Background(), "https://example.com/rss")
	require.Error(t, err)
	assert.Equal(t, models.FailureResolution, models.KindOf(err))
}
