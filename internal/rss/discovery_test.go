package rss

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bryan-buckman/feedtrak/internal/fetch"
	"github.com/bryan-buckman/feedtrak/internal/youtube"
)

func rssDoc(n int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Discovered</title><link>https://site.example.com/</link>`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<item><title>Item %d</title><link>https://site.example.com/%d</link></item>`, i, i)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

type stubResolver struct {
	result youtube.Result
	ok     bool
	calls  int
}

func (s *stubResolver) Resolve(ctx context.Context, rawURL string) (youtube.Result, bool) {
	s.calls++
	return s.result, s.ok
}

func newTestDiscovery(t *testing.T, resolver ChannelResolver) *Discovery {
	t.Helper()
	return NewDiscovery(fetch.NewClient(fetch.Options{}), resolver, zaptest.NewLogger(t))
}

func TestDiscoverDirectFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		fmt.Fprint(w, rssDoc(3))
	}))
	defer server.Close()

	feed, err := newTestDiscovery(t, nil).Discover(context.Background(), server.URL+"/feed", 0)
	require.NoError(t, err)
	assert.Equal(t, "Discovered", feed.Title)
	assert.Equal(t, server.URL+"/feed", feed.FeedURL)
	assert.Len(t, feed.Entries, 3)
}

func TestDiscoverEntryLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, rssDoc(40))
	}))
	defer server.Close()

	feed, err := newTestDiscovery(t, nil).Discover(context.Background(), server.URL, 15)
	require.NoError(t, err)
	require.Len(t, feed.Entries, 15)
	assert.Equal(t, "Item 0", feed.Entries[0].Title)
	assert.Equal(t, "Item 14", feed.Entries[14].Title)
}

func TestDiscoverFollowsHTMLLink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/blog/post", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><link rel="alternate" type="application/rss+xml" href="/rss.xml"></head></html>`)
	})
	mux.HandleFunc("/rss.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, rssDoc(2))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	feed, err := newTestDiscovery(t, nil).Discover(context.Background(), server.URL+"/blog/post", 0)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/rss.xml", feed.FeedURL)
	assert.Len(t, feed.Entries, 2)
}

func TestDiscoverDoesNotChaseHTMLTwice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><link rel="alternate" type="application/rss+xml" href="/b"></head></html>`)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><link rel="alternate" type="application/rss+xml" href="/c"></head></html>`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	_, err := newTestDiscovery(t, nil).Discover(context.Background(), server.URL+"/a", 0)
	assert.True(t, IsReason(err, ReasonParseError))
}

func TestDiscoverSniffsMislabelledFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, rssDoc(1))
	}))
	defer server.Close()

	feed, err := newTestDiscovery(t, nil).Discover(context.Background(), server.URL, 0)
	require.NoError(t, err)
	assert.Len(t, feed.Entries, 1)
}

func TestDiscoverFailures(t *testing.T) {
	t.Run("no feed link", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><head><title>nothing</title></head></html>`)
		}))
		defer server.Close()

		_, err := newTestDiscovery(t, nil).Discover(context.Background(), server.URL, 0)
		assert.True(t, IsReason(err, ReasonNoFeedFound))
	})

	t.Run("malformed xml", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/rss+xml")
			fmt.Fprint(w, `<rss><channel><title>oops`)
		}))
		defer server.Close()

		_, err := newTestDiscovery(t, nil).Discover(context.Background(), server.URL, 0)
		assert.True(t, IsReason(err, ReasonParseError))
	})

	t.Run("http status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer server.Close()

		_, err := newTestDiscovery(t, nil).Discover(context.Background(), server.URL, 0)
		require.True(t, IsReason(err, ReasonFetchError))
		var status *fetch.HTTPStatusError
		require.True(t, errors.As(err, &status))
		assert.Equal(t, http.StatusNotFound, status.StatusCode)
	})

	t.Run("connection refused", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := l.Addr().String()
		l.Close()

		_, err = newTestDiscovery(t, nil).Discover(context.Background(), "http://"+addr+"/feed", 0)
		require.True(t, IsReason(err, ReasonFetchError))
		var transport *fetch.TransportError
		assert.True(t, errors.As(err, &transport))
	})
}

func TestDiscoverYouTube(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user") != "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, `<feed xmlns="http://www.w3.org/2005/Atom"><title>Channel</title>
			<entry><id>yt:video:1</id><title>v1</title><link href="https://www.youtube.com/watch?v=1"/></entry></feed>`)
	}))
	defer server.Close()

	t.Run("resolved", func(t *testing.T) {
		resolver := &stubResolver{result: youtube.Result{FeedURL: server.URL + "/feeds/videos.xml?channel_id=UCx"}, ok: true}
		feed, err := newTestDiscovery(t, resolver).Discover(context.Background(), "https://www.youtube.com/@someone", 0)
		require.NoError(t, err)
		assert.Equal(t, 1, resolver.calls)
		assert.Equal(t, "Channel", feed.Title)
		assert.Equal(t, server.URL+"/feeds/videos.xml?channel_id=UCx", feed.FeedURL)
	})

	t.Run("unresolved", func(t *testing.T) {
		resolver := &stubResolver{}
		_, err := newTestDiscovery(t, resolver).Discover(context.Background(), "https://www.youtube.com/c/Nobody", 0)
		assert.True(t, IsReason(err, ReasonNoFeedFound))
	})

	t.Run("guessed feed missing", func(t *testing.T) {
		resolver := &stubResolver{result: youtube.Result{FeedURL: server.URL + "/feeds/videos.xml?user=someone", Guessed: true}, ok: true}
		_, err := newTestDiscovery(t, resolver).Discover(context.Background(), "https://www.youtube.com/@someone", 0)
		assert.True(t, IsReason(err, ReasonNoFeedFound))
	})
}

func TestDiscoverYouTubeInPathIsNotRouted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssDoc(2))
	}))
	defer server.Close()

	resolver := &stubResolver{}
	feed, err := newTestDiscovery(t, resolver).Discover(context.Background(), server.URL+"/posts/leaving-youtube.com/feed", 0)
	require.NoError(t, err)
	assert.Zero(t, resolver.calls)
	assert.Len(t, feed.Entries, 2)
}

func TestIsFeedContentType(t *testing.T) {
	for _, ct := range []string{"application/rss+xml", "application/atom+xml; charset=utf-8", "application/xml", "TEXT/XML"} {
		assert.True(t, isFeedContentType(ct), ct)
	}
	for _, ct := range []string{"text/html", "application/json", ""} {
		assert.False(t, isFeedContentType(ct), ct)
	}
}
