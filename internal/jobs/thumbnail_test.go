package jobs

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bryan-buckman/feedtrak/internal/database"
	"github.com/bryan-buckman/feedtrak/internal/fetch"
	"github.com/bryan-buckman/feedtrak/internal/model"
)

func seedEntry(t *testing.T, store *database.DB, url string) int64 {
	t.Helper()
	ctx := context.Background()
	feed, _, err := store.CreateFeedIfAbsent(ctx, &model.Feed{FeedURL: "https://example.com/rss-" + url, Title: "F", Type: model.FeedTypeRSS})
	require.NoError(t, err)
	_, err = store.CreateEntryIfAbsent(ctx, &model.Entry{FeedID: feed.ID, GUID: url, Title: "t", URL: url, PublishedAt: time.Now()})
	require.NoError(t, err)
	ids, err := store.LatestEntryIDs(ctx, feed.ID, 1)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	return ids[0]
}

func TestThumbnailFetcherFindsImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ThumbnailUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><meta content="/img/cover.jpg" property="og:image"></head></html>`)
	}))
	defer server.Close()

	ctx := context.Background()
	store := openStore(t)
	id := seedEntry(t, store, server.URL+"/articles/1")

	thumbs := NewThumbnailFetcher(store, fetch.NewClient(fetch.Options{}), "", zaptest.NewLogger(t))
	require.NoError(t, thumbs.Handle(ctx, FetchThumbnail(id)))

	entry, err := store.GetEntryByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/img/cover.jpg", entry.ThumbnailURL)

	missing, err := store.GetEntriesMissingThumbnail(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestThumbnailFetcherMarksAttempted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain":
			fmt.Fprint(w, `<html><body><p>no images</p></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	store := openStore(t)
	plain := seedEntry(t, store, server.URL+"/plain")
	gone := seedEntry(t, store, server.URL+"/gone")
	thumbs := NewThumbnailFetcher(store, fetch.NewClient(fetch.Options{}), "", zaptest.NewLogger(t))

	require.NoError(t, thumbs.Handle(ctx, FetchThumbnail(plain)))
	err := thumbs.Handle(ctx, FetchThumbnail(gone))
	assert.True(t, IsPermanent(err))

	missing, err := store.GetEntriesMissingThumbnail(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missing, "both entries are marked as attempted")

	assert.True(t, IsPermanent(thumbs.Handle(ctx, FetchThumbnail(9999))))
}

func TestThumbnailFetcherServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx := context.Background()
	store := openStore(t)
	id := seedEntry(t, store, server.URL+"/a")
	thumbs := NewThumbnailFetcher(store, fetch.NewClient(fetch.Options{}), "", zaptest.NewLogger(t))

	err := thumbs.Handle(ctx, FetchThumbnail(id))
	require.Error(t, err)
	assert.False(t, IsPermanent(err))

	missing, err := store.GetEntriesMissingThumbnail(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, missing, 1)
}

type recordingQueue struct{ specs []Spec }

func (q *recordingQueue) Enqueue(spec Spec) (uuid.UUID, error) {
	q.specs = append(q.specs, spec)
	return uuid.New(), nil
}

func TestEnqueueMissing(t *testing.T) {
	store := openStore(t)
	for i := 0; i < 3; i++ {
		seedEntry(t, store, fmt.Sprintf("https://example.com/%d", i))
	}
	thumbs := NewThumbnailFetcher(store, fetch.NewClient(fetch.Options{}), "", zaptest.NewLogger(t))

	q := &recordingQueue{}
	n, err := thumbs.EnqueueMissing(context.Background(), q, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, q.specs, 2)
	assert.Equal(t, KindFetchThumbnail, q.specs[0].Kind)
}
