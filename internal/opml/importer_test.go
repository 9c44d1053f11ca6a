package opml

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bryan-buckman/feedtrak/internal/database"
	"github.com/bryan-buckman/feedtrak/internal/jobs"
	"github.com/bryan-buckman/feedtrak/internal/model"
	"github.com/bryan-buckman/feedtrak/internal/rss"
)

type fakeDiscovery struct {
	failing map[string]error
	calls   []string
	// entries is how many items each discovered feed carries.
	entries int
}

func (d *fakeDiscovery) Discover(ctx context.Context, rawURL string, limit int) (*rss.Feed, error) {
	d.calls = append(d.calls, rawURL)
	if err, ok := d.failing[rawURL]; ok {
		return nil, err
	}
	feed := &rss.Feed{Title: "Feed at " + rawURL, FeedURL: rawURL, Type: model.FeedTypeRSS}
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < d.entries; i++ {
		feed.Entries = append(feed.Entries, rss.Entry{
			GUID:        fmt.Sprintf("%s#%d", rawURL, i),
			Title:       fmt.Sprintf("Item %d", i),
			PublishedAt: base.Add(-time.Duration(i) * time.Hour),
		})
	}
	return feed, nil
}

type recordingQueue struct{ specs []jobs.Spec }

func (q *recordingQueue) Enqueue(spec jobs.Spec) (uuid.UUID, error) {
	q.specs = append(q.specs, spec)
	return uuid.New(), nil
}

func setup(t *testing.T) (*database.DB, *fakeDiscovery, *recordingQueue, *Importer) {
	t.Helper()
	store, err := database.New(filepath.Join(t.TempDir(), "opml.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	d := &fakeDiscovery{failing: map[string]error{}}
	q := &recordingQueue{}
	return store, d, q, NewImporter(store, d, q, zaptest.NewLogger(t))
}

const importOPML = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0"><head><title>Sample Feeds</title></head><body>
  <outline text="Tech Blogs" title="Tech Blogs">
    <outline text="Local Feed" title="Local Feed" type="rss" xmlUrl="https://localhost/feed1.xml" htmlUrl="https://localhost"/>
    <outline text="Another Local Feed" title="Another Local Feed" type="rss" xmlUrl="https://localhost/feed2.xml"/>
  </outline>
  <outline text="News" title="News">
    <outline text="Local News" title="Local News" type="rss" xmlUrl="https://localhost/news.xml"/>
  </outline>
  <outline text="Uncategorized Feed" title="Uncategorized Feed" type="rss" xmlUrl="https://localhost/uncategorized.xml"/>
</body></opml>`

func TestImportCountsAndReconciles(t *testing.T) {
	ctx := context.Background()
	store, d, q, im := setup(t)

	// The user already follows feed1 and owns the News category.
	existing, _, err := store.CreateFeedIfAbsent(ctx, &model.Feed{FeedURL: "https://localhost/feed1.xml", Title: "Old", Type: model.FeedTypeRSS})
	require.NoError(t, err)
	_, err = store.SubscribeIfAbsent(ctx, 7, existing.ID, nil)
	require.NoError(t, err)
	news, err := store.CreateCategory(ctx, 7, "News")
	require.NoError(t, err)

	sum, err := im.Import(ctx, []byte(importOPML), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CategoriesCreated)
	assert.Equal(t, 3, sum.FeedsImported)
	assert.Equal(t, 1, sum.FeedsSkipped)
	assert.Empty(t, sum.Errors)
	assert.NotContains(t, d.calls, "https://localhost/feed1.xml")

	categories, err := store.GetCategories(ctx, 7)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "News", categories[0].Name)
	assert.Equal(t, "Tech Blogs", categories[1].Name)
	assert.Greater(t, categories[1].SortOrder, categories[0].SortOrder)

	newsFeed, err := store.GetFeedByURL(ctx, "https://localhost/news.xml")
	require.NoError(t, err)
	sub, err := store.GetSubscription(ctx, 7, newsFeed.ID)
	require.NoError(t, err)
	require.NotNil(t, sub.CategoryID)
	assert.Equal(t, news.ID, *sub.CategoryID)

	loose, err := store.GetFeedByURL(ctx, "https://localhost/uncategorized.xml")
	require.NoError(t, err)
	sub, err = store.GetSubscription(ctx, 7, loose.ID)
	require.NoError(t, err)
	assert.Nil(t, sub.CategoryID)

	require.Len(t, q.specs, 3)
	for _, spec := range q.specs {
		assert.Equal(t, jobs.KindFetchFeed, spec.Kind)
		require.NotNil(t, spec.UserID)
		assert.Equal(t, int64(7), *spec.UserID)
	}

	// A second import of the same file changes nothing.
	sum, err = im.Import(ctx, []byte(importOPML), 7)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.CategoriesCreated)
	assert.Equal(t, 0, sum.FeedsImported)
	assert.Equal(t, 4, sum.FeedsSkipped)
}

func TestImportCollectsErrors(t *testing.T) {
	ctx := context.Background()
	_, d, _, im := setup(t)
	d.failing["https://localhost/feed2.xml"] = &rss.DiscoveryError{Reason: rss.ReasonFetchError, URL: "https://localhost/feed2.xml"}
	d.failing["https://localhost/news.xml"] = errors.New("boom")

	sum, err := im.Import(ctx, []byte(importOPML), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.CategoriesCreated)
	assert.Equal(t, 2, sum.FeedsImported)
	assert.Equal(t, []string{
		"Could not fetch feed: Another Local Feed",
		"Failed to import feed: Local News - boom",
	}, sum.Errors)
}

func TestImportDuplicateInDocument(t *testing.T) {
	ctx := context.Background()
	_, d, q, im := setup(t)
	doc := `<opml version="2.0"><body>
		<outline text="A"><outline text="X" xmlUrl="https://x.example.com/rss"/></outline>
		<outline text="X again" xmlUrl="https://x.example.com/rss"/>
	</body></opml>`

	sum, err := im.Import(ctx, []byte(doc), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FeedsImported)
	assert.Equal(t, 1, sum.FeedsSkipped)
	assert.Len(t, d.calls, 1)
	assert.Len(t, q.specs, 1)
}

func TestImportStoresFirstEntriesOfNewFeed(t *testing.T) {
	ctx := context.Background()
	store, d, q, im := setup(t)
	d.entries = 40

	// Already known to the store under another subscriber.
	shared, _, err := store.CreateFeedIfAbsent(ctx, &model.Feed{FeedURL: "https://localhost/feed1.xml", Title: "Shared", Type: model.FeedTypeRSS})
	require.NoError(t, err)

	sum, err := im.Import(ctx, []byte(importOPML), 3)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.FeedsImported)

	news, err := store.GetFeedByURL(ctx, "https://localhost/news.xml")
	require.NoError(t, err)
	n, err := store.CountEntries(ctx, news.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.NewFeedEntryLimit, n)

	n, err = store.CountEntries(ctx, shared.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "existing feeds are left to the queued refresh")
	assert.Len(t, q.specs, 4)
}

func TestImportInvalid(t *testing.T) {
	_, _, _, im := setup(t)
	_, err := im.Import(context.Background(), []byte("This is not valid XML"), 1)
	assert.ErrorIs(t, err, ErrInvalidOPML)

	_, err = im.Import(context.Background(), []byte(strings.Replace(importOPML, "<body>", "<bogus>", 1)), 1)
	assert.ErrorIs(t, err, ErrInvalidOPML)
}
