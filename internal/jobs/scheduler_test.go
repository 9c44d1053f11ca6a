package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bryan-buckman/feedtrak/internal/model"
)

func TestSchedulerRefreshes(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	mkFeed := func(url string, fetched time.Time, subscriber int64) int64 {
		f, _, err := store.CreateFeedIfAbsent(ctx, &model.Feed{FeedURL: url, Title: url, Type: model.FeedTypeRSS})
		require.NoError(t, err)
		if !fetched.IsZero() {
			require.NoError(t, store.UpdateFeedLastFetched(ctx, f.ID, fetched))
		}
		if subscriber != 0 {
			_, err = store.SubscribeIfAbsent(ctx, subscriber, f.ID, nil)
			require.NoError(t, err)
		}
		return f.ID
	}
	mkFeed("https://a.example.com/rss", now.Add(-2*time.Minute), 1)
	mkFeed("https://b.example.com/rss", now.Add(-10*time.Minute), 1)
	mkFeed("https://c.example.com/rss", now.Add(-time.Hour), 1)
	mkFeed("https://d.example.com/rss", time.Time{}, 1)
	orphan := mkFeed("https://e.example.com/rss", time.Time{}, 0)

	q := &recordingQueue{}
	s := NewScheduler(store, q, nil, SchedulerOptions{}, zaptest.NewLogger(t))
	s.now = func() time.Time { return now }

	n, err := s.RefreshActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "feeds without subscribers are not refreshed")

	q.specs = nil
	n, err = s.RefreshStale(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"https://c.example.com/rss", "https://d.example.com/rss"}, urls(q.specs))

	q.specs = nil
	queued, skipped, err := s.RefreshAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, queued)
	assert.Equal(t, 1, skipped, "fetched within the cooldown")
	assert.NotContains(t, urls(q.specs), "https://a.example.com/rss")

	q.specs = nil
	require.NoError(t, s.RefreshFeed(ctx, orphan))
	assert.Equal(t, []string{"https://e.example.com/rss"}, urls(q.specs))
	assert.Nil(t, q.specs[0].UserID)

	n, err = s.BackfillThumbnails(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSchedulerStartStop(t *testing.T) {
	store := openStore(t)
	q := &recordingQueue{}
	s := NewScheduler(store, q, NewThumbnailFetcher(store, nil, "", zaptest.NewLogger(t)), SchedulerOptions{
		RefreshInterval:   time.Hour,
		ThumbnailInterval: time.Hour,
	}, zaptest.NewLogger(t))
	s.Start()
	s.Stop()
}

func urls(specs []Spec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.FeedURL)
	}
	return out
}
