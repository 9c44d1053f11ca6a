package opml

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bryan-buckman/feedtrak/internal/database"
	"github.com/bryan-buckman/feedtrak/internal/jobs"
	"github.com/bryan-buckman/feedtrak/internal/rss"
)

// Summary reports the outcome of an import.
type Summary struct {
	CategoriesCreated int      `json:"categories_created"`
	FeedsImported     int      `json:"feeds_imported"`
	FeedsSkipped      int      `json:"feeds_skipped"`
	Errors            []string `json:"errors"`
}

// Importer subscribes a user to every feed in an OPML document.
type Importer struct {
	store     database.Store
	discovery jobs.Discoverer
	queue     jobs.Queue
	log       *zap.Logger
}

// NewImporter creates an importer. Each imported feed gets a background
// refresh queued on queue.
func NewImporter(store database.Store, discovery jobs.Discoverer, queue jobs.Queue, log *zap.Logger) *Importer {
	return &Importer{store: store, discovery: discovery, queue: queue, log: log.Named("opml")}
}

// Import parses data and reconciles it with the user's subscriptions.
// Only a structurally invalid document returns an error; per-feed
// failures are collected in Summary.Errors.
func (im *Importer) Import(ctx context.Context, data []byte, userID int64) (*Summary, error) {
	doc, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	sum := &Summary{Errors: []string{}}
	run := &importRun{
		Importer:   im,
		userID:     userID,
		summary:    sum,
		subscribed: make(map[string]bool),
		log:        im.log.With(zap.Int64("user_id", userID)),
	}

	categories, err := im.store.GetCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	existing := make(map[string]int64, len(categories))
	for _, c := range categories {
		existing[c.Name] = c.ID
	}

	feeds, err := im.store.GetSubscribedFeeds(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	for _, f := range feeds {
		run.subscribed[f.FeedURL] = true
	}

	for _, c := range doc.Categories {
		id, ok := existing[c.Name]
		if !ok {
			created, err := im.store.CreateCategory(ctx, userID, c.Name)
			if err != nil {
				return nil, fmt.Errorf("create category %q: %w", c.Name, err)
			}
			id = created.ID
			existing[c.Name] = id
			sum.CategoriesCreated++
		}
		categoryID := id
		for _, f := range c.Feeds {
			run.importFeed(ctx, f, &categoryID)
		}
	}
	for _, f := range doc.Feeds {
		if f.Category == "" {
			run.importFeed(ctx, f, nil)
		}
	}

	run.log.Info("opml import finished",
		zap.Int("categories_created", sum.CategoriesCreated),
		zap.Int("feeds_imported", sum.FeedsImported),
		zap.Int("feeds_skipped", sum.FeedsSkipped),
		zap.Int("errors", len(sum.Errors)),
	)
	return sum, nil
}

type importRun struct {
	*Importer
	userID     int64
	summary    *Summary
	subscribed map[string]bool
	log        *zap.Logger
}

func (r *importRun) importFeed(ctx context.Context, f Feed, categoryID *int64) {
	if r.subscribed[f.FeedURL] {
		r.summary.FeedsSkipped++
		return
	}

	parsed, err := r.discovery.Discover(ctx, f.FeedURL, jobs.NewFeedEntryLimit)
	if err != nil {
		var de *rss.DiscoveryError
		if errors.As(err, &de) {
			r.log.Info("could not fetch feed", zap.String("feed_url", f.FeedURL), zap.Error(err))
			r.summary.Errors = append(r.summary.Errors, "Could not fetch feed: "+f.Title)
			return
		}
		r.fail(f, err)
		return
	}

	feed, created, err := r.store.CreateFeedIfAbsent(ctx, parsed.Model())
	if err != nil {
		r.fail(f, err)
		return
	}
	if created {
		r.storeEntries(ctx, feed.ID, parsed)
	}
	created, err = r.store.SubscribeIfAbsent(ctx, r.userID, feed.ID, categoryID)
	if err != nil {
		r.fail(f, err)
		return
	}
	r.subscribed[f.FeedURL] = true
	r.subscribed[feed.FeedURL] = true
	if !created {
		// Listed under a different URL than the one already followed.
		r.summary.FeedsSkipped++
		return
	}
	r.summary.FeedsImported++

	userID := r.userID
	if _, err := r.queue.Enqueue(jobs.FetchFeed(feed.FeedURL, &userID, categoryID)); err != nil {
		r.log.Warn("failed to queue initial fetch", zap.String("feed_url", feed.FeedURL), zap.Error(err))
	}
}

// storeEntries keeps the entries fetched during validation as the feed's
// first ingestion. The queued refresh then runs against an existing feed.
func (r *importRun) storeEntries(ctx context.Context, feedID int64, parsed *rss.Feed) {
	parsed.Truncate(jobs.NewFeedEntryLimit)
	for i := range parsed.Entries {
		if _, err := r.store.CreateEntryIfAbsent(ctx, parsed.Entries[i].Model(feedID)); err != nil {
			r.log.Warn("failed to store entry", zap.String("feed_url", parsed.FeedURL), zap.Error(err))
			return
		}
	}
}

func (r *importRun) fail(f Feed, err error) {
	r.log.Error("failed to import feed", zap.String("feed_url", f.FeedURL), zap.Error(err))
	r.summary.Errors = append(r.summary.Errors, fmt.Sprintf("Failed to import feed: %s - %v", f.Title, err))
}
