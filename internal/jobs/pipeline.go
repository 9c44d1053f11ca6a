package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bryan-buckman/feedtrak/internal/database"
	"github.com/bryan-buckman/feedtrak/internal/fetch"
	"github.com/bryan-buckman/feedtrak/internal/rss"
)

// Ingestion limits.
const (
	// NewFeedEntryLimit caps the first ingestion of a feed.
	NewFeedEntryLimit = 15
	// ExistingFeedEntryLimit caps each later refresh.
	ExistingFeedEntryLimit = 100
	// InitialUnread is how many of the newest entries a new subscriber sees as unread.
	InitialUnread = 15
)

// Discoverer turns a URL into a normalized feed. *rss.Discovery satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, rawURL string, entryLimit int) (*rss.Feed, error)
}

// PipelineOptions overrides the ingestion limits. Zero fields use the
// package constants.
type PipelineOptions struct {
	NewFeedEntryLimit      int
	ExistingFeedEntryLimit int
	InitialUnread          int
}

// FetchFeedPipeline fetches one feed, stores new entries and applies the
// subscription side effects for the requesting user.
type FetchFeedPipeline struct {
	store     database.Store
	discovery Discoverer
	opts      PipelineOptions
	log       *zap.Logger
	now       func() time.Time
}

// NewFetchFeedPipeline creates the pipeline.
func NewFetchFeedPipeline(store database.Store, discovery Discoverer, opts PipelineOptions, log *zap.Logger) *FetchFeedPipeline {
	if opts.NewFeedEntryLimit <= 0 {
		opts.NewFeedEntryLimit = NewFeedEntryLimit
	}
	if opts.ExistingFeedEntryLimit <= 0 {
		opts.ExistingFeedEntryLimit = ExistingFeedEntryLimit
	}
	if opts.InitialUnread <= 0 {
		opts.InitialUnread = InitialUnread
	}
	return &FetchFeedPipeline{
		store:     store,
		discovery: discovery,
		opts:      opts,
		log:       log.Named("pipeline"),
		now:       time.Now,
	}
}

// Handle is the Handler for KindFetchFeed jobs.
func (p *FetchFeedPipeline) Handle(ctx context.Context, spec Spec) error {
	_, err := p.Run(ctx, spec)
	return err
}

// Result summarises one pipeline run.
type Result struct {
	FeedID      int64
	FeedCreated bool
	NewEntries  int
	Subscribed  bool
	Seeded      int
	// Skipped is set when discovery found nothing and the run was a no-op.
	Skipped bool
}

// Run executes one fetch. Transport errors and 4xx responses come back
// wrapped in Permanent; 5xx and storage errors are retryable; feeds that
// cannot be found or parsed end the run without error.
func (p *FetchFeedPipeline) Run(ctx context.Context, spec Spec) (Result, error) {
	log := p.log.With(zap.String("url", spec.FeedURL))
	var res Result

	// The submitted URL may be a page or a YouTube channel, so whether the
	// feed is new is only known once discovery has resolved its feed URL.
	parsed, err := p.discovery.Discover(ctx, spec.FeedURL, p.opts.ExistingFeedEntryLimit)
	if err != nil {
		if err := p.classify(ctx, err); err != nil {
			return res, err
		}
		log.Info("no feed discovered, skipping", zap.Error(err))
		res.Skipped = true
		return res, nil
	}

	feed, created, err := p.store.CreateFeedIfAbsent(ctx, parsed.Model())
	if err != nil {
		return res, fmt.Errorf("store feed: %w", err)
	}
	res.FeedID, res.FeedCreated = feed.ID, created
	if created {
		parsed.Truncate(p.opts.NewFeedEntryLimit)
	}

	for i := range parsed.Entries {
		isNew, err := p.store.CreateEntryIfAbsent(ctx, parsed.Entries[i].Model(feed.ID))
		if err != nil {
			return res, fmt.Errorf("store entry %s: %w", parsed.Entries[i].GUID, err)
		}
		if isNew {
			res.NewEntries++
		}
	}

	if spec.UserID != nil {
		userID := *spec.UserID
		subscribed, err := p.store.SubscribeIfAbsent(ctx, userID, feed.ID, spec.CategoryID)
		if err != nil {
			return res, fmt.Errorf("subscribe user %d: %w", userID, err)
		}
		res.Subscribed = subscribed

		ids, err := p.store.LatestEntryIDs(ctx, feed.ID, p.opts.InitialUnread)
		if err != nil {
			return res, fmt.Errorf("latest entries: %w", err)
		}
		if res.Seeded, err = p.store.SeedUnread(ctx, userID, ids); err != nil {
			return res, fmt.Errorf("seed unread: %w", err)
		}
	}

	if err := p.store.UpdateFeedLastFetched(ctx, feed.ID, p.now()); err != nil {
		return res, fmt.Errorf("update last fetched: %w", err)
	}

	log.Info("feed fetched",
		zap.Int64("feed_id", feed.ID),
		zap.Bool("created", created),
		zap.Int("entries", len(parsed.Entries)),
		zap.Int("new_entries", res.NewEntries),
		zap.Int("seeded_unread", res.Seeded),
	)
	return res, nil
}

// classify maps a discovery failure to the job outcome. nil means the run
// should end quietly.
func (p *FetchFeedPipeline) classify(ctx context.Context, err error) error {
	var de *rss.DiscoveryError
	if !errors.As(err, &de) {
		return err
	}
	if de.Reason != rss.ReasonFetchError {
		return nil
	}
	// A deadline hit by this attempt is the runtime aborting the job, not
	// the remote host refusing it.
	if ctx.Err() != nil {
		return err
	}
	if fetch.IsPermanent(de.Err) {
		return Permanent(err)
	}
	return err
}
