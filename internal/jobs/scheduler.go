package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bryan-buckman/feedtrak/internal/database"
	"github.com/bryan-buckman/feedtrak/internal/model"
)

// Schedule defaults.
const (
	DefaultRefreshInterval   = 30 * time.Minute
	DefaultStaleAfter        = 30 * time.Minute
	DefaultThumbnailInterval = time.Hour
	DefaultThumbnailBatch    = 50
	DefaultManualCooldown    = 5 * time.Minute
)

// SchedulerOptions configures a Scheduler. Zero fields use the defaults.
type SchedulerOptions struct {
	RefreshInterval   time.Duration
	StaleAfter        time.Duration
	ThumbnailInterval time.Duration
	ThumbnailBatch    int
	ManualCooldown    time.Duration
}

// Scheduler enqueues recurring refreshes and thumbnail backfills, and the
// on-demand refreshes triggered by users.
type Scheduler struct {
	store  database.Store
	queue  Queue
	thumbs *ThumbnailFetcher
	opts   SchedulerOptions
	log    *zap.Logger
	now    func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. thumbs may be nil to disable backfill.
func NewScheduler(store database.Store, queue Queue, thumbs *ThumbnailFetcher, opts SchedulerOptions, log *zap.Logger) *Scheduler {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.ThumbnailInterval <= 0 {
		opts.ThumbnailInterval = DefaultThumbnailInterval
	}
	if opts.ThumbnailBatch <= 0 {
		opts.ThumbnailBatch = DefaultThumbnailBatch
	}
	if opts.ManualCooldown <= 0 {
		opts.ManualCooldown = DefaultManualCooldown
	}
	return &Scheduler{
		store:    store,
		queue:    queue,
		thumbs:   thumbs,
		opts:     opts,
		log:      log.Named("scheduler"),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start begins the refresh and backfill loops.
func (s *Scheduler) Start() {
	s.loop("refresh", s.opts.RefreshInterval, func(ctx context.Context) {
		n, err := s.RefreshActive(ctx)
		if err != nil {
			s.log.Error("scheduled refresh failed", zap.Error(err))
			return
		}
		s.log.Info("scheduled refresh queued", zap.Int("feeds", n))
	})
	if s.thumbs != nil {
		s.loop("thumbnails", s.opts.ThumbnailInterval, func(ctx context.Context) {
			n, err := s.BackfillThumbnails(ctx)
			if err != nil {
				s.log.Error("scheduled thumbnail backfill failed", zap.Error(err))
				return
			}
			s.log.Info("thumbnail backfill queued", zap.Int("entries", n))
		})
	}
}

func (s *Scheduler) loop(name string, interval time.Duration, run func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("starting loop", zap.String("loop", name), zap.Duration("interval", interval))
		for {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			run(ctx)
			cancel()

			select {
			case <-s.stopChan:
				return
			case <-time.After(interval):
			}
		}
	}()
}

// Stop stops the loops gracefully.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// RefreshActive queues a fetch for every feed with an active subscriber.
func (s *Scheduler) RefreshActive(ctx context.Context) (int, error) {
	feeds, err := s.store.GetActiveFeeds(ctx)
	if err != nil {
		return 0, fmt.Errorf("active feeds: %w", err)
	}
	return s.enqueue(feeds)
}

// RefreshFeed queues a fetch for one stored feed.
func (s *Scheduler) RefreshFeed(ctx context.Context, feedID int64) error {
	feed, err := s.store.GetFeedByID(ctx, feedID)
	if err != nil {
		return err
	}
	_, err = s.queue.Enqueue(FetchFeed(feed.FeedURL, nil, nil))
	return err
}

// RefreshStale queues fetches for the user's feeds not fetched within the
// stale threshold.
func (s *Scheduler) RefreshStale(ctx context.Context, userID int64) (int, error) {
	feeds, err := s.store.GetStaleFeeds(ctx, userID, s.now().Add(-s.opts.StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("stale feeds: %w", err)
	}
	return s.enqueue(feeds)
}

// RefreshAll queues fetches for all of the user's feeds except those
// fetched within the manual refresh cooldown.
func (s *Scheduler) RefreshAll(ctx context.Context, userID int64) (queued, skipped int, err error) {
	subs, err := s.store.GetSubscribedFeeds(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("subscribed feeds: %w", err)
	}
	cutoff := s.now().Add(-s.opts.ManualCooldown)
	var due []model.Feed
	for _, sf := range subs {
		if !sf.LastFetchedAt.IsZero() && sf.LastFetchedAt.After(cutoff) {
			skipped++
			continue
		}
		due = append(due, sf.Feed)
	}
	queued, err = s.enqueue(due)
	return queued, skipped, err
}

// BackfillThumbnails queues a batch of thumbnail lookups.
func (s *Scheduler) BackfillThumbnails(ctx context.Context) (int, error) {
	if s.thumbs == nil {
		return 0, nil
	}
	return s.thumbs.EnqueueMissing(ctx, s.queue, s.opts.ThumbnailBatch)
}

func (s *Scheduler) enqueue(feeds []model.Feed) (int, error) {
	n := 0
	for _, f := range feeds {
		if _, err := s.queue.Enqueue(FetchFeed(f.FeedURL, nil, nil)); err != nil {
			return n, fmt.Errorf("enqueue %s: %w", f.FeedURL, err)
		}
		n++
	}
	return n, nil
}
