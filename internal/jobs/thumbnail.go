package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/bryan-buckman/feedtrak/internal/database"
	"github.com/bryan-buckman/feedtrak/internal/fetch"
	"github.com/bryan-buckman/feedtrak/internal/rss"
)

// ThumbnailUserAgent identifies article page fetches.
const ThumbnailUserAgent = "FeedTrak/1.0 (Thumbnail Fetcher)"

// PageFetcher performs GET requests. *fetch.Client satisfies it.
type PageFetcher interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*fetch.Response, error)
}

// ThumbnailFetcher fills in thumbnails for entries whose feed carried none
// by scanning the article page.
type ThumbnailFetcher struct {
	store     database.Store
	client    PageFetcher
	userAgent string
	log       *zap.Logger
}

// NewThumbnailFetcher creates the backfill handler. An empty userAgent
// uses ThumbnailUserAgent.
func NewThumbnailFetcher(store database.Store, client PageFetcher, userAgent string, log *zap.Logger) *ThumbnailFetcher {
	if userAgent == "" {
		userAgent = ThumbnailUserAgent
	}
	return &ThumbnailFetcher{store: store, client: client, userAgent: userAgent, log: log.Named("thumbnails")}
}

// Handle is the Handler for KindFetchThumbnail jobs. The entry's thumbnail
// is set to "" when the page has no usable image so it is not picked up
// again.
func (t *ThumbnailFetcher) Handle(ctx context.Context, spec Spec) error {
	entry, err := t.store.GetEntryByID(ctx, spec.EntryID)
	if errors.Is(err, database.ErrNotFound) {
		return Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("load entry %d: %w", spec.EntryID, err)
	}
	if entry.URL == "" || entry.ThumbnailURL != "" {
		return nil
	}

	resp, err := t.client.Get(ctx, entry.URL, http.Header{
		"User-Agent": {t.userAgent},
		"Accept":     {"text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"},
	})
	if err != nil {
		if ctx.Err() == nil && fetch.IsPermanent(err) {
			t.markAttempted(ctx, entry.ID)
			return Permanent(err)
		}
		return err
	}

	r, err := resp.HTMLReader()
	if err != nil {
		r = bytes.NewReader(resp.Body)
	}
	image, err := rss.ExtractPageImage(r, resp.URL)
	if err != nil {
		t.markAttempted(ctx, entry.ID)
		return Permanent(fmt.Errorf("parse %s: %w", entry.URL, err))
	}
	if err := t.store.SetEntryThumbnail(ctx, entry.ID, image); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	if image != "" {
		t.log.Debug("thumbnail found", zap.Int64("entry_id", entry.ID), zap.String("thumbnail", image))
	}
	return nil
}

func (t *ThumbnailFetcher) markAttempted(ctx context.Context, entryID int64) {
	if err := t.store.SetEntryThumbnail(ctx, entryID, ""); err != nil {
		t.log.Warn("failed to mark thumbnail attempt", zap.Int64("entry_id", entryID), zap.Error(err))
	}
}

// EnqueueMissing queues backfill jobs for up to limit entries without a
// thumbnail. It returns how many were queued.
func (t *ThumbnailFetcher) EnqueueMissing(ctx context.Context, q Queue, limit int) (int, error) {
	entries, err := t.store.GetEntriesMissingThumbnail(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("entries missing thumbnail: %w", err)
	}
	queued := 0
	for _, e := range entries {
		if _, err := q.Enqueue(FetchThumbnail(e.ID)); err != nil {
			return queued, fmt.Errorf("enqueue thumbnail for entry %d: %w", e.ID, err)
		}
		queued++
	}
	return queued, nil
}
