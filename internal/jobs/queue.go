// Package jobs runs feed fetches and thumbnail backfills on a worker pool
// with per-kind retry and backoff.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the handler for a job.
type Kind string

const (
	KindFetchFeed      Kind = "fetch_feed"
	KindFetchThumbnail Kind = "fetch_thumbnail"
)

// Spec describes one unit of work.
type Spec struct {
	ID         uuid.UUID
	Kind       Kind
	FeedURL    string
	UserID     *int64
	CategoryID *int64
	EntryID    int64
}

// FetchFeed builds a feed fetch job. userID and categoryID are optional.
func FetchFeed(feedURL string, userID, categoryID *int64) Spec {
	return Spec{Kind: KindFetchFeed, FeedURL: feedURL, UserID: userID, CategoryID: categoryID}
}

// FetchThumbnail builds a thumbnail backfill job for one entry.
func FetchThumbnail(entryID int64) Spec {
	return Spec{Kind: KindFetchThumbnail, EntryID: entryID}
}

// Queue accepts work. Enqueue never waits for the job to run.
type Queue interface {
	Enqueue(spec Spec) (uuid.UUID, error)
}

// State is the lifecycle state of a job.
type State string

const (
	StatePending         State = "pending"
	StateRunning         State = "running"
	StateSucceeded       State = "succeeded"
	StateFailedRetryable State = "failed_retryable"
	StateFailedPermanent State = "failed_permanent"
)

// Handler executes a job. Returning an error wrapped by Permanent stops
// further attempts.
type Handler func(ctx context.Context, spec Spec) error

// RetryPolicy bounds how a kind of job is retried.
type RetryPolicy struct {
	Attempts int
	// Backoff[i] is the delay before attempt i+2. The last value repeats.
	Backoff []time.Duration
	// Timeout bounds a single attempt.
	Timeout time.Duration
}

// DefaultFetchPolicy is used for feed fetches.
var DefaultFetchPolicy = RetryPolicy{
	Attempts: 3,
	Backoff:  []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second},
	Timeout:  30 * time.Second,
}

// DefaultThumbnailPolicy is used for thumbnail backfills.
var DefaultThumbnailPolicy = RetryPolicy{
	Attempts: 2,
	Backoff:  []time.Duration{30 * time.Second},
	Timeout:  15 * time.Second,
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if attempt-1 < len(p.Backoff) {
		return p.Backoff[attempt-1]
	}
	return p.Backoff[len(p.Backoff)-1]
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
