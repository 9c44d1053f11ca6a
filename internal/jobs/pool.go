package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryan-buckman/feedtrak/internal/database"
)

// Concurrency settings
const (
	// WorkersPostgres is the number of parallel jobs for PostgreSQL
	WorkersPostgres = 10
	// WorkersSQLite is the number of parallel jobs for SQLite (limited due to locking)
	WorkersSQLite = 1
	// DefaultQueueSize bounds jobs waiting for a worker
	DefaultQueueSize = 1000
)

var (
	ErrQueueFull   = errors.New("job queue full")
	ErrPoolStopped = errors.New("job pool stopped")
	ErrUnknownKind = errors.New("no handler registered for job kind")
)

// WorkersFor returns the worker count suited to the store's backend.
func WorkersFor(store database.Store) int {
	if store.SupportsHighConcurrency() {
		return WorkersPostgres
	}
	return WorkersSQLite
}

type registration struct {
	handler Handler
	policy  RetryPolicy
}

type job struct {
	spec    Spec
	attempt int
}

// Pool runs jobs on a fixed set of workers. Failed attempts are re-queued
// after the kind's backoff until the attempt budget is spent.
type Pool struct {
	log      *zap.Logger
	workers  int
	queue    chan *job
	handlers map[Kind]registration

	mu       sync.Mutex
	states   map[uuid.UUID]State
	inflight int
	drained  chan struct{}
	stopped  bool
	timers   map[*time.Timer]*job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool. Register handlers before calling Start.
func NewPool(workers, queueSize int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = WorkersSQLite
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	drained := make(chan struct{})
	close(drained)
	return &Pool{
		log:      log.Named("jobs"),
		workers:  workers,
		queue:    make(chan *job, queueSize),
		handlers: make(map[Kind]registration),
		states:   make(map[uuid.UUID]State),
		drained:  drained,
		timers:   make(map[*time.Timer]*job),
	}
}

// Register binds a handler and retry policy to a job kind.
func (p *Pool) Register(kind Kind, h Handler, policy RetryPolicy) {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	p.handlers[kind] = registration{handler: h, policy: policy}
}

// Start launches the workers. Jobs stop being picked up once ctx is done
// or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.log.Info("starting job pool", zap.Int("workers", p.workers))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.work(workerID)
		}(i)
	}
}

// Stop cancels running jobs, drops pending retries and queued jobs, and
// waits for workers. Dropped jobs end as StateFailedRetryable.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	for t, j := range p.timers {
		if t.Stop() {
			p.finishLocked(j.spec.ID, StateFailedRetryable)
		}
	}
	p.timers = nil
	p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	for {
		select {
		case j := <-p.queue:
			p.finish(j.spec.ID, StateFailedRetryable)
		default:
			return
		}
	}
}

// Enqueue schedules spec and returns its ID. It fails fast when the queue
// is full rather than blocking the caller.
func (p *Pool) Enqueue(spec Spec) (uuid.UUID, error) {
	if _, ok := p.handlers[spec.Kind]; !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownKind, spec.Kind)
	}
	if spec.ID == uuid.Nil {
		spec.ID = uuid.New()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return uuid.Nil, ErrPoolStopped
	}
	select {
	case p.queue <- &job{spec: spec, attempt: 1}:
	default:
		return uuid.Nil, ErrQueueFull
	}
	p.states[spec.ID] = StatePending
	if p.inflight == 0 {
		p.drained = make(chan struct{})
	}
	p.inflight++
	return spec.ID, nil
}

// State returns the current state of a job.
func (p *Pool) State(id uuid.UUID) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.states[id]
	return s, ok
}

// Wait blocks until every enqueued job, including scheduled retries, has
// reached a final state.
func (p *Pool) Wait(ctx context.Context) error {
	p.mu.Lock()
	drained := p.drained
	p.mu.Unlock()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) work(workerID int) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.queue:
			p.run(workerID, j)
		}
	}
}

func (p *Pool) run(workerID int, j *job) {
	reg := p.handlers[j.spec.Kind]
	p.setState(j.spec.ID, StateRunning)

	ctx := p.ctx
	if reg.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, reg.policy.Timeout)
		defer cancel()
	}

	log := p.log.With(
		zap.Int("worker", workerID),
		zap.String("job", j.spec.ID.String()),
		zap.String("kind", string(j.spec.Kind)),
		zap.Int("attempt", j.attempt),
	)

	start := time.Now()
	err := reg.handler(ctx, j.spec)
	switch {
	case err == nil:
		log.Debug("job succeeded", zap.Duration("took", time.Since(start)))
		p.finish(j.spec.ID, StateSucceeded)
	case IsPermanent(err):
		log.Warn("job failed permanently", zap.Error(err))
		p.finish(j.spec.ID, StateFailedPermanent)
	case j.attempt >= reg.policy.Attempts:
		log.Warn("job failed, retry budget exhausted", zap.Error(err))
		p.finish(j.spec.ID, StateFailedPermanent)
	default:
		delay := reg.policy.delay(j.attempt)
		log.Info("job failed, will retry", zap.Error(err), zap.Duration("backoff", delay))
		p.retry(j, delay)
	}
}

func (p *Pool) retry(j *job, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		p.finishLocked(j.spec.ID, StateFailedRetryable)
		return
	}
	p.states[j.spec.ID] = StateFailedRetryable
	next := &job{spec: j.spec, attempt: j.attempt + 1}

	var t *time.Timer
	t = time.AfterFunc(delay, func() { p.requeue(t, next) })
	p.timers[t] = next
}

// requeue runs when a retry timer fires. A timer that fired while Stop was
// running still has to release its in-flight slot.
func (p *Pool) requeue(t *time.Timer, next *job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timers == nil {
		p.finishLocked(next.spec.ID, StateFailedRetryable)
		return
	}
	delete(p.timers, t)
	select {
	case p.queue <- next:
		p.states[next.spec.ID] = StatePending
	default:
		p.log.Warn("dropping retry, queue full", zap.String("job", next.spec.ID.String()))
		p.finishLocked(next.spec.ID, StateFailedRetryable)
	}
}

func (p *Pool) setState(id uuid.UUID, s State) {
	p.mu.Lock()
	p.states[id] = s
	p.mu.Unlock()
}

func (p *Pool) finish(id uuid.UUID, s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked(id, s)
}

func (p *Pool) finishLocked(id uuid.UUID, s State) {
	p.states[id] = s
	p.inflight--
	if p.inflight == 0 {
		close(p.drained)
	}
}
