package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// evictionBatchSize bounds one retention delete
const evictionBatchSize = 500

// Options holds the retry, lease and retention configuration of a queue
type Options struct {
	MaxAttempts         int
	BackoffBase         time.Duration
	LeaseDuration       time.Duration
	JobTimeout          time.Duration
	PollInterval        time.Duration
	MaintenanceInterval time.Duration
	CompletedRetention  time.Duration
	// CompletedKeep caps retained completed jobs; 0 keeps all within retention
	CompletedKeep   int
	FailedRetention time.Duration
}

// DefaultOptions returns default configuration
func DefaultOptions() Options {
	return Options{
		MaxAttempts:         DefaultMaxAttempts,
		BackoffBase:         DefaultBackoffBase,
		LeaseDuration:       2 * time.Minute,
		JobTimeout:          time.Minute,
		PollInterval:        time.Second,
		MaintenanceInterval: time.Minute,
		CompletedRetention:  time.Hour,
		CompletedKeep:       1000,
		FailedRetention:     7 * 24 * time.Hour, // 7 days
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BackoffBase < 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.LeaseDuration <= 0 {
		o.LeaseDuration = d.LeaseDuration
	}
	if o.JobTimeout <= 0 || o.JobTimeout >= o.LeaseDuration {
		o.JobTimeout = o.LeaseDuration / 2
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.MaintenanceInterval <= 0 {
		o.MaintenanceInterval = d.MaintenanceInterval
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = d.CompletedRetention
	}
	if o.CompletedKeep < 0 {
		o.CompletedKeep = 0
	}
	if o.FailedRetention <= 0 {
		o.FailedRetention = d.FailedRetention
	}
	return o
}

// TerminalReason tells why a job ended in the failed state
type TerminalReason string

const (
	// ReasonFailed is a non-retryable handler failure
	ReasonFailed TerminalReason = "failed"
	// ReasonRetriesExhausted is a retryable failure on the last attempt
	ReasonRetriesExhausted TerminalReason = "retries-exhausted"
	// ReasonCancelled is an explicit Cancel between attempts
	ReasonCancelled TerminalReason = "cancelled"
)

// TerminalEvent is emitted exactly once when a job fails for good
type TerminalEvent struct {
	Job    *Job
	Reason TerminalReason
	Err    error
}

// TerminalListener is called synchronously after the failed state is stored
type TerminalListener func(ctx context.Context, ev TerminalEvent)

// Handler processes one job. A nil error completes the job; see IsPermanent
// for how errors are classified. The handler may rewrite job.Payload, which
// is stored with the resulting transition.
type Handler func(ctx context.Context, job *Job) error

// Queue is one named queue over a Store
type Queue struct {
	name     string
	store    Store
	opts     Options
	archiver Archiver
	logger   *zap.Logger
	now      func() time.Time

	listeners []TerminalListener
	mu        sync.RWMutex // Protects listeners

	wake chan struct{}
}

// Option configures a Queue
type Option func(*Queue)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithArchiver sets the archiver that receives failed jobs before retention deletes them
func WithArchiver(a Archiver) Option {
	return func(q *Queue) {
		q.archiver = a
	}
}

// New creates a queue
func New(name string, store Store, opts Options, options ...Option) *Queue {
	q := &Queue{
		name:   name,
		store:  store,
		opts:   opts.withDefaults(),
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		wake:   make(chan struct{}, 1),
	}
	for _, o := range options {
		o(q)
	}
	q.logger = q.logger.With(zap.String("queue", name))
	return q
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Options returns the effective configuration
func (q *Queue) Options() Options {
	return q.opts
}

// OnTerminal registers a listener for terminal failures
func (q *Queue) OnTerminal(l TerminalListener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

// ---------------------------------------------------------------------------
// Producer side
// ---------------------------------------------------------------------------

// Enqueue adds a job with the given ID and JSON-encoded payload. It returns
// false without error when a job with the same ID is still retained.
func (q *Queue) Enqueue(ctx context.Context, id string, payload any) (bool, error) {
	if id == "" {
		return false, errors.New("queue: job id is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("queue: encode payload: %w", err)
	}

	job := NewJob(q.name, id, data, q.opts.MaxAttempts, q.opts.BackoffBase, q.now())
	added, err := q.store.Add(ctx, job)
	if err != nil {
		return false, fmt.Errorf("queue: add job %s: %w", id, err)
	}
	if !added {
		q.logger.Debug("duplicate job ignored", zap.String("job_key", id))
		return false, nil
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true, nil
}

// Cancel fails a waiting or delayed job so it is never attempted again
func (q *Queue) Cancel(ctx context.Context, id, reason string) error {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Queue != q.name {
		return ErrJobNotFound
	}
	if job.State != StateWaiting && job.State != StateDelayed {
		return ErrJobNotCancellable
	}

	from, attempts := job.State, job.Attempts
	cause := fmt.Errorf("cancelled: %s", reason)
	job.markFailed(cause.Error(), q.now())
	if err := q.store.Transition(ctx, job, from, attempts); err != nil {
		if errors.Is(err, ErrStaleJob) {
			return ErrJobNotCancellable
		}
		return err
	}

	q.logger.Info("job cancelled", zap.String("job_key", id), zap.String("reason", reason))
	q.emit(ctx, TerminalEvent{Job: job, Reason: ReasonCancelled, Err: cause})
	return nil
}

// Stats returns the job counts per state
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	counts, err := q.store.Counts(ctx, q.name)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Waiting:   counts[StateWaiting],
		Active:    counts[StateActive],
		Completed: counts[StateCompleted],
		Failed:    counts[StateFailed],
		Delayed:   counts[StateDelayed],
	}, nil
}

// Get returns a job of this queue by ID
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Queue != q.name {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// ---------------------------------------------------------------------------
// Consumer side
// ---------------------------------------------------------------------------

// Process runs concurrency workers plus the maintenance loop until ctx is
// cancelled, then waits for in-flight jobs to finish. Jobs are never
// interrupted by ctx; each runs under its own JobTimeout.
func (q *Queue) Process(ctx context.Context, handler Handler, concurrency int) error {
	if handler == nil {
		return errors.New("queue: handler is required")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go q.maintenanceLoop(ctx, &wg)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go q.workLoop(ctx, handler, &wg)
	}

	q.logger.Info("queue processing started",
		zap.Int("concurrency", concurrency),
		zap.Int("max_attempts", q.opts.MaxAttempts),
		zap.Duration("backoff_base", q.opts.BackoffBase),
		zap.Duration("poll_interval", q.opts.PollInterval),
	)

	<-ctx.Done()
	wg.Wait()

	q.logger.Info("queue processing stopped")
	return nil
}

func (q *Queue) workLoop(ctx context.Context, handler Handler, wg *sync.WaitGroup) {
	defer wg.Done()

	for ctx.Err() == nil {
		ran, err := q.ProcessNext(ctx, handler)
		if err != nil {
			q.logger.Error("failed to claim job", zap.Error(err))
		}
		if ran {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-time.After(q.opts.PollInterval):
		}
	}
}

// ProcessNext claims and runs at most one job. It reports whether a job ran.
func (q *Queue) ProcessNext(ctx context.Context, handler Handler) (bool, error) {
	jobs, err := q.store.Claim(ctx, q.name, q.now(), q.opts.LeaseDuration, 1)
	if err != nil {
		return false, err
	}
	if len(jobs) == 0 {
		return false, nil
	}
	q.run(ctx, handler, jobs[0])
	return true, nil
}

func (q *Queue) run(ctx context.Context, handler Handler, job *Job) {
	// the attempt outlives shutdown; only the job timeout bounds it
	base := context.WithoutCancel(ctx)
	attempts := job.Attempts

	runCtx, cancel := context.WithTimeout(base, q.opts.JobTimeout)
	err := safeHandle(runCtx, handler, job)
	cancel()

	log := q.logger.With(zap.String("job_key", job.ID), zap.Int("attempt", attempts))
	now := q.now()

	var terminal *TerminalEvent
	switch {
	case err == nil:
		job.markCompleted(now)
	case IsPermanent(err):
		job.markFailed(err.Error(), now)
		terminal = &TerminalEvent{Job: job, Reason: ReasonFailed, Err: err}
	case job.HasAttemptsLeft():
		job.markRetry(err.Error(), now)
	default:
		job.markFailed(err.Error(), now)
		terminal = &TerminalEvent{Job: job, Reason: ReasonRetriesExhausted, Err: err}
	}

	if terr := q.store.Transition(base, job, StateActive, attempts); terr != nil {
		if errors.Is(terr, ErrStaleJob) {
			log.Warn("job lease lost, result discarded", zap.String("state", string(job.State)))
			return
		}
		log.Error("failed to store job result", zap.String("state", string(job.State)), zap.Error(terr))
		return
	}

	switch {
	case err == nil:
		log.Debug("job completed")
	case terminal != nil:
		log.Warn("job failed",
			zap.String("reason", string(terminal.Reason)),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.String("last_error", job.LastError),
		)
		q.emit(base, *terminal)
	default:
		log.Info("job scheduled for retry",
			zap.Duration("backoff", job.AvailableAt.Sub(now)),
			zap.String("last_error", job.LastError),
		)
	}
}

// safeHandle turns a handler panic into a retryable error
func safeHandle(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) emit(ctx context.Context, ev TerminalEvent) {
	q.mu.RLock()
	listeners := make([]TerminalListener, len(q.listeners))
	copy(listeners, q.listeners)
	q.mu.RUnlock()

	for _, l := range listeners {
		lctx, cancel := context.WithTimeout(ctx, q.opts.JobTimeout)
		l(lctx, ev)
		cancel()
	}
}

// ---------------------------------------------------------------------------
// Maintenance
// ---------------------------------------------------------------------------

func (q *Queue) maintenanceLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	// jobs abandoned by a previous process are recovered right away
	q.Maintain(ctx)

	ticker := time.NewTicker(q.opts.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Maintain(ctx)
		}
	}
}

// Maintain requeues stalled jobs and evicts jobs past retention
func (q *Queue) Maintain(ctx context.Context) {
	q.requeueStalled(ctx)
	q.evict(ctx, StateCompleted, q.opts.CompletedRetention, q.opts.CompletedKeep)
	q.evict(ctx, StateFailed, q.opts.FailedRetention, 0)
}

func (q *Queue) requeueStalled(ctx context.Context) {
	now := q.now()
	stalled, err := q.store.FindStalled(ctx, q.name, now, evictionBatchSize)
	if err != nil {
		q.logger.Error("failed to find stalled jobs", zap.Error(err))
		return
	}

	for _, job := range stalled {
		attempts := job.Attempts
		var terminal *TerminalEvent
		if job.HasAttemptsLeft() {
			job.markRequeued(now)
		} else {
			cause := fmt.Errorf("lease expired on attempt %d", attempts)
			job.markFailed(cause.Error(), now)
			terminal = &TerminalEvent{Job: job, Reason: ReasonRetriesExhausted, Err: cause}
		}

		if err := q.store.Transition(ctx, job, StateActive, attempts); err != nil {
			if !errors.Is(err, ErrStaleJob) {
				q.logger.Error("failed to requeue stalled job", zap.String("job_key", job.ID), zap.Error(err))
			}
			continue
		}

		q.logger.Warn("stalled job recovered",
			zap.String("job_key", job.ID),
			zap.Int("attempt", attempts),
			zap.String("state", string(job.State)),
		)
		if terminal != nil {
			q.emit(ctx, *terminal)
		}
	}
}

func (q *Queue) evict(ctx context.Context, state State, retention time.Duration, keep int) {
	cutoff := q.now().Add(-retention)
	var total int64
	for {
		jobs, err := q.store.FindEvictable(ctx, q.name, state, cutoff, keep, evictionBatchSize)
		if err != nil {
			q.logger.Error("failed to find evictable jobs", zap.String("state", string(state)), zap.Error(err))
			return
		}
		if len(jobs) == 0 {
			break
		}

		if state == StateFailed && q.archiver != nil {
			if err := q.archiver.Archive(ctx, q.name, jobs); err != nil {
				// keep the jobs until they are archived
				q.logger.Error("failed to archive failed jobs", zap.Int("count", len(jobs)), zap.Error(err))
				return
			}
		}

		ids := make([]string, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		deleted, err := q.store.Delete(ctx, ids)
		if err != nil {
			q.logger.Error("failed to delete evicted jobs", zap.Error(err))
			return
		}
		total += deleted

		if deleted == 0 || len(jobs) < evictionBatchSize {
			break
		}
	}

	if total > 0 {
		q.logger.Info("evicted old jobs",
			zap.String("state", string(state)),
			zap.Int64("deleted", total),
			zap.Time("cutoff", cutoff),
		)
	}
}
