package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelvalue/conversions/internal/domain/conversion"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// terminalRecorder collects terminal events
type terminalRecorder struct {
	mu     sync.Mutex
	events []TerminalEvent
}

func (r *terminalRecorder) listen(_ context.Context, ev TerminalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *terminalRecorder) all() []TerminalEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TerminalEvent(nil), r.events...)
}

func newTestQueue(t *testing.T, store Store, clock *fakeClock, options ...Option) (*Queue, *terminalRecorder) {
	t.Helper()
	opts := DefaultOptions()
	opts.BackoffBase = time.Second
	q := New("meta", store, opts, append([]Option{WithClock(clock.Now)}, options...)...)
	rec := &terminalRecorder{}
	q.OnTerminal(rec.listen)
	return q, rec
}

func TestJob_Backoff(t *testing.T) {
	j := NewJob("q", "id", nil, 5, 2*time.Second, time.Now())
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}
	for _, tt := range tests {
		j.Attempts = tt.attempts
		assert.Equal(t, tt.want, j.Backoff(), "attempt %d", tt.attempts)
	}
}

func TestIsPermanent(t *testing.T) {
	assert.False(t, IsPermanent(nil))
	assert.False(t, IsPermanent(errors.New("boom")))
	assert.True(t, IsPermanent(Permanent(errors.New("bad input"))))
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", Permanent(errors.New("x")))))
	assert.True(t, IsPermanent(conversion.NewDeliveryError(conversion.ErrorCodeProviderAuth, false, "revoked")))
	assert.False(t, IsPermanent(conversion.NewDeliveryError(conversion.ErrorCodeNetwork, true, "timeout")))
	assert.Nil(t, Permanent(nil))
}

func TestQueue_Enqueue_Deduplicates(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q, _ := newTestQueue(t, NewMemoryStore(), clock)

	added, err := q.Enqueue(ctx, "meta-evt_1", map[string]string{"a": "1"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.Enqueue(ctx, "meta-evt_1", map[string]string{"a": "2"})
	require.NoError(t, err)
	assert.False(t, added)

	// still deduplicated after completion while retained
	ran, err := q.ProcessNext(ctx, func(context.Context, *Job) error { return nil })
	require.NoError(t, err)
	require.True(t, ran)

	added, err = q.Enqueue(ctx, "meta-evt_1", map[string]string{"a": "3"})
	require.NoError(t, err)
	assert.False(t, added)

	job, err := q.Get(ctx, "meta-evt_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"1"}`, string(job.Payload))

	_, err = q.Enqueue(ctx, "", nil)
	assert.Error(t, err)
}

func TestQueue_ProcessNext_Success(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q, rec := newTestQueue(t, NewMemoryStore(), clock)

	_, err := q.Enqueue(ctx, "meta-evt_1", "payload")
	require.NoError(t, err)

	var seen *Job
	ran, err := q.ProcessNext(ctx, func(_ context.Context, job *Job) error {
		seen = job.Clone()
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, StateActive, seen.State)
	assert.Equal(t, 1, seen.Attempts)
	assert.True(t, seen.IsFirstAttempt())

	job, err := q.Get(ctx, "meta-evt_1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, job.State)
	require.NotNil(t, job.FinishedAt)
	assert.Empty(t, rec.all())

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Completed: 1}, stats)

	ran, err = q.ProcessNext(ctx, func(context.Context, *Job) error { return nil })
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestQueue_RetryWithBackoffThenExhausted(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q, rec := newTestQueue(t, NewMemoryStore(), clock)

	_, err := q.Enqueue(ctx, "meta-evt_1", "payload")
	require.NoError(t, err)

	var calls int
	failing := func(context.Context, *Job) error {
		calls++
		return errors.New("upstream 503")
	}

	wantBackoff := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, backoff := range wantBackoff {
		ran, err := q.ProcessNext(ctx, failing)
		require.NoError(t, err)
		require.True(t, ran, "attempt %d", i+1)

		job, err := q.Get(ctx, "meta-evt_1")
		require.NoError(t, err)
		assert.Equal(t, StateDelayed, job.State)
		assert.Equal(t, clock.Now().Add(backoff), job.AvailableAt)
		assert.Equal(t, "upstream 503", job.LastError)

		// not runnable before the delay elapses
		ran, err = q.ProcessNext(ctx, failing)
		require.NoError(t, err)
		assert.False(t, ran)

		clock.Advance(backoff)
	}

	ran, err := q.ProcessNext(ctx, failing)
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, 5, calls)

	job, err := q.Get(ctx, "meta-evt_1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, 5, job.Attempts)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, ReasonRetriesExhausted, events[0].Reason)
	assert.Equal(t, "meta-evt_1", events[0].Job.ID)
	assert.EqualError(t, events[0].Err, "upstream 503")

	clock.Advance(time.Hour)
	ran, err = q.ProcessNext(ctx, failing)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestQueue_PermanentFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q, rec := newTestQueue(t, NewMemoryStore(), clock)

	_, err := q.Enqueue(ctx, "meta-evt_1", "payload")
	require.NoError(t, err)

	ran, err := q.ProcessNext(ctx, func(context.Context, *Job) error {
		return conversion.NewDeliveryError(conversion.ErrorCodeProviderAuth, false, "token revoked")
	})
	require.NoError(t, err)
	require.True(t, ran)

	job, err := q.Get(ctx, "meta-evt_1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, 1, job.Attempts)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, ReasonFailed, events[0].Reason)
	assert.Equal(t, conversion.ErrorCodeProviderAuth, conversion.CodeOf(events[0].Err))
}

func TestQueue_HandlerPayloadIsStored(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q, _ := newTestQueue(t, NewMemoryStore(), clock)

	_, err := q.Enqueue(ctx, "meta-evt_1", map[string]int{"step": 0})
	require.NoError(t, err)

	_, err = q.ProcessNext(ctx, func(_ context.Context, job *Job) error {
		job.Payload, _ = json.Marshal(map[string]int{"step": 1})
		return errors.New("retry me")
	})
	require.NoError(t, err)

	job, err := q.Get(ctx, "meta-evt_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":1}`, string(job.Payload))
}

func TestQueue_HandlerPanicIsRetryable(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q, rec := newTestQueue(t, NewMemoryStore(), clock)

	_, err := q.Enqueue(ctx, "meta-evt_1", "payload")
	require.NoError(t, err)

	_, err = q.ProcessNext(ctx, func(context.Context, *Job) error { panic("nil map") })
	require.NoError(t, err)

	job, err := q.Get(ctx, "meta-evt_1")
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, job.State)
	assert.Contains(t, job.LastError, "nil map")
	assert.Empty(t, rec.all())
}

func TestQueue_Cancel(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q, rec := newTestQueue(t, NewMemoryStore(), clock)

	_, err := q.Enqueue(ctx, "meta-evt_1", "payload")
	require.NoError(t, err)
	_, err = q.ProcessNext(ctx, func(context.Context, *Job) error { return errors.New("later") })
	require.NoError(t, err)

	require.NoError(t, q.Cancel(ctx, "meta-evt_1", "event voided"))

	job, err := q.Get(ctx, "meta-evt_1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, "cancelled: event voided", job.LastError)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, ReasonCancelled, events[0].Reason)

	clock.Advance(time.Hour)
	ran, err := q.ProcessNext(ctx, func(context.Context, *Job) error { return nil })
	require.NoError(t, err)
	assert.False(t, ran)

	assert.ErrorIs(t, q.Cancel(ctx, "meta-evt_1", "again"), ErrJobNotCancellable)
	assert.ErrorIs(t, q.Cancel(ctx, "missing", "x"), ErrJobNotFound)
}

func TestQueue_Cancel_OtherQueue(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	meta, _ := newTestQueue(t, store, clock)
	gads := New("google_ads", store, DefaultOptions(), WithClock(clock.Now))

	_, err := gads.Enqueue(ctx, "gads-evt_1", "payload")
	require.NoError(t, err)

	assert.ErrorIs(t, meta.Cancel(ctx, "gads-evt_1", "x"), ErrJobNotFound)
	_, err = meta.Get(ctx, "gads-evt_1")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestQueue_Maintain_RequeuesStalledJobs(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	q, rec := newTestQueue(t, store, clock)

	_, err := q.Enqueue(ctx, "meta-evt_1", "payload")
	require.NoError(t, err)

	// a worker claims the job and dies
	claimed, err := store.Claim(ctx, "meta", clock.Now(), q.Options().LeaseDuration, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	q.Maintain(ctx)
	job, err := q.Get(ctx, "meta-evt_1")
	require.NoError(t, err)
	assert.Equal(t, StateActive, job.State, "lease still valid")

	clock.Advance(q.Options().LeaseDuration + time.Second)
	q.Maintain(ctx)

	job, err = q.Get(ctx, "meta-evt_1")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, job.State)
	assert.Equal(t, 1, job.Attempts)
	assert.Empty(t, rec.all())

	ran, err := q.ProcessNext(ctx, func(_ context.Context, j *Job) error {
		assert.Equal(t, 2, j.Attempts)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestQueue_Maintain_StalledOnLastAttemptFails(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	opts := DefaultOptions()
	opts.MaxAttempts = 1
	q := New("meta", store, opts, WithClock(clock.Now))
	rec := &terminalRecorder{}
	q.OnTerminal(rec.listen)

	_, err := q.Enqueue(ctx, "meta-evt_1", "payload")
	require.NoError(t, err)
	_, err = store.Claim(ctx, "meta", clock.Now(), opts.LeaseDuration, 1)
	require.NoError(t, err)

	clock.Advance(opts.LeaseDuration + time.Second)
	q.Maintain(ctx)

	job, err := q.Get(ctx, "meta-evt_1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, job.State)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, ReasonRetriesExhausted, events[0].Reason)
}

type fakeArchiver struct {
	mu       sync.Mutex
	archived []string
	err      error
}

func (a *fakeArchiver) Archive(_ context.Context, _ string, jobs []*Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	for _, j := range jobs {
		a.archived = append(a.archived, j.ID)
	}
	return nil
}

func TestQueue_Maintain_Retention(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	archiver := &fakeArchiver{err: errors.New("s3 down")}

	opts := DefaultOptions()
	opts.MaxAttempts = 1
	opts.CompletedKeep = 2
	q := New("meta", store, opts, WithClock(clock.Now), WithArchiver(archiver))

	for i := 0; i < 4; i++ {
		_, err := q.Enqueue(ctx, fmt.Sprintf("meta-ok_%d", i), "p")
		require.NoError(t, err)
		_, err = q.ProcessNext(ctx, func(context.Context, *Job) error { return nil })
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}
	_, err := q.Enqueue(ctx, "meta-bad", "p")
	require.NoError(t, err)
	_, err = q.ProcessNext(ctx, func(context.Context, *Job) error { return errors.New("nope") })
	require.NoError(t, err)

	q.Maintain(ctx)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Completed, "only the newest two are kept")
	assert.Equal(t, int64(1), stats.Failed)
	_, err = q.Get(ctx, "meta-ok_3")
	assert.NoError(t, err)
	_, err = q.Get(ctx, "meta-ok_0")
	assert.ErrorIs(t, err, ErrJobNotFound)

	// one hour later every completed job is past retention
	clock.Advance(time.Hour)
	q.Maintain(ctx)
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)

	// failed jobs stay until archived
	clock.Advance(7 * 24 * time.Hour)
	q.Maintain(ctx)
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)

	archiver.mu.Lock()
	archiver.err = nil
	archiver.mu.Unlock()
	q.Maintain(ctx)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, []string{"meta-bad"}, archiver.archived)
}

// staleStore loses every transition, as if another worker took the job over
type staleStore struct {
	*MemoryStore
}

func (s staleStore) Transition(context.Context, *Job, State, int) error {
	return ErrStaleJob
}

func TestQueue_LostLeaseEmitsNothing(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q, rec := newTestQueue(t, staleStore{NewMemoryStore()}, clock)

	_, err := q.Enqueue(ctx, "meta-evt_1", "payload")
	require.NoError(t, err)

	ran, err := q.ProcessNext(ctx, func(context.Context, *Job) error { return Permanent(errors.New("bad")) })
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Empty(t, rec.all())
}

func TestQueue_Process_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	opts := DefaultOptions()
	opts.PollInterval = 10 * time.Millisecond
	q := New("meta", store, opts)

	const jobs = 50
	for i := 0; i < jobs; i++ {
		_, err := q.Enqueue(context.Background(), fmt.Sprintf("meta-evt_%d", i), i)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var done atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Process(ctx, func(_ context.Context, job *Job) error {
			mu.Lock()
			seen[job.ID]++
			mu.Unlock()
			done.Add(1)
			return nil
		}, 4)
	}()

	require.Eventually(t, func() bool { return done.Load() == jobs }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Process did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s ran %d times", id, n)
	}

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(jobs), stats.Completed)
}

func TestQueue_Process_RequiresHandler(t *testing.T) {
	q := New("meta", NewMemoryStore(), DefaultOptions())
	assert.Error(t, q.Process(context.Background(), nil, 1))
}
