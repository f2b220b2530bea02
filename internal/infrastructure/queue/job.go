// Package queue is a durable work queue with per-job retry, exponential
// backoff, lease-based claiming and terminal-failure signals.
//
// A job's ID is its idempotency key: while a job with some ID is retained in
// any state, enqueuing the same ID again is a no-op.
package queue

import (
	"errors"
	"time"
)

// State is the lifecycle state of a job
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Default retry configuration
const (
	DefaultMaxAttempts = 5
	DefaultBackoffBase = time.Second
)

var (
	ErrJobNotFound       = errors.New("queue: job not found")
	ErrJobNotCancellable = errors.New("queue: only waiting or delayed jobs can be cancelled")
	// ErrStaleJob is returned when a transition loses to another worker,
	// typically because the lease expired and the job was claimed again
	ErrStaleJob = errors.New("queue: job changed since it was read")
)

// IsFinal reports whether no further attempt will be made
func (s State) IsFinal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is a queued unit of work
type Job struct {
	ID          string
	Queue       string
	Payload     []byte
	State       State
	Attempts    int // attempts started so far
	MaxAttempts int
	BackoffBase time.Duration
	AvailableAt time.Time
	LockedUntil *time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
}

// NewJob creates a waiting job available immediately
func NewJob(queue, id string, payload []byte, maxAttempts int, backoffBase time.Duration, now time.Time) *Job {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if backoffBase < 0 {
		backoffBase = DefaultBackoffBase
	}
	return &Job{
		ID:          id,
		Queue:       queue,
		Payload:     payload,
		State:       StateWaiting,
		MaxAttempts: maxAttempts,
		BackoffBase: backoffBase,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Backoff returns the delay before the next attempt: base * 2^(attempts-1)
func (j *Job) Backoff() time.Duration {
	if j.Attempts <= 1 {
		return j.BackoffBase
	}
	shift := j.Attempts - 1
	if shift > 30 {
		shift = 30
	}
	return j.BackoffBase * time.Duration(1<<uint(shift))
}

// HasAttemptsLeft reports whether a retryable failure may be retried
func (j *Job) HasAttemptsLeft() bool {
	return j.Attempts < j.MaxAttempts
}

// IsFirstAttempt reports whether the currently running attempt is the first
func (j *Job) IsFirstAttempt() bool {
	return j.Attempts <= 1
}

// markCompleted finishes the job successfully
func (j *Job) markCompleted(now time.Time) {
	j.State = StateCompleted
	j.LockedUntil = nil
	j.LastError = ""
	j.FinishedAt = &now
	j.UpdatedAt = now
}

// markRetry schedules the next attempt after the backoff delay
func (j *Job) markRetry(errMsg string, now time.Time) {
	j.State = StateDelayed
	j.LockedUntil = nil
	j.LastError = errMsg
	j.AvailableAt = now.Add(j.Backoff())
	j.UpdatedAt = now
}

// markFailed finishes the job with no further attempts
func (j *Job) markFailed(errMsg string, now time.Time) {
	j.State = StateFailed
	j.LockedUntil = nil
	j.LastError = errMsg
	j.FinishedAt = &now
	j.UpdatedAt = now
}

// markRequeued returns an abandoned active job to the waiting state
func (j *Job) markRequeued(now time.Time) {
	j.State = StateWaiting
	j.LockedUntil = nil
	j.AvailableAt = now
	j.UpdatedAt = now
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append([]byte(nil), j.Payload...)
	}
	if j.LockedUntil != nil {
		t := *j.LockedUntil
		c.LockedUntil = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
