package queue

import (
	"context"
	"time"
)

// Store persists jobs. Implementations must make Claim exclusive: a job is
// handed to at most one caller per lease.
type Store interface {
	// Add inserts a job unless a job with the same ID exists, in any state.
	// It reports whether the job was inserted.
	Add(ctx context.Context, job *Job) (bool, error)
	// Claim moves up to limit runnable jobs (waiting, or delayed and due) to
	// active, increments their attempts and leases them until now+lease.
	Claim(ctx context.Context, queue string, now time.Time, lease time.Duration, limit int) ([]*Job, error)
	// Transition writes the job's state fields and payload if the stored job
	// is still in state from with the given attempts, else ErrStaleJob.
	Transition(ctx context.Context, job *Job, from State, attempts int) error
	// Get returns a job by ID, or ErrJobNotFound
	Get(ctx context.Context, id string) (*Job, error)
	// Counts returns the number of jobs per state in a queue
	Counts(ctx context.Context, queue string) (map[State]int64, error)
	// FindStalled returns active jobs whose lease ended before now
	FindStalled(ctx context.Context, queue string, now time.Time, limit int) ([]*Job, error)
	// FindEvictable returns jobs in a final state that finished before
	// before, or that fall outside the keep most recent (keep <= 0 keeps all).
	FindEvictable(ctx context.Context, queue string, state State, before time.Time, keep, limit int) ([]*Job, error)
	// Delete removes jobs by ID
	Delete(ctx context.Context, ids []string) (int64, error)
}

// Stats is the per-state job count of one queue
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Archiver receives failed jobs right before retention deletes them
type Archiver interface {
	Archive(ctx context.Context, queue string, jobs []*Job) error
}
