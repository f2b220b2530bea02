package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Jobs are lost on restart, so it is
// only suitable for development and tests.
type MemoryStore struct {
	jobs map[string]*Job
	mu   sync.Mutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Add implements Store
func (s *MemoryStore) Add(_ context.Context, job *Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return false, nil
	}
	s.jobs[job.ID] = job.Clone()
	return true, nil
}

// Claim implements Store
func (s *MemoryStore) Claim(_ context.Context, queue string, now time.Time, lease time.Duration, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var runnable []*Job
	for _, j := range s.jobs {
		if j.Queue != queue {
			continue
		}
		if (j.State == StateWaiting || j.State == StateDelayed) && !j.AvailableAt.After(now) {
			runnable = append(runnable, j)
		}
	}
	sort.Slice(runnable, func(a, b int) bool {
		if runnable[a].AvailableAt.Equal(runnable[b].AvailableAt) {
			return runnable[a].CreatedAt.Before(runnable[b].CreatedAt)
		}
		return runnable[a].AvailableAt.Before(runnable[b].AvailableAt)
	})
	if limit > 0 && len(runnable) > limit {
		runnable = runnable[:limit]
	}

	until := now.Add(lease)
	claimed := make([]*Job, 0, len(runnable))
	for _, j := range runnable {
		j.State = StateActive
		j.Attempts++
		j.LockedUntil = &until
		j.UpdatedAt = now
		claimed = append(claimed, j.Clone())
	}
	return claimed, nil
}

// Transition implements Store
func (s *MemoryStore) Transition(_ context.Context, job *Job, from State, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	if cur.State != from || cur.Attempts != attempts {
		return ErrStaleJob
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

// Counts implements Store
func (s *MemoryStore) Counts(_ context.Context, queue string) (map[State]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[State]int64)
	for _, j := range s.jobs {
		if j.Queue == queue {
			counts[j.State]++
		}
	}
	return counts, nil
}

// FindStalled implements Store
func (s *MemoryStore) FindStalled(_ context.Context, queue string, now time.Time, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.jobs {
		if j.Queue == queue && j.State == StateActive && j.LockedUntil != nil && j.LockedUntil.Before(now) {
			out = append(out, j.Clone())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// FindEvictable implements Store
func (s *MemoryStore) FindEvictable(_ context.Context, queue string, state State, before time.Time, keep, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finished []*Job
	for _, j := range s.jobs {
		if j.Queue == queue && j.State == state && j.FinishedAt != nil {
			finished = append(finished, j)
		}
	}
	// newest first
	sort.Slice(finished, func(a, b int) bool { return finished[a].FinishedAt.After(*finished[b].FinishedAt) })

	var out []*Job
	for i, j := range finished {
		if j.FinishedAt.Before(before) || (keep > 0 && i >= keep) {
			out = append(out, j.Clone())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Delete implements Store
func (s *MemoryStore) Delete(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := s.jobs[id]; ok {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
