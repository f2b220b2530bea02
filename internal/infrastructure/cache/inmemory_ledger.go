package cache

import (
	"context"
	"sync"
	"time"

	"github.com/funnelvalue/conversions/internal/domain/conversion"
)

const cleanupInterval = 5 * time.Minute

// InMemoryDeliveryLedger implements conversion.DeliveryLedger in process memory.
// State is not shared between processes.
type InMemoryDeliveryLedger struct {
	mu        sync.RWMutex
	entries   map[string]time.Time // key -> expiry
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryDeliveryLedger creates a ledger and starts its expiry sweeper
func NewInMemoryDeliveryLedger() *InMemoryDeliveryLedger {
	l := &InMemoryDeliveryLedger{
		entries:  make(map[string]time.Time),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.cleanupLoop()

	return l
}

// MarkDelivered records the job key until now+ttl
func (l *InMemoryDeliveryLedger) MarkDelivered(_ context.Context, jobKey string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.entries[jobKey]; ok && now.Before(exp) {
		return false, nil
	}
	l.entries[jobKey] = now.Add(ttl)
	return true, nil
}

// IsDelivered reports whether the key is recorded and not expired
func (l *InMemoryDeliveryLedger) IsDelivered(_ context.Context, jobKey string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	exp, ok := l.entries[jobKey]
	return ok && l.now().Before(exp), nil
}

// Close stops the sweeper. Safe to call multiple times.
func (l *InMemoryDeliveryLedger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()
	})
	return nil
}

// Size returns the number of stored keys, expired ones included until swept
func (l *InMemoryDeliveryLedger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *InMemoryDeliveryLedger) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *InMemoryDeliveryLedger) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, exp := range l.entries {
		if !now.Before(exp) {
			delete(l.entries, key)
		}
	}
}

var _ conversion.DeliveryLedger = (*InMemoryDeliveryLedger)(nil)
