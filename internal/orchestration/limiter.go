package orchestration

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"bizagents/internal/metrics"
	"bizagents/pkg/errors"
)

// DefaultMaxConcurrentWorkflows is used when the configured limit is below 1
const DefaultMaxConcurrentWorkflows = 4

// Limiter bounds how many workflows execute at once across the process.
// It knows nothing about workflows beyond slot counting.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
	inUse    atomic.Int64
}

// NewLimiter creates a Limiter allowing at most capacity concurrent slots
func NewLimiter(capacity int) *Limiter {
	if capacity < 1 {
		capacity = DefaultMaxConcurrentWorkflows
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Slot is a held unit of concurrency. Release is idempotent.
type Slot struct {
	limiter *Limiter
	once    sync.Once
}

// Release returns the slot to the limiter
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.limiter.inUse.Add(-1)
		metrics.WorkflowSlotsInUse.Dec()
		s.limiter.sem.Release(1)
	})
}

// Acquire blocks until a slot is free or ctx is done
func (l *Limiter) Acquire(ctx context.Context) (*Slot, error) {
	start := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "acquire workflow slot")
	}
	metrics.WorkflowSlotWait.Observe(time.Since(start).Seconds())
	return l.held(), nil
}

// TryAcquire takes a slot only if one is free right now
func (l *Limiter) TryAcquire() (*Slot, bool) {
	if !l.sem.TryAcquire(1) {
		return nil, false
	}
	return l.held(), true
}

func (l *Limiter) held() *Slot {
	l.inUse.Add(1)
	metrics.WorkflowSlotsInUse.Inc()
	return &Slot{limiter: l}
}

// Capacity returns the maximum number of concurrent slots
func (l *Limiter) Capacity() int {
	return l.capacity
}

// InUse returns the number of slots currently held
func (l *Limiter) InUse() int {
	return int(l.inUse.Load())
}
