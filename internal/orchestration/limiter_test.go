package orchestration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AcquireRelease(t *testing.T) {
	l := NewLimiter(2)
	assert.Equal(t, 2, l.Capacity())

	a, err := l.Acquire(context.Background())
	require.NoError(t, err)
	b, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, l.InUse())

	_, ok := l.TryAcquire()
	assert.False(t, ok, "limiter is full")

	a.Release()
	a.Release() // idempotent
	assert.Equal(t, 1, l.InUse())

	c, ok := l.TryAcquire()
	require.True(t, ok)
	assert.Equal(t, 2, l.InUse())

	b.Release()
	c.Release()
	assert.Zero(t, l.InUse())

	// a double release must not have freed an extra slot
	x, _ := l.TryAcquire()
	y, _ := l.TryAcquire()
	_, ok = l.TryAcquire()
	assert.False(t, ok)
	x.Release()
	y.Release()
}

func TestLimiter_AcquireBlocksUntilRelease(t *testing.T) {
	l := NewLimiter(1)
	held, err := l.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		s, err := l.Acquire(context.Background())
		if err == nil {
			close(acquired)
			s.Release()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must block while the slot is held")
	case <-time.After(20 * time.Millisecond):
	}

	held.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestLimiter_AcquireCanceled(t *testing.T) {
	l := NewLimiter(1)
	held, _ := l.TryAcquire()
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slot, err := l.Acquire(ctx)
	assert.Error(t, err)
	assert.Nil(t, slot)
	assert.Equal(t, 1, l.InUse())
}

func TestLimiter_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultMaxConcurrentWorkflows, NewLimiter(0).Capacity())
	assert.Equal(t, DefaultMaxConcurrentWorkflows, NewLimiter(-3).Capacity())

	var nilSlot *Slot
	assert.NotPanics(t, nilSlot.Release)
}
