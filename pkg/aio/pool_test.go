package aio

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBounds(t *testing.T) {
	_, err := NewPool(0, 4)
	assert.Error(t, err)

	_, err = NewPool(1, MaxWorkers+1)
	assert.Error(t, err)

	_, err = NewPool(4, 1)
	assert.Error(t, err)

	p, err := NewPool(MinWorkers, DefaultWorkers)
	require.NoError(t, err)
	p.Shutdown()
}

func TestPoolSubmitOrder(t *testing.T) {
	// A single worker drains the queue strictly in FIFO order.
	p, err := NewPool(1, 1)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, p.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	p.Shutdown()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPoolShutdownWaitsForRunningTasks(t *testing.T) {
	p, err := NewPool(1, 2)
	require.NoError(t, err)

	var done atomic.Bool
	require.NoError(t, p.Submit(func() {
		time.Sleep(100 * time.Millisecond)
		done.Store(true)
	}))

	p.Shutdown()
	assert.True(t, done.Load(), "Shutdown returned before the running task finished")
}

func TestPoolSubmitAfterShutdown(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)
	p.Shutdown()

	err = p.Submit(func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolConcurrentSubmitters(t *testing.T) {
	p, err := NewPool(1, 8)
	require.NoError(t, err)

	var count atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				p.Submit(func() { count.Add(1) })
			}
		}()
	}
	wg.Wait()
	p.Shutdown()
	assert.Equal(t, int64(800), count.Load())
}
