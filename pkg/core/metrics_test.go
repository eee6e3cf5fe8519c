package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamCountersSnapshot(t *testing.T) {
	var c StreamCounters
	c.ConnectionAccepted()
	c.ConnectionAccepted()
	c.ConnectionClosed()
	c.AddBytesReceived(100)
	c.AddBytesReceived(50)
	c.AddBytesSent(75)
	c.FileCompleted()
	c.Error()

	m := c.Snapshot()
	assert.Equal(t, uint64(2), m.ConnectionsAccepted)
	assert.Equal(t, uint64(1), m.ConnectionsClosed)
	assert.Equal(t, uint64(150), m.BytesReceived)
	assert.Equal(t, uint64(75), m.BytesSent)
	assert.Equal(t, uint64(1), m.FilesCompleted)
	assert.Equal(t, uint64(1), m.Errors)
}

func TestStreamCountersConcurrent(t *testing.T) {
	var c StreamCounters
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.ConnectionAccepted()
				c.AddBytesReceived(3)
			}
		}()
	}
	wg.Wait()

	m := c.Snapshot()
	assert.Equal(t, uint64(8000), m.ConnectionsAccepted)
	assert.Equal(t, uint64(24000), m.BytesReceived)
}
