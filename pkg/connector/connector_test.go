package connector

import (
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/streamline/pkg/sockaddr"
)

// startSink runs a TCP server that drains and counts every byte it is
// sent.
func startSink(t *testing.T) (sockaddr.Endpoint, *atomic.Int64) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	var received atomic.Int64
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				buf := make([]byte, 32*1024)
				for {
					n, err := c.Read(buf)
					received.Add(int64(n))
					if err != nil {
						c.Close()
						return
					}
				}
			}()
		}
	}()

	ep, err := sockaddr.Parse(ln.Addr().String())
	require.NoError(t, err)
	return ep, &received
}

func TestConnectorDeliversAllPayloads(t *testing.T) {
	ep, received := startSink(t)

	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i)
	}

	c, err := New(Config{
		Address:     ep,
		Connections: 4,
		Transfers:   3,
		Loops:       2,
		Payload:     payload,
		Workers:     8,
	})
	require.NoError(t, err)
	require.NoError(t, c.Run())

	total := int64(4 * 3 * 2 * len(payload))
	m := c.Metrics()
	assert.Equal(t, uint64(total), m.BytesSent)
	assert.Equal(t, uint64(4*2), m.ConnectionsClosed)
	assert.Equal(t, uint64(0), m.Errors)

	assert.Eventually(t, func() bool {
		return received.Load() == total
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConnectorSingleShot(t *testing.T) {
	ep, received := startSink(t)

	c, err := New(Config{
		Address:     ep,
		Connections: 1,
		Transfers:   1,
		Loops:       1,
		Payload:     []byte("one shot"),
	})
	require.NoError(t, err)
	require.NoError(t, c.Run())

	assert.Eventually(t, func() bool {
		return received.Load() == int64(len("one shot"))
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConnectorRefusedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ep, err := sockaddr.Parse(ln.Addr().String())
	require.NoError(t, err)
	ln.Close()

	c, err := New(Config{
		Address:     ep,
		Connections: 2,
		Transfers:   1,
		Loops:       1,
		Payload:     []byte("x"),
	})
	require.NoError(t, err)
	require.NoError(t, c.Run())

	m := c.Metrics()
	assert.GreaterOrEqual(t, m.Errors, uint64(1))
	assert.Equal(t, uint64(0), m.BytesSent)
}

func TestNewValidation(t *testing.T) {
	ep, _ := sockaddr.Parse("127.0.0.1:9")
	base := Config{
		Address:     ep,
		Connections: 1,
		Transfers:   1,
		Loops:       1,
		Payload:     []byte("x"),
	}

	for name, mutate := range map[string]func(*Config){
		"connections low":  func(c *Config) { c.Connections = 0 },
		"connections high": func(c *Config) { c.Connections = MaxConnections + 1 },
		"transfers low":    func(c *Config) { c.Transfers = 0 },
		"transfers high":   func(c *Config) { c.Transfers = MaxTransfers + 1 },
		"loops low":        func(c *Config) { c.Loops = 0 },
		"loops high":       func(c *Config) { c.Loops = MaxLoops + 1 },
		"payload empty":    func(c *Config) { c.Payload = nil },
	} {
		cfg := base
		mutate(&cfg)
		_, err := New(cfg)
		assert.Error(t, err, name)
	}
}

func TestSyntheticPayload(t *testing.T) {
	p, err := SyntheticPayload(16)
	require.NoError(t, err)
	assert.Len(t, p, 16)
	for _, b := range p {
		assert.Equal(t, byte('A'), b)
	}

	_, err = SyntheticPayload(0)
	assert.Error(t, err)
	_, err = SyntheticPayload(MaxPayloadBytes + 1)
	assert.Error(t, err)
}

func TestFilePayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte("file bytes"), 0644))

	p, err := FilePayload(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("file bytes"), p)

	_, err = FilePayload(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = FilePayload(empty)
	assert.Error(t, err)
}
