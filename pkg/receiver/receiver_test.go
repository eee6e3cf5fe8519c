package receiver

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/streamline/pkg/sockaddr"
)

type testReceiver struct {
	r       *Receiver
	staging string
	final   string
}

func startReceiver(t *testing.T, fileSize int64, fileAge, timeout time.Duration) testReceiver {
	t.Helper()
	staging := t.TempDir()
	final := t.TempDir()
	r, err := New(Config{
		Listen:      sockaddr.IPv4(net.ParseIP("127.0.0.1"), 0),
		StagingDir:  staging,
		FinalDir:    final,
		Workers:     8,
		Connections: 4,
		Timeout:     timeout,
		FileSize:    fileSize,
		FileAge:     fileAge,
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Stop() })
	return testReceiver{r: r, staging: staging, final: final}
}

func spoolSeq(name string) int {
	var slot, seq int
	fmt.Sscanf(name, "file-%d-%d.bin", &slot, &seq)
	return seq
}

// spoolContents concatenates every file in dir in sequence order.
func spoolContents(t *testing.T, dir string) []byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Slice(names, func(i, j int) bool {
		return spoolSeq(names[i]) < spoolSeq(names[j])
	})
	var out []byte
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		out = append(out, data...)
	}
	return out
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	staging := t.TempDir()
	final := t.TempDir()
	base := Config{
		Listen:      sockaddr.IPv4(net.ParseIP("127.0.0.1"), 0),
		StagingDir:  staging,
		FinalDir:    final,
		Workers:     4,
		Connections: 4,
		Timeout:     time.Second,
		FileSize:    4096,
		FileAge:     time.Second,
	}

	for name, mutate := range map[string]func(*Config){
		"workers":     func(c *Config) { c.Workers = 0 },
		"connections": func(c *Config) { c.Connections = 0 },
		"timeout":     func(c *Config) { c.Timeout = 0 },
		"file size":   func(c *Config) { c.FileSize = 0 },
		"file age":    func(c *Config) { c.FileAge = 0 },
		"same dirs":   func(c *Config) { c.FinalDir = c.StagingDir },
	} {
		cfg := base
		mutate(&cfg)
		_, err := New(cfg)
		assert.Error(t, err, name)
	}
}

func TestReceiverPersistsConnectionBytes(t *testing.T) {
	tr := startReceiver(t, 32*1024*1024, time.Hour, 5*time.Second)

	payload := make([]byte, 10*1024)
	for i := range payload {
		payload[i] = byte(i * 13)
	}

	conn, err := net.Dial("tcp", tr.r.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		return len(spoolContents(t, tr.final)) == len(payload)
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, payload, spoolContents(t, tr.final))
	assert.Equal(t, 0, countFiles(t, tr.staging), "staging must be drained")

	m := tr.r.Metrics()
	assert.GreaterOrEqual(t, m.FilesCompleted, uint64(1))
	assert.GreaterOrEqual(t, m.BytesReceived, uint64(len(payload)))
}

func TestReceiverRotatesBySize(t *testing.T) {
	tr := startReceiver(t, 4096, time.Hour, 5*time.Second)

	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i)
	}

	conn, err := net.Dial("tcp", tr.r.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		return len(spoolContents(t, tr.final)) == len(payload)
	}, 5*time.Second, 20*time.Millisecond)

	assert.GreaterOrEqual(t, countFiles(t, tr.final), 2,
		"payload larger than the size bound must span multiple files")
	assert.Equal(t, payload, spoolContents(t, tr.final))
}

func TestReceiverRotatesByAge(t *testing.T) {
	tr := startReceiver(t, 32*1024*1024, 300*time.Millisecond, 30*time.Second)

	conn, err := net.Dial("tcp", tr.r.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("aged out"))
	require.NoError(t, err)

	// The open file rotates into the final directory while the
	// connection stays up.
	require.Eventually(t, func() bool {
		return countFiles(t, tr.final) >= 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []byte("aged out"), spoolContents(t, tr.final))
}

func TestReceiverEmptyConnectionLeavesNoFile(t *testing.T) {
	tr := startReceiver(t, 32*1024*1024, time.Hour, 5*time.Second)

	conn, err := net.Dial("tcp", tr.r.Addr().String())
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		return tr.r.Metrics().ConnectionsClosed >= 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, countFiles(t, tr.final))
	assert.Equal(t, 0, countFiles(t, tr.staging))
}

func TestReceiverIdleTimeoutClosesConnection(t *testing.T) {
	tr := startReceiver(t, 32*1024*1024, time.Hour, 300*time.Millisecond)

	conn, err := net.Dial("tcp", tr.r.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("then silence"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "idle connection must be torn down by the watchdog")

	require.Eventually(t, func() bool {
		return len(spoolContents(t, tr.final)) == len("then silence")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReceiverServesConcurrentConnections(t *testing.T) {
	tr := startReceiver(t, 32*1024*1024, time.Hour, 5*time.Second)

	const conns = 4
	const perConn = 2048
	for i := 0; i < conns; i++ {
		conn, err := net.Dial("tcp", tr.r.Addr().String())
		require.NoError(t, err)
		_, err = conn.Write(make([]byte, perConn))
		require.NoError(t, err)
		conn.Close()
	}

	require.Eventually(t, func() bool {
		m := tr.r.Metrics()
		return m.ConnectionsClosed >= conns && m.BytesReceived >= conns*perConn
	}, 5*time.Second, 20*time.Millisecond)
	assert.Len(t, spoolContents(t, tr.final), conns*perConn)
}
