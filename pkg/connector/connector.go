// Package connector implements a connect/send load generator used to
// exercise the proxy and receiver services.
package connector

import (
	"bytes"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/irctrakz/streamline/pkg/aio"
	"github.com/irctrakz/streamline/pkg/core"
	"github.com/irctrakz/streamline/pkg/logging"
	"github.com/irctrakz/streamline/pkg/sockaddr"
)

// Property bounds.
const (
	MinConnections     = 1
	DefaultConnections = 4
	MaxConnections     = 4096

	MinTransfers     = 1
	DefaultTransfers = 1
	MaxTransfers     = 1000000

	MinLoops     = 1
	DefaultLoops = 1
	MaxLoops     = 1000000

	MinPayloadBytes = 1
	MaxPayloadBytes = 64 * 1024 * 1024
)

// Config contains the load generator configuration.
type Config struct {
	// Address is the endpoint every connection dials.
	Address sockaddr.Endpoint

	// Connections is the number of concurrent connections.
	Connections int

	// Transfers is the number of payload sends per connection per loop.
	Transfers int

	// Loops is the number of connect/send/disconnect cycles per
	// connection.
	Loops int

	// Payload is the data sent by each transfer.
	Payload []byte

	// Workers is the worker pool size.
	Workers int
}

// SyntheticPayload builds a payload of size repeated 'A' bytes.
func SyntheticPayload(size int) ([]byte, error) {
	if size < MinPayloadBytes || size > MaxPayloadBytes {
		return nil, fmt.Errorf("payload size %d out of range %d..%d",
			size, MinPayloadBytes, MaxPayloadBytes)
	}
	return bytes.Repeat([]byte{'A'}, size), nil
}

// FilePayload loads a payload from path.
func FilePayload(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("payload file %s: %w", path, err)
	}
	if len(data) < MinPayloadBytes || len(data) > MaxPayloadBytes {
		return nil, fmt.Errorf("payload file %s: size %d out of range %d..%d",
			path, len(data), MinPayloadBytes, MaxPayloadBytes)
	}
	return data, nil
}

// Connector drives Connections concurrent connections through Loops
// cycles of connect, Transfers sends of the payload, and disconnect.
type Connector struct {
	cfg      Config
	pool     *aio.Pool
	conns    []*conn
	live     atomic.Int32
	done     chan struct{}
	counters core.StreamCounters
}

// New creates a connector for the given configuration.
func New(cfg Config) (*Connector, error) {
	if cfg.Connections < MinConnections || cfg.Connections > MaxConnections {
		return nil, fmt.Errorf("connections %d out of range %d..%d",
			cfg.Connections, MinConnections, MaxConnections)
	}
	if cfg.Transfers < MinTransfers || cfg.Transfers > MaxTransfers {
		return nil, fmt.Errorf("transfers %d out of range %d..%d",
			cfg.Transfers, MinTransfers, MaxTransfers)
	}
	if cfg.Loops < MinLoops || cfg.Loops > MaxLoops {
		return nil, fmt.Errorf("loops %d out of range %d..%d",
			cfg.Loops, MinLoops, MaxLoops)
	}
	if len(cfg.Payload) < MinPayloadBytes || len(cfg.Payload) > MaxPayloadBytes {
		return nil, fmt.Errorf("payload size %d out of range %d..%d",
			len(cfg.Payload), MinPayloadBytes, MaxPayloadBytes)
	}
	if cfg.Workers < 1 {
		cfg.Workers = aio.DefaultWorkers
	}
	return &Connector{cfg: cfg}, nil
}

// Run starts every connection and blocks until the last one finishes its
// last loop.
func (c *Connector) Run() error {
	pool, err := aio.NewPool(aio.MinWorkers, c.cfg.Workers)
	if err != nil {
		return err
	}
	c.pool = pool
	c.done = make(chan struct{})
	c.live.Store(int32(c.cfg.Connections))

	logging.Infof("connector: %d connections x %d transfers x %d loops x %d bytes to %s",
		c.cfg.Connections, c.cfg.Transfers, c.cfg.Loops, len(c.cfg.Payload),
		c.cfg.Address.String())

	for i := 0; i < c.cfg.Connections; i++ {
		cn := &conn{c: c, index: i}
		cn.sock = aio.NewSocket(pool, cn.event)
		c.conns = append(c.conns, cn)
	}
	for _, cn := range c.conns {
		cn.start()
	}

	<-c.done
	pool.Shutdown()
	logging.Infof("connector: done")
	return nil
}

// Metrics returns a snapshot of the connector counters.
func (c *Connector) Metrics() core.StreamMetrics {
	return c.counters.Snapshot()
}

// conn is one generator connection cycling through its loops.
type conn struct {
	c     *Connector
	index int
	sock  *aio.Socket

	sending       []byte
	transfersDone int
	loopsDone     int
	failed        bool
}

func (cn *conn) start() {
	if err := cn.sock.Connect(cn.c.cfg.Address); err != nil {
		logging.Errorf("connector %d: connect arm failed: %v", cn.index, err)
		cn.c.counters.Error()
		cn.finish()
	}
}

func (cn *conn) event(op aio.Operation, err error, n int) {
	switch op {
	case aio.OpConnect:
		cn.connected(err)
	case aio.OpSend:
		cn.sent(err, n)
	case aio.OpDisconnect:
		cn.disconnected()
	}
}

func (cn *conn) connected(err error) {
	if err != nil {
		if !aio.Canceled(err) {
			logging.Errorf("connector %d: connect failed: %v", cn.index, err)
			cn.c.counters.Error()
		}
		cn.finish()
		return
	}
	cn.c.counters.ConnectionAccepted()
	cn.transfersDone = 0
	cn.sendNext()
}

func (cn *conn) sendNext() {
	cn.sending = cn.c.cfg.Payload
	if err := cn.sock.Send(cn.sending); err != nil {
		cn.failed = true
		cn.sock.Disconnect()
	}
}

func (cn *conn) sent(err error, n int) {
	if err != nil {
		if !aio.Canceled(err) {
			logging.Errorf("connector %d: send failed: %v", cn.index, err)
			cn.c.counters.Error()
		}
		cn.failed = true
		cn.sock.Disconnect()
		return
	}
	cn.c.counters.AddBytesSent(n)
	cn.sending = cn.sending[n:]
	if len(cn.sending) > 0 {
		if serr := cn.sock.Send(cn.sending); serr != nil {
			cn.failed = true
			cn.sock.Disconnect()
		}
		return
	}
	cn.transfersDone++
	if cn.transfersDone < cn.c.cfg.Transfers {
		cn.sendNext()
		return
	}
	cn.sock.Disconnect()
}

func (cn *conn) disconnected() {
	cn.c.counters.ConnectionClosed()
	cn.loopsDone++
	if cn.failed || cn.loopsDone >= cn.c.cfg.Loops {
		cn.finish()
		return
	}
	cn.failed = false
	cn.start()
}

func (cn *conn) finish() {
	if cn.c.live.Add(-1) == 0 {
		close(cn.c.done)
	}
}
