// Package receiver implements a TCP receiver that persists every byte of
// each accepted connection into size- and age-rotated files.
package receiver

import (
	"fmt"
	"net"
	"time"

	"github.com/irctrakz/streamline/pkg/aio"
	"github.com/irctrakz/streamline/pkg/config"
	"github.com/irctrakz/streamline/pkg/core"
	"github.com/irctrakz/streamline/pkg/logging"
	"github.com/irctrakz/streamline/pkg/sockaddr"
)

// Config contains the receiver configuration. Bound checking against the
// documented property ranges happens at the config layer; New only rejects
// values the engine cannot run with.
type Config struct {
	// Listen is the endpoint connections are accepted on.
	Listen sockaddr.Endpoint

	// StagingDir receives files while they are being written.
	StagingDir string

	// FinalDir receives finished files via atomic rename.
	FinalDir string

	// Workers is the worker pool size.
	Workers int

	// Connections is the number of pre-armed ingest slots.
	Connections int

	// Timeout is the idle watchdog timeout per connection.
	Timeout time.Duration

	// FileSize is the size at which a file is rotated.
	FileSize int64

	// FileAge is the age at which a file is rotated.
	FileAge time.Duration
}

// Receiver accepts connections and spools their payload to disk.
type Receiver struct {
	cfg      Config
	pool     *aio.Pool
	acceptor *aio.Acceptor
	counters core.StreamCounters
}

// New creates a receiver for the given configuration. The staging and
// final directories must exist and differ.
func New(cfg Config) (*Receiver, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("receiver: invalid worker count %d", cfg.Workers)
	}
	if cfg.Connections < 1 {
		return nil, fmt.Errorf("receiver: invalid connection count %d", cfg.Connections)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("receiver: invalid timeout %v", cfg.Timeout)
	}
	if cfg.FileSize < 1 {
		return nil, fmt.Errorf("receiver: invalid file size %d", cfg.FileSize)
	}
	if cfg.FileAge <= 0 {
		return nil, fmt.Errorf("receiver: invalid file age %v", cfg.FileAge)
	}
	if err := config.ValidateSpoolDirs(cfg.StagingDir, cfg.FinalDir); err != nil {
		return nil, err
	}
	return &Receiver{cfg: cfg}, nil
}

// Start binds the listen endpoint and arms the ingest slots.
func (r *Receiver) Start() error {
	pool, err := aio.NewPool(aio.MinWorkers, r.cfg.Workers)
	if err != nil {
		return err
	}
	acceptor, err := aio.NewAcceptor(pool, r.cfg.Listen, r.cfg.Connections,
		func(pool *aio.Pool, listener *aio.Socket, index int) (aio.Session, error) {
			return newIngest(r, pool, listener, index), nil
		})
	if err != nil {
		pool.Shutdown()
		return err
	}
	r.pool = pool
	r.acceptor = acceptor
	logging.Infof("receiver: listening on %s, staging %s, final %s (%d slots)",
		acceptor.Addr(), r.cfg.StagingDir, r.cfg.FinalDir, r.cfg.Connections)
	return nil
}

// Stop tears down the acceptor and drains the worker pool.
func (r *Receiver) Stop() error {
	if r.acceptor != nil {
		r.acceptor.Close()
		r.acceptor = nil
	}
	if r.pool != nil {
		r.pool.Shutdown()
		r.pool = nil
	}
	logging.Infof("receiver: stopped")
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (r *Receiver) Addr() net.Addr {
	if r.acceptor == nil {
		return nil
	}
	return r.acceptor.Addr()
}

// Metrics returns a snapshot of the receiver counters.
func (r *Receiver) Metrics() core.StreamMetrics {
	return r.counters.Snapshot()
}
