// Package proxy implements a transparent TCP relay built on the
// asynchronous connection engine.
package proxy

import (
	"fmt"
	"net"
	"time"

	"github.com/irctrakz/streamline/pkg/aio"
	"github.com/irctrakz/streamline/pkg/core"
	"github.com/irctrakz/streamline/pkg/logging"
	"github.com/irctrakz/streamline/pkg/sockaddr"
)

// Config contains the proxy configuration. Bound checking against the
// documented property ranges happens at the config layer; New only rejects
// values the engine cannot run with.
type Config struct {
	// Listen is the endpoint the proxy accepts client connections on.
	Listen sockaddr.Endpoint

	// Remote is the endpoint every accepted connection is relayed to.
	Remote sockaddr.Endpoint

	// Workers is the worker pool size.
	Workers int

	// Connections is the number of pre-armed relay slots.
	Connections int

	// Timeout is the watchdog timeout covering connect and send
	// progress.
	Timeout time.Duration
}

// Proxy relays accepted connections to a remote endpoint.
type Proxy struct {
	cfg      Config
	pool     *aio.Pool
	acceptor *aio.Acceptor
	counters core.StreamCounters
}

// New creates a proxy for the given configuration.
func New(cfg Config) (*Proxy, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("proxy: invalid worker count %d", cfg.Workers)
	}
	if cfg.Connections < 1 {
		return nil, fmt.Errorf("proxy: invalid connection count %d", cfg.Connections)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("proxy: invalid timeout %v", cfg.Timeout)
	}
	return &Proxy{cfg: cfg}, nil
}

// Start binds the listen endpoint and arms the relay slots.
func (p *Proxy) Start() error {
	pool, err := aio.NewPool(aio.MinWorkers, p.cfg.Workers)
	if err != nil {
		return err
	}
	acceptor, err := aio.NewAcceptor(pool, p.cfg.Listen, p.cfg.Connections,
		func(pool *aio.Pool, listener *aio.Socket, index int) (aio.Session, error) {
			return newRelay(p, pool, listener, index), nil
		})
	if err != nil {
		pool.Shutdown()
		return err
	}
	p.pool = pool
	p.acceptor = acceptor
	logging.Infof("proxy: listening on %s, relaying to %s (%d slots)",
		acceptor.Addr(), p.cfg.Remote.String(), p.cfg.Connections)
	return nil
}

// Stop tears down the acceptor and drains the worker pool.
func (p *Proxy) Stop() error {
	if p.acceptor != nil {
		p.acceptor.Close()
		p.acceptor = nil
	}
	if p.pool != nil {
		p.pool.Shutdown()
		p.pool = nil
	}
	logging.Infof("proxy: stopped")
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (p *Proxy) Addr() net.Addr {
	if p.acceptor == nil {
		return nil
	}
	return p.acceptor.Addr()
}

// Metrics returns a snapshot of the proxy counters.
func (p *Proxy) Metrics() core.StreamMetrics {
	return p.counters.Snapshot()
}
