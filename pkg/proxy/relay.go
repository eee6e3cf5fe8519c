package proxy

import (
	"errors"
	"sync/atomic"

	"github.com/irctrakz/streamline/pkg/aio"
	"github.com/irctrakz/streamline/pkg/core"
	"github.com/irctrakz/streamline/pkg/logging"
)

// relayBufferSize is the per-direction receive buffer size.
const relayBufferSize = 32 * 1024

// relaySide is one half of a relay: the server side faces the accepted
// client, the client side faces the remote endpoint.
type relaySide struct {
	name    string
	sock    *aio.Socket
	buf     []byte
	sending []byte
	open    bool
}

// relay is one pre-armed connection slot. It accepts a connection, opens a
// matching connection to the remote endpoint, and shuttles bytes between
// the two until either peer closes, an I/O error occurs, or the watchdog
// fires. After both sides deliver their disconnect completions the slot
// re-arms itself with a fresh accept.
//
// The spin mutex guards the open flags so teardown is idempotent per side.
// The watchdog is armed exactly while a connect or send is in flight; its
// callback must not join its own timer, so teardown paths take a flag.
type relay struct {
	p        *Proxy
	listener *aio.Socket
	index    int

	mu       core.SpinLock
	server   relaySide
	client   relaySide
	watchdog *aio.Timer

	// nconns counts sides that owe a disconnect completion. The last
	// completion re-arms the slot.
	nconns atomic.Int32
}

func newRelay(p *Proxy, pool *aio.Pool, listener *aio.Socket, index int) *relay {
	r := &relay{p: p, listener: listener, index: index}
	r.server = relaySide{name: "server", buf: make([]byte, relayBufferSize)}
	r.client = relaySide{name: "client", buf: make([]byte, relayBufferSize)}
	r.server.sock = aio.NewSocket(pool, r.serverEvent)
	r.client.sock = aio.NewSocket(pool, r.clientEvent)
	r.watchdog = aio.NewTimer(pool, r.watchdogFired)
	return r
}

// Accept arms the slot with an accept on the shared listener.
func (r *relay) Accept(listener *aio.Socket) error {
	return listener.Accept(r.server.sock)
}

// Close tears the slot down.
func (r *relay) Close() {
	r.closeConnections(true)
}

func (r *relay) serverEvent(op aio.Operation, err error, n int) {
	switch op {
	case aio.OpAccept:
		r.accepted(err)
	case aio.OpReceive:
		r.received(&r.server, &r.client, err, n)
	case aio.OpSend:
		r.sent(&r.server, &r.client, err, n)
	case aio.OpDisconnect:
		r.disconnected(&r.server)
	}
}

func (r *relay) clientEvent(op aio.Operation, err error, n int) {
	switch op {
	case aio.OpConnect:
		r.connected(err)
	case aio.OpReceive:
		r.received(&r.client, &r.server, err, n)
	case aio.OpSend:
		r.sent(&r.client, &r.server, err, n)
	case aio.OpDisconnect:
		r.disconnected(&r.client)
	}
}

func (r *relay) accepted(err error) {
	if err != nil {
		if aio.Canceled(err) {
			logging.Debugf("proxy slot %d: accept canceled", r.index)
			return
		}
		logging.Errorf("proxy slot %d: accept failed: %v", r.index, err)
		r.p.counters.Error()
		r.rearm()
		return
	}

	r.mu.Lock()
	r.server.open = true
	r.mu.Unlock()
	r.nconns.Store(1)
	r.p.counters.ConnectionAccepted()
	logging.Debugf("proxy slot %d: connection from %s", r.index, r.server.sock.RemoteAddr())

	r.watchdog.ExpiresIn(r.p.cfg.Timeout)
	if err := r.client.sock.Connect(r.p.cfg.Remote); err != nil {
		logging.Errorf("proxy slot %d: connect arm failed: %v", r.index, err)
		r.p.counters.Error()
		r.closeConnections(true)
	}
}

func (r *relay) connected(err error) {
	if err != nil {
		if aio.Canceled(err) {
			return
		}
		logging.Errorf("proxy slot %d: connect failed: %v", r.index, err)
		r.p.counters.Error()
		r.closeConnections(true)
		return
	}

	r.mu.Lock()
	r.client.open = true
	r.mu.Unlock()
	r.nconns.Add(1)
	r.watchdog.Cancel()
	logging.Debugf("proxy slot %d: established to %s", r.index, r.client.sock.RemoteAddr())

	if err := r.server.sock.Receive(r.server.buf); err != nil {
		r.closeConnections(true)
		return
	}
	if err := r.client.sock.Receive(r.client.buf); err != nil {
		r.closeConnections(true)
	}
}

// received handles data arriving on from and forwards it out on to.
func (r *relay) received(from, to *relaySide, err error, n int) {
	if err != nil {
		if aio.Canceled(err) {
			return
		}
		if errors.Is(err, aio.ErrPeerClosed) {
			logging.Debugf("proxy slot %d: %s peer closed", r.index, from.name)
		} else {
			logging.Errorf("proxy slot %d: %s receive failed: %v", r.index, from.name, err)
			r.p.counters.Error()
		}
		r.closeConnections(true)
		return
	}

	r.p.counters.AddBytesReceived(n)
	logging.Debugf("proxy slot %d: %s received %d bytes, head %q",
		r.index, from.name, n, from.buf[:min(n, 32)])
	to.sending = from.buf[:n]
	r.watchdog.ExpiresIn(r.p.cfg.Timeout)
	if serr := to.sock.Send(to.sending); serr != nil {
		logging.Debugf("proxy slot %d: %s send arm failed: %v", r.index, to.name, serr)
		r.closeConnections(true)
	}
}

// sent handles a send completion on side; source is the side whose receive
// produced the data and is re-armed once the payload is fully flushed.
func (r *relay) sent(side, source *relaySide, err error, n int) {
	if err != nil {
		if aio.Canceled(err) {
			return
		}
		logging.Errorf("proxy slot %d: %s send failed: %v", r.index, side.name, err)
		r.p.counters.Error()
		r.closeConnections(true)
		return
	}

	r.p.counters.AddBytesSent(n)
	side.sending = side.sending[n:]
	if len(side.sending) > 0 {
		r.watchdog.ExpiresIn(r.p.cfg.Timeout)
		if serr := side.sock.Send(side.sending); serr != nil {
			r.closeConnections(true)
		}
		return
	}

	r.watchdog.Cancel()
	if serr := source.sock.Receive(source.buf); serr != nil {
		r.closeConnections(true)
	}
}

func (r *relay) watchdogFired(*aio.Timer) {
	logging.Debugf("proxy slot %d: watchdog expired", r.index)
	r.closeConnections(false)
}

// closeConnections tears down both sides. Each open side gets its pending
// operations canceled and a disconnect armed exactly once. A pending
// connect on a not-yet-open client side is canceled as well.
func (r *relay) closeConnections(cancelTimer bool) {
	r.mu.Lock()
	serverOpen := r.server.open
	clientOpen := r.client.open
	r.server.open = false
	r.client.open = false
	r.mu.Unlock()

	if serverOpen {
		r.server.sock.Cancel(aio.OpReceive, aio.OpSend)
		r.server.sock.Disconnect()
	}
	if clientOpen {
		r.client.sock.Cancel(aio.OpReceive, aio.OpSend)
		r.client.sock.Disconnect()
	} else {
		r.client.sock.Cancel(aio.OpConnect)
	}
	if cancelTimer {
		r.watchdog.Cancel()
	}
}

func (r *relay) disconnected(side *relaySide) {
	logging.Debugf("proxy slot %d: %s disconnected", r.index, side.name)
	if r.nconns.Add(-1) > 0 {
		return
	}
	r.p.counters.ConnectionClosed()
	r.rearm()
}

// rearm resets the slot and arms a fresh accept. Arm failures mean the
// listener is gone and the slot stays retired.
func (r *relay) rearm() {
	r.mu.Lock()
	r.server.sending = nil
	r.client.sending = nil
	r.mu.Unlock()
	if err := r.listener.Accept(r.server.sock); err != nil {
		logging.Debugf("proxy slot %d: retired: %v", r.index, err)
	}
}
