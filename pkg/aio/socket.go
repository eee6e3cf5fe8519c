package aio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/irctrakz/streamline/pkg/sockaddr"
)

// Operation identifies an asynchronous socket operation.
type Operation int

const (
	OpAccept Operation = iota
	OpConnect
	OpReceive
	OpSend
	OpDisconnect
)

func (op Operation) String() string {
	switch op {
	case OpAccept:
		return "accept"
	case OpConnect:
		return "connect"
	case OpReceive:
		return "receive"
	case OpSend:
		return "send"
	case OpDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Callback delivers the result of an asynchronous socket operation.
// transferred is the number of payload bytes moved; it is meaningful for
// receive and send only.
type Callback func(op Operation, err error, transferred int)

// opState tracks one completion slot. pending means the blocking path was
// dispatched to the pool and the operation is interruptible.
type opState struct {
	pending  bool
	canceled bool
}

// Socket is a single-owner asynchronous stream socket. Every operation
// either fails synchronously or commits to delivering the callback exactly
// once. At most one operation of each kind may be in flight.
//
// Receive and Send first probe the descriptor with a non-blocking syscall;
// when the probe completes the operation the callback runs inline on the
// initiating goroutine, otherwise the blocking path runs on the pool.
//
// A Socket must not be copied.
type Socket struct {
	pool *Pool
	cb   Callback

	mu       sync.Mutex
	conn     net.Conn
	listener net.Listener

	recv opState
	send opState
	dial opState // accept and connect share one slot
	disc opState

	dialCancel context.CancelFunc
}

// NewSocket creates a socket scheduled on pool. The callback is fixed for
// the socket's lifetime.
func NewSocket(pool *Pool, cb Callback) *Socket {
	return &Socket{pool: pool, cb: cb}
}

// aLongTimeAgo pokes blocked readers and writers out of their syscalls.
var aLongTimeAgo = time.Unix(1, 0)

// Listen binds the socket to ep and starts listening. TCP listeners bind
// with exclusive address use: SO_REUSEADDR is cleared so a second bind of
// the same endpoint fails instead of stealing it.
func (s *Socket) Listen(ep sockaddr.Endpoint) error {
	var lc net.ListenConfig
	if !ep.IsUnix() {
		lc.Control = exclusiveBind
	}
	ln, err := lc.Listen(context.Background(), ep.Network(), ep.String())
	if err != nil {
		return fmt.Errorf("listen %s: %w", ep.String(), err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

func exclusiveBind(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 0)
	}); err != nil {
		return err
	}
	return serr
}

// Addr returns the listener's bound address, or nil if not listening.
func (s *Socket) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// LocalAddr returns the connection's local address, or nil.
func (s *Socket) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// RemoteAddr returns the connection's remote address, or nil.
func (s *Socket) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// Connected reports whether the socket currently owns a connection.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Accept arms an accept on this listening socket on behalf of child. The
// accepted connection is installed into child before the completion is
// delivered through child's callback.
func (s *Socket) Accept(child *Socket) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ErrNotOpen
	}
	child.mu.Lock()
	child.dial.pending = true
	child.dial.canceled = false
	child.mu.Unlock()
	return s.pool.Submit(func() {
		conn, err := ln.Accept()
		child.mu.Lock()
		child.dial.pending = false
		canceled := child.dial.canceled
		if err == nil && !canceled {
			child.conn = conn
		}
		child.mu.Unlock()
		if canceled {
			if conn != nil {
				conn.Close()
			}
			child.cb(OpAccept, ErrCanceled, 0)
			return
		}
		if err != nil {
			if cancellationErr(err) {
				err = ErrCanceled
			} else {
				err = fmt.Errorf("accept: %w", err)
			}
			child.cb(OpAccept, err, 0)
			return
		}
		child.cb(OpAccept, nil, 0)
	})
}

// Connect arms a connect to ep. The completion is delivered through the
// socket's callback.
func (s *Socket) Connect(ep sockaddr.Endpoint) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return fmt.Errorf("connect: socket already connected")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.dial.pending = true
	s.dial.canceled = false
	s.dialCancel = cancel
	s.mu.Unlock()
	return s.pool.Submit(func() {
		var d net.Dialer
		conn, err := d.DialContext(ctx, ep.Network(), ep.String())
		s.mu.Lock()
		s.dial.pending = false
		canceled := s.dial.canceled
		s.dialCancel = nil
		if err == nil && !canceled {
			s.conn = conn
		}
		s.mu.Unlock()
		cancel()
		if canceled {
			if conn != nil {
				conn.Close()
			}
			s.cb(OpConnect, ErrCanceled, 0)
			return
		}
		if err != nil {
			if cancellationErr(err) {
				err = ErrCanceled
			} else {
				err = fmt.Errorf("connect %s: %w", ep.String(), err)
			}
			s.cb(OpConnect, err, 0)
			return
		}
		s.cb(OpConnect, nil, 0)
	})
}

// Receive arms a receive into buf. Zero transferred bytes with
// ErrPeerClosed reports an orderly shutdown by the peer.
func (s *Socket) Receive(buf []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	if len(buf) > 0 {
		if n, err, ok := tryRead(conn, buf); ok {
			s.completeReceive(n, err)
			return nil
		}
	}
	s.mu.Lock()
	s.recv.pending = true
	s.recv.canceled = false
	conn.SetReadDeadline(time.Time{})
	s.mu.Unlock()
	return s.pool.Submit(func() {
		n, err := conn.Read(buf)
		s.mu.Lock()
		s.recv.pending = false
		s.mu.Unlock()
		s.completeReceive(n, err)
	})
}

func (s *Socket) completeReceive(n int, err error) {
	switch {
	case n > 0:
		s.cb(OpReceive, nil, n)
	case err == nil || errors.Is(err, io.EOF):
		s.cb(OpReceive, ErrPeerClosed, 0)
	case cancellationErr(err):
		s.cb(OpReceive, ErrCanceled, 0)
	default:
		s.cb(OpReceive, fmt.Errorf("receive: %w", err), 0)
	}
}

// Send arms a send of buf. The completion may report fewer bytes than
// len(buf); the caller re-issues the unsent tail.
func (s *Socket) Send(buf []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	if len(buf) > 0 {
		if n, err, ok := tryWrite(conn, buf); ok {
			s.completeSend(n, err)
			return nil
		}
	}
	s.mu.Lock()
	s.send.pending = true
	s.send.canceled = false
	conn.SetWriteDeadline(time.Time{})
	s.mu.Unlock()
	return s.pool.Submit(func() {
		n, err := conn.Write(buf)
		s.mu.Lock()
		s.send.pending = false
		s.mu.Unlock()
		s.completeSend(n, err)
	})
}

func (s *Socket) completeSend(n int, err error) {
	switch {
	case err == nil:
		s.cb(OpSend, nil, n)
	case cancellationErr(err):
		s.cb(OpSend, ErrCanceled, n)
	default:
		s.cb(OpSend, fmt.Errorf("send: %w", err), n)
	}
}

// Disconnect closes the connection and delivers OpDisconnect exactly once.
// Pending receives and sends complete with ErrCanceled. Afterwards the
// socket may be armed with a new Accept or Connect.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.disc.pending = true
	s.mu.Unlock()
	return s.pool.Submit(func() {
		var err error
		if conn != nil {
			err = conn.Close()
		}
		s.mu.Lock()
		s.disc.pending = false
		s.mu.Unlock()
		s.cb(OpDisconnect, err, 0)
	})
}

// Cancel interrupts the named pending operations. Their completions fire
// with ErrCanceled. Canceling an operation that is not pending is a no-op.
// A pending accept is not interrupted: it is marked canceled, and its
// completion fires with ErrCanceled when the next connection arrives (that
// connection is closed) or when the listener closes.
func (s *Socket) Cancel(ops ...Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		switch op {
		case OpReceive:
			if s.recv.pending && !s.recv.canceled {
				s.recv.canceled = true
				if s.conn != nil {
					s.conn.SetReadDeadline(aLongTimeAgo)
				}
			}
		case OpSend:
			if s.send.pending && !s.send.canceled {
				s.send.canceled = true
				if s.conn != nil {
					s.conn.SetWriteDeadline(aLongTimeAgo)
				}
			}
		case OpAccept, OpConnect:
			if s.dial.pending && !s.dial.canceled {
				s.dial.canceled = true
				if s.dialCancel != nil {
					s.dialCancel()
				}
			}
		}
	}
}

// Close tears down the listener and connection without delivering a
// disconnect completion. Pending operations complete with ErrCanceled.
func (s *Socket) Close() error {
	s.mu.Lock()
	ln := s.listener
	conn := s.conn
	s.listener = nil
	s.conn = nil
	s.mu.Unlock()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	if conn != nil {
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// tryRead probes conn with a single non-blocking read. ok reports whether
// the probe completed the operation; on EAGAIN the caller falls back to
// the blocking path.
func tryRead(conn net.Conn, buf []byte) (n int, err error, ok bool) {
	sc, isSC := conn.(syscall.Conn)
	if !isSC {
		return 0, nil, false
	}
	raw, rerr := sc.SyscallConn()
	if rerr != nil {
		return 0, nil, false
	}
	completed := false
	cerr := raw.Read(func(fd uintptr) bool {
		for {
			n, err = unix.Read(int(fd), buf)
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				// Would block: report done so the runtime does not
				// park us, and take the pool path instead.
				return true
			}
			completed = true
			return true
		}
	})
	if cerr != nil || !completed {
		return 0, nil, false
	}
	if n < 0 {
		n = 0
	}
	return n, err, true
}

// tryWrite probes conn with a single non-blocking write. A partial write
// still completes the operation.
func tryWrite(conn net.Conn, buf []byte) (n int, err error, ok bool) {
	sc, isSC := conn.(syscall.Conn)
	if !isSC {
		return 0, nil, false
	}
	raw, rerr := sc.SyscallConn()
	if rerr != nil {
		return 0, nil, false
	}
	completed := false
	cerr := raw.Write(func(fd uintptr) bool {
		for {
			n, err = unix.Write(int(fd), buf)
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return true
			}
			completed = true
			return true
		}
	})
	if cerr != nil || !completed {
		return 0, nil, false
	}
	if n < 0 {
		n = 0
	}
	return n, err, true
}
