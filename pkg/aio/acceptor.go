package aio

import (
	"fmt"
	"net"

	"github.com/irctrakz/streamline/pkg/sockaddr"
)

// Session is one connection slot owned by an acceptor. A session arms its
// own socket with an accept on the shared listener and re-arms itself when
// its connection tears down.
type Session interface {
	// Accept arms the session's socket with an accept on the listener.
	Accept(listener *Socket) error

	// Close tears the session down. Pending operations complete with
	// ErrCanceled.
	Close()
}

// SessionFactory creates the session for slot index of an acceptor.
type SessionFactory func(pool *Pool, listener *Socket, index int) (Session, error)

// Acceptor owns one listening socket and a fixed set of pre-armed
// connection slots sharing it.
type Acceptor struct {
	pool     *Pool
	listener *Socket
	sessions []Session
}

// NewAcceptor binds ep, starts listening, and arms n sessions built by
// factory. Slot indexes run 0..n-1.
func NewAcceptor(pool *Pool, ep sockaddr.Endpoint, n int, factory SessionFactory) (*Acceptor, error) {
	if n < 1 {
		return nil, fmt.Errorf("acceptor: invalid session count %d", n)
	}
	listener := NewSocket(pool, nil)
	if err := listener.Listen(ep); err != nil {
		return nil, err
	}
	a := &Acceptor{pool: pool, listener: listener}
	for i := 0; i < n; i++ {
		sess, err := factory(pool, listener, i)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.sessions = append(a.sessions, sess)
		if err := sess.Accept(listener); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// Addr returns the listener's bound address.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Close tears down the listener and every session. Armed accepts complete
// with ErrCanceled.
func (a *Acceptor) Close() {
	a.listener.Close()
	for _, sess := range a.sessions {
		sess.Close()
	}
}

// Acceptors owns a growing set of acceptors. Capacity grows geometrically,
// starting at 8 and doubling.
type Acceptors struct {
	items []*Acceptor
}

// Add appends an acceptor to the set.
func (s *Acceptors) Add(a *Acceptor) {
	if len(s.items) == cap(s.items) {
		grown := cap(s.items) * 2
		if grown == 0 {
			grown = 8
		}
		items := make([]*Acceptor, len(s.items), grown)
		copy(items, s.items)
		s.items = items
	}
	s.items = append(s.items, a)
}

// Len returns the number of acceptors in the set.
func (s *Acceptors) Len() int {
	return len(s.items)
}

// Close tears down every acceptor in the set.
func (s *Acceptors) Close() {
	for _, a := range s.items {
		a.Close()
	}
	s.items = nil
}
