package aio

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSession disconnects every accepted connection immediately and
// re-arms its slot, counting accepts into a shared total.
type countingSession struct {
	listener *Socket
	sock     *Socket
	total    *atomic.Int32
	accepted chan struct{}
}

func (s *countingSession) event(op Operation, err error, _ int) {
	switch op {
	case OpAccept:
		if err != nil {
			return
		}
		s.total.Add(1)
		s.accepted <- struct{}{}
		s.sock.Disconnect()
	case OpDisconnect:
		s.listener.Accept(s.sock)
	}
}

func (s *countingSession) Accept(listener *Socket) error {
	return listener.Accept(s.sock)
}

func (s *countingSession) Close() {
	s.sock.Close()
}

func TestAcceptorServesAcrossSlots(t *testing.T) {
	p := newTestPool(t)

	var total atomic.Int32
	accepted := make(chan struct{}, 16)
	factory := func(pool *Pool, listener *Socket, index int) (Session, error) {
		s := &countingSession{listener: listener, total: &total, accepted: accepted}
		s.sock = NewSocket(pool, s.event)
		return s, nil
	}

	a, err := NewAcceptor(p, loopbackEndpoint(), 2, factory)
	require.NoError(t, err)
	defer a.Close()

	addr := a.Addr().String()
	for i := 0; i < 5; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		select {
		case <-accepted:
		case <-time.After(2 * time.Second):
			t.Fatal("dial was not accepted")
		}
		conn.Close()
	}
	assert.Equal(t, int32(5), total.Load())
}

func TestAcceptorInvalidSessionCount(t *testing.T) {
	p := newTestPool(t)
	_, err := NewAcceptor(p, loopbackEndpoint(), 0, nil)
	assert.Error(t, err)
}

// idleSession arms a single accept and does nothing with the result.
type idleSession struct {
	sock *Socket
}

func (s *idleSession) Accept(listener *Socket) error {
	return listener.Accept(s.sock)
}

func (s *idleSession) Close() {
	s.sock.Close()
}

func TestAcceptorsGrowth(t *testing.T) {
	p := newTestPool(t)
	factory := func(pool *Pool, listener *Socket, index int) (Session, error) {
		return &idleSession{sock: NewSocket(pool, func(Operation, error, int) {})}, nil
	}

	var set Acceptors
	for i := 0; i < 20; i++ {
		a, err := NewAcceptor(p, loopbackEndpoint(), 1, factory)
		require.NoError(t, err)
		set.Add(a)
	}
	assert.Equal(t, 20, set.Len())
	set.Close()
	assert.Equal(t, 0, set.Len())
}
