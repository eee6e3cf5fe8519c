package aio

import (
	"context"
	"errors"
	"net"
	"os"
)

// Sentinel errors delivered through completion callbacks.
var (
	// ErrCanceled reports that the operation was interrupted by Cancel
	// or by the socket closing underneath it.
	ErrCanceled = errors.New("operation canceled")

	// ErrPeerClosed reports an orderly shutdown by the remote peer: a
	// receive completed with zero transferred bytes.
	ErrPeerClosed = errors.New("peer closed connection")

	// ErrNotOpen reports an operation issued against a socket or file
	// that has no open descriptor.
	ErrNotOpen = errors.New("not open")

	// ErrPoolClosed reports a submission to a pool after Shutdown.
	ErrPoolClosed = errors.New("worker pool closed")
)

// Canceled reports whether a completion error is the result of
// cancellation rather than a transport failure.
func Canceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// cancellationErr reports whether an I/O error is one of the shapes a
// deadline poke or a concurrent close produces.
func cancellationErr(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}
