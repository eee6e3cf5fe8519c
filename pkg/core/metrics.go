package core

import "sync/atomic"

// StreamMetrics contains metrics for a connection-oriented service.
type StreamMetrics struct {
	// ConnectionsAccepted is the number of connections accepted.
	ConnectionsAccepted uint64

	// ConnectionsClosed is the number of connections closed.
	ConnectionsClosed uint64

	// BytesReceived is the number of payload bytes received.
	BytesReceived uint64

	// BytesSent is the number of payload bytes sent.
	BytesSent uint64

	// FilesCompleted is the number of files moved to their final location.
	FilesCompleted uint64

	// Errors is the number of errors encountered.
	Errors uint64
}

// StreamCounters is the atomic backing store for StreamMetrics. The zero
// value is ready to use.
type StreamCounters struct {
	connectionsAccepted atomic.Uint64
	connectionsClosed   atomic.Uint64
	bytesReceived       atomic.Uint64
	bytesSent           atomic.Uint64
	filesCompleted      atomic.Uint64
	errors              atomic.Uint64
}

func (c *StreamCounters) ConnectionAccepted()     { c.connectionsAccepted.Add(1) }
func (c *StreamCounters) ConnectionClosed()       { c.connectionsClosed.Add(1) }
func (c *StreamCounters) AddBytesReceived(n int)  { c.bytesReceived.Add(uint64(n)) }
func (c *StreamCounters) AddBytesSent(n int)      { c.bytesSent.Add(uint64(n)) }
func (c *StreamCounters) FileCompleted()          { c.filesCompleted.Add(1) }
func (c *StreamCounters) Error()                  { c.errors.Add(1) }

// Snapshot returns a point-in-time copy of the counters.
func (c *StreamCounters) Snapshot() StreamMetrics {
	return StreamMetrics{
		ConnectionsAccepted: c.connectionsAccepted.Load(),
		ConnectionsClosed:   c.connectionsClosed.Load(),
		BytesReceived:       c.bytesReceived.Load(),
		BytesSent:           c.bytesSent.Load(),
		FilesCompleted:      c.filesCompleted.Load(),
		Errors:              c.errors.Load(),
	}
}
