package receiver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/irctrakz/streamline/pkg/aio"
	"github.com/irctrakz/streamline/pkg/core"
	"github.com/irctrakz/streamline/pkg/logging"
)

// ingestBufferSize is the per-connection receive buffer size.
const ingestBufferSize = 32 * 1024

// ingest is one pre-armed ingest slot. Every received byte is appended to
// a staging file named file-<slot>-<sequence>.bin; the file rotates into
// the final directory when it reaches the size bound or the age bound.
// The sequence keeps incrementing across connections on the same slot.
//
// Two spin locks order the work: connMu serializes connection state
// against the watchdog, fileMu serializes file state against the age
// timer. Timer callbacks use TryLock and skip when contended, which is
// what makes canceling a timer from inside a locked section safe: the
// callback can never be blocked waiting for the lock the canceler holds.
type ingest struct {
	rcv      *Receiver
	listener *aio.Socket
	index    int

	sock *aio.Socket
	file *aio.File

	connMu core.SpinLock
	fileMu core.SpinLock

	watchdog *aio.Timer
	ageTimer *aio.Timer

	buf []byte

	// guarded by connMu
	open bool

	// guarded by fileMu
	fileSeq     uint64
	fileSize    int64
	fileOpened  time.Time
	writeFailed bool
}

func newIngest(r *Receiver, pool *aio.Pool, listener *aio.Socket, index int) *ingest {
	i := &ingest{rcv: r, listener: listener, index: index}
	i.buf = make([]byte, ingestBufferSize)
	i.sock = aio.NewSocket(pool, i.event)
	i.file = aio.NewFile(pool, i.written)
	i.watchdog = aio.NewTimer(pool, i.watchdogFired)
	i.ageTimer = aio.NewTimer(pool, i.ageFired)
	return i
}

// Accept arms the slot with an accept on the shared listener.
func (i *ingest) Accept(listener *aio.Socket) error {
	return listener.Accept(i.sock)
}

// Close tears the slot down.
func (i *ingest) Close() {
	i.connMu.Lock()
	i.closeConnectionLocked(true)
	i.connMu.Unlock()
}

func (i *ingest) event(op aio.Operation, err error, n int) {
	switch op {
	case aio.OpAccept:
		i.accepted(err)
	case aio.OpReceive:
		i.received(err, n)
	case aio.OpDisconnect:
		i.disconnected()
	}
}

func (i *ingest) accepted(err error) {
	if err != nil {
		if aio.Canceled(err) {
			logging.Debugf("receiver slot %d: accept canceled", i.index)
			return
		}
		logging.Errorf("receiver slot %d: accept failed: %v", i.index, err)
		i.rcv.counters.Error()
		i.rearm()
		return
	}

	i.connMu.Lock()
	i.open = true
	i.connMu.Unlock()
	i.rcv.counters.ConnectionAccepted()
	logging.Debugf("receiver slot %d: connection from %s", i.index, i.sock.RemoteAddr())
	i.receive()
}

// receive arms the watchdog and then the receive, in that order. The
// receive is capped at the room left before the size bound, so a file
// rotates once it holds exactly FileSize bytes.
func (i *ingest) receive() {
	buf := i.buf
	i.fileMu.Lock()
	room := i.rcv.cfg.FileSize
	if i.file.IsOpen() {
		room -= i.fileSize
	}
	i.fileMu.Unlock()
	if room > 0 && room < int64(len(buf)) {
		buf = buf[:room]
	}
	i.watchdog.ExpiresIn(i.rcv.cfg.Timeout)
	if err := i.sock.Receive(buf); err != nil {
		i.connMu.Lock()
		i.closeConnectionLocked(true)
		i.connMu.Unlock()
	}
}

func (i *ingest) received(err error, n int) {
	// Contention means a timer is concurrently tearing the connection
	// down; the completion is abandoned.
	if !i.connMu.TryLock() {
		return
	}
	if aio.Canceled(err) {
		i.connMu.Unlock()
		return
	}
	if err != nil {
		if errors.Is(err, aio.ErrPeerClosed) {
			logging.Debugf("receiver slot %d: peer closed", i.index)
		} else {
			logging.Errorf("receiver slot %d: receive failed: %v", i.index, err)
			i.rcv.counters.Error()
		}
		i.closeConnectionLocked(true)
		i.connMu.Unlock()
		return
	}

	i.rcv.counters.AddBytesReceived(n)
	logging.Debugf("receiver slot %d: received %d bytes, head %q",
		i.index, n, i.buf[:min(n, 32)])
	if !i.writeFile(i.buf[:n]) {
		i.closeConnectionLocked(true)
		i.connMu.Unlock()
		return
	}
	i.connMu.Unlock()
	i.receive()
}

// writeFile appends data to the staging file, opening it first if needed.
// It reports false when the write failed and the connection must close.
func (i *ingest) writeFile(data []byte) bool {
	i.fileMu.Lock()
	if !i.file.IsOpen() {
		if err := i.openFileLocked(); err != nil {
			i.fileMu.Unlock()
			logging.Errorf("receiver slot %d: open file failed: %v", i.index, err)
			i.rcv.counters.Error()
			return false
		}
	}
	i.writeFailed = false
	if err := i.file.Write(data); err != nil {
		i.writeFailed = true
	}
	failed := i.writeFailed
	i.fileMu.Unlock()
	return !failed
}

// written is the file completion. The write fast path delivers it inline,
// so it runs with fileMu held by writeFile.
func (i *ingest) written(err error, n int) {
	if err != nil {
		i.errorWritingFileLocked(err)
		return
	}
	i.fileSize += int64(n)
	i.rcv.counters.AddBytesSent(n)
	if i.fileSize >= i.rcv.cfg.FileSize || time.Since(i.fileOpened) >= i.rcv.cfg.FileAge {
		i.closeFileLocked(true)
		i.moveFileLocked()
	}
}

// errorWritingFileLocked salvages what the file already holds: non-empty
// files move to the final directory, empty ones are deleted. The caller's
// writeFailed flag makes the connection close afterwards.
func (i *ingest) errorWritingFileLocked(err error) {
	logging.Errorf("receiver slot %d: write failed: %v", i.index, err)
	i.rcv.counters.Error()
	path := i.file.Path()
	i.closeFileLocked(true)
	if i.fileSize > 0 {
		i.moveFileLocked()
	} else if path != "" {
		os.Remove(path)
	}
	i.writeFailed = true
}

// openFileLocked opens the next staging file. The sequence is incremented
// before the name is composed, so the first file on a slot is sequence 1.
func (i *ingest) openFileLocked() error {
	i.fileSeq++
	name := fmt.Sprintf("file-%d-%d.bin", i.index, i.fileSeq)
	path := filepath.Join(i.rcv.cfg.StagingDir, name)
	if err := i.file.Open(path, aio.ModeAppend); err != nil {
		return err
	}
	i.fileSize = 0
	i.fileOpened = time.Now()
	i.ageTimer.ExpiresIn(i.rcv.cfg.FileAge)
	logging.Debugf("receiver slot %d: opened %s", i.index, path)
	return nil
}

// closeFileLocked closes the staging file. cancelAge is false only on the
// age timer's own path.
func (i *ingest) closeFileLocked(cancelAge bool) {
	i.file.Close()
	if cancelAge {
		i.ageTimer.Cancel()
	}
}

// moveFileLocked renames the closed staging file into the final directory.
// Rename is atomic on the same filesystem, so the file appears complete or
// not at all.
func (i *ingest) moveFileLocked() {
	staged := i.file.Path()
	final := filepath.Join(i.rcv.cfg.FinalDir, filepath.Base(staged))
	if err := os.Rename(staged, final); err != nil {
		logging.Errorf("receiver slot %d: move failed: %v", i.index, err)
		i.rcv.counters.Error()
		return
	}
	i.rcv.counters.FileCompleted()
	logging.Debugf("receiver slot %d: completed %s (%d bytes)", i.index, final, i.fileSize)
}

func (i *ingest) watchdogFired(*aio.Timer) {
	if !i.connMu.TryLock() {
		return
	}
	if i.open {
		logging.Debugf("receiver slot %d: idle timeout", i.index)
		i.closeConnectionLocked(false)
	}
	i.connMu.Unlock()
}

func (i *ingest) ageFired(*aio.Timer) {
	if !i.fileMu.TryLock() {
		return
	}
	if i.file.IsOpen() {
		i.closeFileLocked(false)
		i.moveFileLocked()
	}
	i.fileMu.Unlock()
}

// closeConnectionLocked tears the connection down under connMu. The open
// staging file rotates out if it holds data and is deleted otherwise.
// cancelWatchdog is false only on the watchdog's own path.
func (i *ingest) closeConnectionLocked(cancelWatchdog bool) {
	if !i.open {
		return
	}
	i.open = false
	i.sock.Cancel(aio.OpReceive, aio.OpSend)
	i.sock.Disconnect()

	i.fileMu.Lock()
	if i.file.IsOpen() {
		path := i.file.Path()
		i.closeFileLocked(true)
		if i.fileSize > 0 {
			i.moveFileLocked()
		} else {
			os.Remove(path)
		}
	}
	i.fileMu.Unlock()

	if cancelWatchdog {
		i.watchdog.Cancel()
	}
}

func (i *ingest) disconnected() {
	logging.Debugf("receiver slot %d: disconnected", i.index)
	i.rcv.counters.ConnectionClosed()
	i.rearm()
}

// rearm arms a fresh accept. Arm failures mean the listener is gone and
// the slot stays retired.
func (i *ingest) rearm() {
	if err := i.listener.Accept(i.sock); err != nil {
		logging.Debugf("receiver slot %d: retired: %v", i.index, err)
	}
}
