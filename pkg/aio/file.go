package aio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// FileMode selects how a file is opened.
type FileMode int

const (
	// ModeRead opens an existing file for reading.
	ModeRead FileMode = iota

	// ModeAppend creates the file if needed and positions every write at
	// the end.
	ModeAppend
)

// FileCallback delivers the result of a file operation.
type FileCallback func(err error, transferred int)

// File is an asynchronous file with a single completion callback. Regular
// file I/O does not block on readiness, so reads and writes complete on
// the fast path and the callback runs inline on the initiating goroutine.
// At most one operation may be in flight.
type File struct {
	pool *Pool
	cb   FileCallback

	mu   sync.Mutex
	f    *os.File
	path string
}

// NewFile creates a file handle scheduled on pool. The callback is fixed
// for the handle's lifetime.
func NewFile(pool *Pool, cb FileCallback) *File {
	return &File{pool: pool, cb: cb}
}

// Open opens path in the given mode. Opening an already-open handle is an
// error.
func (f *File) Open(path string, mode FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.f != nil {
		return fmt.Errorf("open %s: handle already open", path)
	}
	var (
		file *os.File
		err  error
	)
	switch mode {
	case ModeRead:
		file, err = os.OpenFile(path, os.O_RDONLY, 0)
	case ModeAppend:
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	default:
		return fmt.Errorf("open %s: invalid mode %d", path, mode)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	f.f = file
	f.path = path
	return nil
}

// IsOpen reports whether the handle currently owns a descriptor.
func (f *File) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.f != nil
}

// Path returns the path of the open file, or the last opened path.
func (f *File) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

// Write appends buf and delivers the completion inline.
func (f *File) Write(buf []byte) error {
	f.mu.Lock()
	file := f.f
	f.mu.Unlock()
	if file == nil {
		return ErrNotOpen
	}
	n, err := file.Write(buf)
	if err != nil {
		err = fmt.Errorf("write %s: %w", f.Path(), err)
	}
	f.cb(err, n)
	return nil
}

// Read reads into buf from the current offset and delivers the completion
// inline. A read at end of file completes with zero transferred bytes.
func (f *File) Read(buf []byte) error {
	f.mu.Lock()
	file := f.f
	f.mu.Unlock()
	if file == nil {
		return ErrNotOpen
	}
	n, err := file.Read(buf)
	if errors.Is(err, io.EOF) {
		// End of file completes cleanly with zero bytes.
		err = nil
	}
	if err != nil {
		err = fmt.Errorf("read %s: %w", f.Path(), err)
	}
	f.cb(err, n)
	return nil
}

// Cancel is a no-op: file operations complete synchronously and are never
// interruptible.
func (f *File) Cancel() {}

// Close closes the descriptor. The path is retained so callers can move
// the finished file afterwards.
func (f *File) Close() error {
	f.mu.Lock()
	file := f.f
	f.f = nil
	f.mu.Unlock()
	if file == nil {
		return nil
	}
	return file.Close()
}
