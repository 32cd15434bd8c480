package session

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/playground/internal/shared/id"
)

// WriteStatus is the settlement state of a write
type WriteStatus int

const (
	WritePending WriteStatus = iota
	WriteSucceeded
	WriteFailed
)

// String returns the lowercase status name
func (s WriteStatus) String() string {
	switch s {
	case WritePending:
		return "pending"
	case WriteSucceeded:
		return "succeeded"
	case WriteFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name
func (s WriteStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WriteResult is the observable outcome of one Write. It settles exactly once.
type WriteResult struct {
	id      id.WriteID
	path    string
	content string

	mu     sync.Mutex
	status WriteStatus
	err    error
	done   chan struct{}
}

func newWriteResult(path, content string) *WriteResult {
	return &WriteResult{
		id:      id.NewWriteID(),
		path:    path,
		content: content,
		done:    make(chan struct{}),
	}
}

// ID returns the write identifier
func (r *WriteResult) ID() id.WriteID { return r.id }

// Path returns the target path
func (r *WriteResult) Path() string { return r.path }

// Status returns the current status without blocking
func (r *WriteResult) Status() WriteStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns the failure cause once settled as failed
func (r *WriteResult) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done is closed when the write settles
func (r *WriteResult) Done() <-chan struct{} { return r.done }

// Wait blocks until the write settles or ctx is done
func (r *WriteResult) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *WriteResult) settle(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != WritePending {
		return
	}
	if err != nil {
		r.status = WriteFailed
		r.err = err
	} else {
		r.status = WriteSucceeded
	}
	close(r.done)
}

// writeQueue serializes writes to one path in issue order
type writeQueue struct {
	pending []*WriteResult
	running bool
}
