package terminal

import (
	"io"
	"sync"
)

// WriterTarget adapts an io.Writer into a Target whose lifetime ends with Close
type WriterTarget struct {
	w    io.Writer
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

// NewWriterTarget wraps w
func NewWriterTarget(w io.Writer) *WriterTarget {
	return &WriterTarget{w: w, done: make(chan struct{})}
}

// Write implements io.Writer; writes are serialized
func (t *WriterTarget) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return 0, io.ErrClosedPipe
	default:
	}
	return t.w.Write(p)
}

// Done implements Target
func (t *WriterTarget) Done() <-chan struct{} { return t.done }

// Close ends the target
func (t *WriterTarget) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}
