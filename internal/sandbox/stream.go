package sandbox

import (
	"io"
	"sync"
)

// Stream is an unbounded in-memory pipe. Writes never block; reads block
// until data is available or the stream is closed. Backends use it to
// produce install output before anything consumes the process output, and
// sessions use it as a per-sink mailbox.
type Stream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
	err    error
}

// NewStream creates an empty stream
func NewStream() *Stream {
	s := &Stream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write appends p to the stream
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.buf = append(s.buf, p...)
	s.cond.Broadcast()
	return len(p), nil
}

// WriteString appends str to the stream
func (s *Stream) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// Read blocks until data is buffered or the stream is closed
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		return 0, s.err
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return n, nil
}

// Close ends the stream; buffered data is still readable, then io.EOF
func (s *Stream) Close() error {
	return s.CloseWithError(nil)
}

// CloseWithError ends the stream; readers get err (io.EOF when nil) once drained
func (s *Stream) CloseWithError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if err == nil {
		err = io.EOF
	}
	s.closed = true
	s.err = err
	s.cond.Broadcast()
	return nil
}

// Buffered returns the number of unread bytes
func (s *Stream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}
