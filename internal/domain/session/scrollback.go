package session

import "sync"

// Scrollback is a thread-safe ring of the most recent process output
type Scrollback struct {
	mu   sync.RWMutex
	data []byte
	size int
	head int // oldest byte
	len  int
}

// NewScrollback creates a ring holding at most size bytes
func NewScrollback(size int) *Scrollback {
	if size <= 0 {
		size = 1
	}
	return &Scrollback{
		data: make([]byte, size),
		size: size,
	}
}

// Write appends p, overwriting the oldest bytes when full
func (b *Scrollback) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.size {
		copy(b.data, p[n-b.size:])
		b.head = 0
		b.len = b.size
		return n, nil
	}

	tail := (b.head + b.len) % b.size
	first := copy(b.data[tail:], p)
	copy(b.data, p[first:])

	b.len += n
	if b.len > b.size {
		b.head = (b.head + b.len - b.size) % b.size
		b.len = b.size
	}
	return n, nil
}

// Bytes returns a copy of the retained output, oldest first
func (b *Scrollback) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, b.len)
	first := copy(out, b.data[b.head:min(b.head+b.len, b.size)])
	copy(out[first:], b.data[:b.len-first])
	return out
}

// Len returns the number of retained bytes
func (b *Scrollback) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.len
}

// Reset drops everything retained
func (b *Scrollback) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head, b.len = 0, 0
}
