package process

import "sync"

// Buffer is an io.Writer that retains at most max bytes, keeping the tail.
// Test failures and server crashes report at the end of their output, so
// the head is what gets dropped.
type Buffer struct {
	mu        sync.Mutex
	max       int
	buf       []byte
	truncated bool
}

// NewBuffer returns a Buffer capped at max bytes. max <= 0 means unbounded.
func NewBuffer(max int) *Buffer {
	return &Buffer{max: max}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if b.max > 0 && len(b.buf) > 2*b.max {
		b.trim()
	}
	return len(p), nil
}

func (b *Buffer) trim() {
	if b.max <= 0 || len(b.buf) <= b.max {
		return
	}
	n := copy(b.buf, b.buf[len(b.buf)-b.max:])
	b.buf = b.buf[:n]
	b.truncated = true
}

// String returns the retained output.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trim()
	return string(b.buf)
}

// Truncated reports whether output was dropped.
func (b *Buffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trim()
	return b.truncated
}
