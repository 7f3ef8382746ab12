package logging

import (
	"os"
	"sync"
)

// tailDefaultSize is the in-memory log tail kept for crash dumps. Chat
// operations log a few hundred bytes each, so 1MB holds on the order of the
// last few thousand cache and search events.
const tailDefaultSize = 1024 * 1024

// RingBuffer keeps the newest log output in a fixed-size circular buffer so
// DumpRingBuffer can write a crash report without touching rotated files.
// It implements io.Writer; old bytes are overwritten once the buffer fills.
// Chat text flows through here, so dumps are written owner-only.
type RingBuffer struct {
	mu     sync.Mutex
	buf    []byte
	w      int // next write offset
	filled int // bytes held, capped at len(buf)
}

// NewRingBuffer creates a buffer holding the last size bytes written.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = tailDefaultSize
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer and never fails; writes larger than the buffer
// keep only their tail.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	capacity := len(rb.buf)
	if n >= capacity {
		copy(rb.buf, p[n-capacity:])
		rb.w = 0
		rb.filled = capacity
		return n, nil
	}

	head := copy(rb.buf[rb.w:], p)
	if head < n {
		// Wrapped past the end
		copy(rb.buf, p[head:])
	}
	rb.w = (rb.w + n) % capacity
	rb.filled += n
	if rb.filled > capacity {
		rb.filled = capacity
	}
	return n, nil
}

// Bytes returns the held bytes oldest-first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.filled)
	if rb.filled < len(rb.buf) {
		// Not yet wrapped: data is [0, w)
		copy(out, rb.buf[:rb.w])
		return out
	}
	n := copy(out, rb.buf[rb.w:])
	copy(out[n:], rb.buf[:rb.w])
	return out
}

// DumpToFile writes the held bytes to path, owner-readable only since log
// lines can quote message text.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o600)
}
