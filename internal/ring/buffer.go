package ring

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidCapacity is returned when a buffer is requested with no room for a single byte.
var ErrInvalidCapacity = errors.New("ring buffer capacity must be positive")

// Buffer is a fixed-capacity byte store holding the most recent Cap() bytes written to it.
//
// Every Write and Snapshot takes the same mutex for the whole operation, so a snapshot
// never observes a cursor from one write and bytes from another.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	cursor int  // index of the next byte to be written
	filled bool // cursor has wrapped at least once
}

// New allocates a buffer of the given capacity in bytes.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	return &Buffer{data: make([]byte, capacity)}, nil
}

// Write appends p, overwriting the oldest bytes once the buffer is full.
// It always consumes all of p and never returns an error.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	size := len(b.data)

	// Only the trailing size bytes can survive; skip the rest but keep the cursor
	// where byte-by-byte writing would have left it.
	if len(p) > size {
		skipped := len(p) - size
		b.cursor = (b.cursor + skipped) % size
		b.filled = true
		p = p[skipped:]
	}

	for len(p) > 0 {
		written := copy(b.data[b.cursor:], p)
		p = p[written:]
		b.cursor += written
		if b.cursor == size {
			b.cursor = 0
			b.filled = true
		}
	}

	return n, nil
}

// Cap returns the fixed capacity in bytes.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Len returns the number of valid bytes currently retained.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.filled {
		return len(b.data)
	}
	return b.cursor
}

// Snapshot copies the storage together with the cursor and fill state.
// Bytes past the cursor of a buffer that has not filled yet are never copied.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	valid := b.data
	if !b.filled {
		valid = b.data[:b.cursor]
	}
	data := make([]byte, len(valid))
	copy(data, valid)

	return Snapshot{data: data, cursor: b.cursor, filled: b.filled}
}
