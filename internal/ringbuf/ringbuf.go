// Package ringbuf implements the bounded byte queue that connects a tuner
// producer to a consumer engine.
//
// A Buffer carries bytes from exactly one producer goroutine to exactly one
// consumer goroutine. The producer blocks when the buffer is full and the
// consumer blocks when it is empty, so memory stays bounded and no byte is
// ever dropped. Close wakes both sides.
package ringbuf

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Write after Close, and by Read once the buffer
// has been closed and fully drained.
var ErrClosed = errors.New("ringbuf: buffer closed")

// Buffer is a fixed-capacity byte queue for a single producer and a single
// consumer. The single-producer/single-consumer restriction is a hard
// precondition; concurrent writers or concurrent readers are a programmer
// error and are not detected.
type Buffer struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	data   []byte
	head   int // next read index
	tail   int // next write index
	size   int // bytes currently stored
	closed bool
}

// New creates a buffer with the given capacity in bytes. The backing array
// is allocated up front. Capacity must be at least 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		panic("ringbuf: capacity must be at least 1")
	}

	b := &Buffer{data: make([]byte, capacity)}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Write appends p to the buffer, blocking while there is no room. It returns
// the number of bytes accepted and ErrClosed if the buffer was closed before
// all of p could be stored.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	for written < len(p) {
		for b.size == len(b.data) && !b.closed {
			b.notFull.Wait()
		}
		if b.closed {
			return written, ErrClosed
		}

		n := b.copyIn(p[written:])
		written += n
		b.notEmpty.Signal()
	}

	return written, nil
}

// Read fills p with up to len(p) bytes, blocking until at least one byte is
// available, the buffer is closed, or ctx is cancelled. Once closed, Read
// drains the remaining bytes and then reports ErrClosed.
func (b *Buffer) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.notEmpty.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.size == 0 {
		if b.closed {
			return 0, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		b.notEmpty.Wait()
	}

	n := b.copyOut(p)
	b.notFull.Signal()
	return n, nil
}

// ReadAvailable returns the number of bytes currently stored.
func (b *Buffer) ReadAvailable() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// WriteAvailable returns the free space in bytes.
func (b *Buffer) WriteAvailable() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) - b.size
}

// Close marks the buffer closed and wakes all waiters. It is idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// Clear resets the buffer to its freshly constructed state, discarding any
// stored bytes and reopening it. Only safe while no goroutine is blocked in
// Read or Write.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.head = 0
	b.tail = 0
	b.size = 0
	b.closed = false
}

// copyIn stores as much of p as fits, handling the wrap at the end of the
// backing array. Caller holds mu.
func (b *Buffer) copyIn(p []byte) int {
	free := len(b.data) - b.size
	n := min(len(p), free)

	first := min(n, len(b.data)-b.tail)
	copy(b.data[b.tail:], p[:first])
	copy(b.data, p[first:n])
	b.tail = (b.tail + n) % len(b.data)
	b.size += n
	return n
}

// copyOut removes up to len(p) stored bytes. Caller holds mu.
func (b *Buffer) copyOut(p []byte) int {
	n := min(len(p), b.size)

	first := min(n, len(b.data)-b.head)
	copy(p, b.data[b.head:b.head+first])
	copy(p[first:], b.data[:n-first])
	b.head = (b.head + n) % len(b.data)
	b.size -= n
	return n
}
