package buffer

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrIteratorDone is returned by Next when the buffer is closed for
	// writing and drained.
	ErrIteratorDone = errors.New("iterator done")

	// ErrFull is returned by Add when the buffer holds its maximum number of
	// elements.
	ErrFull = errors.New("buffer: full")
)

// Buffer is a thread-safe FIFO buffer with an optional element limit.
//
// CloseWrite stops new writes while letting the consumer drain what is
// already queued. CloseWithError drops queued elements and unblocks the
// consumer immediately.
type Buffer[T any] struct {
	writeNotify chan struct{}
	limit       int

	mu         sync.Mutex
	closeWrite bool
	closeErr   error
	buf        []T
}

// N creates a Buffer that holds at most n elements. n <= 0 means unbounded.
func N[T any](n int) *Buffer[T] {
	c := n
	if c <= 0 || c > 1024 {
		c = 64
	}
	return &Buffer[T]{
		writeNotify: make(chan struct{}, 1),
		limit:       n,
		buf:         make([]T, 0, c),
	}
}

// Add appends one element. It never blocks.
func (b *Buffer[T]) Add(t T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr != nil {
		return fmt.Errorf("buffer: write to closed buffer: %w", b.closeErr)
	}
	if b.closeWrite {
		return fmt.Errorf("buffer: write to closed buffer: %w", io.ErrClosedPipe)
	}
	if b.limit > 0 && len(b.buf) >= b.limit {
		return ErrFull
	}
	b.buf = append(b.buf, t)
	select {
	case b.writeNotify <- struct{}{}:
	default:
	}
	return nil
}

// Next removes and returns the oldest element, blocking while the buffer is
// empty. It returns ErrIteratorDone once the buffer is closed for writing and
// drained.
func (b *Buffer[T]) Next() (t T, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.buf) == 0 {
		if b.closeErr != nil {
			err = fmt.Errorf("buffer: read from closed buffer: %w", b.closeErr)
			return
		}
		if b.closeWrite {
			err = ErrIteratorDone
			return
		}
		b.mu.Unlock()
		<-b.writeNotify
		b.mu.Lock()
	}
	if b.closeErr != nil {
		err = fmt.Errorf("buffer: read from closed buffer: %w", b.closeErr)
		return
	}
	t = b.buf[0]
	var zero T
	b.buf[0] = zero
	b.buf = b.buf[1:]
	return
}

// Len returns the number of queued elements.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// CloseWrite prevents further writes. Queued elements can still be read.
func (b *Buffer[T]) CloseWrite() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeWrite {
		return nil
	}
	b.closeWrite = true
	close(b.writeNotify)
	return nil
}

// CloseWithError closes both ends and discards queued elements. If err is
// nil, io.ErrClosedPipe is used.
func (b *Buffer[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr != nil {
		return nil
	}
	b.closeErr = err
	b.buf = nil
	if !b.closeWrite {
		b.closeWrite = true
		close(b.writeNotify)
	}
	return nil
}

// Error returns the error the buffer was closed with, if any.
func (b *Buffer[T]) Error() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeErr
}
