package ingest

import (
	"context"

	"github.com/rotisserie/eris"
)

// FlushFunc writes one batch. The slice is reused after the call returns.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// Batcher is a bounded buffer owned by a single loader loop. Add flushes when
// the buffer reaches its size; Close flushes whatever is left.
type Batcher[T any] struct {
	size    int
	buf     []T
	flush   FlushFunc[T]
	flushed int
	closed  bool
}

// NewBatcher creates a Batcher that calls flush every size items.
func NewBatcher[T any](size int, flush FlushFunc[T]) *Batcher[T] {
	if size <= 0 {
		size = 1
	}
	return &Batcher[T]{
		size:  size,
		buf:   make([]T, 0, size),
		flush: flush,
	}
}

// Add buffers item and flushes when the buffer is full.
func (b *Batcher[T]) Add(ctx context.Context, item T) error {
	if b.closed {
		return eris.New("ingest: add to closed batcher")
	}
	b.buf = append(b.buf, item)
	if len(b.buf) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered items, if any.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	if err := b.flush(ctx, b.buf); err != nil {
		return err
	}
	b.flushed += len(b.buf)
	b.buf = b.buf[:0]
	return nil
}

// Close flushes the tail. Further Adds fail.
func (b *Batcher[T]) Close(ctx context.Context) error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.Flush(ctx)
}

// Pending returns the number of buffered, unflushed items.
func (b *Batcher[T]) Pending() int { return len(b.buf) }

// Flushed returns the number of items written so far.
func (b *Batcher[T]) Flushed() int { return b.flushed }
