package device

import (
	"fmt"

	"github.com/san-kum/mdstep/internal/mdtypes"
)

// Buffer is a device-resident array tracking logical size separately from
// allocated capacity. Growth reallocates; shrinking only adjusts the logical
// size, so a sequence of rebinds with a fluctuating atom count does not churn
// device memory.
type Buffer[T any] struct {
	data   []T
	size   int
	allocs int
}

func NewBuffer[T any]() *Buffer[T] {
	return &Buffer[T]{}
}

// EnsureCapacity grows the allocation to exactly n elements when n exceeds
// the current capacity and sets the logical size to n. Contents are undefined
// after a reallocation; callers must rewrite the buffer.
func (b *Buffer[T]) EnsureCapacity(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative size %d", mdtypes.ErrAllocation, n)
	}
	if n > cap(b.data) {
		b.data = make([]T, n)
		b.allocs++
	}
	b.size = n
	return nil
}

// Data returns the logical view of the buffer. Only valid until the next
// EnsureCapacity or Release.
func (b *Buffer[T]) Data() []T {
	return b.data[:b.size]
}

func (b *Buffer[T]) Len() int      { return b.size }
func (b *Buffer[T]) Capacity() int { return cap(b.data) }

// Allocations reports how many reallocations the buffer has performed.
func (b *Buffer[T]) Allocations() int { return b.allocs }

// Upload copies host into the buffer, growing it if needed.
func (b *Buffer[T]) Upload(host []T) error {
	if err := b.EnsureCapacity(len(host)); err != nil {
		return err
	}
	copy(b.data, host)
	return nil
}

// Download copies the buffer's logical contents into host, which must be at
// least Len elements long.
func (b *Buffer[T]) Download(host []T) error {
	if len(host) < b.size {
		return fmt.Errorf("%w: host slice %d < device %d", mdtypes.ErrSizeMismatch, len(host), b.size)
	}
	copy(host, b.data[:b.size])
	return nil
}

// Release frees the underlying memory. The buffer may be reused afterwards;
// the next EnsureCapacity allocates fresh.
func (b *Buffer[T]) Release() {
	b.data = nil
	b.size = 0
}
