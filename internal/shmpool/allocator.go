// Package shmpool implements the two tensor backing-allocation strategies
// (inline heap, anonymous shared memory) behind one Allocator interface, and
// a size-bucketed reuse pool in front of either, grounded on quay-claircore's
// sync.Map-keyed Live cache shape.
package shmpool

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/example/carton/internal/cartonerr"
	"github.com/example/carton/internal/tensor"
)

// Allocation is a freshly allocated, size-exact block. teardown physically
// frees the underlying resource (munmap+close, or nothing for inline);
// release is what Release() actually invokes, and defaults to teardown
// unless a Pool has wrapped this allocation to return it to a free list
// instead.
type Allocation struct {
	Data     []byte
	FD       uintptr // 0 for inline allocations
	size     int64
	teardown func()
	release  func()
}

// Release hands the allocation back to its allocator or pool.
func (a *Allocation) Release() {
	switch {
	case a.release != nil:
		a.release()
	case a.teardown != nil:
		a.teardown()
	}
}

// SharedRef builds a tensor.SharedMemoryRef over a shared-memory allocation.
// Calling it on an inline allocation (FD == 0) is a caller error.
func (a *Allocation) SharedRef() tensor.SharedMemoryRef {
	return tensor.SharedMemoryRef{
		FD:     a.FD,
		Offset: 0,
		Length: a.size,
		Release: func() error {
			a.Release()
			return nil
		},
	}
}

// Allocator produces size-exact allocations.
type Allocator interface {
	Alloc(size int64) (*Allocation, error)
}

// InlineAllocator backs tensors with plain owned heap memory.
type InlineAllocator struct{}

func (InlineAllocator) Alloc(size int64) (*Allocation, error) {
	return &Allocation{Data: make([]byte, size), size: size}, nil
}

// ShmAllocator backs tensors with anonymous POSIX shared memory
// (memfd_create + mmap), so the resulting file descriptor can be sent to a
// runner process across the IPC boundary without copying.
type ShmAllocator struct{}

func (ShmAllocator) Alloc(size int64) (*Allocation, error) {
	if size <= 0 {
		return &Allocation{Data: nil, size: size}, nil
	}
	fd, err := unix.MemfdCreate("carton-tensor", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("shmpool: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shmpool: ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shmpool: mmap: %w", err)
	}
	a := &Allocation{Data: data, FD: uintptr(fd), size: size}
	a.teardown = func() {
		unix.Munmap(data)
		unix.Close(fd)
	}
	return a, nil
}

// New constructs the shared-memory allocator by name, as selected by
// RuntimeConfig.DefaultDevice-adjacent configuration. "inline" and "shm" are
// the only supported values.
func New(kind string) (Allocator, error) {
	switch kind {
	case "", "inline":
		return InlineAllocator{}, nil
	case "shm":
		return ShmAllocator{}, nil
	default:
		return nil, &cartonerr.Format{Op: "construct allocator", Reason: fmt.Sprintf("unknown allocator kind %q", kind)}
	}
}
