// Package tensor is the typed N-dimensional array model shared by carton
// loading, serialization, and inference: a tagged union over dtype and the
// three storage kinds a tensor can carry across process boundaries.
package tensor

import (
	"fmt"

	"github.com/example/carton/internal/cartonerr"
	"github.com/example/carton/internal/manifest"
)

// StorageKind distinguishes how a tensor's bytes are backed.
type StorageKind int

const (
	StorageInline StorageKind = iota
	StorageShared
	StorageBorrowed
)

// SharedMemoryRef identifies a shared-memory-backed tensor segment. Release
// drops this holder's reference; the segment remains valid until every
// holder has called Release (invariant iii).
type SharedMemoryRef struct {
	FD      uintptr
	Offset  int64
	Length  int64
	Release func() error
}

// BorrowedRef is a non-owning view into caller memory. Deleter runs when the
// borrower is done, signalling the owner it may reuse or free the memory.
type BorrowedRef struct {
	Data    []byte
	Deleter func()
}

// Storage is the tensor's backing bytes, tagged by Kind.
type Storage struct {
	Kind     StorageKind
	Inline   []byte
	Shared   SharedMemoryRef
	Borrowed BorrowedRef
}

// Tensor is a tagged-union N-dimensional array: numeric dtypes carry Storage
// bytes interpreted via Dtype/Shape/Strides; DtypeString carries Strings;
// DtypeNested carries Inner (each of which must itself be non-nested).
type Tensor struct {
	Dtype   manifest.Dtype
	Shape   []uint64
	Strides []int64
	Storage Storage
	Strings []string
	Inner   []*Tensor
}

// NumElements returns the product of Shape (1 for a scalar/empty shape).
func NumElements(shape []uint64) uint64 {
	n := uint64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// RowMajorStrides computes contiguous row-major strides for shape, in
// elements (not bytes), per invariant (ii).
func RowMajorStrides(shape []uint64) []int64 {
	strides := make([]int64, len(shape))
	acc := int64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= int64(shape[i])
	}
	return strides
}

func elemByteSize(d manifest.Dtype) (int, error) {
	switch d {
	case manifest.DtypeFloat32, manifest.DtypeInt32, manifest.DtypeUint32:
		return 4, nil
	case manifest.DtypeFloat64, manifest.DtypeInt64, manifest.DtypeUint64:
		return 8, nil
	case manifest.DtypeInt8, manifest.DtypeUint8:
		return 1, nil
	case manifest.DtypeInt16, manifest.DtypeUint16:
		return 2, nil
	default:
		return 0, fmt.Errorf("dtype %s has no fixed element size", d)
	}
}

// New builds an inline-storage numeric tensor, validating that data's length
// matches product(shape) * element size (invariant i).
func New(dtype manifest.Dtype, shape []uint64, data []byte) (*Tensor, error) {
	size, err := elemByteSize(dtype)
	if err != nil {
		return nil, &cartonerr.InferInputMismatch{Reason: err.Error()}
	}
	want := int(NumElements(shape)) * size
	if len(data) != want {
		return nil, &cartonerr.InferInputMismatch{
			Reason: fmt.Sprintf("dtype %s shape %v expects %d bytes, got %d", dtype, shape, want, len(data)),
		}
	}
	return &Tensor{
		Dtype:   dtype,
		Shape:   shape,
		Strides: RowMajorStrides(shape),
		Storage: Storage{Kind: StorageInline, Inline: data},
	}, nil
}

// NewShared builds a numeric tensor backed by a shared-memory segment.
func NewShared(dtype manifest.Dtype, shape []uint64, ref SharedMemoryRef) (*Tensor, error) {
	size, err := elemByteSize(dtype)
	if err != nil {
		return nil, &cartonerr.InferInputMismatch{Reason: err.Error()}
	}
	want := int64(NumElements(shape)) * int64(size)
	if ref.Length != want {
		return nil, &cartonerr.InferInputMismatch{
			Reason: fmt.Sprintf("dtype %s shape %v expects shared-memory length %d, got %d", dtype, shape, want, ref.Length),
		}
	}
	return &Tensor{
		Dtype:   dtype,
		Shape:   shape,
		Strides: RowMajorStrides(shape),
		Storage: Storage{Kind: StorageShared, Shared: ref},
	}, nil
}

// NewBorrowed builds a numeric tensor over caller-owned memory. ref.Deleter
// runs when Release is called.
func NewBorrowed(dtype manifest.Dtype, shape []uint64, ref BorrowedRef) (*Tensor, error) {
	size, err := elemByteSize(dtype)
	if err != nil {
		return nil, &cartonerr.InferInputMismatch{Reason: err.Error()}
	}
	want := int(NumElements(shape)) * size
	if len(ref.Data) != want {
		return nil, &cartonerr.InferInputMismatch{
			Reason: fmt.Sprintf("dtype %s shape %v expects %d bytes, got %d", dtype, shape, want, len(ref.Data)),
		}
	}
	return &Tensor{
		Dtype:   dtype,
		Shape:   shape,
		Strides: RowMajorStrides(shape),
		Storage: Storage{Kind: StorageBorrowed, Borrowed: ref},
	}, nil
}

// NewString builds a string tensor: an ordered vector of owned strings
// indexed by flattened offset.
func NewString(shape []uint64, values []string) (*Tensor, error) {
	want := int(NumElements(shape))
	if len(values) != want {
		return nil, &cartonerr.InferInputMismatch{
			Reason: fmt.Sprintf("string tensor shape %v expects %d values, got %d", shape, want, len(values)),
		}
	}
	return &Tensor{
		Dtype:   manifest.DtypeString,
		Shape:   shape,
		Strides: RowMajorStrides(shape),
		Strings: values,
	}, nil
}

// NewNested builds a nested tensor from non-nested inner tensors.
func NewNested(inner []*Tensor) (*Tensor, error) {
	for i, t := range inner {
		if t.Dtype == manifest.DtypeNested {
			return nil, &cartonerr.InferInputMismatch{Reason: fmt.Sprintf("nested tensor inner[%d] is itself nested", i)}
		}
	}
	return &Tensor{Dtype: manifest.DtypeNested, Inner: inner}, nil
}

// Bytes returns the backing byte slice for a numeric tensor, regardless of
// storage kind.
func (t *Tensor) Bytes() ([]byte, error) {
	switch t.Storage.Kind {
	case StorageInline:
		return t.Storage.Inline, nil
	case StorageBorrowed:
		return t.Storage.Borrowed.Data, nil
	case StorageShared:
		return nil, fmt.Errorf("tensor: shared-memory storage requires mapping via shmpool, not Bytes()")
	default:
		return nil, fmt.Errorf("tensor: dtype %s has no byte-addressable storage", t.Dtype)
	}
}

// Release drops this holder's reference to any shared-memory segment or
// borrowed buffer. It is safe to call on inline-storage and string/nested
// tensors, where it is a no-op.
func (t *Tensor) Release() error {
	switch t.Storage.Kind {
	case StorageShared:
		if t.Storage.Shared.Release != nil {
			return t.Storage.Shared.Release()
		}
	case StorageBorrowed:
		if t.Storage.Borrowed.Deleter != nil {
			t.Storage.Borrowed.Deleter()
		}
	}
	return nil
}

// Map is a named collection of tensors, as passed to and returned from
// Infer.
type Map map[string]*Tensor
