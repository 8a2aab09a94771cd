package orchestrator

import (
	"fmt"

	"github.com/example/carton/internal/cartonerr"
	"github.com/example/carton/internal/ipc"
	"github.com/example/carton/internal/manifest"
	"github.com/example/carton/internal/tensor"
)

// toWire flattens t into its wire form, appending file descriptors for any
// shared-memory storage it (or its descendants) carries to fds and
// recording their index in WireTensor.FDIndex, in depth-first order.
func toWire(t *tensor.Tensor, fds *[]int) (ipc.WireTensor, error) {
	if t.Dtype == manifest.DtypeNested {
		inner := make([]ipc.WireTensor, len(t.Inner))
		for i, child := range t.Inner {
			w, err := toWire(child, fds)
			if err != nil {
				return ipc.WireTensor{}, err
			}
			inner[i] = w
		}
		return ipc.WireTensor{Dtype: t.Dtype.String(), Inner: inner}, nil
	}
	if t.Dtype == manifest.DtypeString {
		return ipc.WireTensor{Dtype: t.Dtype.String(), Shape: t.Shape, Strings: t.Strings}, nil
	}

	w := ipc.WireTensor{Dtype: t.Dtype.String(), Shape: t.Shape}
	switch t.Storage.Kind {
	case tensor.StorageInline:
		w.Storage = ipc.WireStorageInline
		w.Inline = t.Storage.Inline
	case tensor.StorageBorrowed:
		w.Storage = ipc.WireStorageInline
		w.Inline = t.Storage.Borrowed.Data
	case tensor.StorageShared:
		ref := t.Storage.Shared
		w.Storage = ipc.WireStorageShared
		w.Length = ref.Length
		w.FDIndex = len(*fds)
		*fds = append(*fds, int(ref.FD))
	default:
		return ipc.WireTensor{}, fmt.Errorf("orchestrator: unhandled storage kind %v", t.Storage.Kind)
	}
	return w, nil
}

// fromWire reconstructs a tensor.Tensor from its wire form. Shared-memory
// tensors are mapped via mapShared, which the caller supplies bound to the
// fds accompanying this frame.
func fromWire(w ipc.WireTensor, mapShared func(fdIndex int, length int64) (tensor.SharedMemoryRef, error)) (*tensor.Tensor, error) {
	dtype, err := manifest.ParseDtype(w.Dtype)
	if err != nil {
		return nil, &cartonerr.InferRunnerError{Detail: err.Error()}
	}

	if dtype == manifest.DtypeNested {
		inner := make([]*tensor.Tensor, len(w.Inner))
		for i, iw := range w.Inner {
			t, err := fromWire(iw, mapShared)
			if err != nil {
				return nil, err
			}
			inner[i] = t
		}
		return tensor.NewNested(inner)
	}
	if dtype == manifest.DtypeString {
		return tensor.NewString(w.Shape, w.Strings)
	}

	switch w.Storage {
	case ipc.WireStorageInline, "":
		return tensor.New(dtype, w.Shape, w.Inline)
	case ipc.WireStorageShared:
		ref, err := mapShared(w.FDIndex, w.Length)
		if err != nil {
			return nil, err
		}
		return tensor.NewShared(dtype, w.Shape, ref)
	default:
		return nil, &cartonerr.InferRunnerError{Detail: fmt.Sprintf("unknown wire storage tag %q", w.Storage)}
	}
}

func mapToWire(m tensor.Map) (map[string]ipc.WireTensor, []int, error) {
	out := make(map[string]ipc.WireTensor, len(m))
	var fds []int
	for name, t := range m {
		w, err := toWire(t, &fds)
		if err != nil {
			return nil, nil, err
		}
		out[name] = w
	}
	return out, fds, nil
}
