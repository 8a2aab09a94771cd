package tensor

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/example/carton/internal/cartonerr"
	"github.com/example/carton/internal/manifest"
)

func float32Bytes(vals ...float32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func TestNewComputesRowMajorStrides(t *testing.T) {
	tn, err := New(manifest.DtypeFloat32, []uint64{2, 3}, float32Bytes(1, 2, 3, 4, 5, 6))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []int64{3, 1}
	for i, s := range want {
		if tn.Strides[i] != s {
			t.Fatalf("Strides = %v, want %v", tn.Strides, want)
		}
	}
}

func TestNewRejectsSizeMismatch(t *testing.T) {
	if _, err := New(manifest.DtypeFloat32, []uint64{2, 3}, float32Bytes(1, 2, 3)); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestNewStringTensor(t *testing.T) {
	tn, err := NewString([]uint64{2}, []string{"cat", "dog"})
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}
	if tn.Strings[1] != "dog" {
		t.Fatalf("Strings = %v", tn.Strings)
	}
}

func TestNewNestedRejectsNestedOfNested(t *testing.T) {
	inner, _ := NewNested(nil)
	_, err := NewNested([]*Tensor{inner})
	if err == nil {
		t.Fatal("expected error for nested-of-nested")
	}
}

func TestBorrowedTensorReleaseRunsDeleter(t *testing.T) {
	ran := false
	data := float32Bytes(1, 2)
	tn, err := NewBorrowed(manifest.DtypeFloat32, []uint64{2}, BorrowedRef{Data: data, Deleter: func() { ran = true }})
	if err != nil {
		t.Fatalf("NewBorrowed: %v", err)
	}
	if err := tn.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !ran {
		t.Fatal("expected deleter to run")
	}
}

func TestSharedTensorLengthMismatch(t *testing.T) {
	_, err := NewShared(manifest.DtypeFloat32, []uint64{4}, SharedMemoryRef{Length: 8})
	if err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestBytesForEachStorageKind(t *testing.T) {
	inline, _ := New(manifest.DtypeFloat32, []uint64{1}, float32Bytes(1))
	if _, err := inline.Bytes(); err != nil {
		t.Fatalf("inline Bytes: %v", err)
	}
	borrowed, _ := NewBorrowed(manifest.DtypeFloat32, []uint64{1}, BorrowedRef{Data: float32Bytes(1)})
	if _, err := borrowed.Bytes(); err != nil {
		t.Fatalf("borrowed Bytes: %v", err)
	}
	shared, _ := NewShared(manifest.DtypeFloat32, []uint64{1}, SharedMemoryRef{Length: 4})
	if _, err := shared.Bytes(); err == nil {
		t.Fatal("expected error reading Bytes() of shared storage")
	}
}

func symbolSpec(name string, dims ...manifest.Dim) manifest.TensorSpec {
	return manifest.TensorSpec{
		Name:  name,
		Dtype: manifest.DtypeFloat32,
		Shape: manifest.ShapeKind{Tag: manifest.ShapeSequence, Dims: dims},
	}
}

func TestValidateMapSymbolBindingConsistent(t *testing.T) {
	specs := []manifest.TensorSpec{
		symbolSpec("x", manifest.Dim{Kind: manifest.DimSymbol, Symbol: "batch"}, manifest.Dim{Kind: manifest.DimFixed, Fixed: 3}),
		symbolSpec("y", manifest.Dim{Kind: manifest.DimSymbol, Symbol: "batch"}, manifest.Dim{Kind: manifest.DimFixed, Fixed: 10}),
	}
	x, _ := New(manifest.DtypeFloat32, []uint64{2, 3}, float32Bytes(make([]float32, 6)...))
	y, _ := New(manifest.DtypeFloat32, []uint64{2, 10}, float32Bytes(make([]float32, 20)...))
	m := Map{"x": x, "y": y}
	if err := ValidateMap(specs, m); err != nil {
		t.Fatalf("expected consistent batch binding to succeed: %v", err)
	}
}

func TestValidateMapSymbolBindingMismatch(t *testing.T) {
	specs := []manifest.TensorSpec{
		symbolSpec("x", manifest.Dim{Kind: manifest.DimSymbol, Symbol: "batch"}, manifest.Dim{Kind: manifest.DimFixed, Fixed: 3}),
		symbolSpec("y", manifest.Dim{Kind: manifest.DimSymbol, Symbol: "batch"}, manifest.Dim{Kind: manifest.DimFixed, Fixed: 10}),
	}
	x, _ := New(manifest.DtypeFloat32, []uint64{2, 3}, float32Bytes(make([]float32, 6)...))
	y, _ := New(manifest.DtypeFloat32, []uint64{3, 10}, float32Bytes(make([]float32, 30)...))
	m := Map{"x": x, "y": y}

	var mismatch *cartonerr.InferInputMismatch
	err := ValidateMap(specs, m)
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *cartonerr.InferInputMismatch, got %T: %v", err, err)
	}
	if mismatch.Symbol != "batch" {
		t.Fatalf("Symbol = %q, want batch", mismatch.Symbol)
	}
}

func TestValidateMapMissingTensor(t *testing.T) {
	specs := []manifest.TensorSpec{symbolSpec("x", manifest.Dim{Kind: manifest.DimAny})}
	if err := ValidateMap(specs, Map{}); err == nil {
		t.Fatal("expected error for missing tensor")
	}
}

func TestValidateMapDtypeMismatch(t *testing.T) {
	specs := []manifest.TensorSpec{symbolSpec("x", manifest.Dim{Kind: manifest.DimAny})}
	x, _ := New(manifest.DtypeInt32, []uint64{1}, make([]byte, 4))
	if err := ValidateMap(specs, Map{"x": x}); err == nil {
		t.Fatal("expected dtype mismatch error")
	}
}
