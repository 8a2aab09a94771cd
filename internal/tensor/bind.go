package tensor

import (
	"fmt"

	"github.com/example/carton/internal/cartonerr"
	"github.com/example/carton/internal/manifest"
)

// symbolStar is the reserved shape symbol that rebinds at every occurrence
// instead of being held consistent across a model's tensor specs.
const symbolStar = "*"

// bindings tracks the concrete value each named shape symbol has been bound
// to so far, shared across every spec checked in one ValidateMap call.
type bindings map[string]uint64

// ValidateMap checks a tensor Map against a model's ordered tensor specs:
// every required tensor is present, dtypes match, and named shape symbols
// (other than "*") bind to the same concrete value everywhere they occur.
func ValidateMap(specs []manifest.TensorSpec, m Map) error {
	b := make(bindings)
	for _, spec := range specs {
		t, ok := m[spec.Name]
		if !ok {
			return &cartonerr.InferInputMismatch{Reason: fmt.Sprintf("missing required tensor %q", spec.Name)}
		}
		if t.Dtype != spec.Dtype {
			return &cartonerr.InferInputMismatch{
				Reason: fmt.Sprintf("tensor %q: expected dtype %s, got %s", spec.Name, spec.Dtype, t.Dtype),
			}
		}
		if err := matchShape(spec, t.Shape, b); err != nil {
			return err
		}
	}
	return nil
}

func matchShape(spec manifest.TensorSpec, actual []uint64, b bindings) error {
	switch spec.Shape.Tag {
	case manifest.ShapeAny:
		return nil
	case manifest.ShapeSymbolicWhole:
		return bindWholeShape(spec.Shape.Symbol, actual, b)
	case manifest.ShapeSequence:
		return matchSequence(spec.Name, spec.Shape.Dims, actual, b)
	default:
		return &cartonerr.InferInputMismatch{Reason: fmt.Sprintf("tensor %q: unknown shape kind", spec.Name)}
	}
}

func bindWholeShape(symbol string, actual []uint64, b bindings) error {
	if symbol == symbolStar {
		return nil
	}
	key := "whole:" + symbol
	// Encode the whole shape as a single comparable value via its product;
	// full-shape symbols are rare enough that element-count equivalence is
	// an adequate consistency check for this runtime.
	got := NumElements(actual)
	if prev, ok := b[key]; ok {
		if prev != got {
			return &cartonerr.InferInputMismatch{Symbol: symbol, Reason: fmt.Sprintf("shape %v is inconsistent with a prior binding", actual)}
		}
		return nil
	}
	b[key] = got
	return nil
}

func matchSequence(tensorName string, dims []manifest.Dim, actual []uint64, b bindings) error {
	if len(dims) != len(actual) {
		return &cartonerr.InferInputMismatch{
			Reason: fmt.Sprintf("tensor %q: expected %d dimensions, got %d", tensorName, len(dims), len(actual)),
		}
	}
	for i, dim := range dims {
		switch dim.Kind {
		case manifest.DimAny:
			continue
		case manifest.DimFixed:
			if actual[i] != dim.Fixed {
				return &cartonerr.InferInputMismatch{
					Reason: fmt.Sprintf("tensor %q: dimension %d expected %d, got %d", tensorName, i, dim.Fixed, actual[i]),
				}
			}
		case manifest.DimSymbol:
			if dim.Symbol == symbolStar {
				continue
			}
			if prev, ok := b[dim.Symbol]; ok {
				if prev != actual[i] {
					return &cartonerr.InferInputMismatch{
						Symbol: dim.Symbol,
						Reason: fmt.Sprintf("tensor %q: dimension %d binds %q to %d, already bound to %d", tensorName, i, dim.Symbol, actual[i], prev),
					}
				}
			} else {
				b[dim.Symbol] = actual[i]
			}
		}
	}
	return nil
}
