package manifest

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pelletier/go-toml/v2"

	"github.com/example/carton/internal/cartonerr"
)

// IndexEntry describes one blob under tensor_data/, as listed in
// tensor_data/index.toml.
type IndexEntry struct {
	Name   string   `toml:"name"`
	Dtype  Dtype    `toml:"dtype"`
	Shape  []uint64 `toml:"shape"`
	Format string   `toml:"format"` // "bin" (row-major little-endian) or "string_toml"
	Path   string   `toml:"path"`   // path under tensor_data/
}

// TensorIndex is the parsed tensor_data/index.toml.
type TensorIndex struct {
	Entries []IndexEntry `toml:"tensors"`
}

// ParseTensorIndex decodes raw tensor_data/index.toml bytes.
func ParseTensorIndex(raw []byte) (*TensorIndex, error) {
	var idx TensorIndex
	if err := toml.Unmarshal(raw, &idx); err != nil {
		return nil, &cartonerr.Format{Op: "parse tensor_data/index.toml", Reason: "decode failed", Err: err}
	}
	for _, e := range idx.Entries {
		if e.Name == "" || e.Path == "" {
			return nil, &cartonerr.Format{Op: "parse tensor_data/index.toml", Reason: "entry missing name or path"}
		}
		switch e.Format {
		case "bin", "string_toml":
		default:
			return nil, &cartonerr.Format{Op: "parse tensor_data/index.toml", Reason: fmt.Sprintf("entry %s: unknown format %q", e.Name, e.Format)}
		}
	}
	return &idx, nil
}

// Lookup returns the index entry for a tensor blob name.
func (idx *TensorIndex) Lookup(name string) (IndexEntry, bool) {
	for _, e := range idx.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return IndexEntry{}, false
}

func elemSize(d Dtype) (int, error) {
	switch d {
	case DtypeFloat32, DtypeInt32, DtypeUint32:
		return 4, nil
	case DtypeFloat64, DtypeInt64, DtypeUint64:
		return 8, nil
	case DtypeInt8, DtypeUint8:
		return 1, nil
	case DtypeInt16, DtypeUint16:
		return 2, nil
	default:
		return 0, fmt.Errorf("dtype %s has no fixed binary element size", d)
	}
}

func numElements(shape []uint64) uint64 {
	n := uint64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// DecodeBinBlob decodes a row-major, little-endian .bin tensor blob per its
// index entry's dtype and shape, returning a dtype-appropriate Go slice
// (e.g. []float32, []int16).
func DecodeBinBlob(entry IndexEntry, raw []byte) (any, error) {
	size, err := elemSize(entry.Dtype)
	if err != nil {
		return nil, &cartonerr.Format{Op: "decode tensor blob " + entry.Name, Reason: err.Error()}
	}
	want := int(numElements(entry.Shape)) * size
	if len(raw) != want {
		return nil, &cartonerr.Format{
			Op:     "decode tensor blob " + entry.Name,
			Reason: fmt.Sprintf("expected %d bytes for shape %v dtype %s, got %d", want, entry.Shape, entry.Dtype, len(raw)),
		}
	}
	n := int(numElements(entry.Shape))

	switch entry.Dtype {
	case DtypeFloat32:
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case DtypeFloat64:
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	case DtypeInt8:
		out := make([]int8, n)
		for i := 0; i < n; i++ {
			out[i] = int8(raw[i])
		}
		return out, nil
	case DtypeUint8:
		out := make([]uint8, n)
		copy(out, raw)
		return out, nil
	case DtypeInt16:
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return out, nil
	case DtypeUint16:
		out := make([]uint16, n)
		for i := 0; i < n; i++ {
			out[i] = binary.LittleEndian.Uint16(raw[i*2:])
		}
		return out, nil
	case DtypeInt32:
		out := make([]int32, n)
		for i := 0; i < n; i++ {
			out[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case DtypeUint32:
		out := make([]uint32, n)
		for i := 0; i < n; i++ {
			out[i] = binary.LittleEndian.Uint32(raw[i*4:])
		}
		return out, nil
	case DtypeInt64:
		out := make([]int64, n)
		for i := 0; i < n; i++ {
			out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
		return out, nil
	case DtypeUint64:
		out := make([]uint64, n)
		for i := 0; i < n; i++ {
			out[i] = binary.LittleEndian.Uint64(raw[i*8:])
		}
		return out, nil
	default:
		return nil, &cartonerr.Format{Op: "decode tensor blob " + entry.Name, Reason: "unsupported dtype for .bin decode: " + entry.Dtype.String()}
	}
}

// stringBlob is the shape of a string_toml tensor blob file.
type stringBlob struct {
	Data []string `toml:"data"`
}

// DecodeStringBlob decodes a string_toml tensor blob's `data = [...]` array.
func DecodeStringBlob(entry IndexEntry, raw []byte) ([]string, error) {
	var sb stringBlob
	if err := toml.Unmarshal(raw, &sb); err != nil {
		return nil, &cartonerr.Format{Op: "decode tensor blob " + entry.Name, Reason: "decode failed", Err: err}
	}
	want := int(numElements(entry.Shape))
	if len(sb.Data) != want {
		return nil, &cartonerr.Format{
			Op:     "decode tensor blob " + entry.Name,
			Reason: fmt.Sprintf("expected %d strings for shape %v, got %d", want, entry.Shape, len(sb.Data)),
		}
	}
	return sb.Data, nil
}
