package manifest

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/example/carton/internal/cartonerr"
)

// CartonInfo is the decoded carton.toml descriptor.
type CartonInfo struct {
	SpecVersion      int                    `toml:"spec_version"`
	DisplayName      string                 `toml:"display_name"`
	Description      string                 `toml:"description"`
	License          string                 `toml:"license"`
	Repository       string                 `toml:"repository"`
	Homepage         string                 `toml:"homepage"`
	RequiredPlatform []string               `toml:"required_platform"`
	Inputs           []TensorSpec           `toml:"inputs"`
	Outputs          []TensorSpec           `toml:"outputs"`
	SelfTests        []SelfTest             `toml:"self_tests"`
	Examples         []Example              `toml:"examples"`
	Runner           RunnerRequirement      `toml:"runner"`
}

// RunnerRequirement is carton.toml's [runner] block.
type RunnerRequirement struct {
	RunnerName               string         `toml:"runner_name"`
	RequiredFrameworkVersion string         `toml:"required_framework_version"`
	RunnerCompatVersion      int            `toml:"runner_compat_version"`
	Options                  map[string]any `toml:"options"`
}

// SelfTest is a runnable fixture bundled with the carton.
type SelfTest struct {
	Name    string            `toml:"name"`
	Inputs  map[string]string `toml:"inputs"`  // tensor name -> @tensor_data/... or @misc/... path
	Outputs map[string]string `toml:"outputs"`
}

// Example is a non-runnable fixture referencing tensor blobs or misc media.
type Example struct {
	Name        string            `toml:"name"`
	Description string            `toml:"description"`
	Inputs      map[string]string `toml:"inputs"`
}

// Dtype is the fixed tensor element-type enum.
type Dtype int

const (
	DtypeFloat32 Dtype = iota
	DtypeFloat64
	DtypeString
	DtypeInt8
	DtypeInt16
	DtypeInt32
	DtypeInt64
	DtypeUint8
	DtypeUint16
	DtypeUint32
	DtypeUint64
	DtypeNested
)

func (d Dtype) String() string {
	switch d {
	case DtypeFloat32:
		return "float32"
	case DtypeFloat64:
		return "float64"
	case DtypeString:
		return "string"
	case DtypeInt8:
		return "int8"
	case DtypeInt16:
		return "int16"
	case DtypeInt32:
		return "int32"
	case DtypeInt64:
		return "int64"
	case DtypeUint8:
		return "uint8"
	case DtypeUint16:
		return "uint16"
	case DtypeUint32:
		return "uint32"
	case DtypeUint64:
		return "uint64"
	case DtypeNested:
		return "nested"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// ParseDtype parses a dtype's wire/TOML string name, the inverse of
// Dtype.String.
func ParseDtype(s string) (Dtype, error) { return parseDtype(s) }

func parseDtype(s string) (Dtype, error) {
	switch s {
	case "float32":
		return DtypeFloat32, nil
	case "float64":
		return DtypeFloat64, nil
	case "string":
		return DtypeString, nil
	case "int8":
		return DtypeInt8, nil
	case "int16":
		return DtypeInt16, nil
	case "int32":
		return DtypeInt32, nil
	case "int64":
		return DtypeInt64, nil
	case "uint8":
		return DtypeUint8, nil
	case "uint16":
		return DtypeUint16, nil
	case "uint32":
		return DtypeUint32, nil
	case "uint64":
		return DtypeUint64, nil
	case "nested":
		return DtypeNested, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}

// MarshalText lets Dtype round-trip through TOML/JSON as its string name.
func (d Dtype) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText parses a dtype name.
func (d *Dtype) UnmarshalText(b []byte) error {
	v, err := parseDtype(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// DimKind distinguishes the three kinds of shape dimension entry.
type DimKind int

const (
	DimAny DimKind = iota
	DimFixed
	DimSymbol
)

// Dim is one entry of a Sequence shape kind.
type Dim struct {
	Kind   DimKind
	Fixed  uint64
	Symbol string
}

// ShapeKindTag distinguishes the three kinds of tensor shape constraint.
type ShapeKindTag int

const (
	ShapeAny ShapeKindTag = iota
	ShapeSymbolicWhole
	ShapeSequence
)

// ShapeKind is a tensor spec's shape constraint: unconstrained, a single
// symbol standing for the whole shape, or a per-dimension sequence.
type ShapeKind struct {
	Tag    ShapeKindTag
	Symbol string // set when Tag == ShapeSymbolicWhole
	Dims   []Dim  // set when Tag == ShapeSequence
}

// TensorSpec describes one input or output tensor slot.
type TensorSpec struct {
	Name         string    `toml:"name"`
	Dtype        Dtype     `toml:"dtype"`
	Shape        ShapeKind `toml:"-"`
	Description  string    `toml:"description"`
	InternalName string    `toml:"internal_name"`
}

// ParseCartonInfo decodes raw carton.toml bytes, rejecting unknown required
// fields (spec version, runner block) while silently ignoring unknown
// optional ones, matching go-toml/v2's default forward-compatible decode
// behavior for everything else.
func ParseCartonInfo(raw []byte) (*CartonInfo, error) {
	var info CartonInfo
	if err := toml.Unmarshal(raw, &info); err != nil {
		return nil, &cartonerr.Format{Op: "parse carton.toml", Reason: "decode failed", Err: err}
	}

	if info.SpecVersion == 0 {
		return nil, &cartonerr.Format{Op: "parse carton.toml", Reason: "missing required field spec_version"}
	}
	if info.SpecVersion != 1 {
		return nil, &cartonerr.Format{Op: "parse carton.toml", Reason: fmt.Sprintf("unsupported spec_version %d", info.SpecVersion)}
	}
	if info.Runner.RunnerName == "" {
		return nil, &cartonerr.Format{Op: "parse carton.toml", Reason: "missing required [runner] table or runner_name"}
	}

	return &info, nil
}
