package main

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/example/carton/internal/ipc"
	"github.com/example/carton/internal/manifest"
)

// noopRunner implements ipc.Handler, answering every request kind the v1
// protocol defines.
type noopRunner struct {
	conn   *ipc.Conn
	logger *slog.Logger

	nextHandle uint64
	sealed     sync.Map // uint64 -> ipc.InferRequest
}

func (r *noopRunner) Handle(ctx context.Context, kind ipc.Kind, payload []byte, fds []int) (ipc.Kind, any, []int, bool, error) {
	switch kind {
	case ipc.KindHello:
		return r.handleHello(payload)
	case ipc.KindLoadRequest:
		return r.handleLoad(payload)
	case ipc.KindPackRequest:
		return r.handlePack(payload)
	case ipc.KindGetInfoRequest:
		return r.handleGetInfo()
	case ipc.KindInferRequest:
		return r.handleInfer(payload)
	case ipc.KindSealRequest:
		return r.handleSeal(payload)
	case ipc.KindInferSealedRequest:
		return r.handleInferSealed(payload)
	case ipc.KindShutdownRequest:
		return ipc.KindShutdownResponse, ipc.ShutdownResponse{}, nil, false, nil
	default:
		return ipc.KindError, ipc.ErrorPayload{Reason: "noop runner: unsupported kind " + string(kind)}, nil, false, nil
	}
}

func (r *noopRunner) handleHello(payload []byte) (ipc.Kind, any, []int, bool, error) {
	var hello ipc.Hello
	if err := ipc.UnmarshalRaw(payload, &hello); err != nil {
		return 0, nil, nil, false, err
	}
	selected := ipc.InterfaceMajorVersion(0)
	for _, v := range hello.SupportedVersions {
		if v == 1 {
			selected = 1
			break
		}
	}
	return ipc.KindHelloAck, ipc.HelloAck{SelectedVersion: selected}, nil, false, nil
}

func (r *noopRunner) handleLoad(payload []byte) (ipc.Kind, any, []int, bool, error) {
	var req ipc.LoadRequest
	if err := ipc.UnmarshalRaw(payload, &req); err != nil {
		return 0, nil, nil, false, err
	}
	r.logger.Info("noop runner: load", "model_id", req.ModelID)
	return ipc.KindLoadResponse, ipc.LoadResponse{OK: true}, nil, false, nil
}

// handlePack has no dependencies to resolve, so it reports the mounted
// source tree itself as the directory to zip.
func (r *noopRunner) handlePack(payload []byte) (ipc.Kind, any, []int, bool, error) {
	var req ipc.PackRequest
	if err := ipc.UnmarshalRaw(payload, &req); err != nil {
		return 0, nil, nil, false, err
	}
	r.logger.Info("noop runner: pack", "source_dir", req.SourceDir)
	return ipc.KindPackResponse, ipc.PackResponse{OK: true, OutputDir: "."}, nil, false, nil
}

const noopCartonInfoTOML = `spec_version = 1

[runner]
runner_name = "carton-noop"
runner_compat_version = 1

[[inputs]]
name = "x"
dtype = "float32"

[[outputs]]
name = "y"
dtype = "float32"
`

func (r *noopRunner) handleGetInfo() (ipc.Kind, any, []int, bool, error) {
	return ipc.KindGetInfoResponse, ipc.GetInfoResponse{CartonInfoTOML: []byte(noopCartonInfoTOML)}, nil, false, nil
}

func (r *noopRunner) handleInfer(payload []byte) (ipc.Kind, any, []int, bool, error) {
	var req ipc.InferRequest
	if err := ipc.UnmarshalRaw(payload, &req); err != nil {
		return 0, nil, nil, false, err
	}
	outputs, reason := r.double(req)
	if reason != "" {
		return ipc.KindError, ipc.ErrorPayload{Reason: reason}, nil, false, nil
	}
	return ipc.KindInferResponse, ipc.InferResponse{Outputs: outputs}, nil, false, nil
}

// handleSeal stashes the request under a fresh handle for a later
// InferSealedRequest to replay, the two-phase pipelining interface's first
// half; the noop runner validates nothing at Seal time, only at replay.
func (r *noopRunner) handleSeal(payload []byte) (ipc.Kind, any, []int, bool, error) {
	var req ipc.InferRequest
	if err := ipc.UnmarshalRaw(payload, &req); err != nil {
		return 0, nil, nil, false, err
	}
	handle := atomic.AddUint64(&r.nextHandle, 1)
	r.sealed.Store(handle, req)
	return ipc.KindSealResponse, ipc.SealResponse{OK: true, Handle: handle}, nil, false, nil
}

func (r *noopRunner) handleInferSealed(payload []byte) (ipc.Kind, any, []int, bool, error) {
	var req ipc.InferSealedRequest
	if err := ipc.UnmarshalRaw(payload, &req); err != nil {
		return 0, nil, nil, false, err
	}
	stored, ok := r.sealed.LoadAndDelete(req.Handle)
	if !ok {
		return ipc.KindInferSealedResponse, ipc.InferSealedResponse{OK: false, Reason: "noop runner: unknown seal handle"}, nil, false, nil
	}
	outputs, reason := r.double(stored.(ipc.InferRequest))
	if reason != "" {
		return ipc.KindInferSealedResponse, ipc.InferSealedResponse{OK: false, Reason: reason}, nil, false, nil
	}
	return ipc.KindInferSealedResponse, ipc.InferSealedResponse{OK: true, Outputs: outputs}, nil, false, nil
}

// double is handleInfer and handleInferSealed's shared body: validate "x",
// double it into "y".
func (r *noopRunner) double(req ipc.InferRequest) (map[string]ipc.WireTensor, string) {
	x, ok := req.Inputs["x"]
	if !ok {
		return nil, "noop runner: missing input \"x\""
	}
	if x.Dtype != manifest.DtypeFloat32.String() {
		return nil, "noop runner: input \"x\" must be float32"
	}
	y := doubleFloat32(x.Inline)
	return map[string]ipc.WireTensor{
		"y": {Dtype: x.Dtype, Shape: x.Shape, Storage: ipc.WireStorageInline, Inline: y},
	}, ""
}

func doubleFloat32(raw []byte) []byte {
	out := make([]byte, len(raw))
	for i := 0; i+4 <= len(raw); i += 4 {
		bits := uint32(raw[i]) | uint32(raw[i+1])<<8 | uint32(raw[i+2])<<16 | uint32(raw[i+3])<<24
		v := math.Float32frombits(bits) * 2
		doubled := math.Float32bits(v)
		out[i] = byte(doubled)
		out[i+1] = byte(doubled >> 8)
		out[i+2] = byte(doubled >> 16)
		out[i+3] = byte(doubled >> 24)
	}
	return out
}
