// Package ipc implements the versioned, bidirectional, fd-passing wire
// protocol between the orchestrator and a runner child process: hello
// handshake, length-prefixed msgpack-encoded tagged-union frames, and
// per-correlation-id multiplexing of concurrent in-flight RPCs.
package ipc

// InterfaceMajorVersion identifies a wire-protocol vocabulary. The core
// ships every past major version; a runner ships exactly one.
type InterfaceMajorVersion = uint32

// CurrentMajorVersions are the major versions this build of the core
// understands, newest first.
var CurrentMajorVersions = []InterfaceMajorVersion{1}

// Kind tags a Frame's payload type.
type Kind string

const (
	KindHello    Kind = "hello"
	KindHelloAck Kind = "hello_ack"

	KindLoadRequest  Kind = "load_request"
	KindLoadResponse Kind = "load_response"

	KindPackRequest  Kind = "pack_request"
	KindPackResponse Kind = "pack_response"

	KindGetInfoRequest  Kind = "get_info_request"
	KindGetInfoResponse Kind = "get_info_response"

	KindInferRequest  Kind = "infer_request"
	KindInferResponse Kind = "infer_response"

	KindFSOpen         Kind = "fs_open"
	KindFSOpenResponse Kind = "fs_open_response"
	KindFSRead         Kind = "fs_read"
	KindFSReadChunk    Kind = "fs_read_chunk"
	KindFSMetadata     Kind = "fs_metadata"
	KindFSMetaResponse Kind = "fs_metadata_response"
	KindFSList         Kind = "fs_list"
	KindFSListResponse Kind = "fs_list_response"
	KindFSClose        Kind = "fs_close"

	KindSealRequest        Kind = "seal_request"
	KindSealResponse       Kind = "seal_response"
	KindInferSealedRequest  Kind = "infer_sealed_request"
	KindInferSealedResponse Kind = "infer_sealed_response"

	KindShutdownRequest  Kind = "shutdown_request"
	KindShutdownResponse Kind = "shutdown_response"

	KindLogEvent Kind = "log_event"
	KindError    Kind = "error"
)

// Hello is exchanged immediately after spawn: each side lists the interface
// major versions it supports. The highest mutually supported version
// selects the channel vocabulary for the rest of the session.
type Hello struct {
	SupportedVersions []InterfaceMajorVersion `msgpack:"supported_versions"`
}

// HelloAck echoes the negotiated version back, or zero if no version is
// shared (a fatal condition the caller must treat as RunnerIncompatibleInterface).
type HelloAck struct {
	SelectedVersion InterfaceMajorVersion `msgpack:"selected_version"`
}

// WireTensorStorage tags how a WireTensor's bytes travel across the wire.
type WireTensorStorage string

const (
	WireStorageInline WireTensorStorage = "inline"
	WireStorageShared WireTensorStorage = "shared"
)

// WireTensor is the serialized form of tensor.Tensor. Shared-memory tensors
// carry no inline bytes; instead, FDIndex names which entry of the Call's
// accompanying fd list (in depth-first WireTensor order) holds the backing
// memfd, transferring the descriptor instead of copying bytes.
type WireTensor struct {
	Dtype   string            `msgpack:"dtype"`
	Shape   []uint64          `msgpack:"shape"`
	Storage WireTensorStorage `msgpack:"storage,omitempty"`
	Inline  []byte            `msgpack:"inline,omitempty"`
	FDIndex int               `msgpack:"fd_index,omitempty"`
	Length  int64             `msgpack:"length,omitempty"`
	Strings []string          `msgpack:"strings,omitempty"`
	Inner   []WireTensor      `msgpack:"inner,omitempty"`
}

// LoadRequest asks the runner to load a model whose resolved filesystem is
// reachable through this same Conn's FS* calls.
type LoadRequest struct {
	ModelID string         `msgpack:"model_id"`
	Options map[string]any `msgpack:"options,omitempty"`
}

type LoadResponse struct {
	OK     bool   `msgpack:"ok"`
	Reason string `msgpack:"reason,omitempty"`
}

// PackRequest asks the runner to resolve its dependencies against the
// source tree mounted over this Conn's FS* calls and report the directory
// (relative to that source tree) whose contents the caller should zip into
// a carton package.
type PackRequest struct {
	SourceDir string `msgpack:"source_dir"`
}

type PackResponse struct {
	OK        bool   `msgpack:"ok"`
	OutputDir string `msgpack:"output_dir,omitempty"`
	Reason    string `msgpack:"reason,omitempty"`
}

type GetInfoRequest struct{}

type GetInfoResponse struct {
	CartonInfoTOML []byte `msgpack:"carton_info_toml"`
}

// InferRequest carries named input tensors; InferResponse carries named
// output tensors. Ordering of responses across distinct correlation ids is
// not guaranteed to match issue order.
type InferRequest struct {
	Inputs map[string]WireTensor `msgpack:"inputs"`
}

type InferResponse struct {
	Outputs map[string]WireTensor `msgpack:"outputs"`
}

// SealRequest asks the runner to bind a named input set to a handle it can
// replay later via InferSealedRequest, the first half of the two-phase
// seal/infer_sealed pipelining interface.
type SealRequest struct {
	Inputs map[string]WireTensor `msgpack:"inputs"`
}

type SealResponse struct {
	OK     bool   `msgpack:"ok"`
	Handle uint64 `msgpack:"handle,omitempty"`
	Reason string `msgpack:"reason,omitempty"`
}

// InferSealedRequest runs inference against a handle a prior SealRequest
// returned.
type InferSealedRequest struct {
	Handle uint64 `msgpack:"handle"`
}

type InferSealedResponse struct {
	OK      bool                   `msgpack:"ok"`
	Outputs map[string]WireTensor  `msgpack:"outputs,omitempty"`
	Reason  string                 `msgpack:"reason,omitempty"`
}

// ShutdownRequest asks the runner to release its model and exit cleanly;
// the orchestrator only kills the process directly if this round trip
// times out or the connection is already gone.
type ShutdownRequest struct{}

type ShutdownResponse struct{}

// ErrorPayload reports a fatal, request-scoped failure (as opposed to a
// transport-level protocol error, which has no correlation id to reply to).
type ErrorPayload struct {
	Reason string `msgpack:"reason"`
}

// LogEvent is a one-way event frame forwarding structured runner log lines
// to the orchestrator's own logger.
type LogEvent struct {
	Level   string         `msgpack:"level"`
	Message string         `msgpack:"message"`
	Fields  map[string]any `msgpack:"fields,omitempty"`
}
