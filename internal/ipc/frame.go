package ipc

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/example/carton/internal/cartonerr"
)

// Frame is the envelope every message travels in: a correlation id (0 for
// one-way events and the initial hello), a type tag, and the tag-specific
// payload already encoded to msgpack bytes so Frame itself can be decoded
// without knowing every payload type up front.
type Frame struct {
	CorrelationID uint64             `msgpack:"id"`
	Kind          Kind               `msgpack:"kind"`
	Payload       msgpack.RawMessage `msgpack:"payload"`
}

// encodeFrame builds a Frame carrying payload, then marshals the Frame
// itself to bytes ready for framing.
func encodeFrame(corrID uint64, kind Kind, payload any) ([]byte, error) {
	rawPayload, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, &cartonerr.IPCProtocolError{Reason: fmt.Sprintf("encode %s payload", kind), Err: err}
	}
	frame := Frame{CorrelationID: corrID, Kind: kind, Payload: rawPayload}
	out, err := msgpack.Marshal(&frame)
	if err != nil {
		return nil, &cartonerr.IPCProtocolError{Reason: "encode frame envelope", Err: err}
	}
	return out, nil
}

func decodeFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := msgpack.Unmarshal(raw, &frame); err != nil {
		return Frame{}, &cartonerr.IPCProtocolError{Reason: "decode frame envelope", Err: err}
	}
	return frame, nil
}

// decodePayload decodes a Frame's raw payload into dst.
func decodePayload(frame Frame, dst any) error {
	if err := msgpack.Unmarshal(frame.Payload, dst); err != nil {
		return &cartonerr.IPCProtocolError{Reason: fmt.Sprintf("decode %s payload", frame.Kind), Err: err}
	}
	return nil
}

// UnmarshalRaw decodes the raw msgpack bytes a Handler receives (a Frame's
// undecoded Payload) into dst, for handlers outside this package such as
// fsserver.
func UnmarshalRaw(raw []byte, dst any) error {
	if err := msgpack.Unmarshal(raw, dst); err != nil {
		return &cartonerr.IPCProtocolError{Reason: "decode request payload", Err: err}
	}
	return nil
}

// MarshalRaw encodes v to the same raw msgpack bytes a Handler receives as
// a request payload, for tests exercising a Handler directly without a
// live Conn.
func MarshalRaw(v any) ([]byte, error) {
	out, err := msgpack.Marshal(v)
	if err != nil {
		return nil, &cartonerr.IPCProtocolError{Reason: "encode request payload", Err: err}
	}
	return out, nil
}
