package ipc

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/example/carton/internal/cartonerr"
)

// maxFrameBytes bounds a single frame so it always fits in one recvmsg
// call alongside any file descriptors it carries; tensor bulk data travels
// by shared-memory descriptor, not inline bytes, so frames stay small.
const maxFrameBytes = 8 << 20

// Handler answers inbound requests the peer initiated (as opposed to
// responses to our own outstanding Calls, which Conn dispatches itself).
type Handler interface {
	Handle(ctx context.Context, kind Kind, payload []byte, fds []int) (respKind Kind, respPayload any, respFDs []int, oneway bool, err error)
}

type waiter struct {
	frame Frame
	fds   []int
	err   error
}

// Conn is one bidirectional channel to a runner child process, backed by a
// SOCK_SEQPACKET (or SOCK_STREAM, for non-fd-passing test doubles) Unix
// domain socket so a frame and any file descriptors riding alongside it are
// read back together in the same recvmsg call that received them.
type Conn struct {
	uc *net.UnixConn

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan waiter

	handler Handler

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewConn wraps an established Unix domain socket connection. handler may
// be nil for connections that never receive peer-initiated requests.
func NewConn(uc *net.UnixConn, handler Handler) *Conn {
	c := &Conn{
		uc:      uc,
		pending: make(map[uint64]chan waiter),
		handler: handler,
		closeCh: make(chan struct{}),
	}
	// Correlation id 0 is reserved for the hello handshake; ordinary RPCs
	// start at 1. SendOneway also uses 0 since one-way frames have no
	// response to correlate.
	c.nextID.Store(0)
	return c
}

// NewSocketpair creates a connected pair of Unix domain sockets suitable
// for wiring one end into a spawned runner process's inherited descriptor
// table, returning the parent-side Conn and the child's raw fd.
func NewSocketpair() (parentConn *Conn, childFD int, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("ipc: socketpair: %w", err)
	}
	f := os.NewFile(uintptr(fds[0]), "carton-ipc-parent")
	genericConn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, 0, fmt.Errorf("ipc: wrap socketpair: %w", err)
	}
	uc, ok := genericConn.(*net.UnixConn)
	if !ok {
		genericConn.Close()
		unix.Close(fds[1])
		return nil, 0, fmt.Errorf("ipc: unexpected conn type %T", genericConn)
	}
	return NewConn(uc, nil), fds[1], nil
}

// SetHandler installs the handler for peer-initiated requests after
// construction, for the common case where the handler needs a reference to
// the Conn itself (e.g. an fsserver bound to this channel).
func (c *Conn) SetHandler(h Handler) { c.handler = h }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return c.uc.Close()
}

// Hello performs the version-negotiation handshake and returns the highest
// mutually supported major version.
func (c *Conn) Hello(ctx context.Context, supported []InterfaceMajorVersion) (InterfaceMajorVersion, error) {
	resp, _, err := c.call(ctx, 0, KindHello, Hello{SupportedVersions: supported}, nil)
	if err != nil {
		return 0, err
	}
	var ack HelloAck
	if err := decodePayload(resp, &ack); err != nil {
		return 0, err
	}
	if ack.SelectedVersion == 0 {
		return 0, &cartonerr.RunnerIncompatibleInterface{CoreVersions: supported}
	}
	return ack.SelectedVersion, nil
}

// Call issues a request and blocks for its response, honoring ctx
// cancellation. fds are sent alongside the request (e.g. shared-memory
// descriptors backing input tensors).
func (c *Conn) Call(ctx context.Context, kind Kind, payload any, fds []int) (Frame, []int, error) {
	id := c.nextID.Add(1)
	return c.call(ctx, id, kind, payload, fds)
}

func (c *Conn) call(ctx context.Context, id uint64, kind Kind, payload any, fds []int) (Frame, []int, error) {
	ch := make(chan waiter, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(id, kind, payload, fds); err != nil {
		return Frame{}, nil, err
	}

	select {
	case w := <-ch:
		return w.frame, w.fds, w.err
	case <-ctx.Done():
		return Frame{}, nil, &cartonerr.IPCTimeout{Op: string(kind)}
	case <-c.closeCh:
		return Frame{}, nil, &cartonerr.IPCProtocolError{Reason: "connection closed while awaiting response"}
	}
}

// SendOneway emits a fire-and-forget frame (correlation id 0), such as a
// LogEvent.
func (c *Conn) SendOneway(kind Kind, payload any) error {
	return c.send(0, kind, payload, nil)
}

// Respond sends a response frame for a request previously received by the
// Handler, reusing the request's correlation id.
func (c *Conn) Respond(corrID uint64, kind Kind, payload any, fds []int) error {
	return c.send(corrID, kind, payload, fds)
}

func (c *Conn) send(id uint64, kind Kind, payload any, fds []int) error {
	body, err := encodeFrame(id, kind, payload)
	if err != nil {
		return err
	}
	if len(body) > maxFrameBytes {
		return &cartonerr.IPCProtocolError{Reason: fmt.Sprintf("frame of %d bytes exceeds max %d", len(body), maxFrameBytes)}
	}
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(body)))
	buf := append(header, body...)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if len(fds) > 0 {
		oob := unix.UnixRights(fds...)
		_, _, err = c.uc.WriteMsgUnix(buf, oob, nil)
	} else {
		_, err = c.uc.Write(buf)
	}
	if err != nil {
		return &cartonerr.IPCProtocolError{Reason: "write frame", Err: err}
	}
	return nil
}

// Serve runs the reader loop until the connection closes or ctx is
// cancelled, dispatching responses to outstanding Calls and inbound
// requests to Handler. It blocks; callers typically run it in its own
// goroutine per Conn.
func (c *Conn) Serve(ctx context.Context) error {
	buf := make([]byte, maxFrameBytes+4)
	oob := make([]byte, unix.CmsgSpace(64*4)) // room for up to 64 fds per message

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeCh:
			return nil
		default:
		}

		n, oobn, _, _, err := c.uc.ReadMsgUnix(buf, oob)
		if err != nil {
			select {
			case <-c.closeCh:
				return nil
			default:
			}
			c.failAllPending(&cartonerr.IPCProtocolError{Reason: "read frame", Err: err})
			return err
		}
		if n < 4 {
			c.failAllPending(&cartonerr.IPCProtocolError{Reason: "truncated frame header"})
			return &cartonerr.IPCProtocolError{Reason: "truncated frame header"}
		}
		bodyLen := int(binary.LittleEndian.Uint32(buf[:4]))
		if 4+bodyLen > n {
			c.failAllPending(&cartonerr.IPCProtocolError{Reason: "truncated frame body"})
			return &cartonerr.IPCProtocolError{Reason: "truncated frame body"}
		}

		frame, err := decodeFrame(buf[4 : 4+bodyLen])
		if err != nil {
			c.failAllPending(err)
			return err
		}

		var fds []int
		if oobn > 0 {
			fds, err = parseRights(oob[:oobn])
			if err != nil {
				c.failAllPending(err)
				return err
			}
		}

		c.dispatch(ctx, frame, fds)
	}
}

func parseRights(oob []byte) ([]int, error) {
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, &cartonerr.IPCProtocolError{Reason: "parse control message", Err: err}
	}
	var fds []int
	for _, cm := range cmsgs {
		rights, err := unix.ParseUnixRights(&cm)
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

func (c *Conn) dispatch(ctx context.Context, frame Frame, fds []int) {
	c.mu.Lock()
	ch, ok := c.pending[frame.CorrelationID]
	c.mu.Unlock()
	if ok {
		ch <- waiter{frame: frame, fds: fds}
		return
	}

	if c.handler == nil {
		return
	}
	go func() {
		respKind, respPayload, respFDs, oneway, err := c.handler.Handle(ctx, frame.Kind, frame.Payload, fds)
		if err != nil {
			c.Respond(frame.CorrelationID, KindError, ErrorPayload{Reason: err.Error()}, nil)
			return
		}
		if oneway {
			return
		}
		c.Respond(frame.CorrelationID, respKind, respPayload, respFDs)
	}()
}

// FailAllPending fails every outstanding Call with err, e.g. when a caller
// outside this package (the orchestrator, watching the child process exit)
// learns the channel is dead by a means other than a failed read.
func (c *Conn) FailAllPending(err error) {
	c.failAllPending(err)
}

func (c *Conn) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- waiter{err: err}
		delete(c.pending, id)
	}
}
