// Package fsserver answers a runner's filesystem RPCs (open, read,
// metadata, list, close) against a vfs.FileSystem over an ipc.Conn, so the
// runner sees the carton's resolved container-plus-overlay view without
// needing its own HTTP client or container reader.
package fsserver

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/example/carton/internal/ipc"
	"github.com/example/carton/internal/vfs"
)

// readChunkSize bounds how much one FSRead response carries; a request for
// more is answered with at most readChunkSize bytes.
const readChunkSize = 1 << 20

// Server implements ipc.Handler by dispatching FS* frames to an underlying
// vfs.FileSystem. One Server instance is bound to one model's filesystem
// for the lifetime of its Conn.
type Server struct {
	FS vfs.FileSystem

	nextHandle atomic.Uint64

	mu      sync.Mutex
	handles map[ipc.FSHandle]vfs.File
}

// New returns a Server ready to be installed as a Conn's Handler via
// conn.SetHandler.
func New(fs vfs.FileSystem) *Server {
	return &Server{FS: fs, handles: make(map[ipc.FSHandle]vfs.File)}
}

// Handle implements ipc.Handler.
func (s *Server) Handle(ctx context.Context, kind ipc.Kind, payload []byte, fds []int) (ipc.Kind, any, []int, bool, error) {
	switch kind {
	case ipc.KindFSOpen:
		return s.handleOpen(ctx, payload)
	case ipc.KindFSRead:
		return s.handleRead(ctx, payload)
	case ipc.KindFSMetadata:
		return s.handleMetadata(ctx, payload)
	case ipc.KindFSList:
		return s.handleList(ctx, payload)
	case ipc.KindFSClose:
		return s.handleClose(payload)
	default:
		return ipc.KindError, ipc.ErrorPayload{Reason: "fsserver: unsupported kind " + string(kind)}, nil, false, nil
	}
}

func (s *Server) handleOpen(ctx context.Context, raw []byte) (ipc.Kind, any, []int, bool, error) {
	var req ipc.FSOpenRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return 0, nil, nil, false, err
	}

	f, err := s.FS.Open(ctx, req.Path)
	if err != nil {
		resp := ipc.FSOpenResponse{Reason: err.Error()}
		switch {
		case errors.Is(err, vfs.ErrNotFound):
			resp.NotFound = true
		case errors.Is(err, vfs.ErrPermission):
			resp.Denied = true
		}
		return ipc.KindFSOpenResponse, resp, nil, false, nil
	}

	h := ipc.FSHandle(s.nextHandle.Add(1))
	s.mu.Lock()
	s.handles[h] = f
	s.mu.Unlock()

	return ipc.KindFSOpenResponse, ipc.FSOpenResponse{OK: true, Handle: h}, nil, false, nil
}

// handleRead answers one FSRead request with a single FSReadChunk capped
// at readChunkSize bytes. A runner reading a large range issues further
// FSRead calls at advancing offsets. End is set only when the read reaches
// EOF; a chunk that fills the requested length does not set it.
func (s *Server) handleRead(ctx context.Context, raw []byte) (ipc.Kind, any, []int, bool, error) {
	var req ipc.FSReadRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return 0, nil, nil, false, err
	}

	s.mu.Lock()
	f, ok := s.handles[req.Handle]
	s.mu.Unlock()
	if !ok {
		return ipc.KindFSReadChunk, ipc.FSReadChunk{End: true, Err: "fsserver: unknown handle"}, nil, false, nil
	}

	length := req.Length
	if length <= 0 || length > readChunkSize {
		length = readChunkSize
	}
	buf := make([]byte, length)

	var n int
	var err error
	if rf, ok := f.(io.ReaderAt); ok {
		n, err = rf.ReadAt(buf, req.Offset)
	} else if sk, ok := f.(io.Seeker); ok {
		if _, serr := sk.Seek(req.Offset, io.SeekStart); serr != nil {
			return ipc.KindFSReadChunk, ipc.FSReadChunk{End: true, Err: serr.Error()}, nil, false, nil
		}
		n, err = io.ReadFull(f, buf)
	} else {
		return ipc.KindFSReadChunk, ipc.FSReadChunk{End: true, Err: "fsserver: handle does not support random access"}, nil, false, nil
	}

	eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
	if err != nil && !eof {
		return ipc.KindFSReadChunk, ipc.FSReadChunk{End: true, Err: err.Error()}, nil, false, nil
	}

	return ipc.KindFSReadChunk, ipc.FSReadChunk{Data: buf[:n], End: eof || n < len(buf)}, nil, false, nil
}

func (s *Server) handleMetadata(ctx context.Context, raw []byte) (ipc.Kind, any, []int, bool, error) {
	var req ipc.FSMetadataRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return 0, nil, nil, false, err
	}
	md, err := s.FS.Metadata(ctx, req.Path)
	if err != nil {
		resp := ipc.FSMetadataResponse{Reason: err.Error(), NotFound: errors.Is(err, vfs.ErrNotFound)}
		return ipc.KindFSMetaResponse, resp, nil, false, nil
	}
	return ipc.KindFSMetaResponse, ipc.FSMetadataResponse{OK: true, Size: md.Size, IsDir: md.IsDir}, nil, false, nil
}

func (s *Server) handleList(ctx context.Context, raw []byte) (ipc.Kind, any, []int, bool, error) {
	var req ipc.FSListRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return 0, nil, nil, false, err
	}
	entries, err := s.FS.List(ctx, req.Dir)
	if err != nil {
		resp := ipc.FSListResponse{Reason: err.Error(), NotFound: errors.Is(err, vfs.ErrNotFound)}
		return ipc.KindFSListResponse, resp, nil, false, nil
	}
	return ipc.KindFSListResponse, ipc.FSListResponse{OK: true, Entries: entries}, nil, false, nil
}

func (s *Server) handleClose(raw []byte) (ipc.Kind, any, []int, bool, error) {
	var req ipc.FSCloseRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return 0, nil, nil, false, err
	}
	s.mu.Lock()
	f, ok := s.handles[req.Handle]
	delete(s.handles, req.Handle)
	s.mu.Unlock()
	if ok {
		f.Close()
	}
	return ipc.KindFSClose, ipc.FSCloseResponse{}, nil, true, nil
}

// InvalidateAll closes and forgets every open handle, called when the
// model backing this filesystem is unloaded.
func (s *Server) InvalidateAll() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[ipc.FSHandle]vfs.File)
	s.mu.Unlock()
	for _, f := range handles {
		f.Close()
	}
}

func unmarshalPayload(raw []byte, dst any) error {
	return ipc.UnmarshalRaw(raw, dst)
}
