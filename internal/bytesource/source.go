// Package bytesource provides readable-seekable byte streams over local
// files and HTTP range requests, the lowest layer of the carton read path.
package bytesource

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/example/carton/internal/cartonerr"
)

// Source exposes random-access reads and a known total size. It is not
// required to be contiguous internally; callers use it via small reads.
type Source interface {
	// ReadAt fills p with bytes starting at off, returning the number of
	// bytes read. Behaves like io.ReaderAt: a short read at EOF returns
	// io.EOF alongside n > 0 when fewer bytes than len(p) remain.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// Size returns the total byte length of the underlying resource.
	Size(ctx context.Context) (int64, error)
}

// LocalSource wraps an *os.File opened for reading.
type LocalSource struct {
	f *os.File
}

// OpenLocal opens path for reading and returns a LocalSource.
func OpenLocal(path string) (*LocalSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &cartonerr.ByteSource{Kind: "io", Err: fmt.Errorf("open %s: %w", path, err)}
	}
	return &LocalSource{f: f}, nil
}

// Close releases the underlying file handle.
func (s *LocalSource) Close() error { return s.f.Close() }

func (s *LocalSource) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, &cartonerr.ByteSource{Kind: "io", Err: err}
	}
	return n, err
}

func (s *LocalSource) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fi, err := s.f.Stat()
	if err != nil {
		return 0, &cartonerr.ByteSource{Kind: "io", Err: err}
	}
	return fi.Size(), nil
}

// ReaderAt adapts a Source to io.ReaderAt for use with stdlib decoders such
// as archive/zip.NewReader, which only understand the synchronous
// interface. ctx is fixed at construction since io.ReaderAt has no context
// parameter.
func ReaderAt(ctx context.Context, s Source) io.ReaderAt {
	return &readerAtAdapter{ctx: ctx, s: s}
}

type readerAtAdapter struct {
	ctx context.Context
	s   Source
}

func (a *readerAtAdapter) ReadAt(p []byte, off int64) (int, error) {
	return a.s.ReadAt(a.ctx, p, off)
}
