// Package container treats a zip-shaped byte source as a read-only
// filesystem. It reads the central directory lazily via archive/zip and
// streams decompressed entry bytes on demand, mirroring the lazy-open
// design of an archive-as-filesystem adapter without buffering whole
// entries.
package container

import (
	"archive/zip"
	"context"
	"io"
	"io/fs"

	"github.com/klauspost/compress/zstd"

	"github.com/example/carton/internal/bytesource"
	"github.com/example/carton/internal/cartonerr"
)

// ZstdMethod is the registered compression method id for zstd entries in
// zip archives (not part of the base zip spec, but a common extension),
// exported so Pack can register the matching compressor.
const ZstdMethod = 93

func init() {
	zip.RegisterDecompressor(ZstdMethod, func(r io.Reader) io.ReadCloser {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return zstdReadCloser{zr}
	})
	zip.RegisterCompressor(ZstdMethod, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w)
	})
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

// FS is a read-only filesystem backed by a zip-shaped bytesource.Source.
// It implements io/fs.FS and fs.ReadDirFS.
type FS struct {
	zr *zip.Reader
	// byName indexes entries for fast lookups; archive/zip already builds
	// an internal index but doesn't expose path-based stat without a scan.
	byName map[string]*zip.File
}

// Open builds an FS over src, reading only the zip central directory (a
// bounded-size read at the end of the archive) rather than the whole file.
func Open(ctx context.Context, src bytesource.Source) (*FS, error) {
	size, err := src.Size(ctx)
	if err != nil {
		return nil, err
	}
	ra := bytesource.ReaderAt(ctx, src)

	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, &cartonerr.Format{Op: "open zip central directory", Reason: err.Error(), Err: err}
	}

	byName := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		byName[f.Name] = f
	}

	return &FS{zr: zr, byName: byName}, nil
}

// Open implements fs.FS. Opening a file reads only its local file header
// and returns a lazily streaming io.ReadCloser for the decompressed body.
func (c *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return c.openRootDir(), nil
	}

	if f, ok := c.byName[name]; ok {
		if f.FileInfo().IsDir() {
			return c.openDir(name), nil
		}
		rc, err := f.Open()
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &entryFile{rc: rc, info: f.FileInfo()}, nil
	}

	if c.hasDirPrefix(name) {
		return c.openDir(name), nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

type entryFile struct {
	rc   io.ReadCloser
	info fs.FileInfo
}

func (e *entryFile) Read(p []byte) (int, error) { return e.rc.Read(p) }
func (e *entryFile) Close() error                { return e.rc.Close() }
func (e *entryFile) Stat() (fs.FileInfo, error)  { return e.info, nil }

// Metadata returns size and file-vs-directory kind for path without opening
// it, matching the VFS-over-IPC "metadata" call's needs.
func (c *FS) Metadata(path string) (size int64, isDir bool, err error) {
	if path == "." || c.hasDirPrefix(path) {
		return 0, true, nil
	}
	f, ok := c.byName[path]
	if !ok {
		return 0, false, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
	}
	fi := f.FileInfo()
	return fi.Size(), fi.IsDir(), nil
}

var _ fs.FS = (*FS)(nil)
var _ fs.ReadDirFS = (*FS)(nil)
