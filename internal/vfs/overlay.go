package vfs

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/example/carton/internal/manifest"
)

// Overlay joins a container-backed filesystem (paths packed directly into
// the carton zip) with a ByHash filesystem (paths resolved through LINKS),
// presenting both as one tree and verifying every byte read against the
// MANIFEST regardless of which layer served it.
type Overlay struct {
	Container FileSystem // typically a FromIOFS over the container's fs.FS
	ByHash     *ByHash    // nil if the carton carries no LINKS
	Manifest   *manifest.Manifest
}

// NewOverlay constructs an Overlay. byHash may be nil for cartons with no
// LINKS table.
func NewOverlay(container FileSystem, byHash *ByHash, man *manifest.Manifest) *Overlay {
	return &Overlay{Container: container, ByHash: byHash, Manifest: man}
}

func (o *Overlay) Open(ctx context.Context, path string) (File, error) {
	f, err := o.Container.Open(ctx, path)
	if err == nil {
		return o.verifyAndWrap(path, f)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if o.ByHash == nil {
		return nil, ErrNotFound
	}
	return o.ByHash.Open(ctx, path)
}

// verifyAndWrap reads f fully, checks its hash against the manifest (when
// path is listed — directories and metadata files may not be), and returns
// a fresh reader over the verified bytes.
func (o *Overlay) verifyAndWrap(path string, f File) (File, error) {
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if _, listed := o.Manifest.Lookup(path); listed {
		if verifyErr := o.Manifest.VerifyHash(path, bytes.NewReader(data)); verifyErr != nil {
			return nil, verifyErr
		}
	}
	return nopCloser{bytes.NewReader(data)}, nil
}

func (o *Overlay) Metadata(ctx context.Context, path string) (Metadata, error) {
	md, err := o.Container.Metadata(ctx, path)
	if err == nil {
		return md, nil
	}
	if !errors.Is(err, ErrNotFound) || o.ByHash == nil {
		return Metadata{}, err
	}
	return o.ByHash.Metadata(ctx, path)
}

func (o *Overlay) List(ctx context.Context, dir string) ([]string, error) {
	names, err := o.Container.List(ctx, dir)
	if err == nil {
		return names, nil
	}
	if !errors.Is(err, ErrNotFound) || o.ByHash == nil {
		return nil, err
	}
	return o.ByHash.List(ctx, dir)
}

var _ FileSystem = (*Overlay)(nil)
