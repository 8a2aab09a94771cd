// Package vfs defines the small, composable read-only filesystem contract
// shared by the container reader, the content-addressed HTTP filesystem,
// and the overlay that joins them. The contract is intentionally narrow
// (modeled after a minimal virtual-filesystem spec rather than a grab-bag
// interface{} API): explicit sentinel errors, no transactions, no listeners.
package vfs

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when path has no corresponding entry.
var ErrNotFound = errors.New("vfs: not found")

// ErrPermission is returned for operations a read-only filesystem rejects,
// such as writes.
var ErrPermission = errors.New("vfs: permission denied")

// Metadata describes an entry without requiring it to be opened.
type Metadata struct {
	Size  int64
	IsDir bool
}

// File is a readable handle returned by Open.
type File interface {
	io.ReadCloser
}

// FileSystem is the read-only contract implemented by the container
// reader, the by-hash HTTP filesystem, and their overlay.
type FileSystem interface {
	// Open returns a readable handle for path, or ErrNotFound.
	Open(ctx context.Context, path string) (File, error)
	// Metadata returns size and kind for path without opening it.
	Metadata(ctx context.Context, path string) (Metadata, error)
	// List returns the direct children of dir (not recursive).
	List(ctx context.Context, dir string) ([]string, error)
}
