package main

import (
	"context"
	"io"

	"github.com/example/carton/internal/loader"
	"github.com/example/carton/internal/manifest"
	"github.com/example/carton/internal/vfs"
)

// openPackage opens the .carton zip at path and decodes its carton.toml
// and MANIFEST, returning the overlay filesystem view (container bytes
// falling back to LINKS-resolved HTTP mirrors, every read hash-verified)
// for Load to mount into the runner's IPC channel, plus the parsed
// MANIFEST whose Hash is the package's model identity. The caller must
// Close the returned source once the filesystem is no longer needed; the
// zip reader streams lazily from it for the filesystem's whole lifetime.
func openPackage(ctx context.Context, path string) (vfs.FileSystem, *manifest.CartonInfo, *manifest.Manifest, io.Closer, error) {
	return loader.Open(ctx, path)
}
