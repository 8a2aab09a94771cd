// Package loader opens a packaged .carton file and resolves the real
// filesystem view orchestrator.Load mounts for a runner: the container
// zip overlaid with a content-addressed HTTP filesystem for any path
// LINKS resolves, with every read verified against MANIFEST.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/example/carton/internal/bytesource"
	"github.com/example/carton/internal/container"
	"github.com/example/carton/internal/manifest"
	"github.com/example/carton/internal/vfs"
)

// Open opens the .carton zip at path, decodes its carton.toml and
// MANIFEST, and builds the overlay filesystem (reading carton.toml,
// MANIFEST, and LINKS through the raw container view since manifest
// verification applies only once Manifest itself is known). The caller
// must Close the returned io.Closer once the filesystem is no longer
// needed; the zip reader streams lazily from it for the filesystem's
// whole lifetime.
func Open(ctx context.Context, path string) (vfs.FileSystem, *manifest.CartonInfo, *manifest.Manifest, io.Closer, error) {
	src, err := bytesource.OpenLocal(path)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open %s: %w", path, err)
	}

	fsys, err := container.Open(ctx, src)
	if err != nil {
		src.Close()
		return nil, nil, nil, nil, fmt.Errorf("open %s as carton package: %w", path, err)
	}
	containerFS := vfs.FromIOFS{FS: fsys}

	info, err := readCartonInfo(ctx, containerFS, path)
	if err != nil {
		src.Close()
		return nil, nil, nil, nil, err
	}

	man, err := readManifest(ctx, containerFS, path)
	if err != nil {
		src.Close()
		return nil, nil, nil, nil, err
	}

	var byHash *vfs.ByHash
	linksRaw, err := readOptional(ctx, containerFS, "LINKS")
	if err != nil {
		src.Close()
		return nil, nil, nil, nil, fmt.Errorf("%s: read LINKS: %w", path, err)
	}
	if linksRaw != nil {
		links, err := manifest.ParseLinks(linksRaw)
		if err != nil {
			src.Close()
			return nil, nil, nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		byHash = vfs.NewByHash(http.DefaultClient, links, man)
	}

	overlay := vfs.NewOverlay(containerFS, byHash, man)
	return overlay, info, man, src, nil
}

func readCartonInfo(ctx context.Context, fsys vfs.FileSystem, path string) (*manifest.CartonInfo, error) {
	raw, err := readFile(ctx, fsys, "carton.toml")
	if err != nil {
		return nil, fmt.Errorf("%s: missing carton.toml: %w", path, err)
	}
	info, err := manifest.ParseCartonInfo(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return info, nil
}

func readManifest(ctx context.Context, fsys vfs.FileSystem, path string) (*manifest.Manifest, error) {
	raw, err := readFile(ctx, fsys, "MANIFEST")
	if err != nil {
		return nil, fmt.Errorf("%s: missing MANIFEST: %w", path, err)
	}
	man, err := manifest.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return man, nil
}

func readFile(ctx context.Context, fsys vfs.FileSystem, name string) ([]byte, error) {
	f, err := fsys.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// readOptional returns (nil, nil) when name doesn't exist, distinguishing
// "absent" from a read failure.
func readOptional(ctx context.Context, fsys vfs.FileSystem, name string) ([]byte, error) {
	f, err := fsys.Open(ctx, name)
	if err != nil {
		if errors.Is(err, vfs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
