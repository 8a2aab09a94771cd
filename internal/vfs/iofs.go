package vfs

import (
	"context"
	"errors"
	"io/fs"
)

// FromIOFS adapts an io/fs.FS (the container reader's zip-backed
// filesystem, or any other) to the vfs.FileSystem contract.
type FromIOFS struct {
	FS fs.FS
}

func (v FromIOFS) Open(ctx context.Context, path string) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := v.FS.Open(normalize(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, ErrPermission
		}
		return nil, err
	}
	return f, nil
}

func (v FromIOFS) Metadata(ctx context.Context, path string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	fi, err := fs.Stat(v.FS, normalize(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, ErrNotFound
		}
		return Metadata{}, err
	}
	return Metadata{Size: fi.Size(), IsDir: fi.IsDir()}, nil
}

func (v FromIOFS) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(v.FS, normalize(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func normalize(path string) string {
	if path == "" || path == "/" {
		return "."
	}
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return "."
	}
	return path
}

var _ FileSystem = FromIOFS{}
