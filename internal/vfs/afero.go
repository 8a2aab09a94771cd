package vfs

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/afero"
)

// FromAfero adapts an afero.Fs (used to mount a plain OS directory for
// load_unpacked and for Pack's user-source tree) to the vfs.FileSystem
// contract.
type FromAfero struct {
	Fs afero.Fs
}

// NewOSFileSystem roots a FromAfero at an OS directory.
func NewOSFileSystem(root string) FromAfero {
	return FromAfero{Fs: afero.NewBasePathFs(afero.NewOsFs(), root)}
}

func (v FromAfero) Open(ctx context.Context, path string) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := v.Fs.Open(normalize(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		if errors.Is(err, os.ErrPermission) {
			return nil, ErrPermission
		}
		return nil, err
	}
	return f, nil
}

func (v FromAfero) Metadata(ctx context.Context, path string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	fi, err := v.Fs.Stat(normalize(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Metadata{}, ErrNotFound
		}
		return Metadata{}, err
	}
	return Metadata{Size: fi.Size(), IsDir: fi.IsDir()}, nil
}

func (v FromAfero) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(v.Fs, normalize(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
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

var _ FileSystem = FromAfero{}
