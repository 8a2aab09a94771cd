package container

import (
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// hasDirPrefix reports whether any entry's name is rooted under name,
// letting the filesystem present implicit directories for zip archives that
// (as most do) never store an explicit directory entry for every level.
func (c *FS) hasDirPrefix(name string) bool {
	prefix := name + "/"
	if name == "." {
		prefix = ""
	}
	for n := range c.byName {
		if strings.HasPrefix(n, prefix) && n != name {
			return true
		}
	}
	return false
}

func (c *FS) openRootDir() fs.ReadDirFile {
	return c.openDir(".")
}

func (c *FS) openDir(name string) fs.ReadDirFile {
	prefix := ""
	if name != "." {
		prefix = name + "/"
	}

	seen := map[string]bool{}
	var entries []fs.DirEntry
	for n, f := range c.byName {
		if !strings.HasPrefix(n, prefix) || n == name {
			continue
		}
		rest := n[len(prefix):]
		rest = strings.TrimSuffix(rest, "/")
		if rest == "" {
			continue
		}
		child := rest
		if i := strings.Index(rest, "/"); i >= 0 {
			child = rest[:i]
		}
		if seen[child] {
			continue
		}
		seen[child] = true

		childPath := path.Join(name, child)
		if cf, ok := c.byName[childPath]; ok {
			entries = append(entries, dirent{name: child, info: cf.FileInfo()})
		} else if cf, ok := c.byName[childPath+"/"]; ok {
			entries = append(entries, dirent{name: child, info: cf.FileInfo()})
		} else {
			// An implicit directory: no zip entry names it directly, only
			// deeper paths reference it.
			entries = append(entries, dirent{name: child, info: syntheticDirInfo{name: child}})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return &dirFile{name: name, entries: entries}
}

type dirent struct {
	name string
	info fs.FileInfo
}

func (d dirent) Name() string               { return d.name }
func (d dirent) IsDir() bool                { return d.info.IsDir() }
func (d dirent) Type() fs.FileMode          { return d.info.Mode().Type() }
func (d dirent) Info() (fs.FileInfo, error) { return d.info, nil }

type syntheticDirInfo struct{ name string }

func (s syntheticDirInfo) Name() string       { return s.name }
func (s syntheticDirInfo) Size() int64        { return 0 }
func (s syntheticDirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (s syntheticDirInfo) ModTime() time.Time { return time.Time{} }
func (s syntheticDirInfo) IsDir() bool        { return true }
func (s syntheticDirInfo) Sys() any           { return nil }

type dirFile struct {
	name    string
	entries []fs.DirEntry
	pos     int
}

func (d *dirFile) Close() error               { return nil }
func (d *dirFile) Read([]byte) (int, error)   { return 0, fs.ErrInvalid }
func (d *dirFile) Stat() (fs.FileInfo, error) { return syntheticDirInfo{name: path.Base(d.name)}, nil }

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.entries[d.pos:]
	if n <= 0 {
		d.pos = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	end := len(rest)
	if n < end {
		end = n
	}
	d.pos += end
	return rest[:end], nil
}

// ReadDir implements fs.ReadDirFS.
func (c *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	f := c.openDir(name)
	return f.ReadDir(-1)
}
