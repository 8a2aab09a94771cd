package container

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/example/carton/internal/cartonerr"
)

// Pack zips srcDir's contents into a new carton archive at destPath,
// computing and embedding a sorted path=sha256 MANIFEST the way
// invariant (ii) requires. srcDir must already contain carton.toml at its
// root; a MANIFEST present in srcDir is regenerated rather than copied
// verbatim, and a LINKS file present in srcDir is left out of the archive.
func Pack(srcDir, destPath string) error {
	paths, err := collectPaths(srcDir)
	if err != nil {
		return err
	}

	entries := make([]manifestLine, 0, len(paths))
	for _, p := range paths {
		sum, err := sha256File(filepath.Join(srcDir, filepath.FromSlash(p)))
		if err != nil {
			return err
		}
		entries = append(entries, manifestLine{path: p, sha256: sum})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	var manifestBuf strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&manifestBuf, "%s=%s\n", e.path, e.sha256)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return &cartonerr.Format{Op: "pack", Reason: "create output file", Err: err}
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, e := range entries {
		if err := writeZipEntry(zw, e.path, filepath.Join(srcDir, filepath.FromSlash(e.path))); err != nil {
			zw.Close()
			return err
		}
	}
	if err := writeZipString(zw, "MANIFEST", manifestBuf.String()); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

type manifestLine struct {
	path   string
	sha256 string
}

// collectPaths walks srcDir and returns every regular file's slash-form
// relative path, excluding MANIFEST (regenerated by Pack) and LINKS.
func collectPaths(srcDir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "MANIFEST" || rel == "LINKS" {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, &cartonerr.Format{Op: "pack", Reason: "walk source directory", Err: err}
	}
	return paths, nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &cartonerr.Format{Op: "pack", Reason: fmt.Sprintf("open %s", path), Err: err}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", &cartonerr.Format{Op: "pack", Reason: fmt.Sprintf("hash %s", path), Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeZipEntry(zw *zip.Writer, zipPath, srcPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return &cartonerr.Format{Op: "pack", Reason: fmt.Sprintf("open %s", srcPath), Err: err}
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: zipPath, Method: ZstdMethod})
	if err != nil {
		return &cartonerr.Format{Op: "pack", Reason: fmt.Sprintf("create entry %s", zipPath), Err: err}
	}
	if _, err := io.Copy(w, f); err != nil {
		return &cartonerr.Format{Op: "pack", Reason: fmt.Sprintf("write entry %s", zipPath), Err: err}
	}
	return nil
}

func writeZipString(zw *zip.Writer, zipPath, content string) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: zipPath, Method: zip.Store})
	if err != nil {
		return &cartonerr.Format{Op: "pack", Reason: fmt.Sprintf("create entry %s", zipPath), Err: err}
	}
	_, err = io.WriteString(w, content)
	return err
}
