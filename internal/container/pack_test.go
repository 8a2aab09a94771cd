package container

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/example/carton/internal/bytesource"
)

func writeSourceTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestPackRoundTrip(t *testing.T) {
	root := writeSourceTree(t, map[string]string{
		"carton.toml":     "spec_version = 1\n",
		"tensor_data/w.bin": "weights",
		"nested/dir/file":   "nested content",
	})

	dest := filepath.Join(t.TempDir(), "out.carton")
	if err := Pack(root, dest); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	src, err := bytesource.OpenLocal(dest)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { src.Close() })

	cfs, err := Open(context.Background(), src)
	if err != nil {
		t.Fatalf("Open packed archive: %v", err)
	}

	for _, name := range []string{"carton.toml", "tensor_data/w.bin", "nested/dir/file", "MANIFEST"} {
		f, err := cfs.Open(name)
		if err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
		f.Close()
	}

	mf, err := cfs.Open("MANIFEST")
	if err != nil {
		t.Fatalf("open MANIFEST: %v", err)
	}
	defer mf.Close()
	raw, err := io.ReadAll(mf)
	if err != nil {
		t.Fatal(err)
	}

	var lines []string
	sc := bufio.NewScanner(strings.NewReader(string(raw)))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 manifest lines, got %d: %v", len(lines), lines)
	}
	if !sort.StringsAreSorted(lines) {
		t.Errorf("manifest lines not sorted: %v", lines)
	}
	for _, ln := range lines {
		if strings.HasPrefix(ln, "MANIFEST=") || strings.HasPrefix(ln, "LINKS=") {
			t.Errorf("manifest self-lists reserved entry: %q", ln)
		}
	}

	wantSum := sha256.Sum256([]byte("weights"))
	wantLine := "tensor_data/w.bin=" + hex.EncodeToString(wantSum[:])
	found := false
	for _, ln := range lines {
		if ln == wantLine {
			found = true
		}
	}
	if !found {
		t.Errorf("expected manifest line %q, got %v", wantLine, lines)
	}
}

func TestPackExcludesStaleManifestAndLinks(t *testing.T) {
	root := writeSourceTree(t, map[string]string{
		"carton.toml": "spec_version = 1\n",
		"MANIFEST":    "stale=deadbeef\n",
		"LINKS":       "stale link data",
	})

	dest := filepath.Join(t.TempDir(), "out.carton")
	if err := Pack(root, dest); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	src, err := bytesource.OpenLocal(dest)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { src.Close() })

	cfs, err := Open(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}

	mf, err := cfs.Open("MANIFEST")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(mf)
	mf.Close()
	if strings.Contains(string(raw), "deadbeef") {
		t.Errorf("regenerated MANIFEST still contains stale content: %q", raw)
	}

	if _, err := cfs.Open("LINKS"); err == nil {
		t.Errorf("expected LINKS not to be carried over by Pack")
	}
}
