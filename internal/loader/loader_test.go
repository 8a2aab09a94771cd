package loader_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/carton/internal/container"
	"github.com/example/carton/internal/loader"
)

func buildTestPackage(t *testing.T, extraFiles map[string]string) string {
	t.Helper()
	srcDir := t.TempDir()
	toml := `spec_version = 1
display_name = "demo"

[[inputs]]
name = "x"
dtype = "float32"

[runner]
runner_name = "noop"
required_framework_version = "^1.0"
runner_compat_version = 1
`
	if err := os.WriteFile(filepath.Join(srcDir, "carton.toml"), []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	for name, contents := range extraFiles {
		if err := os.WriteFile(filepath.Join(srcDir, name), []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	dest := filepath.Join(t.TempDir(), "demo.carton")
	if err := container.Pack(srcDir, dest); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return dest
}

func TestOpenResolvesManifestAndInfo(t *testing.T) {
	path := buildTestPackage(t, nil)

	fsys, info, man, closer, err := loader.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closer.Close()

	if man.Hash == "" {
		t.Error("expected a non-empty MANIFEST hash")
	}
	if info.Runner.RunnerName != "noop" {
		t.Errorf("RunnerName = %q, want %q", info.Runner.RunnerName, "noop")
	}

	f, err := fsys.Open(context.Background(), "carton.toml")
	if err != nil {
		t.Fatalf("Open carton.toml via overlay: %v", err)
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 {
		t.Error("expected non-empty carton.toml contents")
	}
}

func TestOpenWithoutLinksHasNoByHashFallback(t *testing.T) {
	// No LINKS file was packed; Open must still succeed, resolving every
	// path straight from the zip's own container view.
	path := buildTestPackage(t, nil)

	fsys, _, _, closer, err := loader.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closer.Close()

	if _, err := fsys.Open(context.Background(), "carton.toml"); err != nil {
		t.Fatalf("Open carton.toml: %v", err)
	}
}

func TestOpenMissingCartonToml(t *testing.T) {
	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "README"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "bad.carton")
	if err := container.Pack(srcDir, dest); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	_, _, _, _, err := loader.Open(context.Background(), dest)
	if err == nil {
		t.Fatal("expected an error for a package missing carton.toml")
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, _, _, _, err := loader.Open(context.Background(), filepath.Join(t.TempDir(), "missing.carton"))
	if err == nil {
		t.Fatal("expected an error opening a nonexistent package")
	}
}
