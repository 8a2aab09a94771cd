package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/carton/internal/manifest"
)

func TestLoadUnpackedMissingCartonToml(t *testing.T) {
	srcDir := t.TempDir()
	_, err := LoadUnpacked(context.Background(), "", srcDir, manifest.RunnerRequirement{}, Options{})
	if err == nil {
		t.Fatal("expected an error for a source directory missing carton.toml")
	}
}

func TestLoadUnpackedMalformedCartonToml(t *testing.T) {
	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "carton.toml"), []byte("not valid toml {{{"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadUnpacked(context.Background(), "", srcDir, manifest.RunnerRequirement{}, Options{})
	if err == nil {
		t.Fatal("expected an error for a malformed carton.toml")
	}
}
