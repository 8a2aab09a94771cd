package carton_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/carton"
	"github.com/example/carton/internal/container"
)

func buildTestPackage(t *testing.T) string {
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
	dest := filepath.Join(t.TempDir(), "demo.carton")
	if err := container.Pack(srcDir, dest); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return dest
}

func TestGetModelInfo(t *testing.T) {
	path := buildTestPackage(t)

	info, err := carton.GetModelInfo(context.Background(), path)
	if err != nil {
		t.Fatalf("GetModelInfo: %v", err)
	}
	if info.Runner.RunnerName != "noop" {
		t.Errorf("RunnerName = %q, want %q", info.Runner.RunnerName, "noop")
	}
	if info.DisplayName != "demo" {
		t.Errorf("DisplayName = %q, want %q", info.DisplayName, "demo")
	}
}
