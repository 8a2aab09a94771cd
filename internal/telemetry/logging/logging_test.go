package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSetupJSON(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "log.json"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	logger := Setup(Options{Output: f, Level: slog.LevelInfo})
	logger.Info("hello", slog.String("k", "v"))
	f.Sync()

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", data, err)
	}
	if rec["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", rec["msg"])
	}
	if rec["k"] != "v" {
		t.Errorf("k = %v, want v", rec["k"])
	}
}

func TestSetupVerboseText(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	logger := Setup(Options{Output: f, Verbose: true, Level: slog.LevelInfo})
	logger.Info("hello")
	f.Sync()

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err == nil {
		t.Fatalf("expected non-JSON text output, decoded as JSON: %v", rec)
	}
}

func TestWithHelpers(t *testing.T) {
	base := slog.New(slog.NewTextHandler(os.Stderr, nil))
	l := WithModel(WithRunner(WithCorrelation(base, 42), "torchscript@1"), "abc123")
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}
