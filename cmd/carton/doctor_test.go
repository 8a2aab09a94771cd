package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestRunnerDirCheckEmptyDir(t *testing.T) {
	check := runnerDirCheck(t.TempDir())
	detail, err := check()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(detail, "0 runner(s)") {
		t.Errorf("detail = %q", detail)
	}
}

func TestRunnerDirCheckMissingDir(t *testing.T) {
	check := runnerDirCheck(filepath.Join(t.TempDir(), "does-not-exist"))
	if _, err := check(); err != nil {
		t.Fatalf("a missing runner dir should not be treated as an error: %v", err)
	}
}

func TestCatalogCheckSkippedWhenURLEmpty(t *testing.T) {
	if check := catalogCheck(""); check != nil {
		t.Fatal("expected a nil check for an empty catalog URL")
	}
}

func TestCatalogCheckUnreachable(t *testing.T) {
	check := catalogCheck("http://127.0.0.1:1/nonexistent-carton-catalog")
	if _, err := check(); err == nil {
		t.Fatal("expected an error probing an unreachable catalog URL")
	}
}
