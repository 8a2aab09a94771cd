package cartonerr

import (
	"errors"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "format with cause",
			err:  &Format{Op: "parse carton.toml", Reason: "missing [carton] table", Err: errors.New("eof")},
			want: "format: parse carton.toml: missing [carton] table: eof",
		},
		{
			name: "format without cause",
			err:  &Format{Op: "decode MANIFEST", Reason: "bad version"},
			want: "format: decode MANIFEST: bad version",
		},
		{
			name: "integrity mismatch",
			err:  &Integrity{Path: "tensor_data/0.bin", Expected: "aa", Actual: "bb"},
			want: "integrity: tensor_data/0.bin: expected sha256 aa, got bb",
		},
		{
			name: "registry no match",
			err:  &RegistryNoMatch{RunnerName: "torchscript", RunnerCompat: 1, RequiredVersion: ">=1.10,<2", Platform: "linux_x86_64"},
			want: "registry: no runner matches name=torchscript compat=1 version=>=1.10,<2 platform=linux_x86_64",
		},
		{
			name: "runner crashed",
			err:  &RunnerCrashed{RunnerName: "torchscript@1", ExitStatus: 139, LastLog: "segfault"},
			want: `runner "torchscript@1" crashed: exit status 139: segfault`,
		},
		{
			name: "ipc timeout",
			err:  &IPCTimeout{Op: "infer"},
			want: "ipc: timeout waiting for infer",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Errorf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWithModelUnwrap(t *testing.T) {
	base := &ModelLoadFailed{ModelID: "abc123", Reason: "runner exited"}
	wrapped := WithModel("abc123", base)

	var mlf *ModelLoadFailed
	if !errors.As(wrapped, &mlf) {
		t.Fatalf("errors.As failed to find *ModelLoadFailed in wrapped error")
	}
	if mlf.ModelID != "abc123" {
		t.Errorf("ModelID = %q, want abc123", mlf.ModelID)
	}
}

func TestWithRunnerUnwrap(t *testing.T) {
	base := &RunnerSpawnFailed{Path: "/runners/torchscript/bin/run", Err: errors.New("permission denied")}
	wrapped := WithRunner("torchscript@1", base)

	var rsf *RunnerSpawnFailed
	if !errors.As(wrapped, &rsf) {
		t.Fatalf("errors.As failed to find *RunnerSpawnFailed in wrapped error")
	}
	if rsf.Path != "/runners/torchscript/bin/run" {
		t.Errorf("Path = %q, want /runners/torchscript/bin/run", rsf.Path)
	}
}

func TestWithModelNil(t *testing.T) {
	if WithModel("abc123", nil) != nil {
		t.Error("WithModel(id, nil) should return nil")
	}
	if WithRunner("torchscript@1", nil) != nil {
		t.Error("WithRunner(name, nil) should return nil")
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"byte source io", &ByteSource{Kind: "io", Err: errors.New("connection reset")}, true},
		{"byte source out of range", &ByteSource{Kind: "out_of_range"}, false},
		{"installer network", &InstallerNetwork{URL: "https://example.com/r.tar.zst", Err: errors.New("dial tcp: timeout")}, true},
		{"installer verify", &InstallerVerify{Path: "r.tar.zst", Expected: "a", Actual: "b"}, false},
		{"format error", &Format{Op: "parse", Reason: "bad"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient() = %v, want %v", got, tc.want)
			}
		})
	}
}
