package orchestrator

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/carton/internal/cartonerr"
	"github.com/example/carton/internal/ipc"
	"github.com/example/carton/internal/manifest"
	"github.com/example/carton/internal/tensor"
)

// fakeRunner answers Seal/InferSealed/Shutdown the way a real runner's
// handler would, standing in for cmd/carton-runner-noop so Model's side of
// the wire can be exercised without spawning or building a child process.
type fakeRunner struct {
	sealHandle uint64
	shutdowns  atomic.Int32
}

func (f *fakeRunner) Handle(ctx context.Context, kind ipc.Kind, payload []byte, fds []int) (ipc.Kind, any, []int, bool, error) {
	switch kind {
	case ipc.KindSealRequest:
		return ipc.KindSealResponse, ipc.SealResponse{OK: true, Handle: f.sealHandle}, nil, false, nil
	case ipc.KindInferSealedRequest:
		var req ipc.InferSealedRequest
		if err := ipc.UnmarshalRaw(payload, &req); err != nil {
			return ipc.KindInferSealedResponse, ipc.InferSealedResponse{OK: false, Reason: err.Error()}, nil, false, nil
		}
		if req.Handle != f.sealHandle {
			return ipc.KindInferSealedResponse, ipc.InferSealedResponse{OK: false, Reason: "unknown handle"}, nil, false, nil
		}
		out := map[string]ipc.WireTensor{"y": {Dtype: "float32", Shape: []uint64{1}, Storage: ipc.WireStorageInline, Inline: []byte{0, 0, 0, 0}}}
		return ipc.KindInferSealedResponse, ipc.InferSealedResponse{OK: true, Outputs: out}, nil, false, nil
	case ipc.KindShutdownRequest:
		f.shutdowns.Add(1)
		return ipc.KindShutdownResponse, ipc.ShutdownResponse{}, nil, false, nil
	default:
		return ipc.KindError, ipc.ErrorPayload{Reason: "unsupported in test fake"}, nil, false, nil
	}
}

// newTestModel wires a Model directly to one end of a socketpair driven by
// handler, without spawning a real process — the unit-test counterpart of
// integration_test.go's real noop runner, which requires `go build`.
func newTestModel(t *testing.T, handler ipc.Handler) *Model {
	t.Helper()
	a, childFD, err := ipc.NewSocketpair()
	if err != nil {
		t.Fatalf("NewSocketpair: %v", err)
	}
	f := os.NewFile(uintptr(childFD), "carton-ipc-child")
	genericConn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		t.Fatalf("wrap child fd: %v", err)
	}
	uc, ok := genericConn.(*net.UnixConn)
	if !ok {
		t.Fatalf("unexpected conn type %T", genericConn)
	}
	b := ipc.NewConn(uc, handler)

	m := &Model{
		ModelID: "test-model",
		Info: &manifest.CartonInfo{
			Runner: manifest.RunnerRequirement{RunnerName: "fake"},
			Inputs: []manifest.TensorSpec{{Name: "x", Dtype: manifest.DtypeFloat32}},
		},
		conn:   a,
		logger: discardLogger(),
	}
	m.setState(Ready)
	m.conn.SetHandler(m)

	ctx, cancel := context.WithCancel(context.Background())
	go a.Serve(ctx)
	go b.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		a.Close()
		b.Close()
	})
	return m
}

func TestSealThenInferSealed(t *testing.T) {
	m := newTestModel(t, &fakeRunner{sealHandle: 42})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	x, err := tensor.New(manifest.DtypeFloat32, []uint64{1}, []byte{0, 0, 0, 0})
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}

	handle, err := m.Seal(ctx, tensor.Map{"x": x})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if handle != 42 {
		t.Fatalf("handle = %d, want 42", handle)
	}

	out, err := m.InferSealed(ctx, handle)
	if err != nil {
		t.Fatalf("InferSealed: %v", err)
	}
	if _, ok := out["y"]; !ok {
		t.Fatalf("missing output y in %+v", out)
	}
}

func TestInferSealedUnknownHandle(t *testing.T) {
	m := newTestModel(t, &fakeRunner{sealHandle: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := m.InferSealed(ctx, SealHandle(999))
	if err == nil {
		t.Fatal("expected an error for an unknown seal handle")
	}
	var runnerErr *cartonerr.InferRunnerError
	if !errors.As(err, &runnerErr) {
		t.Fatalf("err = %v, want *cartonerr.InferRunnerError", err)
	}
}

func TestCloseSendsGracefulShutdown(t *testing.T) {
	r := &fakeRunner{}
	m := newTestModel(t, r)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := r.shutdowns.Load(); got != 1 {
		t.Fatalf("runner saw %d Shutdown requests, want 1", got)
	}
	if m.State() != Dead {
		t.Fatalf("state = %v, want Dead", m.State())
	}
}

func TestMonitorExitReportsCrash(t *testing.T) {
	m := &Model{
		ModelID: "test-model",
		Info:    &manifest.CartonInfo{Runner: manifest.RunnerRequirement{RunnerName: "fake"}},
		logger:  discardLogger(),
	}
	m.setState(Ready)

	a, childFD, err := ipc.NewSocketpair()
	if err != nil {
		t.Fatalf("NewSocketpair: %v", err)
	}
	f := os.NewFile(uintptr(childFD), "carton-ipc-child")
	t.Cleanup(func() { a.Close() })

	// The child sleeps briefly before exiting so the in-flight Call below
	// is registered as pending before monitorExit observes the exit,
	// exercising the same race monitorExit guards against in production:
	// a call outstanding at the moment the runner dies.
	cmd := exec.Command("sh", "-c", "sleep 0.2; exit 7")
	cmd.ExtraFiles = []*os.File{f}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start fake runner process: %v", err)
	}
	f.Close()

	exited := make(chan struct{})
	m.mu.Lock()
	m.conn = a
	m.exited = exited
	m.closing = false
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go a.Serve(ctx)

	// An RPC outstanding at the moment the runner dies must also observe
	// the crash, whichever of Serve's own EOF handling or monitorExit's
	// FailAllPending call reaches the pending map first; Infer always
	// runs the result through wrapCallErr, which prefers a recorded
	// m.crashed over the raw Call error either path produces.
	callErr := make(chan error, 1)
	go func() {
		_, err := m.Infer(ctx, tensor.Map{})
		callErr <- err
	}()

	go m.monitorExit(cmd, a, exited)

	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatal("monitorExit did not close exited")
	}

	// monitorExit sets m.crashed strictly before closing exited, so by
	// now a fresh failure deterministically carries RunnerCrashed.
	m.mu.Lock()
	crashed := m.crashed
	m.mu.Unlock()
	if crashed == nil {
		t.Fatal("expected monitorExit to record a crash")
	}
	if crashed.ExitStatus != 7 {
		t.Fatalf("ExitStatus = %d, want 7", crashed.ExitStatus)
	}

	select {
	case err := <-callErr:
		var reported *cartonerr.RunnerCrashed
		if !errors.As(err, &reported) {
			t.Fatalf("Infer err = %v, want *cartonerr.RunnerCrashed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Infer did not return after the runner crashed")
	}
}

func TestTeardownProcessSkipsCrashPath(t *testing.T) {
	m := &Model{ModelID: "test-model", logger: discardLogger()}
	m.setState(Ready)

	a, childFD, err := ipc.NewSocketpair()
	if err != nil {
		t.Fatalf("NewSocketpair: %v", err)
	}
	f := os.NewFile(uintptr(childFD), "carton-ipc-child")

	cmd := exec.Command("sleep", "5")
	cmd.ExtraFiles = []*os.File{f}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start fake runner process: %v", err)
	}
	f.Close()

	exited := make(chan struct{})
	m.cmd = cmd
	m.conn = a
	m.exited = exited

	go m.monitorExit(cmd, a, exited)

	done := make(chan struct{})
	go func() {
		m.teardownProcess()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("teardownProcess did not return after killing the process")
	}

	m.mu.Lock()
	crashed := m.crashed
	m.mu.Unlock()
	if crashed != nil {
		t.Fatalf("expected no crash recorded for a deliberate teardown, got %v", crashed)
	}
}

func TestCheckRequiredPlatformRejectsMismatch(t *testing.T) {
	info := &manifest.CartonInfo{RequiredPlatform: []string{"some-other-os-arch"}}
	err := checkRequiredPlatform(info)
	if err == nil {
		t.Fatal("expected an error for an excluded platform")
	}
	var noMatch *cartonerr.RegistryNoMatch
	if !errors.As(err, &noMatch) {
		t.Fatalf("err = %v, want *cartonerr.RegistryNoMatch", err)
	}
}

func TestCheckRequiredPlatformEmptyAllowsAny(t *testing.T) {
	if err := checkRequiredPlatform(&manifest.CartonInfo{}); err != nil {
		t.Fatalf("checkRequiredPlatform with no restriction: %v", err)
	}
}

func TestMergeRunnerOpts(t *testing.T) {
	declared := map[string]any{"threads": 4, "precision": "fp32"}
	override := map[string]any{"precision": "fp16"}

	merged := mergeRunnerOpts(declared, override)
	if merged["threads"] != 4 {
		t.Fatalf("threads = %v, want 4", merged["threads"])
	}
	if merged["precision"] != "fp16" {
		t.Fatalf("precision = %v, want fp16 (override should win)", merged["precision"])
	}

	if got := mergeRunnerOpts(declared, nil); len(got) != len(declared) {
		t.Fatalf("mergeRunnerOpts with no override = %v, want declared unchanged", got)
	}
}
