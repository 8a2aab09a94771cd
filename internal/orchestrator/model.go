package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/carton/internal/cartonerr"
	"github.com/example/carton/internal/ipc"
	"github.com/example/carton/internal/ipc/fsserver"
	"github.com/example/carton/internal/manifest"
	"github.com/example/carton/internal/registry"
	"github.com/example/carton/internal/shmpool"
	"github.com/example/carton/internal/tensor"
	"github.com/example/carton/internal/vfs"
)

// Options configures how Load resolves, installs, and spawns a runner.
type Options struct {
	RunnerDir    string
	CatalogURL   string
	RequestedGPU string

	// OverrideRunnerOpts merges over (takes precedence over) carton.toml's
	// declared [runner].options in the LoadRequest sent to the runner.
	OverrideRunnerOpts map[string]any
	// OverrideRequiredFrameworkVersion replaces carton.toml's
	// required_framework_version constraint for runner selection.
	OverrideRequiredFrameworkVersion string

	Shm              *shmpool.Pool
	Logger           *slog.Logger
	HandshakeTimeout time.Duration
	LoadTimeout      time.Duration
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Model is one loaded carton backed by a spawned, handshaken runner
// process. The zero value is not usable; construct with Load.
type Model struct {
	ModelID string
	Info    *manifest.CartonInfo

	mu      sync.Mutex
	state   State
	closing bool
	lastLog string
	crashed *cartonerr.RunnerCrashed

	conn    *ipc.Conn
	fsSrv   *fsserver.Server
	cmd     *exec.Cmd
	shm     *shmpool.Pool
	version ipc.InterfaceMajorVersion

	exited chan struct{}

	group  *errgroup.Group
	cancel context.CancelFunc

	logger *slog.Logger
}

// SealHandle identifies a runner-side input binding created by Seal, to be
// consumed exactly once by InferSealed.
type SealHandle uint64

func (m *Model) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.logger.Info("orchestrator: state transition", "model", m.ModelID, "state", s.String())
}

// State returns the model's current lifecycle state.
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// resolveDevice maps a caller's requested device to a concrete device
// string. "" and "cpu" map to "cpu". On a non-Linux host any other request
// logs a warning and falls back to "cpu"; on Linux the request is returned
// unchanged, without checking that the host has such a GPU index or UUID.
func resolveDevice(logger *slog.Logger, requested string) string {
	if requested == "" || requested == "cpu" {
		return "cpu"
	}
	if runtime.GOOS != "linux" {
		logger.Warn("orchestrator: GPU device requested on unsupported host, falling back to cpu", "requested", requested)
		return "cpu"
	}
	return requested
}

// Load resolves a compatible runner for info, installing it from opts'
// catalog if no local install satisfies the requirement, spawns it, mounts
// fsys over the IPC channel, and issues the runner's Load RPC.
func Load(ctx context.Context, modelID string, info *manifest.CartonInfo, fsys vfs.FileSystem, opts Options) (*Model, error) {
	logger := opts.logger()
	m := &Model{ModelID: modelID, Info: info, shm: opts.Shm, logger: logger}
	m.setState(Resolving)

	if err := checkRequiredPlatform(info); err != nil {
		m.setState(Failed)
		return nil, cartonerr.WithModel(modelID, err)
	}

	device := resolveDevice(logger, opts.RequestedGPU)

	req := RequirementFor(info)
	if opts.OverrideRequiredFrameworkVersion != "" {
		req.RequiredFrameworkVersion = opts.OverrideRequiredFrameworkVersion
	}

	m.setState(Selecting)
	root, err := resolveRunnerRoot(ctx, opts.RunnerDir, opts.CatalogURL, req, logger)
	if err != nil {
		m.setState(Failed)
		return nil, cartonerr.WithModel(modelID, err)
	}

	entrypoint := filepath.Join(root, "bin", "runner")
	if _, statErr := os.Stat(entrypoint); statErr != nil {
		entrypoint = filepath.Join(root, "runner")
	}

	if err := m.spawnWithRetry(ctx, entrypoint, device, opts.HandshakeTimeout); err != nil {
		m.setState(Failed)
		return nil, cartonerr.WithModel(modelID, err)
	}

	m.setState(Mounting)
	m.fsSrv = fsserver.New(fsys)
	m.conn.SetHandler(m)

	m.setState(Loading)
	loadCtx := ctx
	if opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, opts.LoadTimeout)
		defer cancel()
	}
	loadOptions := mergeRunnerOpts(info.Runner.Options, opts.OverrideRunnerOpts)
	resp, _, err := m.conn.Call(loadCtx, ipc.KindLoadRequest, ipc.LoadRequest{ModelID: modelID, Options: loadOptions}, nil)
	if err != nil {
		m.setState(Failed)
		m.Close()
		return nil, cartonerr.WithModel(modelID, err)
	}
	var loadResp ipc.LoadResponse
	if err := ipc.UnmarshalRaw(resp.Payload, &loadResp); err != nil {
		m.setState(Failed)
		m.Close()
		return nil, cartonerr.WithModel(modelID, err)
	}
	if !loadResp.OK {
		m.setState(Failed)
		m.Close()
		return nil, cartonerr.WithModel(modelID, &cartonerr.ModelLoadFailed{ModelID: modelID, Reason: loadResp.Reason})
	}

	m.setState(Ready)
	return m, nil
}

// mergeRunnerOpts layers override on top of declared, returning declared
// unmodified when override is empty.
func mergeRunnerOpts(declared, override map[string]any) map[string]any {
	if len(override) == 0 {
		return declared
	}
	merged := make(map[string]any, len(declared)+len(override))
	for k, v := range declared {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

func resolveRunnerRoot(ctx context.Context, runnerDir, catalogURL string, req registry.Requirement, logger *slog.Logger) (string, error) {
	local := &registry.Local{Dir: runnerDir}
	entries, err := local.Scan()
	if err != nil {
		return "", err
	}
	best, localErr := registry.SelectLocal(entries, req)
	if localErr == nil {
		return best.Root, nil
	}
	if catalogURL == "" {
		return "", localErr
	}

	cat, err := registry.FetchCatalogHTTP(ctx, catalogURL)
	if err != nil {
		return "", err
	}
	catBest, err := registry.SelectCatalog(cat.Entries, req)
	if err != nil {
		return "", err
	}

	logger.Info("orchestrator: installing runner", "runner", catBest.RunnerName, "version", catBest.FrameworkVersion)
	in := &registry.Installer{RunnerDir: runnerDir}
	return in.Install(ctx, *catBest)
}

// spawnWithRetry spawns the runner and performs the hello handshake,
// retrying once on a transient error per the Installing/Spawning/
// Handshaking retry-once semantics.
func (m *Model) spawnWithRetry(ctx context.Context, entrypoint, device string, handshakeTimeout time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		m.setState(Spawning)
		if err := m.spawn(ctx, entrypoint, device); err != nil {
			lastErr = err
			if !cartonerr.IsTransient(err) {
				return err
			}
			continue
		}

		m.setState(Handshaking)
		hsCtx := ctx
		var cancel context.CancelFunc
		if handshakeTimeout > 0 {
			hsCtx, cancel = context.WithTimeout(ctx, handshakeTimeout)
		}
		err := m.handshake(hsCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			lastErr = err
			m.teardownProcess()
			if !cartonerr.IsTransient(err) {
				return err
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (m *Model) spawn(ctx context.Context, entrypoint, device string) error {
	conn, childFD, err := ipc.NewSocketpair()
	if err != nil {
		return &cartonerr.RunnerSpawnFailed{Path: entrypoint, Err: err}
	}
	childFile := os.NewFile(uintptr(childFD), "carton-ipc-child")

	cmd := exec.CommandContext(ctx, entrypoint)
	cmd.Env = append(os.Environ(), "CARTON_DEVICE="+device)
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		childFile.Close()
		conn.Close()
		return &cartonerr.RunnerSpawnFailed{Path: entrypoint, Err: err}
	}
	childFile.Close()

	exited := make(chan struct{})
	m.mu.Lock()
	m.cmd = cmd
	m.conn = conn
	m.exited = exited
	m.closing = false
	m.crashed = nil
	m.mu.Unlock()

	sessCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	g, gctx := errgroup.WithContext(sessCtx)
	m.group = g
	g.Go(func() error { return conn.Serve(gctx) })
	go m.monitorExit(cmd, conn, exited)

	return nil
}

func (m *Model) handshake(ctx context.Context) error {
	version, err := m.conn.Hello(ctx, ipc.CurrentMajorVersions)
	if err != nil {
		return err
	}
	m.version = version
	return nil
}

// monitorExit owns the single cmd.Wait() call for one spawned process;
// teardownProcess never calls Wait itself, instead blocking on exited.
// A process that exits without teardownProcess having set closing first
// is a crash: every outstanding RPC fails with RunnerCrashed instead of
// whatever generic error Serve's own read failure would otherwise report.
func (m *Model) monitorExit(cmd *exec.Cmd, conn *ipc.Conn, exited chan struct{}) {
	cmd.Wait()
	defer close(exited)

	m.mu.Lock()
	closing := m.closing
	lastLog := m.lastLog
	m.mu.Unlock()
	if closing {
		return
	}

	exitStatus := -1
	if cmd.ProcessState != nil {
		exitStatus = cmd.ProcessState.ExitCode()
	}
	runnerName := m.ModelID
	if m.Info != nil {
		runnerName = m.Info.Runner.RunnerName
	}
	crash := &cartonerr.RunnerCrashed{RunnerName: runnerName, ExitStatus: exitStatus, LastLog: lastLog}

	m.mu.Lock()
	m.crashed = crash
	m.mu.Unlock()
	conn.FailAllPending(crash)
}

func (m *Model) teardownProcess() {
	m.mu.Lock()
	m.closing = true
	exited := m.exited
	m.mu.Unlock()

	if m.conn != nil {
		m.conn.Close()
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.cmd != nil && m.cmd.Process != nil {
		m.cmd.Process.Kill()
	}
	if exited != nil {
		<-exited
	}
}

// Handle implements ipc.Handler for the channel's peer-initiated frames:
// LogEvent updates the last log line RunnerCrashed reports if the runner
// later dies mid-call; every other kind delegates to the mounted
// filesystem server.
func (m *Model) Handle(ctx context.Context, kind ipc.Kind, payload []byte, fds []int) (ipc.Kind, any, []int, bool, error) {
	if kind == ipc.KindLogEvent {
		var ev ipc.LogEvent
		if err := ipc.UnmarshalRaw(payload, &ev); err == nil {
			m.mu.Lock()
			m.lastLog = fmt.Sprintf("[%s] %s", ev.Level, ev.Message)
			m.mu.Unlock()
			m.logger.Info("runner log", "model", m.ModelID, "level", ev.Level, "message", ev.Message)
		}
		return "", nil, nil, true, nil
	}
	return m.fsSrv.Handle(ctx, kind, payload, fds)
}

// wrapCallErr converts a failed Call into the most specific known cause: a
// recorded crash takes precedence over the raw transport error, then
// caller-side context cancellation, then the error Call itself returned.
func (m *Model) wrapCallErr(ctx context.Context, err error, op string) error {
	m.mu.Lock()
	crash := m.crashed
	m.mu.Unlock()
	if crash != nil {
		return cartonerr.WithModel(m.ModelID, crash)
	}
	if ctx.Err() != nil {
		return cartonerr.WithModel(m.ModelID, &cartonerr.IPCCancelled{Op: op})
	}
	return cartonerr.WithModel(m.ModelID, err)
}

// GetInfo fetches the runner's view of the carton's carton.toml.
func (m *Model) GetInfo(ctx context.Context) ([]byte, error) {
	resp, _, err := m.conn.Call(ctx, ipc.KindGetInfoRequest, ipc.GetInfoRequest{}, nil)
	if err != nil {
		return nil, m.wrapCallErr(ctx, err, "get_info")
	}
	var info ipc.GetInfoResponse
	if err := ipc.UnmarshalRaw(resp.Payload, &info); err != nil {
		return nil, cartonerr.WithModel(m.ModelID, err)
	}
	return info.CartonInfoTOML, nil
}

// Infer issues an Infer RPC for inputs, blocking for ctx's lifetime (there
// is no default timeout; callers supply one via context if desired).
// Dropping ctx before the response arrives abandons this call without
// aborting the runner or other in-flight calls.
func (m *Model) Infer(ctx context.Context, inputs tensor.Map) (tensor.Map, error) {
	if err := tensor.ValidateMap(m.Info.Inputs, inputs); err != nil {
		return nil, cartonerr.WithModel(m.ModelID, err)
	}

	wireInputs, fds, err := mapToWire(inputs)
	if err != nil {
		return nil, cartonerr.WithModel(m.ModelID, err)
	}

	resp, respFDs, err := m.conn.Call(ctx, ipc.KindInferRequest, ipc.InferRequest{Inputs: wireInputs}, fds)
	if err != nil {
		return nil, m.wrapCallErr(ctx, err, "infer")
	}

	var infResp ipc.InferResponse
	if err := ipc.UnmarshalRaw(resp.Payload, &infResp); err != nil {
		return nil, cartonerr.WithModel(m.ModelID, err)
	}

	out, err := tensorMapFromWire(infResp.Outputs, respFDs)
	if err != nil {
		return nil, cartonerr.WithModel(m.ModelID, err)
	}
	return out, nil
}

// Seal binds inputs to a runner-side handle InferSealed later replays, the
// first half of the optional two-phase seal/infer_sealed pipelining
// interface.
func (m *Model) Seal(ctx context.Context, inputs tensor.Map) (SealHandle, error) {
	if err := tensor.ValidateMap(m.Info.Inputs, inputs); err != nil {
		return 0, cartonerr.WithModel(m.ModelID, err)
	}

	wireInputs, fds, err := mapToWire(inputs)
	if err != nil {
		return 0, cartonerr.WithModel(m.ModelID, err)
	}

	resp, _, err := m.conn.Call(ctx, ipc.KindSealRequest, ipc.SealRequest{Inputs: wireInputs}, fds)
	if err != nil {
		return 0, m.wrapCallErr(ctx, err, "seal")
	}
	var sealResp ipc.SealResponse
	if err := ipc.UnmarshalRaw(resp.Payload, &sealResp); err != nil {
		return 0, cartonerr.WithModel(m.ModelID, err)
	}
	if !sealResp.OK {
		return 0, cartonerr.WithModel(m.ModelID, &cartonerr.InferRunnerError{Detail: sealResp.Reason})
	}
	return SealHandle(sealResp.Handle), nil
}

// InferSealed runs inference against a handle a prior Seal returned,
// completing the two-phase pipelining interface.
func (m *Model) InferSealed(ctx context.Context, handle SealHandle) (tensor.Map, error) {
	resp, respFDs, err := m.conn.Call(ctx, ipc.KindInferSealedRequest, ipc.InferSealedRequest{Handle: uint64(handle)}, nil)
	if err != nil {
		return nil, m.wrapCallErr(ctx, err, "infer_sealed")
	}
	var infResp ipc.InferSealedResponse
	if err := ipc.UnmarshalRaw(resp.Payload, &infResp); err != nil {
		return nil, cartonerr.WithModel(m.ModelID, err)
	}
	if !infResp.OK {
		return nil, cartonerr.WithModel(m.ModelID, &cartonerr.InferRunnerError{Detail: infResp.Reason})
	}

	out, err := tensorMapFromWire(infResp.Outputs, respFDs)
	if err != nil {
		return nil, cartonerr.WithModel(m.ModelID, err)
	}
	return out, nil
}

func tensorMapFromWire(wire map[string]ipc.WireTensor, respFDs []int) (tensor.Map, error) {
	mapShared := func(fdIndex int, length int64) (tensor.SharedMemoryRef, error) {
		if fdIndex < 0 || fdIndex >= len(respFDs) {
			return tensor.SharedMemoryRef{}, &cartonerr.InferRunnerError{Detail: "fd index out of range in response"}
		}
		return tensor.SharedMemoryRef{FD: uintptr(respFDs[fdIndex]), Length: length}, nil
	}

	out := make(tensor.Map, len(wire))
	for name, w := range wire {
		t, err := fromWire(w, mapShared)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

// Close gracefully shuts the runner down (best-effort, bounded), tearing
// down the process and IPC channel and invalidating any open filesystem
// handles. A model that already crashed skips the graceful round trip and
// tears down directly.
func (m *Model) Close() error {
	if m.State() == Dead {
		return nil
	}

	m.mu.Lock()
	crashed := m.crashed
	m.mu.Unlock()

	if crashed == nil && m.conn != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		resp, _, err := m.conn.Call(shutdownCtx, ipc.KindShutdownRequest, ipc.ShutdownRequest{}, nil)
		cancel()
		if err == nil {
			var shutdownResp ipc.ShutdownResponse
			_ = ipc.UnmarshalRaw(resp.Payload, &shutdownResp)
		}
	}

	m.setState(Dead)
	if m.fsSrv != nil {
		m.fsSrv.InvalidateAll()
	}
	m.teardownProcess()
	if m.group != nil {
		m.group.Wait()
	}
	return nil
}
