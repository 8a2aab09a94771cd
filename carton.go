// Package carton is the small public surface embeddable by language
// bindings, a thin façade over internal/orchestrator and internal/registry:
// load, load_unpacked, pack, get_model_info, a Model handle's infer/
// seal/infer_sealed, and runner installation/discovery. The carton CLI
// (cmd/carton) is itself built entirely on this surface.
package carton

import (
	"context"
	"fmt"
	"os"

	"github.com/example/carton/internal/loader"
	"github.com/example/carton/internal/manifest"
	"github.com/example/carton/internal/orchestrator"
	"github.com/example/carton/internal/registry"
	"github.com/example/carton/internal/tensor"
)

// Options configures how Load, LoadUnpacked, and Pack resolve, install,
// and spawn a runner.
type Options = orchestrator.Options

// SealHandle identifies a runner-side input binding created by Model.Seal,
// to be consumed exactly once by Model.InferSealed.
type SealHandle = orchestrator.SealHandle

// Model is a loaded carton backed by a spawned, handshaken runner process.
type Model struct {
	m *orchestrator.Model
}

// Infer runs inference against the loaded model.
func (h *Model) Infer(ctx context.Context, inputs tensor.Map) (tensor.Map, error) {
	return h.m.Infer(ctx, inputs)
}

// Seal begins a two-phase inference, returning a handle InferSealed later
// consumes. Optional; most callers should just use Infer.
func (h *Model) Seal(ctx context.Context, inputs tensor.Map) (SealHandle, error) {
	return h.m.Seal(ctx, inputs)
}

// InferSealed completes a two-phase inference started by Seal.
func (h *Model) InferSealed(ctx context.Context, handle SealHandle) (tensor.Map, error) {
	return h.m.InferSealed(ctx, handle)
}

// GetInfo fetches the runner's own view of the carton's carton.toml.
func (h *Model) GetInfo(ctx context.Context) ([]byte, error) {
	return h.m.GetInfo(ctx)
}

// State returns the model's current lifecycle state name.
func (h *Model) State() string { return h.m.State().String() }

// Close gracefully shuts the runner down and releases its process.
func (h *Model) Close() error { return h.m.Close() }

// Load opens the packaged .carton file at path, resolves and spawns a
// compatible runner, and issues its Load RPC. modelID defaults to the
// package's MANIFEST sha256 (the model identity) when empty.
func Load(ctx context.Context, path, modelID string, opts Options) (*Model, error) {
	fsys, info, man, closer, err := loader.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	if modelID == "" {
		modelID = man.Hash
	}
	m, err := orchestrator.Load(ctx, modelID, info, fsys, opts)
	if err != nil {
		return nil, err
	}
	return &Model{m: m}, nil
}

// LoadUnpacked mounts an unzipped source directory directly, skipping the
// pack-then-load round trip. runnerInfo overrides the directory's declared
// [runner] block when its RunnerName is non-empty.
func LoadUnpacked(ctx context.Context, modelID, srcDir string, runnerInfo manifest.RunnerRequirement, opts Options) (*Model, error) {
	m, err := orchestrator.LoadUnpacked(ctx, modelID, srcDir, runnerInfo, opts)
	if err != nil {
		return nil, err
	}
	return &Model{m: m}, nil
}

// Pack resolves a runner's dependencies against srcDir (which must contain
// carton.toml) and emits a carton package at destPath.
func Pack(ctx context.Context, srcDir, destPath string, opts Options) (string, error) {
	raw, err := os.ReadFile(srcDir + "/carton.toml")
	if err != nil {
		return "", fmt.Errorf("pack: read %s/carton.toml: %w", srcDir, err)
	}
	info, err := manifest.ParseCartonInfo(raw)
	if err != nil {
		return "", fmt.Errorf("pack: %w", err)
	}
	return orchestrator.Pack(ctx, srcDir, destPath, info, opts)
}

// GetModelInfo decodes a packaged .carton file's carton.toml without
// spawning a runner.
func GetModelInfo(ctx context.Context, path string) (*manifest.CartonInfo, error) {
	_, info, _, closer, err := loader.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	closer.Close()
	return info, nil
}

// InstallOpts selects which catalog entry InstallRunner installs; any
// non-empty field narrows the match.
type InstallOpts struct {
	Name    string
	Version string
	SHA     string
	URL     string
}

// InstallRunner fetches catalogURL, finds the catalog entry InstallOpts
// selects, and installs it into runnerDir, returning the install root.
func InstallRunner(ctx context.Context, runnerDir, catalogURL string, opts InstallOpts) (string, error) {
	cat, err := registry.FetchCatalogHTTP(ctx, catalogURL)
	if err != nil {
		return "", err
	}
	for _, e := range cat.Entries {
		if opts.Name != "" && e.RunnerName != opts.Name {
			continue
		}
		if opts.Version != "" && e.FrameworkVersion != opts.Version {
			continue
		}
		if opts.SHA != "" && !hasDownloadSHA(e, opts.SHA) {
			continue
		}
		if opts.URL != "" && !hasDownloadURL(e, opts.URL) {
			continue
		}
		in := &registry.Installer{RunnerDir: runnerDir}
		return in.Install(ctx, e)
	}
	return "", fmt.Errorf("install_runner: no catalog entry matches name=%q version=%q sha=%q url=%q",
		opts.Name, opts.Version, opts.SHA, opts.URL)
}

func hasDownloadSHA(e registry.CatalogEntry, sha string) bool {
	for _, di := range e.DownloadInfo {
		if di.SHA256 == sha {
			return true
		}
	}
	return false
}

func hasDownloadURL(e registry.CatalogEntry, url string) bool {
	for _, di := range e.DownloadInfo {
		if di.URL == url {
			return true
		}
	}
	return false
}

// ListInstalledRunners scans runnerDir for already-installed runner
// descriptors.
func ListInstalledRunners(runnerDir string) ([]registry.LocalEntry, error) {
	local := &registry.Local{Dir: runnerDir}
	return local.Scan()
}
