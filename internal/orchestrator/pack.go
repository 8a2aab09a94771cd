package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/example/carton/internal/cartonerr"
	"github.com/example/carton/internal/container"
	"github.com/example/carton/internal/ipc"
	"github.com/example/carton/internal/ipc/fsserver"
	"github.com/example/carton/internal/manifest"
	"github.com/example/carton/internal/registry"
	"github.com/example/carton/internal/vfs"
)

// Pack spawns a runner matching info's [runner] block, hands it a
// read-only mount of srcDir (which must already contain carton.toml), and
// asks it to resolve its dependencies and report which subdirectory of
// srcDir to zip. The result is deterministically zipped with a freshly
// computed MANIFEST and written to destPath.
//
// Pack assumes outbound network is reachable if the runner's own
// dependency resolution needs it (e.g. a Python runner's pip install); no
// offline mode is provided.
func Pack(ctx context.Context, srcDir, destPath string, info *manifest.CartonInfo, opts Options) (string, error) {
	logger := opts.logger()

	if err := checkRequiredPlatform(info); err != nil {
		return "", err
	}

	req := RequirementFor(info)
	if opts.OverrideRequiredFrameworkVersion != "" {
		req.RequiredFrameworkVersion = opts.OverrideRequiredFrameworkVersion
	}

	root, err := resolveRunnerRoot(ctx, opts.RunnerDir, opts.CatalogURL, req, logger)
	if err != nil {
		return "", err
	}
	entrypoint := filepath.Join(root, "bin", "runner")
	if _, statErr := os.Stat(entrypoint); statErr != nil {
		entrypoint = filepath.Join(root, "runner")
	}

	device := resolveDevice(logger, opts.RequestedGPU)

	m := &Model{ModelID: filepath.Base(srcDir), logger: logger}
	m.setState(Spawning)
	if err := m.spawn(ctx, entrypoint, device); err != nil {
		return "", err
	}
	defer m.teardownProcess()

	m.setState(Handshaking)
	if err := m.handshake(ctx); err != nil {
		return "", err
	}

	m.setState(Mounting)
	m.fsSrv = fsserver.New(vfs.NewOSFileSystem(srcDir))
	m.conn.SetHandler(m)
	defer m.fsSrv.InvalidateAll()

	resp, _, err := m.conn.Call(ctx, ipc.KindPackRequest, ipc.PackRequest{SourceDir: "."}, nil)
	if err != nil {
		return "", cartonerr.WithModel(m.ModelID, err)
	}
	var packResp ipc.PackResponse
	if err := ipc.UnmarshalRaw(resp.Payload, &packResp); err != nil {
		return "", cartonerr.WithModel(m.ModelID, err)
	}
	if !packResp.OK {
		return "", cartonerr.WithModel(m.ModelID, &cartonerr.ModelLoadFailed{ModelID: m.ModelID, Reason: packResp.Reason})
	}

	outputDir := srcDir
	if packResp.OutputDir != "" && packResp.OutputDir != "." {
		outputDir = filepath.Join(srcDir, filepath.FromSlash(packResp.OutputDir))
	}

	if err := container.Pack(outputDir, destPath); err != nil {
		return "", fmt.Errorf("pack %s: %w", destPath, err)
	}
	return destPath, nil
}

// RequirementFor builds the registry.Requirement a carton.toml's [runner]
// block demands, the same projection Load uses.
func RequirementFor(info *manifest.CartonInfo) registry.Requirement {
	return registry.Requirement{
		RunnerName:               info.Runner.RunnerName,
		RunnerCompatVersion:      info.Runner.RunnerCompatVersion,
		RequiredFrameworkVersion: info.Runner.RequiredFrameworkVersion,
		Platform:                 fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH),
	}
}

// checkRequiredPlatform rejects a carton whose required_platform list is
// non-empty and excludes the current host, a distinct concept from
// registry.Requirement.Platform (the runner's own platform, matched during
// selection): this is the host the carton itself is allowed to run on.
func checkRequiredPlatform(info *manifest.CartonInfo) error {
	if len(info.RequiredPlatform) == 0 {
		return nil
	}
	host := fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
	for _, p := range info.RequiredPlatform {
		if p == host {
			return nil
		}
	}
	return &cartonerr.RegistryNoMatch{
		RunnerName:      info.Runner.RunnerName,
		RunnerCompat:    info.Runner.RunnerCompatVersion,
		RequiredVersion: info.Runner.RequiredFrameworkVersion,
		Platform:        host,
	}
}
