package orchestrator

import (
	"context"
	"fmt"
	"os"

	"github.com/example/carton/internal/manifest"
	"github.com/example/carton/internal/vfs"
)

// LoadUnpacked mounts a plain, unzipped source directory as if it were a
// resolved carton and proceeds through the same spawn/handshake/mount/Load
// pipeline as Load, skipping only the byte-source/container/MANIFEST
// resolution steps a packaged .carton requires: there is no zip, and
// nothing here is hash-verified. runnerInfo overrides the directory's
// carton.toml [runner] block when RunnerName is non-empty, letting a
// caller iterate on a source tree against a specific runner before it
// declares one itself.
func LoadUnpacked(ctx context.Context, modelID, srcDir string, runnerInfo manifest.RunnerRequirement, opts Options) (*Model, error) {
	raw, err := os.ReadFile(srcDir + "/carton.toml")
	if err != nil {
		return nil, fmt.Errorf("load_unpacked: read %s/carton.toml: %w", srcDir, err)
	}
	info, err := manifest.ParseCartonInfo(raw)
	if err != nil {
		return nil, fmt.Errorf("load_unpacked: %w", err)
	}
	if runnerInfo.RunnerName != "" {
		info.Runner = runnerInfo
	}

	if modelID == "" {
		modelID = srcDir
	}

	fsys := vfs.NewOSFileSystem(srcDir)
	return Load(ctx, modelID, info, fsys, opts)
}
