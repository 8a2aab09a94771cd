package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/carton/internal/orchestrator"
	"github.com/example/carton/internal/shmpool"
)

func newLoadCmd() *cobra.Command {
	var gpu string
	var modelID string
	var runnerOpts []string
	var requiredFrameworkVersion string

	cmd := &cobra.Command{
		Use:   "load <package.carton>",
		Short: "Resolve a runner, spawn it, and load a carton package into it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			fsys, info, man, closer, err := openPackage(ctx, args[0])
			if err != nil {
				return err
			}
			defer closer.Close()

			if modelID == "" {
				modelID = man.Hash
			}

			runnerOptOverrides, err := parseRunnerOpts(runnerOpts)
			if err != nil {
				return fmt.Errorf("load: %w", err)
			}

			shm := shmpool.NewPool(shmpool.ShmAllocator{}, cfg.Runtime.ShmPoolMaxBytes)

			opts := orchestrator.Options{
				RunnerDir:                        cfg.Paths.RunnerDir,
				CatalogURL:                        cfg.Registry.CatalogURL,
				RequestedGPU:                      gpu,
				OverrideRunnerOpts:                runnerOptOverrides,
				OverrideRequiredFrameworkVersion:  requiredFrameworkVersion,
				Shm:                               shm,
				Logger:                            currentLogger(),
				HandshakeTimeout:                  30 * time.Second,
				LoadTimeout:                       time.Duration(cfg.Runtime.LoadTimeoutSecs) * time.Second,
			}

			m, err := orchestrator.Load(ctx, modelID, info, fsys, opts)
			if err != nil {
				return fmt.Errorf("load: %w", err)
			}
			defer m.Close()

			fmt.Fprintf(os.Stdout, "loaded %s: state=%s\n", modelID, m.State())
			return nil
		},
	}

	cmd.Flags().StringVar(&gpu, "gpu", "", "Requested visible_device; falls back to cpu if unavailable")
	cmd.Flags().StringVar(&modelID, "model-id", "", "Model identity reported to the runner (defaults to the MANIFEST sha256)")
	cmd.Flags().StringArrayVar(&runnerOpts, "runner-opt", nil, "Override a runner option, key=value (repeatable)")
	cmd.Flags().StringVar(&requiredFrameworkVersion, "required-framework-version", "", "Override carton.toml's required_framework_version constraint")

	return cmd
}

// parseRunnerOpts parses repeated --runner-opt key=value flags into the
// map LoadRequest.Options merges over carton.toml's declared runner
// options.
func parseRunnerOpts(kvs []string) (map[string]any, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("--runner-opt %q: expected key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}
