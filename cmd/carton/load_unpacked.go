package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/carton/internal/manifest"
	"github.com/example/carton/internal/orchestrator"
	"github.com/example/carton/internal/shmpool"
)

func newLoadUnpackedCmd() *cobra.Command {
	var gpu string
	var modelID string
	var runnerName string
	var runnerCompatVersion int
	var requiredFrameworkVersion string
	var runnerOpts []string

	cmd := &cobra.Command{
		Use:   "load-unpacked <source-dir>",
		Short: "Mount an unzipped source directory as a carton and load it directly, skipping the pack/unpack round trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			srcDir := args[0]

			var runnerInfo manifest.RunnerRequirement
			if runnerName != "" {
				runnerInfo = manifest.RunnerRequirement{
					RunnerName:               runnerName,
					RunnerCompatVersion:      runnerCompatVersion,
					RequiredFrameworkVersion: requiredFrameworkVersion,
				}
			}

			runnerOptOverrides, err := parseRunnerOpts(runnerOpts)
			if err != nil {
				return fmt.Errorf("load-unpacked: %w", err)
			}

			ctx := context.Background()
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
				LoadTimeout:                        time.Duration(cfg.Runtime.LoadTimeoutSecs) * time.Second,
			}

			m, err := orchestrator.LoadUnpacked(ctx, modelID, srcDir, runnerInfo, opts)
			if err != nil {
				return fmt.Errorf("load-unpacked: %w", err)
			}
			defer m.Close()

			fmt.Fprintf(os.Stdout, "loaded %s: state=%s\n", srcDir, m.State())
			return nil
		},
	}

	cmd.Flags().StringVar(&gpu, "gpu", "", "Requested visible_device; falls back to cpu if unavailable")
	cmd.Flags().StringVar(&modelID, "model-id", "", "Model identity reported to the runner (defaults to the source directory path)")
	cmd.Flags().StringVar(&runnerName, "runner-name", "", "Override the source tree's declared runner_name")
	cmd.Flags().IntVar(&runnerCompatVersion, "runner-compat-version", 0, "Override the source tree's declared runner_compat_version")
	cmd.Flags().StringVar(&requiredFrameworkVersion, "required-framework-version", "", "Override required_framework_version for runner selection")
	cmd.Flags().StringArrayVar(&runnerOpts, "runner-opt", nil, "Override a runner option, key=value (repeatable)")

	return cmd
}
