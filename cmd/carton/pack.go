package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/carton/internal/manifest"
	"github.com/example/carton/internal/orchestrator"
)

func newPackCmd() *cobra.Command {
	var gpu string

	cmd := &cobra.Command{
		Use:   "pack <source-dir> <output.carton>",
		Short: "Resolve a runner's dependencies against a source tree and emit a carton package",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			srcDir, destPath := args[0], args[1]

			raw, err := os.ReadFile(srcDir + "/carton.toml")
			if err != nil {
				return fmt.Errorf("pack: read %s/carton.toml: %w", srcDir, err)
			}
			info, err := manifest.ParseCartonInfo(raw)
			if err != nil {
				return fmt.Errorf("pack: %w", err)
			}

			opts := orchestrator.Options{
				RunnerDir:    cfg.Paths.RunnerDir,
				CatalogURL:   cfg.Registry.CatalogURL,
				RequestedGPU: gpu,
				Logger:       currentLogger(),
			}

			out, err := orchestrator.Pack(context.Background(), srcDir, destPath, info, opts)
			if err != nil {
				return fmt.Errorf("pack: %w", err)
			}
			fmt.Fprintln(os.Stdout, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&gpu, "gpu", "", "Requested visible_device; falls back to cpu if unavailable")
	return cmd
}
