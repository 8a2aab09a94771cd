package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/carton/internal/registry"
)

func newRunnerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runner",
		Short: "List and install runners",
	}
	cmd.AddCommand(newRunnerListCmd())
	cmd.AddCommand(newRunnerInstallCmd())
	return cmd
}

func newRunnerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runners installed under paths.runner_dir",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			l := &registry.Local{Dir: cfg.Paths.RunnerDir}
			entries, err := l.Scan()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(os.Stdout, "no runners installed")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(os.Stdout, "%s\t%s\tcompat=%d\t%s\t%s\n", e.RunnerName, e.FrameworkVersion, e.RunnerCompatVersion, e.Platform, e.Root)
			}
			return nil
		},
	}
}

func newRunnerInstallCmd() *cobra.Command {
	var runnerName, frameworkVersionConstraint, platform string
	var compat int

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the best catalog match for a runner requirement",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if cfg.Registry.CatalogURL == "" {
				return fmt.Errorf("registry-catalog-url is not configured")
			}

			ctx := context.Background()
			cat, err := registry.FetchCatalogHTTP(ctx, cfg.Registry.CatalogURL)
			if err != nil {
				return err
			}

			req := registry.Requirement{
				RunnerName:               runnerName,
				RunnerCompatVersion:      compat,
				RequiredFrameworkVersion: frameworkVersionConstraint,
				Platform:                 platform,
			}
			best, err := registry.SelectCatalog(cat.Entries, req)
			if err != nil {
				return err
			}

			in := &registry.Installer{RunnerDir: cfg.Paths.RunnerDir}
			root, err := in.Install(ctx, *best)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, root)
			return nil
		},
	}

	cmd.Flags().StringVar(&runnerName, "runner-name", "", "Runner name to install")
	cmd.Flags().StringVar(&frameworkVersionConstraint, "framework-version", "", "Semver constraint, e.g. ^2.0")
	cmd.Flags().StringVar(&platform, "platform", "", "Target platform, e.g. linux-amd64")
	cmd.Flags().IntVar(&compat, "runner-compat-version", 1, "Required runner_compat_version")
	cmd.MarkFlagRequired("runner-name")
	cmd.MarkFlagRequired("framework-version")
	cmd.MarkFlagRequired("platform")

	return cmd
}
