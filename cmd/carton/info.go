package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <package.carton>",
		Short: "Print a carton package's declared inputs, outputs, and runner requirement",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			_, info, man, closer, err := openPackage(context.Background(), args[0])
			if err != nil {
				return err
			}
			defer closer.Close()

			fmt.Fprintf(os.Stdout, "model id: %s\n", man.Hash)
			fmt.Fprintf(os.Stdout, "runner: %s (compat v%d, requires %s)\n",
				info.Runner.RunnerName, info.Runner.RunnerCompatVersion, info.Runner.RequiredFrameworkVersion)
			if info.DisplayName != "" {
				fmt.Fprintf(os.Stdout, "name: %s\n", info.DisplayName)
			}
			fmt.Fprintln(os.Stdout, "inputs:")
			for _, in := range info.Inputs {
				fmt.Fprintf(os.Stdout, "  %s: %s\n", in.Name, in.Dtype)
			}
			fmt.Fprintln(os.Stdout, "outputs:")
			for _, out := range info.Outputs {
				fmt.Fprintf(os.Stdout, "  %s: %s\n", out.Name, out.Dtype)
			}
			return nil
		},
	}
	return cmd
}
