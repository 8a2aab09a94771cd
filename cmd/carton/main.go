package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	defer func() {
		if otelShutdown != nil {
			_ = otelShutdown(context.Background())
		}
		if traceWriter != nil {
			_ = traceWriter.Close()
		}
	}()

	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
