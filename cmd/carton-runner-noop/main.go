// Command carton-runner-noop is a seed runner speaking the v1 carton wire
// protocol literally: it loads any model, declares one input and one
// output tensor named "x" and "y", and answers Infer by doubling every
// float32 element of "x". It exists to exercise internal/orchestrator and
// internal/ipc end to end without depending on a real ML framework.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/example/carton/internal/ipc"
)

const inheritedConnFD = 3

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "carton-runner-noop:", err)
		os.Exit(1)
	}
}

func run() error {
	f := os.NewFile(uintptr(inheritedConnFD), "carton-ipc")
	if f == nil {
		return fmt.Errorf("fd %d not inherited", inheritedConnFD)
	}
	genericConn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("wrap inherited fd: %w", err)
	}
	uc, ok := genericConn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("inherited fd is not a unix socket: %T", genericConn)
	}

	r := &noopRunner{logger: slog.Default()}
	conn := ipc.NewConn(uc, r)
	r.conn = conn

	ctx := context.Background()
	return conn.Serve(ctx)
}
