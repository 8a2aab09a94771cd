package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/carton/internal/doctor"
	"github.com/example/carton/internal/registry"
	"github.com/example/carton/internal/shmpool"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the local environment is ready to load and run cartons",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			dcfg := doctor.Config{
				RunnerDir:    runnerDirCheck(cfg.Paths.RunnerDir),
				Catalog:      catalogCheck(cfg.Registry.CatalogURL),
				SharedMemory: sharedMemoryCheck(),
				ConfigPath:   cfgFile,
			}

			result := doctor.Run(dcfg, os.Stdout)
			if result.Failed() {
				return fmt.Errorf("doctor: %d check(s) failed", len(result.Failures()))
			}
			return nil
		},
	}
}

func runnerDirCheck(dir string) doctor.CheckFunc {
	return func() (string, error) {
		l := &registry.Local{Dir: dir}
		entries, err := l.Scan()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d runner(s) installed under %s", len(entries), dir), nil
	}
}

func catalogCheck(url string) doctor.CheckFunc {
	if url == "" {
		return nil
	}
	return func() (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("%s returned %s", url, resp.Status)
		}
		return url, nil
	}
}

func sharedMemoryCheck() doctor.CheckFunc {
	if runtime.GOOS != "linux" {
		return nil
	}
	return func() (string, error) {
		a := shmpool.ShmAllocator{}
		alloc, err := a.Alloc(4096)
		if err != nil {
			return "", err
		}
		defer alloc.Release()
		if alloc.FD == 0 {
			return "", errors.New("memfd_create did not return a usable file descriptor")
		}
		return "memfd_create available", nil
	}
}
