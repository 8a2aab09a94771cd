// Package doctor provides environment preflight checks for carton binaries.
package doctor

import (
	"fmt"
	"io"
	"os"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// CheckFunc runs one environment probe and returns a human-readable detail
// string, or an error if the probe failed.
type CheckFunc func() (string, error)

// Config holds injectable dependencies for each doctor check, the way the
// teacher's Config injects PocketTTSVersion/PythonVersion closures instead
// of calling out to child processes directly.
type Config struct {
	// RunnerDir reports how many runners are installed under paths.runner_dir.
	RunnerDir CheckFunc
	// Catalog probes registry.catalog_url reachability. Skipped when nil.
	Catalog CheckFunc
	// SharedMemory probes whether the host supports the configured shared-
	// memory allocator (e.g. memfd_create on Linux). Skipped when nil.
	SharedMemory CheckFunc
	// ConfigPath is the resolved config file path to verify is readable,
	// empty when no config file was given (layered env/flag/default only).
	ConfigPath string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	runCheck(&res, w, "runner install directory", cfg.RunnerDir)
	runCheck(&res, w, "runner catalog", cfg.Catalog)
	runCheck(&res, w, "shared memory", cfg.SharedMemory)

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			res.fail(fmt.Sprintf("config file %q: %v", cfg.ConfigPath, err))
			fmt.Fprintf(w, "%s config file: %s not found\n", FailMark, cfg.ConfigPath)
		} else {
			fmt.Fprintf(w, "%s config file: %s\n", PassMark, cfg.ConfigPath)
		}
	} else {
		fmt.Fprintf(w, "%s config file: using layered defaults\n", PassMark)
	}

	return res
}

func runCheck(res *Result, w io.Writer, name string, check CheckFunc) {
	if check == nil {
		fmt.Fprintf(w, "%s %s: skipped\n", PassMark, name)
		return
	}
	detail, err := check()
	if err != nil {
		res.fail(fmt.Sprintf("%s: %v", name, err))
		fmt.Fprintf(w, "%s %s: %v\n", FailMark, name, err)
		return
	}
	fmt.Fprintf(w, "%s %s: %s\n", PassMark, name, detail)
}
