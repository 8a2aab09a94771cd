package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/carton/internal/cartonerr"
)

// LocalEntry is a descriptor interned from a runner directory, alongside the
// filesystem root it was found under (needed to spawn its entrypoint).
type LocalEntry struct {
	Descriptor
	Root string
}

// Local scans a runner directory (default ~/.carton/runners, overridable by
// CARTON_RUNNER_DIR via internal/config) for installed runners.
type Local struct {
	Dir string
}

// Scan interns every [[runner]] entry found in <Dir>/*/runner.toml.
func (l *Local) Scan() ([]LocalEntry, error) {
	subdirs, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: scan %s: %w", l.Dir, err)
	}

	var entries []LocalEntry
	for _, sd := range subdirs {
		if !sd.IsDir() {
			continue
		}
		root := filepath.Join(l.Dir, sd.Name())
		raw, err := os.ReadFile(filepath.Join(root, "runner.toml"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("registry: read %s/runner.toml: %w", root, err)
		}
		descs, err := ParseDescriptors(raw)
		if err != nil {
			return nil, cartonerr.WithRunner(sd.Name(), err)
		}
		for _, d := range descs {
			entries = append(entries, LocalEntry{Descriptor: d, Root: root})
		}
	}
	return entries, nil
}
