// Package registry discovers, selects, and installs runners: the
// processes that actually execute a model's inference. A runner is
// identified on disk by a runner.toml descriptor and remotely by an entry
// in a JSON catalog; both layers are matched the same way.
package registry

import (
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/example/carton/internal/cartonerr"
)

// Descriptor is a runner.toml file's [[runner]] entry: identity, the
// framework version it embeds, the carton storage layout version it
// understands, and how the orchestrator should spawn it.
type Descriptor struct {
	RunnerName          string   `toml:"runner_name"`
	FrameworkVersion    string   `toml:"framework_version"`
	RunnerCompatVersion int      `toml:"runner_compat_version"`
	Platform            string   `toml:"platform"`
	ReleaseDate         string   `toml:"release_date"` // RFC 3339 date, e.g. "2026-03-01"
	Entrypoint          string   `toml:"entrypoint"`    // path relative to the runner's install root
	InterfaceVersions   []uint32 `toml:"interface_versions"`
}

// descriptorFile is runner.toml's top-level shape: one or more [[runner]]
// entries (third-party packages may ship several platform builds together).
type descriptorFile struct {
	Runner []Descriptor `toml:"runner"`
}

// ParseDescriptors decodes a runner.toml file's [[runner]] entries.
// Third-party runner names must carry a namespace prefix ("publisher/name");
// first-party runners (no slash) are accepted as-is.
func ParseDescriptors(raw []byte) ([]Descriptor, error) {
	var df descriptorFile
	if err := toml.Unmarshal(raw, &df); err != nil {
		return nil, &cartonerr.Format{Op: "parse runner.toml", Reason: "decode failed", Err: err}
	}
	if len(df.Runner) == 0 {
		return nil, &cartonerr.Format{Op: "parse runner.toml", Reason: "no [[runner]] entries"}
	}
	for _, d := range df.Runner {
		if d.RunnerName == "" {
			return nil, &cartonerr.Format{Op: "parse runner.toml", Reason: "entry missing runner_name"}
		}
		if d.RunnerCompatVersion == 0 {
			return nil, &cartonerr.Format{Op: "parse runner.toml", Reason: "entry missing runner_compat_version"}
		}
	}
	return df.Runner, nil
}

// IsThirdParty reports whether name carries a "publisher/name" namespace
// prefix, the form third-party runners are required to use.
func IsThirdParty(name string) bool {
	return strings.Contains(name, "/")
}
