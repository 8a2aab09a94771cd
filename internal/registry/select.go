package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/semver"

	"github.com/example/carton/internal/cartonerr"
)

// Requirement is what a carton's [runner] block demands of a runner.
type Requirement struct {
	RunnerName               string
	RunnerCompatVersion      int
	RequiredFrameworkVersion string
	Platform                 string
}

// candidate is the selection-relevant projection of either a LocalEntry or
// a CatalogEntry, so both can share one ranking implementation.
type candidate struct {
	index            int
	name             string
	compat           int
	platform         string
	frameworkVersion string
	releaseDate      string
}

func parseReleaseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// selectBest picks the candidate matching req with the latest release date,
// tie-broken by the newest framework version. Returns RegistryNoMatch when
// nothing matches, or RegistryAmbiguous when two or more candidates tie on
// both criteria.
func selectBest(cands []candidate, req Requirement) (int, error) {
	constraint, err := semver.NewConstraint(req.RequiredFrameworkVersion)
	if err != nil {
		return -1, &cartonerr.Format{Op: "select runner", Reason: fmt.Sprintf("invalid version constraint %q", req.RequiredFrameworkVersion), Err: err}
	}

	type ranked struct {
		candidate
		date    time.Time
		version *semver.Version
	}
	var matches []ranked
	for _, c := range cands {
		if c.name != req.RunnerName || c.compat != req.RunnerCompatVersion || c.platform != req.Platform {
			continue
		}
		v, err := semver.NewVersion(c.frameworkVersion)
		if err != nil || !constraint.Check(v) {
			continue
		}
		date, err := parseReleaseDate(c.releaseDate)
		if err != nil {
			continue
		}
		matches = append(matches, ranked{candidate: c, date: date, version: v})
	}

	if len(matches) == 0 {
		return -1, &cartonerr.RegistryNoMatch{
			RunnerName:      req.RunnerName,
			RunnerCompat:    req.RunnerCompatVersion,
			RequiredVersion: req.RequiredFrameworkVersion,
			Platform:        req.Platform,
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].date.Equal(matches[j].date) {
			return matches[i].date.After(matches[j].date)
		}
		return matches[i].version.GreaterThan(matches[j].version)
	})

	best := matches[0]
	var tied []string
	for _, m := range matches {
		if m.date.Equal(best.date) && m.version.Equal(best.version) {
			tied = append(tied, fmt.Sprintf("%s@%s", m.frameworkVersion, m.releaseDate))
		}
	}
	if len(tied) > 1 {
		return -1, &cartonerr.RegistryAmbiguous{RunnerName: req.RunnerName, Candidates: tied}
	}
	return best.index, nil
}

// SelectLocal picks the best-matching installed runner.
func SelectLocal(entries []LocalEntry, req Requirement) (*LocalEntry, error) {
	cands := make([]candidate, len(entries))
	for i, e := range entries {
		cands[i] = candidate{index: i, name: e.RunnerName, compat: e.RunnerCompatVersion, platform: e.Platform, frameworkVersion: e.FrameworkVersion, releaseDate: e.ReleaseDate}
	}
	idx, err := selectBest(cands, req)
	if err != nil {
		return nil, err
	}
	return &entries[idx], nil
}

// SelectCatalog picks the best-matching catalog runner.
func SelectCatalog(entries []CatalogEntry, req Requirement) (*CatalogEntry, error) {
	cands := make([]candidate, len(entries))
	for i, e := range entries {
		cands[i] = candidate{index: i, name: e.RunnerName, compat: e.RunnerCompatVersion, platform: e.Platform, frameworkVersion: e.FrameworkVersion, releaseDate: e.ReleaseDate}
	}
	idx, err := selectBest(cands, req)
	if err != nil {
		return nil, err
	}
	return &entries[idx], nil
}
