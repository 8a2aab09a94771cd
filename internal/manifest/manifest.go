// Package manifest parses and validates a carton's descriptor (carton.toml),
// its sorted path=sha256 MANIFEST, its optional LINKS table, and its
// tensor_data index and blobs.
package manifest

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/example/carton/internal/cartonerr"
)

// Entry is one path=sha256 line of a MANIFEST.
type Entry struct {
	Path   string
	SHA256 string
}

// Manifest is the parsed, validated MANIFEST file: a sorted, unique list of
// (path, sha256) entries. Its own sha256 is the model identity.
type Manifest struct {
	Entries []Entry
	Hash    string // hex sha256 of the raw MANIFEST bytes
}

// Parse validates and parses raw MANIFEST bytes. Entries must be
// lexicographically sorted by path and each path must appear exactly once;
// MANIFEST and LINKS must not be listed.
func Parse(raw []byte) (*Manifest, error) {
	h := sha256.Sum256(raw)

	var entries []Entry
	seen := make(map[string]bool)
	sc := bufio.NewScanner(strings.NewReader(string(raw)))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		path, sha, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &cartonerr.Format{
				Op:     "parse MANIFEST",
				Reason: fmt.Sprintf("line %d: missing '=': %q", lineNo, line),
			}
		}
		if path == "MANIFEST" || path == "LINKS" {
			return nil, &cartonerr.Format{
				Op:     "parse MANIFEST",
				Reason: fmt.Sprintf("line %d: %s must not be listed in MANIFEST", lineNo, path),
			}
		}
		if seen[path] {
			return nil, &cartonerr.Format{
				Op:     "parse MANIFEST",
				Reason: fmt.Sprintf("line %d: duplicate path %q", lineNo, path),
			}
		}
		seen[path] = true
		entries = append(entries, Entry{Path: path, SHA256: strings.ToLower(sha)})
	}
	if err := sc.Err(); err != nil {
		return nil, &cartonerr.Format{Op: "parse MANIFEST", Reason: "scan failed", Err: err}
	}

	if !sort.SliceIsSorted(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path }) {
		return nil, &cartonerr.Format{Op: "parse MANIFEST", Reason: "entries are not lexicographically sorted by path"}
	}

	return &Manifest{Entries: entries, Hash: hex.EncodeToString(h[:])}, nil
}

// Lookup returns the expected sha256 for path, or ("", false).
func (m *Manifest) Lookup(path string) (string, bool) {
	// Entries are sorted; a linear scan is fine at carton sizes (hundreds
	// of entries), and keeps the type trivially constructible in tests.
	for _, e := range m.Entries {
		if e.Path == path {
			return e.SHA256, true
		}
	}
	return "", false
}

// VerifyHash reports whether the sha256 of content matches path's expected
// hash in m, returning a cartonerr.Integrity error on mismatch.
func (m *Manifest) VerifyHash(path string, content io.Reader) error {
	expected, ok := m.Lookup(path)
	if !ok {
		return &cartonerr.Format{Op: "verify hash", Reason: fmt.Sprintf("%s not listed in manifest", path)}
	}
	h := sha256.New()
	if _, err := io.Copy(h, content); err != nil {
		return err
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected {
		return &cartonerr.Integrity{Path: path, Expected: expected, Actual: actual}
	}
	return nil
}
