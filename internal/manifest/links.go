package manifest

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/example/carton/internal/cartonerr"
)

// LinksFile is the parsed LINKS table: a map from content sha256 to one or
// more mirror URLs, used to fetch blobs a carton's MANIFEST lists but whose
// bytes were not packed into the zip itself (see vfs.ByHash).
type LinksFile struct {
	URLs map[string][]string `toml:"urls"`
}

// ParseLinks decodes raw LINKS bytes.
func ParseLinks(raw []byte) (*LinksFile, error) {
	var lf LinksFile
	if err := toml.Unmarshal(raw, &lf); err != nil {
		return nil, &cartonerr.Format{Op: "parse LINKS", Reason: "decode failed", Err: err}
	}
	for hash, urls := range lf.URLs {
		if len(urls) == 0 {
			return nil, &cartonerr.Format{Op: "parse LINKS", Reason: fmt.Sprintf("hash %s has no URLs", hash)}
		}
	}
	return &lf, nil
}

// URLsFor returns the mirror URLs listed for a content hash, in preference
// order (first entry tried first).
func (lf *LinksFile) URLsFor(hash string) ([]string, bool) {
	if lf == nil {
		return nil, false
	}
	urls, ok := lf.URLs[hash]
	return urls, ok
}
