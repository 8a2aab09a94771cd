package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/example/carton/internal/bytesource"
	"github.com/example/carton/internal/cartonerr"
)

// DownloadInfo is one archive to fetch and verify when installing a catalog
// runner.
type DownloadInfo struct {
	URL          string `json:"url"`
	SHA256       string `json:"sha256"`
	RelativePath string `json:"relative_path"` // where to place it under the install root
}

// CatalogEntry is a remotely discoverable, not-yet-installed runner.
type CatalogEntry struct {
	RunnerName          string         `json:"runner_name"`
	FrameworkVersion    string         `json:"framework_version"`
	RunnerCompatVersion int            `json:"runner_compat_version"`
	Platform            string         `json:"platform"`
	ReleaseDate         string         `json:"release_date"`
	DownloadInfo        []DownloadInfo `json:"download_info"`
}

// Identity is the hash over this entry's sorted (sha256, relative_path)
// tuples, used to detect whether an already-installed runner matches this
// catalog entry exactly.
func (e CatalogEntry) Identity() string {
	tuples := make([]string, len(e.DownloadInfo))
	for i, di := range e.DownloadInfo {
		tuples[i] = di.SHA256 + ":" + di.RelativePath
	}
	sort.Strings(tuples)
	h := sha256.New()
	for _, t := range tuples {
		io.WriteString(h, t)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Catalog is the decoded well-known JSON runner catalog.
type Catalog struct {
	Entries []CatalogEntry `json:"runners"`
}

// FetchCatalog reads and decodes a catalog document from src in full.
func FetchCatalog(ctx context.Context, src bytesource.Source) (*Catalog, error) {
	size, err := src.Size(ctx)
	if err != nil {
		return nil, err
	}
	r := io.NewSectionReader(bytesource.ReaderAt(ctx, src), 0, size)
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &cartonerr.ByteSource{Kind: "io", Err: err}
	}
	var cat Catalog
	if err := json.Unmarshal(raw, &cat); err != nil {
		return nil, &cartonerr.Format{Op: "parse runner catalog", Reason: "decode failed", Err: err}
	}
	return &cat, nil
}

// FetchCatalogHTTP is a convenience wrapper constructing an HTTP byte
// source for catalogURL and fetching it.
func FetchCatalogHTTP(ctx context.Context, catalogURL string) (*Catalog, error) {
	if catalogURL == "" {
		return nil, fmt.Errorf("registry: empty catalog URL")
	}
	src := bytesource.NewHTTPSource(nil, catalogURL)
	return FetchCatalog(ctx, src)
}
