package vfs

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/example/carton/internal/cartonerr"
	"github.com/example/carton/internal/manifest"
)

// ByHash is the content-addressed filesystem backing paths a carton's
// MANIFEST lists but whose bytes were not packed into the zip itself: LINKS
// maps each such path's manifest hash to one or more mirror URLs, fetched
// over plain HTTP and verified against the manifest before being handed
// back, mirroring the retry and backoff shape of bytesource.HTTPSource.
type ByHash struct {
	Client     *http.Client
	Links      *manifest.LinksFile
	Manifest   *manifest.Manifest
	MaxRetries int
	BaseDelay  time.Duration

	mu    sync.Mutex
	cache map[string][]byte // path -> verified decoded content
}

// NewByHash constructs a ByHash filesystem over links and man, using client
// (http.DefaultClient when nil).
func NewByHash(client *http.Client, links *manifest.LinksFile, man *manifest.Manifest) *ByHash {
	if client == nil {
		client = http.DefaultClient
	}
	return &ByHash{
		Client:     client,
		Links:      links,
		Manifest:   man,
		MaxRetries: 5,
		BaseDelay:  200 * time.Millisecond,
		cache:      make(map[string][]byte),
	}
}

func (b *ByHash) Open(ctx context.Context, path string) (File, error) {
	data, err := b.fetchDecoded(ctx, normalize(path))
	if err != nil {
		return nil, err
	}
	return nopCloser{bytes.NewReader(data)}, nil
}

func (b *ByHash) Metadata(ctx context.Context, path string) (Metadata, error) {
	data, err := b.fetchDecoded(ctx, normalize(path))
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Size: int64(len(data))}, nil
}

// List enumerates the direct children of dir among the manifest's entries,
// since ByHash has no directory structure of its own beyond what MANIFEST
// records.
func (b *ByHash) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir = normalize(dir)
	prefix := dir + "/"
	if dir == "." {
		prefix = ""
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range b.Manifest.Entries {
		if !strings.HasPrefix(e.Path, prefix) {
			continue
		}
		rest := e.Path[len(prefix):]
		if rest == "" {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, ErrNotFound
	}
	sort.Strings(names)
	return names, nil
}

func (b *ByHash) fetchDecoded(ctx context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	if cached, ok := b.cache[path]; ok {
		b.mu.Unlock()
		return cached, nil
	}
	b.mu.Unlock()

	hash, ok := b.Manifest.Lookup(path)
	if !ok {
		return nil, ErrNotFound
	}
	urls, ok := b.Links.URLsFor(hash)
	if !ok || len(urls) == 0 {
		return nil, ErrNotFound
	}

	var lastErr error
	for _, url := range urls {
		data, err := b.fetchURL(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		if verifyErr := b.Manifest.VerifyHash(path, bytes.NewReader(data)); verifyErr != nil {
			lastErr = verifyErr
			continue
		}
		b.mu.Lock()
		b.cache[path] = data
		b.mu.Unlock()
		return data, nil
	}
	return nil, lastErr
}

func (b *ByHash) fetchURL(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := byHashBackoff(b.BaseDelay, attempt)
			slog.DebugContext(ctx, "vfs: retrying LINKS fetch", "attempt", attempt, "delay", delay, "url", url)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		data, err := b.fetchURLOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !cartonerr.IsTransient(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("vfs: exhausted %d retries fetching %s: %w", b.MaxRetries, url, lastErr)
}

func (b *ByHash) fetchURLOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &cartonerr.ByteSource{Kind: "io", Err: err}
	}
	// Disable transport-level gzip auto-decoding so Content-Encoding reflects
	// what the server actually sent and we control decompression ourselves.
	req.Header.Set("Accept-Encoding", "identity, gzip, deflate, zstd, br")

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, &cartonerr.ByteSource{Kind: "io", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 500:
		return nil, &cartonerr.ByteSource{Kind: "http_5xx", Err: fmt.Errorf("GET %s: %s", url, resp.Status)}
	default:
		return nil, &cartonerr.ByteSource{Kind: "http_status", Err: fmt.Errorf("GET %s: %s", url, resp.Status)}
	}

	decoded, err := decodeContentEncoding(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, &cartonerr.ByteSource{Kind: "io", Err: err}
	}
	data, err := io.ReadAll(decoded)
	if err != nil {
		return nil, &cartonerr.ByteSource{Kind: "io", Err: err}
	}
	return data, nil
}

func decodeContentEncoding(encoding string, r io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return r, nil
	case "gzip":
		return gzip.NewReader(r)
	case "deflate":
		return flate.NewReader(r), nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case "br":
		return brotli.NewReader(r), nil
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", encoding)
	}
}

func byHashBackoff(base time.Duration, attempt int) time.Duration {
	d := base * time.Duration(1<<uint(attempt-1))
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

var _ FileSystem = (*ByHash)(nil)
