// Package source loads the image that is shown on the panel, either from a
// local file or from an HTTP(S) URL with an on-disk conditional cache.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "epaper/internal/log"
)

// maxBody caps downloaded images.
const maxBody = 32 << 20

// Result is one fetched image payload.
type Result struct {
	Body []byte
	// FromCache is set when the body came from disk instead of the network.
	FromCache bool
}

// Source produces the raw bytes of the frame image.
type Source interface {
	Fetch(ctx context.Context) (Result, error)
	String() string
}

// New returns an HTTP source for http(s) references and a file source for
// anything else.
func New(ref, cacheDir string) (Source, error) {
	if ref == "" {
		return nil, errors.New("source: empty image reference")
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return NewHTTP(ref, cacheDir), nil
	}
	return File(ref), nil
}

// File is an image on the local filesystem.
type File string

func (f File) Fetch(_ context.Context) (Result, error) {
	body, err := os.ReadFile(string(f))
	if err != nil {
		return Result{}, fmt.Errorf("source: %w", err)
	}
	return Result{Body: body}, nil
}

func (f File) String() string { return string(f) }

// cacheEntry holds HTTP cache metadata for a URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HTTP fetches an image honoring ETag and Last-Modified, and falls back to
// the cached copy on network errors or non-OK responses.
type HTTP struct {
	url      string
	client   *http.Client
	cacheDir string
}

// NewHTTP creates an HTTP source. Cached bodies live under cacheDir in a
// directory keyed by a hash of the URL.
func NewHTTP(rawURL, cacheDir string) *HTTP {
	if cacheDir == "" {
		cacheDir = "./var/image-cache"
	}
	return &HTTP{
		url:      rawURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		cacheDir: cacheDir,
	}
}

func (h *HTTP) String() string { return redactURL(h.url) }

func (h *HTTP) Fetch(ctx context.Context) (Result, error) {
	cachePath := h.cachePath()
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return Result{}, err
	}

	meta, _ := loadMeta(cachePath)
	cached, _ := os.ReadFile(filepath.Join(cachePath, "body"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return Result{}, err
	}
	if meta.URL == h.url && len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("image fetch failed, using cached body", err, "url", h)
			return Result{Body: cached, FromCache: true}, nil
		}
		return Result{}, fmt.Errorf("source: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
		if err != nil {
			return Result{}, fmt.Errorf("source: read body: %w", err)
		}
		if len(body) > maxBody {
			return Result{}, fmt.Errorf("source: image larger than %d bytes", maxBody)
		}
		entry := cacheEntry{
			URL:          h.url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(cachePath, entry, body); err != nil {
			appLog.Error("image cache save failed", err, "url", h)
		}
		appLog.Debug("image fetched", "url", h, "bytes", len(body))
		return Result{Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return Result{}, errors.New("source: 304 Not Modified but no cached body")
		}
		appLog.Debug("image not modified, using cache", "url", h)
		return Result{Body: cached, FromCache: true}, nil

	default:
		if len(cached) > 0 {
			appLog.Error("image fetch non-OK, using cached body", errors.New(resp.Status), "url", h)
			return Result{Body: cached, FromCache: true}, nil
		}
		return Result{}, fmt.Errorf("source: %s", resp.Status)
	}
}

func (h *HTTP) cachePath() string {
	sum := sha256.Sum256([]byte(h.url))
	return filepath.Join(h.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only; image URLs often carry tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
