// Package download saves export artifacts published by the leader under its
// public path. Files are written atomically and described by a metadata
// sidecar so a repeated download of the same artifact can be recognised.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MetadataSuffix is appended to an artifact path to name its sidecar.
const MetadataSuffix = ".status.json"

// Status indicates whether the local copy changed.
type Status string

const (
	StatusUpdated     Status = "updated"
	StatusNotModified Status = "not_modified"
	StatusSameContent Status = "same_content"
)

// ErrTruncated reports a body shorter than the advertised Content-Length.
var ErrTruncated = errors.New("download: artifact truncated")

// Metadata records the last successful fetch of an artifact.
type Metadata struct {
	URL          string    `json:"url,omitempty"`
	Artifact     string    `json:"artifact,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at,omitempty"`
	CheckedAt    time.Time `json:"checked_at,omitempty"`
	SizeBytes    int64     `json:"size_bytes,omitempty"`
	SHA256       string    `json:"sha256,omitempty"`
}

// Request configures one artifact fetch.
type Request struct {
	URL         string
	Destination string
	Timeout     time.Duration // zero leaves the deadline to ctx
	Force       bool          // ignore the sidecar and always replace
	Client      *http.Client
}

// Result summarizes the outcome.
type Result struct {
	Status Status
	Path   string
	Meta   Metadata
	Bytes  int64
}

// MetadataPath returns the sidecar path for a destination.
func MetadataPath(dest string) string {
	if strings.TrimSpace(dest) == "" {
		return ""
	}
	return dest + MetadataSuffix
}

// staged is a fully received body waiting to be moved into place.
type staged struct {
	path string
	size int64
	hash string
}

// Purpose: Fetch an artifact into Destination with a metadata sidecar.
// Key aspects: Revalidates against the previous sidecar when the local copy
// exists; a 304 or an identical hash leaves the file alone. New content is
// staged next to the destination and renamed over it.
// Upstream: Trigger.Trigger after a successful export.
// Downstream: net/http, ReadMetadata, WriteMetadata.
func Fetch(ctx context.Context, req Request) (Result, error) {
	src, dest := strings.TrimSpace(req.URL), strings.TrimSpace(req.Destination)
	switch {
	case src == "":
		return Result{}, errors.New("download: URL is empty")
	case dest == "":
		return Result{}, errors.New("download: destination is empty")
	}
	result := Result{Path: dest}

	prev, err := previousCopy(dest, req.Force)
	if err != nil {
		return result, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	resp, err := get(ctx, req.Client, src, prev)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	meta := describe(prev, src, dest, resp)
	sidecar := MetadataPath(dest)

	if resp.StatusCode == http.StatusNotModified && prev != nil {
		result.Status, result.Meta = StatusNotModified, meta
		writeMetadataLogged(sidecar, meta)
		return result, nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return result, fmt.Errorf("download: fetch %s: status %s", filepath.Base(dest), resp.Status)
	}

	body, err := stage(dest, resp)
	if err != nil {
		return result, err
	}
	defer os.Remove(body.path)
	result.Bytes = body.size
	meta.SHA256 = body.hash

	if prev != nil && prev.SHA256 == body.hash {
		result.Status, result.Meta = StatusSameContent, meta
		writeMetadataLogged(sidecar, meta)
		return result, nil
	}
	if err := os.Rename(body.path, dest); err != nil {
		return result, fmt.Errorf("download: replace %s: %w", dest, err)
	}
	meta.DownloadedAt = meta.CheckedAt
	meta.SizeBytes = body.size
	result.Status, result.Meta = StatusUpdated, meta
	writeMetadataLogged(sidecar, meta)
	log.Printf("Download: saved %s (%s)", dest, humanize.Bytes(uint64(body.size)))
	return result, nil
}

// previousCopy returns the sidecar of an existing local copy, or nil when the
// artifact must be fetched unconditionally.
func previousCopy(dest string, force bool) (*Metadata, error) {
	if _, err := os.Stat(dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("download: stat destination: %w", err)
	}
	if force {
		return nil, nil
	}
	return ReadMetadata(MetadataPath(dest)), nil
}

func get(ctx context.Context, client *http.Client, src string, prev *Metadata) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("download: build request: %w", err)
	}
	if prev != nil {
		if prev.ETag != "" {
			httpReq.Header.Set("If-None-Match", prev.ETag)
		}
		if prev.LastModified != "" {
			httpReq.Header.Set("If-Modified-Since", prev.LastModified)
		}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download: fetch failed: %w", err)
	}
	return resp, nil
}

// stage writes the body to a temp file beside dest, hashing it on the way.
func stage(dest string, resp *http.Response) (staged, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return staged{}, fmt.Errorf("download: create directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "artifact-*.tmp")
	if err != nil {
		return staged{}, fmt.Errorf("download: create temp file: %w", err)
	}
	out := staged{path: f.Name()}

	hasher := sha256.New()
	out.size, err = io.Copy(io.MultiWriter(f, hasher), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		os.Remove(out.path)
		return staged{}, fmt.Errorf("download: copy body: %w", err)
	case out.size == 0:
		os.Remove(out.path)
		return staged{}, errors.New("download: empty response body")
	case resp.ContentLength > 0 && out.size < resp.ContentLength:
		os.Remove(out.path)
		return staged{}, fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, out.size, resp.ContentLength)
	}
	out.hash = hex.EncodeToString(hasher.Sum(nil))
	return out, nil
}

// describe carries the previous sidecar forward with this response's
// validators.
func describe(prev *Metadata, src, dest string, resp *http.Response) Metadata {
	var meta Metadata
	if prev != nil {
		meta = *prev
	}
	meta.URL = src
	meta.Artifact = filepath.Base(dest)
	meta.CheckedAt = time.Now().UTC()
	if v := strings.TrimSpace(resp.Header.Get("ETag")); v != "" {
		meta.ETag = v
	}
	if v := strings.TrimSpace(resp.Header.Get("Last-Modified")); v != "" {
		meta.LastModified = v
	}
	if v := strings.TrimSpace(resp.Header.Get("Content-Type")); v != "" && resp.StatusCode != http.StatusNotModified {
		meta.ContentType = v
	}
	return meta
}

// ReadMetadata loads a sidecar, returning nil when it is missing or unreadable.
func ReadMetadata(path string) *Metadata {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil
	}
	return &meta
}

// WriteMetadata persists a sidecar as indented JSON.
func WriteMetadata(path string, meta Metadata) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("download: metadata path is empty")
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("download: encode metadata: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func writeMetadataLogged(path string, meta Metadata) {
	if err := WriteMetadata(path, meta); err != nil {
		log.Printf("Warning: unable to write metadata %s: %v", path, err)
	}
}
