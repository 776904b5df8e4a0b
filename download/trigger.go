package download

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultPublicPath is where the leader serves generated export artifacts.
const DefaultPublicPath = "/public/"

// Trigger saves artifacts named by the export controller into a local
// directory. It is the terminal-side stand-in for a browser download link.
type Trigger struct {
	apiRoot    string
	publicPath string
	dir        string
	timeout    time.Duration
	client     *http.Client

	mu   sync.Mutex
	last Result
}

// NewTrigger builds a trigger for artifacts under apiRoot+publicPath, saved to dir.
func NewTrigger(apiRoot, publicPath, dir string, timeout time.Duration) *Trigger {
	if strings.TrimSpace(publicPath) == "" {
		publicPath = DefaultPublicPath
	}
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	return &Trigger{
		apiRoot:    strings.TrimSuffix(strings.TrimSpace(apiRoot), "/"),
		publicPath: "/" + strings.Trim(publicPath, "/") + "/",
		dir:        dir,
		timeout:    timeout,
		client:     &http.Client{},
	}
}

// ArtifactURL returns the public URL for filename.
func (t *Trigger) ArtifactURL(filename string) string {
	return t.apiRoot + path.Join(t.publicPath, url.PathEscape(filename))
}

// Trigger downloads filename. Names carrying directory parts are reduced to
// their base so an artifact can never land outside the target directory.
func (t *Trigger) Trigger(ctx context.Context, filename string) error {
	name, err := safeName(filename)
	if err != nil {
		return err
	}
	res, err := Fetch(ctx, Request{
		URL:         t.ArtifactURL(name),
		Destination: filepath.Join(t.dir, name),
		Timeout:     t.timeout,
		Client:      t.client,
	})
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.last = res
	t.mu.Unlock()
	return nil
}

// Last returns the most recent successful result.
func (t *Trigger) Last() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func safeName(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	switch name {
	case "", ".", "..", "/":
		return "", fmt.Errorf("download: invalid artifact name %q", filename)
	}
	return name, nil
}
