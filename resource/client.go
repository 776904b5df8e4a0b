// Package resource implements the fetch-and-decode primitive used by every
// component that talks to the leader's HTTP API.
//
// A call performs exactly one request. Failures are surfaced as *FetchError
// and never retried here; callers decide whether to degrade or report.
package resource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxErrorBody bounds how much of a failed response is kept for diagnostics.
const maxErrorBody = 512

// Doer is the subset of *http.Client used by Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches JSON documents relative to an API root.
type Client struct {
	root string
	http Doer
}

// NewClient returns a client for the given API root. A nil doer selects a
// plain http.Client with no timeout; deadlines come from the caller's context.
func NewClient(root string, doer Doer) *Client {
	if doer == nil {
		doer = &http.Client{}
	}
	return &Client{
		root: strings.TrimSuffix(strings.TrimSpace(root), "/"),
		http: doer,
	}
}

// Root returns the API root without a trailing slash.
func (c *Client) Root() string {
	return c.root
}

// URL joins endpoint onto the API root.
func (c *Client) URL(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if c.root == "" {
		return endpoint
	}
	return c.root + "/" + strings.TrimPrefix(endpoint, "/")
}

// FetchJSON issues a GET for endpoint and decodes the body into out.
func (c *Client) FetchJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(endpoint), nil)
	if err != nil {
		return &FetchError{Kind: KindNetwork, Endpoint: endpoint, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, endpoint, out)
}

// PostJSON serializes body as the request payload, POSTs it to endpoint and
// decodes the response into out. A nil out discards the response body.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("resource: encode %s body: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(endpoint), bytes.NewReader(payload))
	if err != nil {
		return &FetchError{Kind: KindNetwork, Endpoint: endpoint, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, endpoint, out)
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Kind: KindNetwork, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &FetchError{
			Kind:     KindServer,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(snippet)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &FetchError{Kind: KindNetwork, Endpoint: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &FetchError{Kind: KindDecode, Endpoint: endpoint, Err: errors.New("empty body")}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &FetchError{Kind: KindDecode, Endpoint: endpoint, Err: err}
	}
	return nil
}
