// Package remote implements the HTTP remote cache client.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.trai.ch/zerr"

	"github.com/polykit/polykit/internal/core/ports"
)

const (
	requestTimeout = 30 * time.Second
	maxRetries     = 3
	retryBaseDelay = 100 * time.Millisecond
)

// hashHeader carries the payload digest on GET/HEAD responses.
const hashHeader = "X-Artifact-Hash"

// Client talks to the remote cache server over HTTP. Every failure is
// reported as an error the caller treats as a cache miss; the client never
// fails a run.
type Client struct {
	http     *http.Client
	baseURL  string
	readOnly bool
}

var _ ports.RemoteCache = (*Client)(nil)

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string, readOnly bool) *Client {
	return &Client{
		http:     &http.Client{Timeout: requestTimeout},
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		readOnly: readOnly,
	}
}

// ReadOnly reports whether uploads are disabled.
func (c *Client) ReadOnly() bool { return c.readOnly }

func (c *Client) artifactURL(key string) string {
	return c.baseURL + "/v1/artifacts/" + key
}

// retry runs fn up to maxRetries+1 times with doubling delay.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// Probe issues HEAD /v1/artifacts/{key}.
func (c *Client) Probe(ctx context.Context, key string) (bool, error) {
	var found bool
	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.artifactURL(key), nil)
		if err != nil {
			return zerr.Wrap(err, "failed to build probe request")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return zerr.Wrap(err, "remote cache probe failed")
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			found = true
			return nil
		case http.StatusNotFound:
			found = false
			return nil
		default:
			return zerr.With(zerr.New("unexpected probe status"), "status", resp.StatusCode)
		}
	})
	return found, err
}

// Fetch issues GET /v1/artifacts/{key} and returns the streaming body plus
// the server-reported payload digest for integrity verification.
func (c *Client) Fetch(ctx context.Context, key string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.artifactURL(key), nil)
	if err != nil {
		return nil, "", zerr.Wrap(err, "failed to build fetch request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", zerr.Wrap(err, "remote cache fetch failed")
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, resp.Header.Get(hashHeader), nil
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, "", zerr.With(zerr.New("artifact not found"), "key", key)
	default:
		_ = resp.Body.Close()
		return nil, "", zerr.With(zerr.New("unexpected fetch status"), "status", resp.StatusCode)
	}
}

// Store issues PUT /v1/artifacts/{key}. A 409 means another writer got there
// first; the existing artifact wins and the upload is considered done.
func (c *Client) Store(ctx context.Context, key string, payload io.Reader, size int64) error {
	if c.readOnly {
		return nil
	}

	// The body must be rewindable for retries.
	data, err := io.ReadAll(payload)
	if err != nil {
		return zerr.Wrap(err, "failed to buffer artifact for upload")
	}

	return c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.artifactURL(key), bytes.NewReader(data))
		if err != nil {
			return zerr.Wrap(err, "failed to build upload request")
		}
		req.ContentLength = size
		req.Header.Set("Content-Type", "application/zstd")

		resp, err := c.http.Do(req)
		if err != nil {
			return zerr.Wrap(err, "remote cache upload failed")
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated, http.StatusConflict:
			return nil
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return zerr.With(
				zerr.New(fmt.Sprintf("upload rejected: %s", strings.TrimSpace(string(body)))),
				"status", resp.StatusCode,
			)
		}
	})
}
